package process

import (
	"salvagewatch/process/memory_map"
)

// Process is the interface that defines operations for reading another process's memory.
//
// A Process is a single-use handle: once Close has been called it must not be opened
// again. Callers that need to attach again construct a new Process.
type Process interface {
	// Close closes the process and releases resources
	Close() error

	// GetPID returns the process ID
	GetPID() ProcessID

	// UpdateMemoryMap refreshes the memory map for the process
	UpdateMemoryMap() error

	// IsValidAddress checks if the given memory address is valid and readable
	IsValidAddress(addr ProcessMemoryAddress) bool

	// GetMemoryMap returns a copy of the current memory map
	GetMemoryMap() ([]memory_map.MemoryMapItem, error)

	// ReadMemory reads memory from the process at the specified address.
	// Errors wrap ErrAddressUnreadable or ErrProcessDetached.
	ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)

	// ReadFLOAT32 reads a little-endian 32-bit floating point number from the specified address
	ReadFLOAT32(addr ProcessMemoryAddress) (float32, error)
}
