package memory_map

import (
	"fmt"
	"sort"
)

// MemoryMapItem represents a memory region in a process's address space
type MemoryMapItem struct {
	Address uint64 // The starting address of the memory region
	Size    uint   // The size of the memory region in bytes
	Perms   string // Permissions (e.g., "r-xp" for read, execute, private)
}

// String returns a string representation of the memory map item
func (mmItem MemoryMapItem) String() string {
	return fmt.Sprintf("Address: %x, Size: %d, Perms: %s", mmItem.Address, mmItem.Size, mmItem.Perms)
}

// End returns the first address past the region
func (mmItem MemoryMapItem) End() uint64 {
	return mmItem.Address + uint64(mmItem.Size)
}

func (mmItem MemoryMapItem) IsReadable() bool {
	return IsReadablePerms(mmItem.Perms)
}

func (mmItem MemoryMapItem) IsWritable() bool {
	return IsWritablePerms(mmItem.Perms)
}

func (mmItem MemoryMapItem) IsExecutable() bool {
	return IsExecutablePerms(mmItem.Perms)
}

// MemoryMap reads the memory map of one process
type MemoryMap interface {
	// ReadMemoryMap reads and parses the memory map, sorted by address
	ReadMemoryMap() ([]MemoryMapItem, error)
}

func IsReadablePerms(perms string) bool {
	return len(perms) > 0 && perms[0] == 'r'
}

func IsWritablePerms(perms string) bool {
	return len(perms) > 1 && perms[1] == 'w'
}

func IsExecutablePerms(perms string) bool {
	return len(perms) > 2 && perms[2] == 'x'
}

// SortByAddress sorts the map in place; FindRegion requires a sorted map
func SortByAddress(memoryMap []MemoryMapItem) {
	sort.Slice(memoryMap, func(i, j int) bool {
		return memoryMap[i].Address < memoryMap[j].Address
	})
}

// FindRegion returns the region of a sorted memory map containing addr, or nil
func FindRegion(addr uint64, memoryMap []MemoryMapItem) *MemoryMapItem {
	if i := findRegionIndex(addr, memoryMap); i >= 0 {
		return &memoryMap[i]
	}
	return nil
}

func findRegionIndex(addr uint64, memoryMap []MemoryMapItem) int {
	i := sort.Search(len(memoryMap), func(i int) bool {
		return memoryMap[i].End() > addr
	})
	if i < len(memoryMap) && memoryMap[i].Address <= addr {
		return i
	}
	return -1
}

// IsReadableRange checks that [addr, addr+size) is covered by readable regions.
// The range may span adjacent regions of a sorted memory map.
func IsReadableRange(addr uint64, size uint, memoryMap []MemoryMapItem) bool {
	i := findRegionIndex(addr, memoryMap)
	if i < 0 || !memoryMap[i].IsReadable() {
		return false
	}

	end := addr + uint64(size)
	for end > memoryMap[i].End() {
		next := i + 1
		if next >= len(memoryMap) || memoryMap[next].Address != memoryMap[i].End() || !memoryMap[next].IsReadable() {
			return false
		}
		i = next
	}
	return true
}
