//go:build linux

package process_linux

import (
	"errors"
	"fmt"
	"unsafe"

	"salvagewatch/process"

	"golang.org/x/sys/unix"
)

// process_vm_readv uses the process_vm_readv syscall to read memory from another process
func process_vm_readv(
	pid process.ProcessID,
	remoteAddr process.ProcessMemoryAddress,
	bytesToRead process.ProcessMemorySize,
) ([]byte, error) {
	localBuf := make([]byte, bytesToRead)

	// Create iovec for local buffer
	localIov := unix.Iovec{
		Base: &localBuf[0],
		Len:  uint64(bytesToRead),
	}

	// Create iovec for remote buffer
	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  int(bytesToRead),
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_READV,
		uintptr(pid),                        // Remote process PID
		uintptr(unsafe.Pointer(&localIov)),  // Local iovec
		uintptr(1),                          // Number of local iovecs
		uintptr(unsafe.Pointer(&remoteIov)), // Remote iovec
		uintptr(1),                          // Number of remote iovecs
		uintptr(0),                          // Flags (reserved for future use)
	)

	if errno != 0 {
		return nil, errno
	}

	if int(n) != int(bytesToRead) {
		return localBuf[:n], errPartialRead
	}

	return localBuf, nil
}

var errPartialRead = errors.New("partial read")

// ReadMemory reads memory from the process at the specified address
func (p *LinuxProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}

	p.mu.Lock()
	pid := p.pid
	valid := p.isValidRangeInternal(addr, size)
	// Release the lock before the system call
	p.mu.Unlock()

	if pid == 0 {
		return nil, process.ErrProcessNotOpen
	}

	if !valid {
		return nil, fmt.Errorf("%w: %s not mapped", process.ErrAddressUnreadable, addr.ToString())
	}

	data, err := process_vm_readv(pid, addr, size)
	if err != nil {
		return nil, classifyReadError(pid, addr, err)
	}

	return data, nil
}

// classifyReadError maps a failed read to ErrProcessDetached or ErrAddressUnreadable
func classifyReadError(pid process.ProcessID, addr process.ProcessMemoryAddress, err error) error {
	if errors.Is(err, unix.ESRCH) || !alive(pid) {
		return fmt.Errorf("%w: pid %d: %v", process.ErrProcessDetached, pid, err)
	}

	switch {
	case errors.Is(err, errPartialRead),
		errors.Is(err, unix.EFAULT),
		errors.Is(err, unix.EPERM),
		errors.Is(err, unix.EIO),
		errors.Is(err, unix.ENOMEM):
		return fmt.Errorf("%w: %s: %v", process.ErrAddressUnreadable, addr.ToString(), err)
	}

	return fmt.Errorf("process_vm_readv: failed to read process memory at %s: %w", addr.ToString(), err)
}

// ReadFLOAT32 reads a little-endian 32-bit floating point number from the specified address
func (p *LinuxProcess) ReadFLOAT32(addr process.ProcessMemoryAddress) (float32, error) {
	data, err := p.ReadMemory(addr, 4)
	if err != nil {
		return 0, err
	}
	return process.DecodeFloat32(data), nil
}
