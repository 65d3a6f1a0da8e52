//go:build windows

package memory_map

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	memMapped = 0x40000
	memImage  = 0x1000000
)

// WindowsMemoryMap implements MemoryMap for Windows by walking VirtualQueryEx
type WindowsMemoryMap struct {
	handle windows.Handle
}

// NewWindowsMemoryMap creates a new WindowsMemoryMap for an open process handle
func NewWindowsMemoryMap(handle windows.Handle) *WindowsMemoryMap {
	return &WindowsMemoryMap{handle: handle}
}

// ReadMemoryMap returns the committed regions of the process. Guard and no-access
// pages are reported without the read bit.
func (w *WindowsMemoryMap) ReadMemoryMap() ([]MemoryMapItem, error) {
	var (
		memoryMap []MemoryMapItem
		addr      uintptr
		mbi       windows.MemoryBasicInformation
	)

	for {
		if err := windows.VirtualQueryEx(w.handle, addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
			break
		}

		base := uintptr(mbi.BaseAddress)
		regionSize := uintptr(mbi.RegionSize)
		if regionSize == 0 {
			break
		}

		if mbi.State == windows.MEM_COMMIT {
			memoryMap = append(memoryMap, MemoryMapItem{
				Address: uint64(base),
				Size:    uint(regionSize),
				Perms:   ProtectToPerms(mbi.Protect, mbi.Type),
			})
		}

		addr = base + regionSize
		if addr == 0 || addr < base {
			break
		}
	}

	SortByAddress(memoryMap)
	return memoryMap, nil
}

// ProtectToPerms converts a PAGE_* protection into a "rwxp" string
func ProtectToPerms(protect uint32, memType uint32) string {
	perms := []byte("---p")
	if memType == memMapped || memType == memImage {
		perms[3] = 's'
	}
	if protect&windows.PAGE_GUARD != 0 {
		return string(perms)
	}

	// mask out modifier flags
	switch protect & 0xFF {
	case windows.PAGE_READONLY:
		perms[0] = 'r'
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		perms[0], perms[1] = 'r', 'w'
	case windows.PAGE_EXECUTE:
		perms[2] = 'x'
	case windows.PAGE_EXECUTE_READ:
		perms[0], perms[2] = 'r', 'x'
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		perms[0], perms[1], perms[2] = 'r', 'w', 'x'
	}
	return string(perms)
}
