//go:build windows

package process_windows

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"testing"

	"salvagewatch/process"

	"golang.org/x/sys/windows"
)

func openSelf(t *testing.T) process.Process {
	t.Helper()
	p, err := NewWithPID(process.ProcessID(os.Getpid()))
	if err != nil {
		t.Fatalf("open self: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func allocRW(t *testing.T, size uintptr) uintptr {
	t.Helper()
	addr, err := windows.VirtualAlloc(0, size, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil || addr == 0 {
		t.Fatalf("VirtualAlloc: %v", err)
	}
	t.Cleanup(func() { _ = windows.VirtualFree(addr, 0, windows.MEM_RELEASE) })
	return addr
}

func TestReadFloat32Self(t *testing.T) {
	p := openSelf(t)
	base := allocRW(t, 64)

	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], math.Float32bits(1234.25))
	var written uintptr
	if err := windows.WriteProcessMemory(windows.CurrentProcess(), base+8, &buf[0], 4, &written); err != nil {
		t.Fatalf("WriteProcessMemory: %v", err)
	}

	v, err := p.ReadFLOAT32(process.ProcessMemoryAddress(base + 8))
	if err != nil || v != 1234.25 {
		t.Fatalf("ReadFLOAT32 got %v err %v", v, err)
	}
}

func TestReadNoAccessIsUnreadable(t *testing.T) {
	p := openSelf(t)
	base := allocRW(t, 16)

	var oldProtect uint32
	if err := windows.VirtualProtect(base, 16, windows.PAGE_NOACCESS, &oldProtect); err != nil {
		t.Fatalf("VirtualProtect: %v", err)
	}

	if _, err := p.ReadMemory(process.ProcessMemoryAddress(base), 4); !errors.Is(err, process.ErrAddressUnreadable) {
		t.Fatalf("got %v want ErrAddressUnreadable", err)
	}
}

func TestClosedHandleCannotReopen(t *testing.T) {
	p := New()
	if err := p.Open(process.ProcessID(os.Getpid())); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Open(process.ProcessID(os.Getpid())); !errors.Is(err, process.ErrHandleClosed) {
		t.Fatalf("got %v want ErrHandleClosed", err)
	}
}
