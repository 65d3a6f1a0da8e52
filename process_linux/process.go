//go:build linux

package process_linux

import (
	"fmt"
	"os"
	"sync"

	"salvagewatch/process"
	"salvagewatch/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

var _ process.Process = (*LinuxProcess)(nil)

// LinuxProcess implements the process.Process interface for Linux systems
type LinuxProcess struct {
	pid    process.ProcessID
	closed bool
	log    *logger.Logger
	mm     []memory_map.MemoryMapItem
	mu     sync.Mutex
}

// New creates a new LinuxProcess instance
func New() *LinuxProcess {
	return &LinuxProcess{
		log: logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open")),
	}
}

// NewWithPID creates a new LinuxProcess instance and opens it with the given PID
func NewWithPID(pid process.ProcessID) (process.Process, error) {
	p := New()
	err := p.Open(pid)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Open attaches the handle to pid. A handle that has been closed cannot be opened again.
func (p *LinuxProcess) Open(pid process.ProcessID) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return process.ErrHandleClosed
	}
	p.mu.Unlock()

	// Check if process exists
	procPath := fmt.Sprintf("/proc/%d", pid)
	if _, err := os.Stat(procPath); os.IsNotExist(err) {
		return fmt.Errorf("%w: pid %d does not exist", process.ErrProcessNotFound, pid)
	}

	p.mu.Lock()
	p.pid = pid
	p.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid)))
	p.mu.Unlock()

	if err := p.UpdateMemoryMap(); err != nil {
		return fmt.Errorf("failed to initialize memory map: %w", err)
	}

	p.log.Infoln("Process opened")

	return nil
}

func (p *LinuxProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.log.Infoln("Closing process")

	p.pid = 0
	p.mm = nil
	p.closed = true

	p.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-closed"))

	return nil
}

// GetPID returns the process ID
func (p *LinuxProcess) GetPID() process.ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *LinuxProcess) UpdateMemoryMap() error {
	p.mu.Lock()
	pid := p.pid
	p.mu.Unlock()

	if pid == 0 {
		return process.ErrProcessNotOpen
	}

	// Read memory map without holding the lock
	mm, err := memory_map.NewLinuxMemoryMap(int(pid)).ReadMemoryMap()
	if err != nil {
		if !alive(pid) {
			return fmt.Errorf("%w: pid %d", process.ErrProcessDetached, pid)
		}
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	p.mu.Lock()
	p.mm = mm
	p.mu.Unlock()
	return nil
}

func (p *LinuxProcess) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.isValidRangeInternal(addr, 1)
}

// Internal helper function that assumes the mutex is already locked
func (p *LinuxProcess) isValidRangeInternal(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) bool {
	if addr <= 0x10000 {
		return false
	}

	return memory_map.IsReadableRange(uint64(addr), uint(size), p.mm)
}

func (p *LinuxProcess) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return nil, process.ErrProcessNotOpen
	}

	// Make a copy of the memory map to prevent external modification
	result := make([]memory_map.MemoryMapItem, len(p.mm))
	copy(result, p.mm)

	return result, nil
}

// alive reports whether pid is still running. Lookup errors count as alive.
func alive(pid process.ProcessID) bool {
	exists, err := gopsprocess.PidExists(int32(pid))
	if err != nil {
		return true
	}
	return exists
}
