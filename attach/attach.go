// Package attach opens handles to running processes by name.
package attach

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"salvagewatch/process"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// OpenFunc opens a new handle to pid
type OpenFunc func(pid process.ProcessID) (process.Process, error)

// Manager opens processes by name. Every Attach returns a brand-new handle; a
// detached handle is never reopened.
type Manager struct {
	finder process.ProcessFinder
	open   OpenFunc
	log    *logger.Logger
}

// Option is a function that configures a Manager
type Option func(*Manager)

func WithFinder(finder process.ProcessFinder) Option {
	return func(m *Manager) {
		m.finder = finder
	}
}

func WithOpener(open OpenFunc) Option {
	return func(m *Manager) {
		m.open = open
	}
}

// New creates a Manager using gopsutil for discovery and the platform's process handle
func New(options ...Option) *Manager {
	m := &Manager{
		finder: NewProcessFinder(),
		open:   openPlatform,
		log:    logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "attach")),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Attach opens the single running process called name
func (m *Manager) Attach(name string) (process.Process, error) {
	processes, err := m.finder.FindProcessByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	switch len(processes) {
	case 0:
		return nil, fmt.Errorf("%w: no process named '%s'", process.ErrProcessNotFound, name)
	case 1:
	default:
		return nil, fmt.Errorf("%w: %d processes named '%s'", process.ErrProcessNotFound, len(processes), name)
	}

	proc, err := m.open(processes[0].PID)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s' (pid %d): %w", name, processes[0].PID, err)
	}

	m.log.Infoln("Attached to", name, "pid", processes[0].PID)
	return proc, nil
}

// Detach releases the handle. The handle must not be used afterwards.
func (m *Manager) Detach(proc process.Process) error {
	if proc == nil {
		return nil
	}
	pid := proc.GetPID()
	if err := proc.Close(); err != nil {
		return fmt.Errorf("failed to close pid %d: %w", pid, err)
	}
	m.log.Infoln("Detached from pid", pid)
	return nil
}

// ProcessFinder implements process.ProcessFinder with gopsutil
type ProcessFinder struct {
	foldCase bool
}

// NewProcessFinder creates a finder following the OS's case convention for names
func NewProcessFinder() *ProcessFinder {
	return &ProcessFinder{foldCase: runtime.GOOS == "windows"}
}

// FindAllProcesses returns information about all running processes
func (f *ProcessFinder) FindAllProcesses() ([]process.ProcessInfo, error) {
	procs, err := gopsprocess.Processes()
	if err != nil {
		return nil, err
	}

	result := make([]process.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			// Process may have terminated while we were reading
			continue
		}
		info := process.ProcessInfo{
			PID:  process.ProcessID(p.Pid),
			Name: name,
		}
		if ppid, err := p.Ppid(); err == nil {
			info.PPID = process.ProcessID(ppid)
		}
		if exe, err := p.Exe(); err == nil {
			info.Exe = exe
		}
		result = append(result, info)
	}
	return result, nil
}

// FindProcessByName finds processes called name or name + ".exe"
func (f *ProcessFinder) FindProcessByName(name string) ([]process.ProcessInfo, error) {
	all, err := f.FindAllProcesses()
	if err != nil {
		return nil, err
	}
	return FilterByName(all, name, f.foldCase), nil
}

// FilterByName returns the processes whose name, or executable base name, equals
// name or name + ".exe"
func FilterByName(processes []process.ProcessInfo, name string, foldCase bool) []process.ProcessInfo {
	if name == "" {
		return nil
	}

	equal := func(a, b string) bool {
		if foldCase {
			return strings.EqualFold(a, b)
		}
		return a == b
	}
	matches := func(candidate string) bool {
		return candidate != "" && (equal(candidate, name) || equal(candidate, name+".exe"))
	}

	var result []process.ProcessInfo
	for _, p := range processes {
		if matches(p.Name) || (p.Exe != "" && matches(filepath.Base(p.Exe))) {
			result = append(result, p)
		}
	}
	return result
}
