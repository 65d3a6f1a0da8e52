package process_blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"salvagewatch/process"
	"salvagewatch/process/memory_map"
)

const (
	metadataFile  = "metadata.json"
	memoryMapFile = "process_memory_map.json"
)

var _ process.Process = (*ProcessDump)(nil)

// ProcessDump implements process.Process over a snapshot of process memory,
// either built in memory or loaded from a dump directory.
type ProcessDump struct {
	PID       process.ProcessID
	Name      string
	MemoryMap []memory_map.MemoryMapItem
	Blobs     map[uint64][]byte // Address -> Data

	mu       sync.Mutex
	closed   bool
	detached bool
	readErr  error
}

// NewProcessDump creates a new, empty ProcessDump instance
func NewProcessDump(pid process.ProcessID, name string) *ProcessDump {
	return &ProcessDump{
		PID:   pid,
		Name:  name,
		Blobs: make(map[uint64][]byte),
	}
}

// AddRegion maps data at address with the given "rwxp" permissions
func (p *ProcessDump) AddRegion(address uint64, perms string, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.MemoryMap = append(p.MemoryMap, memory_map.MemoryMapItem{
		Address: address,
		Size:    uint(len(data)),
		Perms:   perms,
	})
	memory_map.SortByAddress(p.MemoryMap)
	p.Blobs[address] = data
}

// Write overwrites bytes inside an existing region
func (p *ProcessDump) Write(addr process.ProcessMemoryAddress, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	region := memory_map.FindRegion(uint64(addr), p.MemoryMap)
	if region == nil || uint64(addr)+uint64(len(data)) > region.End() {
		return fmt.Errorf("%w: %s", process.ErrAddressUnreadable, addr.ToString())
	}
	blob := p.Blobs[region.Address]
	copy(blob[uint64(addr)-region.Address:], data)
	return nil
}

// SetDetached makes every following read fail as if the process had exited
func (p *ProcessDump) SetDetached(detached bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detached = detached
}

// FailReads makes every following read return err; nil restores normal reads
func (p *ProcessDump) FailReads(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

// IsClosed reports whether Close has been called
func (p *ProcessDump) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *ProcessDump) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *ProcessDump) GetPID() process.ProcessID {
	return p.PID
}

func (p *ProcessDump) UpdateMemoryMap() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.checkInternal()
}

func (p *ProcessDump) checkInternal() error {
	switch {
	case p.closed:
		return process.ErrProcessNotOpen
	case p.detached:
		return fmt.Errorf("%w: pid %d", process.ErrProcessDetached, p.PID)
	case p.readErr != nil:
		return p.readErr
	}
	return nil
}

func (p *ProcessDump) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return memory_map.IsReadableRange(uint64(addr), 1, p.MemoryMap)
}

func (p *ProcessDump) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, process.ErrProcessNotOpen
	}
	result := make([]memory_map.MemoryMapItem, len(p.MemoryMap))
	copy(result, p.MemoryMap)
	return result, nil
}

func (p *ProcessDump) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.checkInternal(); err != nil {
		return nil, err
	}

	region := memory_map.FindRegion(uint64(addr), p.MemoryMap)
	if region == nil || !region.IsReadable() {
		return nil, fmt.Errorf("%w: %s not mapped", process.ErrAddressUnreadable, addr.ToString())
	}

	data, ok := p.Blobs[region.Address]
	if !ok {
		return nil, fmt.Errorf("%w: no data for region 0x%x", process.ErrAddressUnreadable, region.Address)
	}

	offset := uint64(addr) - region.Address
	if offset+uint64(size) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: read of %d bytes at %s exceeds region", process.ErrAddressUnreadable, size, addr.ToString())
	}

	result := make([]byte, size)
	copy(result, data[offset:offset+uint64(size)])
	return result, nil
}

func (p *ProcessDump) ReadFLOAT32(addr process.ProcessMemoryAddress) (float32, error) {
	data, err := p.ReadMemory(addr, 4)
	if err != nil {
		return 0, err
	}
	return process.DecodeFloat32(data), nil
}

type metadata struct {
	PID  process.ProcessID `json:"pid"`
	Name string            `json:"name"`
}

func blobFilename(dirname string, region memory_map.MemoryMapItem) string {
	return filepath.Join(dirname, fmt.Sprintf("blob_0x%x_%d.bin", region.Address, region.Size))
}

// Load reads a dump directory written by Save
func Load(dirname string) (*ProcessDump, error) {
	metadataBytes, err := os.ReadFile(filepath.Join(dirname, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta metadata
	if err := json.Unmarshal(metadataBytes, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	p := NewProcessDump(meta.PID, meta.Name)

	mmBytes, err := os.ReadFile(filepath.Join(dirname, memoryMapFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read memory map: %w", err)
	}

	if err := json.Unmarshal(mmBytes, &p.MemoryMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal memory map: %w", err)
	}
	memory_map.SortByAddress(p.MemoryMap)

	for _, region := range p.MemoryMap {
		filename := blobFilename(dirname, region)
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			continue // Blob not saved (e.g. too large or not readable)
		}

		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read blob %s: %w", filename, err)
		}

		p.Blobs[region.Address] = data
	}

	return p, nil
}
