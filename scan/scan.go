// Package scan searches the memory of an attached process for AOB signatures.
package scan

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"salvagewatch/process"
	"salvagewatch/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/samber/lo"
)

const (
	defaultChunkSize     = 1 << 20
	defaultMaxRegionSize = 512 << 20
	defaultAlignment     = 4
)

// Scanner holds configuration for the scan
type Scanner struct {
	Writable      bool
	Executable    bool
	Aligned       bool
	Alignment     uint
	ExactLength   bool
	MaxDOP        uint
	ChunkSize     uint
	MaxRegionSize uint

	log *logger.Logger
}

// Option is a function that configures a Scanner
type Option func(*Scanner)

// WithWritable restricts the scan to writable regions
func WithWritable(writable bool) Option {
	return func(s *Scanner) {
		s.Writable = writable
	}
}

// WithExecutable includes executable regions in the scan
func WithExecutable(executable bool) Option {
	return func(s *Scanner) {
		s.Executable = executable
	}
}

// WithAligned only reports matches whose address is a multiple of the alignment
func WithAligned(aligned bool) Option {
	return func(s *Scanner) {
		s.Aligned = aligned
	}
}

func WithAlignment(align uint) Option {
	return func(s *Scanner) {
		s.Alignment = align
	}
}

// WithExactLength skips regions that can only be read partially
func WithExactLength(exact bool) Option {
	return func(s *Scanner) {
		s.ExactLength = exact
	}
}

// WithMaxDOP sets the number of regions scanned concurrently
func WithMaxDOP(maxdop uint) Option {
	return func(s *Scanner) {
		s.MaxDOP = maxdop
	}
}

func WithChunkSize(size uint) Option {
	return func(s *Scanner) {
		s.ChunkSize = size
	}
}

func WithMaxRegionSize(size uint) Option {
	return func(s *Scanner) {
		s.MaxRegionSize = size
	}
}

// New creates a Scanner. The defaults scan writable, non-executable regions
// sequentially in 1 MiB chunks.
func New(options ...Option) *Scanner {
	s := &Scanner{
		Writable:      true,
		Alignment:     defaultAlignment,
		MaxDOP:        1,
		ChunkSize:     defaultChunkSize,
		MaxRegionSize: defaultMaxRegionSize,
		log:           logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "scan")),
	}

	for _, opt := range options {
		opt(s)
	}

	if s.Alignment == 0 {
		s.Alignment = 1
	}
	if s.MaxDOP == 0 {
		s.MaxDOP = 1
	}
	if numCPU := uint(runtime.NumCPU()); s.MaxDOP > numCPU {
		s.MaxDOP = numCPU
	}

	return s
}

// Regions returns the regions of the memory map this scanner would visit
func (s *Scanner) Regions(memMap []memory_map.MemoryMapItem) []memory_map.MemoryMapItem {
	return lo.Filter(memMap, func(region memory_map.MemoryMapItem, _ int) bool {
		if !region.IsReadable() || region.Size == 0 {
			return false
		}
		if s.Writable && !region.IsWritable() {
			return false
		}
		if !s.Executable && region.IsExecutable() {
			return false
		}
		return s.MaxRegionSize == 0 || region.Size <= s.MaxRegionSize
	})
}

// Scan searches the process memory for aob and returns every matching address in
// ascending order. Unreadable regions are skipped; a detached process aborts the scan.
func (s *Scanner) Scan(ctx context.Context, proc process.Process, aob process.AOB) ([]process.ProcessMemoryAddress, error) {
	if len(aob.Mask) == 0 && len(aob.Pattern) > 0 {
		exact := make([]byte, len(aob.Pattern))
		for i := range exact {
			exact[i] = 0xFF
		}
		aob, _ = process.NewAOB(aob.Pattern, exact)
	}
	if !aob.IsValid() {
		return nil, fmt.Errorf("invalid pattern: %d pattern bytes, %d mask bytes", len(aob.Pattern), len(aob.Mask))
	}

	if err := proc.UpdateMemoryMap(); err != nil {
		return nil, fmt.Errorf("failed to update memory map: %w", err)
	}

	memMap, err := proc.GetMemoryMap()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory map: %w", err)
	}

	regions := s.Regions(memMap)
	s.log.Debugln("Scanning", len(regions), "of", len(memMap), "regions for", aob.String())

	var (
		mu       sync.Mutex
		results  []process.ProcessMemoryAddress
		firstErr error
		wg       sync.WaitGroup
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, s.MaxDOP)

	for _, region := range regions {
		select {
		case <-ctx.Done():
		case sem <- struct{}{}:
		}
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(region memory_map.MemoryMapItem) {
			defer func() {
				<-sem
				wg.Done()
			}()

			matches, err := s.scanRegion(ctx, proc, region, aob)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				cancel()
				return
			}
			results = append(results, matches...)
		}(region)
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results = lo.Uniq(results)
	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })

	s.log.Debugln("Scan complete, found", len(results), "matches")
	return results, nil
}

// scanRegion reads one region in overlapping chunks so that matches straddling
// a chunk boundary are still found.
func (s *Scanner) scanRegion(ctx context.Context, proc process.Process, region memory_map.MemoryMapItem, aob process.AOB) ([]process.ProcessMemoryAddress, error) {
	var matches []process.ProcessMemoryAddress

	alignment := uint(1)
	if s.Aligned {
		alignment = s.Alignment
	}

	chunkSize := uint64(s.ChunkSize)
	overlap := uint64(aob.Len() - 1)
	if chunkSize <= overlap {
		chunkSize = overlap + 1
	}

	end := region.End()
	for offset := region.Address; offset < end; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		size := end - offset
		if size > chunkSize {
			size = chunkSize
		}

		data, err := proc.ReadMemory(process.ProcessMemoryAddress(offset), process.ProcessMemorySize(size))
		if err != nil {
			if !errors.Is(err, process.ErrAddressUnreadable) {
				return nil, err
			}
			if s.ExactLength {
				return nil, nil
			}
			s.log.Debugln("Skipping unreadable chunk at", fmt.Sprintf("%x", offset), err)
			if offset+size >= end {
				break
			}
			offset += size
			continue
		}
		if uint64(len(data)) < size && s.ExactLength {
			return nil, nil
		}

		for _, i := range process.FindPatternMatches(data, aob, offset, alignment) {
			matches = append(matches, process.ProcessMemoryAddress(offset+uint64(i)))
		}

		if offset+size >= end {
			break
		}
		offset += size - overlap
	}

	return matches, nil
}
