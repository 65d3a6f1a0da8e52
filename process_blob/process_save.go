package process_blob

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"salvagewatch/process"
	"salvagewatch/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// maxSavedRegion bounds the size of a single saved region
const maxSavedRegion = 100 * 1024 * 1024

// Save writes the regions of proc accepted by keep to dirname. A nil keep saves
// every readable region.
func Save(proc process.Process, name string, dirname string, keep func(memory_map.MemoryMapItem) bool) error {
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "snapshot"))

	if err := os.MkdirAll(dirname, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := proc.UpdateMemoryMap(); err != nil {
		return fmt.Errorf("failed to update memory map: %w", err)
	}

	mm, err := proc.GetMemoryMap()
	if err != nil {
		return err
	}

	metadataJSON, err := json.MarshalIndent(metadata{PID: proc.GetPID(), Name: name}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, metadataFile), metadataJSON, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	var saved []memory_map.MemoryMapItem
	skipped := 0

	for _, region := range mm {
		if !region.IsReadable() || region.Size > maxSavedRegion || (keep != nil && !keep(region)) {
			skipped++
			continue
		}

		data, err := proc.ReadMemory(process.ProcessMemoryAddress(region.Address), process.ProcessMemorySize(region.Size))
		if err != nil {
			if errors.Is(err, process.ErrProcessDetached) {
				return err
			}
			log.Debugln("Failed to read memory region at", fmt.Sprintf("%x", region.Address), err)
			skipped++
			continue
		}

		if err := os.WriteFile(blobFilename(dirname, region), data, 0644); err != nil {
			return fmt.Errorf("failed to write memory file for region at %x: %w", region.Address, err)
		}
		saved = append(saved, region)
	}

	memoryMapJSON, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal memory map: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, memoryMapFile), memoryMapJSON, 0644); err != nil {
		return fmt.Errorf("failed to write memory map file: %w", err)
	}

	log.Infoln("Saved", len(saved), "regions to", dirname, "skipped", skipped)
	return nil
}
