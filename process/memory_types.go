package process

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// ProcessMemoryAddress represents a memory address within a process
type ProcessMemoryAddress uint64

func (pma ProcessMemoryAddress) ToString() string {
	return fmt.Sprintf("0x%X", uint64(pma))
}

// ProcessMemorySize represents a size of memory region
type ProcessMemorySize uint

func (pms ProcessMemorySize) ToString() string {
	return fmt.Sprintf("%d bytes", uint(pms))
}

// AOB (Array of Bytes) represents a pattern to search for in memory
type AOB struct {
	Pattern []byte // The byte pattern to search for
	Mask    []byte // Mask where 0xFF means exact match and 0x00 means wildcard
}

// IsValid checks if the AOB pattern is valid
func (aob AOB) IsValid() bool {
	return len(aob.Pattern) > 0 && len(aob.Pattern) == len(aob.Mask)
}

// Len returns the pattern length in bytes
func (aob AOB) Len() int {
	return len(aob.Pattern)
}

// String renders the pattern the same way ParseAOB accepts it
func (aob AOB) String() string {
	var sb strings.Builder
	for i, b := range aob.Pattern {
		if i > 0 {
			sb.WriteString(" ")
		}
		if i < len(aob.Mask) && aob.Mask[i] == 0 {
			sb.WriteString("??")
			continue
		}
		sb.WriteString(strings.ToUpper(hex.EncodeToString([]byte{b})))
	}
	return sb.String()
}

// NewAOB pairs a pattern with its mask; 0x00 mask bytes are wildcards
func NewAOB(pattern, mask []byte) (AOB, error) {
	if len(pattern) != len(mask) {
		return AOB{}, fmt.Errorf("pattern and mask must be of the same length")
	}
	return AOB{Pattern: pattern, Mask: mask}, nil
}

// ParseAOB parses a signature such as "01 00 ?? ff" or "01,00,??,ff".
// "?" and "??" are wildcards.
func ParseAOB(aob string) (AOB, error) {
	parts := strings.FieldsFunc(aob, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(parts) == 0 {
		return AOB{}, fmt.Errorf("empty pattern")
	}

	pattern := make([]byte, 0, len(parts))
	mask := make([]byte, 0, len(parts))

	for _, part := range parts {
		if part == "??" || part == "?" {
			pattern = append(pattern, 0)
			mask = append(mask, 0)
			continue
		}

		val, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return AOB{}, fmt.Errorf("invalid hex byte: %s", part)
		}
		pattern = append(pattern, byte(val))
		mask = append(mask, 0xFF)
	}

	return NewAOB(pattern, mask)
}

// MustParseAOB is ParseAOB for compile-time constant signatures
func MustParseAOB(aob string) AOB {
	result, err := ParseAOB(aob)
	if err != nil {
		panic(err)
	}
	return result
}

// MatchAt reports whether the pattern matches data starting at offset i
func (aob AOB) MatchAt(data []byte, i int) bool {
	if i < 0 || i+len(aob.Pattern) > len(data) {
		return false
	}
	for j := 0; j < len(aob.Pattern); j++ {
		// mask byte 0 is a wildcard
		if aob.Mask[j] == 0 {
			continue
		}
		if data[i+j]&aob.Mask[j] != aob.Pattern[j]&aob.Mask[j] {
			return false
		}
	}
	return true
}

// FindPatternMatches finds all occurrences of the pattern in data and returns their offsets.
// When alignment is greater than one, only offsets where (base+offset) is a multiple of
// alignment are reported.
func FindPatternMatches(data []byte, aob AOB, base uint64, alignment uint) []uint {
	if len(aob.Pattern) == 0 || len(data) < len(aob.Pattern) {
		return nil
	}

	var matches []uint

	for i := 0; i <= len(data)-len(aob.Pattern); i++ {
		if alignment > 1 && (base+uint64(i))%uint64(alignment) != 0 {
			continue
		}
		if aob.MatchAt(data, i) {
			matches = append(matches, uint(i))
		}
	}

	return matches
}
