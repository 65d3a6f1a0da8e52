// Package hexdump renders candidate structures as annotated hex dumps.
package hexdump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

// Mark is a byte range of the dump that gets highlighted
type Mark struct {
	Offset int
	Len    int
}

func (m Mark) contains(pos int) bool {
	return pos >= m.Offset && pos < m.Offset+m.Len
}

// HexDumpOptions defines options for customizing the hexdump output
type HexDumpOptions struct {
	// BytesPerLine defines the number of bytes to display per line, rounded down to a multiple of 4
	BytesPerLine int

	// ShowASCII determines whether to show the ASCII representation
	ShowASCII bool

	// ShowFloats appends the little-endian float32 value of each aligned 4-byte group
	ShowFloats bool

	// StartOffset is the address of the first byte
	StartOffset uint64

	// OffsetWidth is the width of the offset column in hex digits
	OffsetWidth int

	// Marks are the byte ranges to highlight
	Marks []Mark

	// Highlight renders a highlighted byte; nil disables colouring
	Highlight func(string) string

	// MaxLines is the maximum number of lines to show (0 for no limit)
	MaxLines int
}

// DefaultOptions returns the default hexdump options
func DefaultOptions() HexDumpOptions {
	return HexDumpOptions{
		BytesPerLine: 16,
		ShowASCII:    true,
		ShowFloats:   true,
		OffsetWidth:  12,
		Highlight:    Colorize,
	}
}

// Colorize is the default highlight style
func Colorize(s string) string {
	return coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, s)
}

// Dump returns a hex dump of data
func Dump(data []byte, options HexDumpOptions) string {
	var buffer bytes.Buffer
	DumpToWriter(&buffer, data, options)
	return buffer.String()
}

// DumpToWriter writes a hex dump of data to writer
func DumpToWriter(writer io.Writer, data []byte, options HexDumpOptions) {
	options.BytesPerLine -= options.BytesPerLine % 4
	if options.BytesPerLine <= 0 {
		options.BytesPerLine = 16
	}
	if options.OffsetWidth <= 0 {
		options.OffsetWidth = 12
	}

	lineCount := 0
	for offset := 0; offset < len(data); offset += options.BytesPerLine {
		if options.MaxLines > 0 && lineCount >= options.MaxLines {
			fmt.Fprintf(writer, "... %d more bytes\n", len(data)-offset)
			break
		}

		end := offset + options.BytesPerLine
		if end > len(data) {
			end = len(data)
		}

		formatLine(writer, data[offset:end], offset, options)
		lineCount++
	}
}

func (o HexDumpOptions) marked(pos int) bool {
	for _, m := range o.Marks {
		if m.contains(pos) {
			return true
		}
	}
	return false
}

func (o HexDumpOptions) paint(pos int, s string) string {
	if o.Highlight != nil && o.marked(pos) {
		return o.Highlight(s)
	}
	return s
}

// formatLine formats a single line; pos is the offset of data[0] within the dump
func formatLine(writer io.Writer, data []byte, pos int, options HexDumpOptions) {
	offsetStr := fmt.Sprintf("%0"+strconv.Itoa(options.OffsetWidth)+"x", options.StartOffset+uint64(pos))
	fmt.Fprint(writer, offsetStr, "  ")

	half := options.BytesPerLine / 2
	for i := 0; i < options.BytesPerLine; i++ {
		if i > 0 {
			if i == half {
				fmt.Fprint(writer, " | ")
			} else {
				fmt.Fprint(writer, " ")
			}
		}
		if i >= len(data) {
			fmt.Fprint(writer, "  ")
			continue
		}
		fmt.Fprint(writer, options.paint(pos+i, fmt.Sprintf("%02x", data[i])))
	}

	if options.ShowASCII {
		fmt.Fprint(writer, " | ")
		for i, b := range data {
			c := rune(b)
			if b == 0 || b >= 0x7f || !unicode.IsPrint(c) {
				c = '.'
			}
			fmt.Fprint(writer, options.paint(pos+i, string(c)))
		}
		if pad := options.BytesPerLine - len(data); pad > 0 {
			fmt.Fprint(writer, strings.Repeat(" ", pad))
		}
	}

	if options.ShowFloats {
		fmt.Fprint(writer, " |")
		for i := 0; i+4 <= len(data); i += 4 {
			f := math.Float32frombits(binary.LittleEndian.Uint32(data[i : i+4]))
			fmt.Fprint(writer, " ", FormatFloat(f))
		}
	}

	fmt.Fprintln(writer)
}

// FormatFloat prints f compactly, with huge and tiny magnitudes collapsed
func FormatFloat(f float32) string {
	abs := math.Abs(float64(f))
	switch {
	case math.IsNaN(float64(f)):
		return "NaN"
	case f == 0:
		return "0"
	case abs < 1e-6 || abs >= 1e12:
		return strconv.FormatFloat(float64(f), 'e', 2, 32)
	}
	return strconv.FormatFloat(float64(f), 'f', -1, 32)
}

// HexDump provides a fluent interface over HexDumpOptions
type HexDump struct {
	Options HexDumpOptions
}

// NewHexDump creates a HexDump with default options
func NewHexDump() *HexDump {
	return &HexDump{
		Options: DefaultOptions(),
	}
}

func (h *HexDump) SetBytesPerLine(value int) *HexDump {
	h.Options.BytesPerLine = value
	return h
}

func (h *HexDump) SetShowASCII(value bool) *HexDump {
	h.Options.ShowASCII = value
	return h
}

func (h *HexDump) SetShowFloats(value bool) *HexDump {
	h.Options.ShowFloats = value
	return h
}

func (h *HexDump) SetStartOffset(value uint64) *HexDump {
	h.Options.StartOffset = value
	return h
}

// SetColor toggles the default highlight colouring
func (h *HexDump) SetColor(enabled bool) *HexDump {
	if enabled {
		h.Options.Highlight = Colorize
	} else {
		h.Options.Highlight = nil
	}
	return h
}

// Mark highlights length bytes starting at offset
func (h *HexDump) Mark(offset, length int) *HexDump {
	h.Options.Marks = append(h.Options.Marks, Mark{Offset: offset, Len: length})
	return h
}

func (h *HexDump) SetMaxLines(value int) *HexDump {
	h.Options.MaxLines = value
	return h
}

func (h *HexDump) Dump(data []byte) string {
	return Dump(data, h.Options)
}

func (h *HexDump) DumpToWriter(writer io.Writer, data []byte) {
	DumpToWriter(writer, data, h.Options)
}
