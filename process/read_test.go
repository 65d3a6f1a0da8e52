package process_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"salvagewatch/process"
	"salvagewatch/process_blob"
)

func TestReadFLOAT32(t *testing.T) {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[4:], math.Float32bits(10_000_000))
	binary.LittleEndian.PutUint32(data[12:], math.Float32bits(-0.5))

	p := process_blob.NewProcessDump(1, "test")
	p.AddRegion(0x40000, "rw-p", data)

	tests := []struct {
		addr process.ProcessMemoryAddress
		want float32
	}{
		{0x40004, 10_000_000},
		{0x40008, 0},
		{0x4000c, -0.5},
	}
	for _, tt := range tests {
		got, err := p.ReadFLOAT32(tt.addr)
		if err != nil || got != tt.want {
			t.Errorf("ReadFLOAT32(%s) = %v, %v want %v", tt.addr.ToString(), got, err, tt.want)
		}
	}

	if _, err := p.ReadFLOAT32(0x4000e); !errors.Is(err, process.ErrAddressUnreadable) {
		t.Fatalf("got %v want ErrAddressUnreadable", err)
	}
}
