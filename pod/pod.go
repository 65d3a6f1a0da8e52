// Package pod reads fixed-layout little-endian structures out of process memory.
//
// T must be a fixed-size type as understood by encoding/binary: numbers, bools,
// arrays, and structs built only from those. Blank (_) fields are padding.
package pod

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"salvagewatch/process"
)

// SizeOf returns the encoded size of T, or 0 when T has no fixed layout
func SizeOf[T any]() process.ProcessMemorySize {
	var t T
	size := binary.Size(t)
	if size <= 0 {
		return 0
	}
	return process.ProcessMemorySize(size)
}

// ReadT reads one T at addr with a single read
func ReadT[T any](proc process.Process, addr process.ProcessMemoryAddress) (T, error) {
	size := SizeOf[T]()
	if size == 0 {
		return *new(T), fmt.Errorf("ReadT: %T has no fixed size", *new(T))
	}

	blob, err := proc.ReadMemory(addr, size)
	if err != nil {
		return *new(T), err
	}
	return DecodeT[T](blob)
}

// DecodeT decodes a T from the start of blob
func DecodeT[T any](blob []byte) (T, error) {
	var t T
	size := int(SizeOf[T]())
	if size == 0 {
		return t, fmt.Errorf("DecodeT: %T has no fixed size", t)
	}
	if len(blob) < size {
		return t, fmt.Errorf("%w: need %d bytes for %T, got %d", process.ErrAddressUnreadable, size, t, len(blob))
	}
	if err := binary.Read(bytes.NewReader(blob[:size]), binary.LittleEndian, &t); err != nil {
		return t, err
	}
	return t, nil
}

// WriteT encodes v in the layout ReadT expects
func WriteT[T any](v T) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
		return nil
	}
	return buf.Bytes()
}
