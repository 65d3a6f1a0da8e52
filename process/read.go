package process

import (
	"encoding/binary"
	"math"
)

// DecodeFloat32 decodes a little-endian float32 from the first four bytes of b
func DecodeFloat32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}
