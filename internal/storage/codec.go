package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/kalambet/casematch/internal/fingerprint"
)

// Fingerprint vectors are stored as little-endian BLOBs: float64 for
// embeddings, float32 for histograms, raw 32-byte groups for descriptors.

func encodeFloat64s(v []float64) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func decodeFloat64s(b []byte) ([]float64, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 8", len(b))
	}
	out := make([]float64, len(b)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return out, nil
}

func encodeFloat32s(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("histogram blob length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}

func encodeDescriptors(d [][fingerprint.DescriptorSize]byte) []byte {
	if len(d) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(d)*fingerprint.DescriptorSize)
	for _, x := range d {
		buf = append(buf, x[:]...)
	}
	return buf
}

func decodeDescriptors(b []byte) ([][fingerprint.DescriptorSize]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%fingerprint.DescriptorSize != 0 {
		return nil, fmt.Errorf("descriptor blob length %d is not a multiple of %d", len(b), fingerprint.DescriptorSize)
	}
	out := make([][fingerprint.DescriptorSize]byte, len(b)/fingerprint.DescriptorSize)
	for i := range out {
		copy(out[i][:], b[i*fingerprint.DescriptorSize:])
	}
	return out, nil
}

func joinHashes(h []string) string { return strings.Join(h, ",") }

func splitHashes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
