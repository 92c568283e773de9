// Package similarity holds the distance and score functions shared by the
// matchers: Hamming distance over hex hashes, binary descriptor scores,
// histogram correlation and embedding distance.
package similarity

import (
	"math"
	"math/bits"
)

// DescriptorBits is the width of a single binary keypoint descriptor.
const DescriptorBits = 256

// MaxDescriptorPairs caps how many index-aligned descriptor pairs are compared.
const MaxDescriptorPairs = 50

// epsilon is the float64 machine epsilon.
const epsilon = 2.220446049250313e-16

// Hamming returns the number of differing bits between two hex-encoded hashes.
// Hashes of different length or with non-hex characters are treated as
// maximally distant: 4 bits per character of the longer input.
func Hamming(a, b string) int {
	worst := max(len(a), len(b)) * 4
	if len(a) != len(b) {
		return worst
	}
	d := 0
	for i := 0; i < len(a); i++ {
		x, ok := nibble(a[i])
		if !ok {
			return worst
		}
		y, ok := nibble(b[i])
		if !ok {
			return worst
		}
		d += bits.OnesCount8(x ^ y)
	}
	return d
}

func nibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// DescriptorScore compares two descriptor sets pairwise by index after
// truncating to the shorter set and to MaxDescriptorPairs. The score is
// 1 - mean_differing_bits/256. ok is false when either set is empty.
func DescriptorScore(a, b [][32]byte) (score float64, ok bool) {
	n := min(len(a), len(b), MaxDescriptorPairs)
	if n == 0 {
		return 0, false
	}
	total := 0
	for i := 0; i < n; i++ {
		for j := 0; j < 32; j++ {
			total += bits.OnesCount8(a[i][j] ^ b[i][j])
		}
	}
	avg := float64(total) / float64(n)
	return 1 - avg/DescriptorBits, true
}

// HistogramCorrelation returns the Pearson correlation of two histograms,
// in [-1, 1]. Two flat histograms correlate perfectly. ok is false when the
// histograms are empty, differ in length, or either one is all zeros.
func HistogramCorrelation(a, b []float32) (corr float64, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	n := float64(len(a))
	var sa, sb float64
	for i := range a {
		sa += float64(a[i])
		sb += float64(b[i])
	}
	if sa == 0 || sb == 0 {
		return 0, false
	}
	ma, mb := sa/n, sb/n

	var num, da, db float64
	for i := range a {
		x := float64(a[i]) - ma
		y := float64(b[i]) - mb
		num += x * y
		da += x * x
		db += y * y
	}
	den := da * db
	if den <= epsilon {
		return 1, true
	}
	return num / math.Sqrt(den), true
}

// Euclidean returns the L2 distance between two embeddings.
// Embeddings of different dimension are infinitely far apart.
func Euclidean(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Clamp01 limits v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Part is one sub-score of a combined score. Parts that could not be
// computed are skipped by Combine.
type Part struct {
	Score float64
	Valid bool
}

// Combine averages the valid parts. ok is false when no part is valid.
func Combine(parts ...Part) (score float64, ok bool) {
	var sum float64
	n := 0
	for _, p := range parts {
		if !p.Valid {
			continue
		}
		sum += p.Score
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
