package fingerprint

import (
	"context"
	"fmt"
	"image"
	"math"
	"sort"
	"strings"

	"golang.org/x/image/draw"
)

const (
	// Keyframes is the number of evenly spaced frames hashed per video.
	Keyframes = 10
	// TemporalSamples is the number of frames compared for the temporal signature.
	TemporalSamples = 30
	// HistogramSamples is the number of frames averaged into the colour histogram.
	HistogramSamples = 10
	// RGBBins is the number of histogram bins per colour channel.
	RGBBins = 32

	temporalBits = 64
	temporalSide = 16
)

// ZeroTemporal is the temporal signature of a video with fewer than two
// usable frames.
var ZeroTemporal = strings.Repeat("0", temporalBits/4)

// FrameSource gives random access to decoded video frames.
type FrameSource interface {
	FrameCount() int
	// Frames returns the decodable frames among indices, in index order.
	// Frames that fail to decode are skipped.
	Frames(ctx context.Context, indices []int) ([]image.Image, error)
}

// VideoSignature is the fingerprint of a video.
type VideoSignature struct {
	KeyframeHashes    []string
	TemporalSignature string
	Histogram         []float32
	AudioFingerprint  string
	FPS               float64
	Duration          float64
	FrameCount        int
	Width             int
	Height            int
}

// Linspace returns n indices evenly spaced over [0, total-1], truncated like
// an integer linspace. Duplicates are kept.
func Linspace(total, n int) []int {
	if total <= 0 || n <= 0 {
		return nil
	}
	if n == 1 {
		return []int{0}
	}
	out := make([]int, n)
	step := float64(total-1) / float64(n-1)
	for i := range out {
		out[i] = int(float64(i) * step)
	}
	return out
}

// ExtractVideoSignature samples frames from src to build keyframe hashes, a
// temporal signature and an averaged RGB histogram. Videos with at most one
// frame get ZeroTemporal and a zeroed histogram.
func ExtractVideoSignature(ctx context.Context, src FrameSource) (VideoSignature, error) {
	total := src.FrameCount()
	sig := VideoSignature{
		FrameCount:        total,
		TemporalSignature: ZeroTemporal,
		Histogram:         make([]float32, 3*RGBBins),
	}

	keyframes, err := src.Frames(ctx, Linspace(total, Keyframes))
	if err != nil {
		return VideoSignature{}, fmt.Errorf("reading keyframes: %w", err)
	}
	for _, f := range keyframes {
		h, err := PerceptualHash(f)
		if err != nil {
			return VideoSignature{}, err
		}
		sig.KeyframeHashes = append(sig.KeyframeHashes, h)
	}

	if total < 2 {
		return sig, nil
	}

	samples, err := src.Frames(ctx, Linspace(total, TemporalSamples))
	if err != nil {
		return VideoSignature{}, fmt.Errorf("reading temporal samples: %w", err)
	}
	if len(samples) < 2 {
		return sig, nil
	}
	sig.TemporalSignature = temporalSignature(samples)

	histFrames, err := src.Frames(ctx, Linspace(total, HistogramSamples))
	if err != nil {
		return VideoSignature{}, fmt.Errorf("reading histogram samples: %w", err)
	}
	sig.Histogram = meanRGBHistogram(histFrames)
	return sig, nil
}

// temporalSignature sets bit i when the mean absolute difference between
// sampled frames i and i+1 exceeds the median difference. Bit 0 is the least
// significant bit of the 64-bit value.
func temporalSignature(frames []image.Image) string {
	if len(frames) < 2 {
		return ZeroTemporal
	}
	var prev []float64
	var diffs []float64
	for _, f := range frames {
		cur := grayThumb(f)
		if prev != nil {
			var sum float64
			for i := range cur {
				sum += math.Abs(cur[i] - prev[i])
			}
			diffs = append(diffs, sum/float64(len(cur)))
		}
		prev = cur
	}

	med := median(diffs)
	var v uint64
	for i, d := range diffs {
		if i >= temporalBits {
			break
		}
		if d > med {
			v |= 1 << uint(i)
		}
	}
	return fmt.Sprintf("%016x", v)
}

func grayThumb(img image.Image) []float64 {
	g := image.NewGray(image.Rect(0, 0, temporalSide, temporalSide))
	draw.BiLinear.Scale(g, g.Bounds(), img, img.Bounds(), draw.Src, nil)
	out := make([]float64, len(g.Pix))
	for i, p := range g.Pix {
		out[i] = float64(p)
	}
	return out
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// meanRGBHistogram averages per-frame RGB histograms and normalises the
// result to sum to 1. No frames yields a zeroed histogram.
func meanRGBHistogram(frames []image.Image) []float32 {
	out := make([]float32, 3*RGBBins)
	if len(frames) == 0 {
		return out
	}
	acc := make([]float64, 3*RGBBins)
	for _, f := range frames {
		for i, v := range rgbHistogram(f, RGBBins) {
			acc[i] += v
		}
	}
	var sum float64
	for i := range acc {
		acc[i] /= float64(len(frames))
		sum += acc[i]
	}
	for i := range acc {
		out[i] = float32(acc[i] / (sum + 1e-7))
	}
	return out
}
