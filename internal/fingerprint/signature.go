package fingerprint

import (
	"image"
	"image/color"
)

const (
	hueBins = 50
	satBins = 60

	// HSHistogramLen is the length of an image colour histogram.
	HSHistogramLen = hueBins * satBins
)

// ImageSignature is the structural and colour fingerprint of a still image.
type ImageSignature struct {
	Descriptors   [][DescriptorSize]byte
	KeypointCount int
	Histogram     []float32
}

// HasDescriptors reports whether any keypoints were found.
func (s ImageSignature) HasDescriptors() bool { return len(s.Descriptors) > 0 }

// ExtractImageSignature detects up to maxKeypoints keypoints and computes the
// hue/saturation histogram. An image with no corners yields an empty
// descriptor set, not an error.
func ExtractImageSignature(img image.Image, maxKeypoints int) ImageSignature {
	if maxKeypoints <= 0 {
		maxKeypoints = MaxKeypoints
	}
	g := toGray(img)
	kps := DetectKeypoints(g, maxKeypoints)
	var desc [][DescriptorSize]byte
	if len(kps) > 0 {
		desc = Describe(boxBlur(g), kps)
	}
	return ImageSignature{
		Descriptors:   desc,
		KeypointCount: len(kps),
		Histogram:     HSHistogram(Resize(img, maxWorkSide)),
	}
}

// HSHistogram builds a joint hue/saturation histogram with 50 hue bins over
// [0,180) and 60 saturation bins over [0,256), normalised to sum to 1.
func HSHistogram(img image.Image) []float32 {
	hist := make([]float32, HSHistogramLen)
	b := img.Bounds()
	var total float32
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			h, s := hueSat(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			hb := int(h) * hueBins / 180
			sb := int(s) * satBins / 256
			hist[hb*satBins+sb]++
			total++
		}
	}
	if total > 0 {
		for i := range hist {
			hist[i] /= total
		}
	}
	return hist
}

// hueSat converts an 8-bit RGB triple to hue in [0,180) and saturation in
// [0,255], the ranges used for 8-bit HSV images.
func hueSat(r, g, b uint8) (h float64, s float64) {
	rf, gf, bf := float64(r), float64(g), float64(b)
	v := max(rf, gf, bf)
	m := min(rf, gf, bf)
	d := v - m
	if v > 0 {
		s = d * 255 / v
	}
	if d == 0 {
		return 0, s
	}
	switch v {
	case rf:
		h = 60 * (gf - bf) / d
	case gf:
		h = 120 + 60*(bf-rf)/d
	default:
		h = 240 + 60*(rf-gf)/d
	}
	if h < 0 {
		h += 360
	}
	h /= 2
	if h >= 180 {
		h = 0
	}
	return h, s
}

// rgbHistogram returns per-channel counts with bins buckets each, R then G
// then B.
func rgbHistogram(img image.Image, bins int) []float64 {
	hist := make([]float64, 3*bins)
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			hist[int(c.R)*bins/256]++
			hist[bins+int(c.G)*bins/256]++
			hist[2*bins+int(c.B)*bins/256]++
		}
	}
	return hist
}
