package fingerprint

import (
	"image"
	"math"
	"math/rand/v2"
	"sort"
	"sync"

	"golang.org/x/image/draw"
)

const (
	// MaxKeypoints is the default number of keypoints kept per image.
	MaxKeypoints = 500

	// DescriptorSize is the width of one binary descriptor in bytes.
	DescriptorSize = 32

	fastThreshold = 20
	fastArc       = 9
	patchRadius   = 15
	border        = 20
	maxWorkSide   = 640
	harrisK       = 0.04
)

// Keypoint is a detected corner with its orientation.
type Keypoint struct {
	X, Y     int
	Response float64
	Angle    float64
}

// circle16 is the Bresenham circle of radius 3 used by the FAST test.
var circle16 = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1}, {3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1}, {-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

// briefPattern holds 256 point pairs inside the descriptor patch. The pattern
// is drawn once from a fixed seed so descriptors are comparable across runs.
// Rotated points stay within border pixels of the keypoint.
var briefPattern = sync.OnceValue(func() [256][4]float64 {
	rng := rand.New(rand.NewPCG(0x6f72622d, 0x70617474))
	const sigma = float64(2*patchRadius+1) / 5
	limit := float64(patchRadius - 2)
	sample := func() float64 {
		v := rng.NormFloat64() * sigma
		return math.Max(-limit, math.Min(limit, math.Round(v)))
	}
	var p [256][4]float64
	for i := range p {
		p[i] = [4]float64{sample(), sample(), sample(), sample()}
	}
	return p
})

// toGray converts img to an 8-bit grey image whose longest side is at most
// maxWorkSide pixels.
func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxWorkSide || h > maxWorkSide {
		if w > h {
			h = max(1, h*maxWorkSide/w)
			w = maxWorkSide
		} else {
			w = max(1, w*maxWorkSide/h)
			h = maxWorkSide
		}
	}
	g := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(g, g.Bounds(), img, b, draw.Src, nil)
	return g
}

// boxBlur smooths g with a 5x5 box filter before descriptor sampling.
func boxBlur(g *image.Gray) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	tmp := make([]int, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s, n := 0, 0
			for dx := -2; dx <= 2; dx++ {
				if xx := x + dx; xx >= 0 && xx < w {
					s += int(g.Pix[y*g.Stride+xx])
					n++
				}
			}
			tmp[y*w+x] = s / n
		}
	}
	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s, n := 0, 0
			for dy := -2; dy <= 2; dy++ {
				if yy := y + dy; yy >= 0 && yy < h {
					s += tmp[yy*w+x]
					n++
				}
			}
			out.Pix[y*out.Stride+x] = uint8(s / n)
		}
	}
	return out
}

func isFastCorner(g *image.Gray, x, y int) bool {
	c := int(g.Pix[y*g.Stride+x])
	var ring [16]int
	for i, o := range circle16 {
		ring[i] = int(g.Pix[(y+o[1])*g.Stride+x+o[0]])
	}
	brighter, darker := 0, 0
	for i := 0; i < 16+fastArc; i++ {
		v := ring[i%16]
		switch {
		case v > c+fastThreshold:
			brighter++
			darker = 0
		case v < c-fastThreshold:
			darker++
			brighter = 0
		default:
			brighter, darker = 0, 0
		}
		if brighter >= fastArc || darker >= fastArc {
			return true
		}
	}
	return false
}

// harris returns the Harris corner response over a 7x7 window around (x, y).
func harris(g *image.Gray, x, y int) float64 {
	var a, b, c float64
	for dy := -3; dy <= 3; dy++ {
		for dx := -3; dx <= 3; dx++ {
			px, py := x+dx, y+dy
			ix := float64(int(g.Pix[py*g.Stride+px+1]) - int(g.Pix[py*g.Stride+px-1]))
			iy := float64(int(g.Pix[(py+1)*g.Stride+px]) - int(g.Pix[(py-1)*g.Stride+px]))
			a += ix * ix
			b += iy * iy
			c += ix * iy
		}
	}
	return a*b - c*c - harrisK*(a+b)*(a+b)
}

// orientation computes the intensity-centroid angle of the circular patch.
func orientation(g *image.Gray, x, y int) float64 {
	var m01, m10 float64
	r2 := patchRadius * patchRadius
	for dy := -patchRadius; dy <= patchRadius; dy++ {
		for dx := -patchRadius; dx <= patchRadius; dx++ {
			if dx*dx+dy*dy > r2 {
				continue
			}
			v := float64(g.Pix[(y+dy)*g.Stride+x+dx])
			m10 += float64(dx) * v
			m01 += float64(dy) * v
		}
	}
	return math.Atan2(m01, m10)
}

// DetectKeypoints finds up to limit oriented FAST corners in g, strongest
// first. Ties are broken by position so results are deterministic.
func DetectKeypoints(g *image.Gray, limit int) []Keypoint {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w <= 2*border || h <= 2*border || limit <= 0 {
		return nil
	}

	resp := make([]float64, w*h)
	var cands []Keypoint
	for y := border; y < h-border; y++ {
		for x := border; x < w-border; x++ {
			if !isFastCorner(g, x, y) {
				continue
			}
			r := harris(g, x, y)
			resp[y*w+x] = r
			cands = append(cands, Keypoint{X: x, Y: y, Response: r})
		}
	}

	// 3x3 non-maximum suppression on the Harris response.
	kept := cands[:0]
	for _, k := range cands {
		peak := true
		for dy := -1; dy <= 1 && peak; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if (dx != 0 || dy != 0) && resp[(k.Y+dy)*w+k.X+dx] > k.Response {
					peak = false
					break
				}
			}
		}
		if peak {
			kept = append(kept, k)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Response != kept[j].Response {
			return kept[i].Response > kept[j].Response
		}
		if kept[i].Y != kept[j].Y {
			return kept[i].Y < kept[j].Y
		}
		return kept[i].X < kept[j].X
	})
	if len(kept) > limit {
		kept = kept[:limit]
	}
	for i := range kept {
		kept[i].Angle = orientation(g, kept[i].X, kept[i].Y)
	}
	return kept
}

// Describe computes a rotated BRIEF descriptor for each keypoint from the
// smoothed image.
func Describe(smooth *image.Gray, kps []Keypoint) [][DescriptorSize]byte {
	pattern := briefPattern()
	out := make([][DescriptorSize]byte, len(kps))
	for i, k := range kps {
		sin, cos := math.Sincos(k.Angle)
		at := func(px, py float64) int {
			rx := int(math.Round(px*cos - py*sin))
			ry := int(math.Round(px*sin + py*cos))
			return int(smooth.Pix[(k.Y+ry)*smooth.Stride+k.X+rx])
		}
		for bit, p := range pattern {
			if at(p[0], p[1]) < at(p[2], p[3]) {
				out[i][bit/8] |= 1 << (bit % 8)
			}
		}
	}
	return out
}
