// Package videodecode reads video metadata and frames through the ffprobe
// and ffmpeg executables.
package videodecode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

// MaxFrameSide bounds the decoded frame size. Fingerprints work on small
// thumbnails so full resolution is never needed.
const MaxFrameSide = 256

// Decoder locates the ffmpeg tools.
type Decoder struct {
	FFmpeg  string
	FFprobe string
	TempDir string
}

// New returns a Decoder using the given binaries, falling back to the ones
// on PATH when empty.
func New(ffmpeg, ffprobe string) *Decoder {
	if strings.TrimSpace(ffmpeg) == "" {
		ffmpeg = "ffmpeg"
	}
	if strings.TrimSpace(ffprobe) == "" {
		ffprobe = "ffprobe"
	}
	return &Decoder{FFmpeg: ffmpeg, FFprobe: ffprobe}
}

// Video is an opened video file. It implements fingerprint.FrameSource.
// Close removes the temporary copy.
type Video struct {
	Info

	ffmpeg string
	path   string
	frameW int
	frameH int
}

// Open copies data to a temporary file and probes it. It returns
// ErrNoVideoStream when the data holds no video.
func (d *Decoder) Open(ctx context.Context, data []byte) (*Video, error) {
	if len(data) == 0 {
		return nil, errors.New("videodecode: empty input")
	}
	f, err := os.CreateTemp(d.TempDir, "casematch-video-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}

	info, err := probe(ctx, d.FFprobe, path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	w, h := fitWithin(info.Width, info.Height, MaxFrameSide)
	return &Video{Info: info, ffmpeg: d.FFmpeg, path: path, frameW: w, frameH: h}, nil
}

func (v *Video) Close() error {
	return os.Remove(v.path)
}

func (v *Video) FrameCount() int { return v.Info.FrameCount }

// Metadata returns the probed stream information.
func (v *Video) Metadata() Info { return v.Info }

// Frames decodes the frames at indices in one ffmpeg pass. Results follow
// the order of indices; duplicate indices share one decoded frame and
// frames ffmpeg could not produce are skipped.
func (v *Video) Frames(ctx context.Context, indices []int) ([]image.Image, error) {
	wanted := uniqueSorted(indices, v.Info.FrameCount)
	if len(wanted) == 0 {
		return nil, nil
	}

	args := []string{
		"-v", "error", "-nostdin",
		"-i", v.path,
		"-vf", selectFilter(wanted) + fmt.Sprintf(",scale=%d:%d", v.frameW, v.frameH),
		"-vsync", "0",
		"-f", "rawvideo", "-pix_fmt", "rgb24",
		"-",
	}
	cmd := exec.CommandContext(ctx, v.ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	decoded := make(map[int]image.Image, len(wanted))
	frameSize := v.frameW * v.frameH * 3
	for _, idx := range wanted {
		buf := make([]byte, frameSize)
		if _, err := io.ReadFull(stdout, buf); err != nil {
			break
		}
		decoded[idx] = rgbToImage(buf, v.frameW, v.frameH)
	}
	io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if len(decoded) == 0 {
			return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
	}

	out := make([]image.Image, 0, len(indices))
	for _, idx := range indices {
		if img, ok := decoded[idx]; ok {
			out = append(out, img)
		}
	}
	return out, nil
}

// selectFilter builds select=eq(n\,a)+eq(n\,b)... for the given frames.
// Commas are escaped for the filtergraph parser; no shell is involved.
func selectFilter(frames []int) string {
	var b strings.Builder
	b.WriteString("select=")
	for i, n := range frames {
		if i > 0 {
			b.WriteByte('+')
		}
		b.WriteString(`eq(n\,`)
		b.WriteString(strconv.Itoa(n))
		b.WriteByte(')')
	}
	return b.String()
}

func uniqueSorted(indices []int, total int) []int {
	seen := make(map[int]bool, len(indices))
	var out []int
	for _, i := range indices {
		if i < 0 || (total > 0 && i >= total) || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// fitWithin scales w x h to fit in side x side keeping the aspect ratio,
// with even dimensions. Unknown sizes become side x side.
func fitWithin(w, h, side int) (int, int) {
	if w <= 0 || h <= 0 {
		return side, side
	}
	if w <= side && h <= side {
		return even(w), even(h)
	}
	if w >= h {
		return side, even(h * side / w)
	}
	return even(w * side / h), side
}

func even(n int) int {
	if n < 2 {
		return 2
	}
	return n &^ 1
}

func rgbToImage(buf []byte, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i+2 < len(buf); i, j = i+3, j+4 {
		img.Pix[j] = buf[i]
		img.Pix[j+1] = buf[i+1]
		img.Pix[j+2] = buf[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}
