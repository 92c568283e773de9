package videodecode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// ErrNoVideoStream is returned when the container holds no video stream.
var ErrNoVideoStream = errors.New("no video stream")

// probeResult is the subset of ffprobe's JSON output that is used.
type probeResult struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	NBFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

// Info describes the first video stream of a file.
type Info struct {
	FPS        float64
	Duration   float64
	FrameCount int
	Width      int
	Height     int
}

func probe(ctx context.Context, binary, path string) (Info, error) {
	cmd := exec.CommandContext(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Info{}, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return Info{}, fmt.Errorf("ffprobe: %w", err)
	}

	var res probeResult
	if err := json.Unmarshal(output, &res); err != nil {
		return Info{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return res.info()
}

func (r probeResult) info() (Info, error) {
	for _, s := range r.Streams {
		if !strings.EqualFold(s.CodecType, "video") {
			continue
		}
		info := Info{Width: s.Width, Height: s.Height}
		info.FPS = parseRate(s.AvgFrameRate)
		if info.FPS == 0 {
			info.FPS = parseRate(s.RFrameRate)
		}
		info.Duration = parseFloat(s.Duration)
		if info.Duration == 0 {
			info.Duration = parseFloat(r.Format.Duration)
		}
		if n, err := strconv.Atoi(strings.TrimSpace(s.NBFrames)); err == nil && n > 0 {
			info.FrameCount = n
		} else {
			info.FrameCount = int(math.Round(info.Duration * info.FPS))
		}
		return info, nil
	}
	return Info{}, ErrNoVideoStream
}

// parseRate parses ffprobe rates such as "30000/1001" or "25".
func parseRate(v string) float64 {
	v = strings.TrimSpace(v)
	if num, den, ok := strings.Cut(v, "/"); ok {
		n := parseFloat(num)
		d := parseFloat(den)
		if d == 0 {
			return 0
		}
		return n / d
	}
	return parseFloat(v)
}

func parseFloat(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}
