// Package facesvc talks to the face detection and embedding service.
package facesvc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
)

// Face is one detected face: a bounding box in source pixels and its
// embedding.
type Face struct {
	Top        int
	Right      int
	Bottom     int
	Left       int
	Embedding  []float64
	Confidence float64
}

// Client calls the face service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting the given service base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// IsRunning returns true if GET /health answers 200.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// detectRequest is the JSON body for POST /detect.
type detectRequest struct {
	ImageB64 string `json:"image_b64"`
}

type wireFace struct {
	Top        int     `json:"top"`
	Right      int     `json:"right"`
	Bottom     int     `json:"bottom"`
	Left       int     `json:"left"`
	Encoding   string  `json:"encoding"`
	Confidence float64 `json:"confidence"`
}

// detectResponse is the JSON returned by POST /detect.
type detectResponse struct {
	Count int        `json:"count"`
	Faces []wireFace `json:"faces"`
}

// Detect finds faces in image bytes. An image without faces yields an
// empty slice and no error.
func (c *Client) Detect(ctx context.Context, image []byte) ([]Face, error) {
	body, err := json.Marshal(detectRequest{ImageB64: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating detect request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detect request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detect: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding detect response: %w", err)
	}

	faces := make([]Face, 0, len(result.Faces))
	for i, wf := range result.Faces {
		emb, err := DecodeEncoding(wf.Encoding)
		if err != nil {
			return nil, fmt.Errorf("face %d: %w", i, err)
		}
		faces = append(faces, Face{
			Top:        wf.Top,
			Right:      wf.Right,
			Bottom:     wf.Bottom,
			Left:       wf.Left,
			Embedding:  emb,
			Confidence: wf.Confidence,
		})
	}
	return faces, nil
}

// DecodeEncoding parses a base64 string of little-endian float64 values.
func DecodeEncoding(s string) ([]float64, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding encoding: %w", err)
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("encoding length %d is not a multiple of 8", len(raw))
	}
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}

// EncodeEncoding is the inverse of DecodeEncoding.
func EncodeEncoding(v []float64) string {
	raw := make([]byte, 8*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(f))
	}
	return base64.StdEncoding.EncodeToString(raw)
}
