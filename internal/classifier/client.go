// Package classifier calls the image category classifier service.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// Result is the classifier's verdict for one image.
type Result struct {
	Category    string             `json:"category"`
	Confidence  float64            `json:"confidence"`
	Subcategory string             `json:"subcategory,omitempty"`
	Flags       []string           `json:"flags"`
	AllScores   map[string]float64 `json:"all_scores"`
}

// HasSubcategory reports whether the result carries a usable subcategory.
func (r Result) HasSubcategory() bool {
	return r.Subcategory != "" && r.Subcategory != "none"
}

// Client posts images to POST {base}/classify.
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

// Classify uploads image as the multipart field "file".
func (c *Client) Classify(ctx context.Context, filename string, image []byte) (Result, error) {
	if filename == "" {
		filename = "image.jpg"
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Result{}, err
	}
	if _, err := part.Write(image); err != nil {
		return Result{}, err
	}
	if err := mw.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/classify", &buf)
	if err != nil {
		return Result{}, fmt.Errorf("creating classify request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("classify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("classify: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decoding classify response: %w", err)
	}
	if result.Category == "" {
		result.Category = "unknown"
	}
	return result, nil
}
