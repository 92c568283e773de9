package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/casematch/internal/pipeline"
)

type recordedRequest struct {
	Method      string
	Path        string
	Body        string
	Auth        string
	ContentType string
}

type testServer struct {
	server   *httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			Body:        body.String(),
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"media not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// useServer points the CLI commands at ts for the duration of the test.
func (ts *testServer) use(t *testing.T) {
	t.Helper()
	old := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	t.Cleanup(func() { newAPIClient = old })
}

func (ts *testServer) last(t *testing.T) recordedRequest {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.requests) == 0 {
		t.Fatal("no requests recorded")
	}
	return ts.requests[len(ts.requests)-1]
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	}()
	err := rootCmd.Execute()
	return out.String(), err
}

var ctx = context.Background()

func TestClient_GetJSON(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /status": `{"media":{"completed":3},"jobs":{"media":{"pending":1}}}`,
	})

	var status struct {
		Media map[string]int `json:"media"`
	}
	if err := ts.client().getJSON(ctx, "/status", &status); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Media["completed"] != 3 {
		t.Errorf("status = %+v", status)
	}
	if r := ts.last(t); r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
}

func TestClient_ErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)

	err := ts.client().getJSON(ctx, "/media/missing", &struct{}{})
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "media not found") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestClient_ServerDown(t *testing.T) {
	ts := newTestServer(t, nil)
	client := ts.client()
	ts.server.Close()

	err := client.getJSON(ctx, "/status", &struct{}{})
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestIngestCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /media": `{"id":"m-1","job_id":"j-1","status":"pending"}`,
	})
	ts.use(t)

	path := filepath.Join(t.TempDir(), "scene.jpg")
	if err := os.WriteFile(path, []byte("jpeg bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := execute(t, "ingest", "case-42", path); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	r := ts.last(t)
	if r.Method != "POST" || r.Path != "/media" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if !strings.HasPrefix(r.ContentType, "multipart/form-data") {
		t.Errorf("content type = %q", r.ContentType)
	}
	for _, want := range []string{`name="case_id"`, "case-42", `filename="scene.jpg"`, "jpeg bytes"} {
		if !strings.Contains(r.Body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestIngestCommand_MissingFile(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.use(t)

	_, err := execute(t, "ingest", "case-42", filepath.Join(t.TempDir(), "nope.jpg"))
	if err == nil || !strings.Contains(err.Error(), "1 of 1 uploads failed") {
		t.Errorf("err = %v", err)
	}
}

func TestIngestCommand_MissingArgs(t *testing.T) {
	_, err := execute(t, "ingest")
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "requires at least 2") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestMatchImagesCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /match/images": `{"media_id":"m-1","matches":[{"media_id":"m-2","score":0.91}]}`,
	})
	ts.use(t)

	out, err := execute(t, "match", "images", "m-1", "--type", "color", "--threshold", "0.8")
	if err != nil {
		t.Fatalf("match images: %v", err)
	}
	if !strings.Contains(out, `"m-2"`) {
		t.Errorf("output = %s", out)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(ts.last(t).Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["media_id"] != "m-1" || body["match_type"] != "color" || body["threshold"] != 0.8 {
		t.Errorf("body = %v", body)
	}
}

func TestMatchVideosCommand_DefaultThreshold(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /match/videos": `{"media_id":"v-1","matches":[]}`,
	})
	ts.use(t)

	if _, err := execute(t, "match", "videos", "v-1"); err != nil {
		t.Fatalf("match videos: %v", err)
	}
	if body := ts.last(t).Body; strings.Contains(body, "threshold") {
		t.Errorf("unset threshold sent: %s", body)
	}
}

func TestMatchFacesCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /faces/f-1/similar": `{"face_id":"f-1","matches":[]}`,
	})
	ts.use(t)

	if _, err := execute(t, "match", "faces", "f-1", "--case", "c-9", "--limit", "5"); err != nil {
		t.Fatalf("match faces: %v", err)
	}
	if p := ts.last(t).Path; p != "/faces/f-1/similar?case_id=c-9&limit=5" {
		t.Errorf("path = %q", p)
	}
}

func TestAlertsCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /alerts": `[{"id":"a-1","case_id":"c-1","media_id":"m-1","title":"Watchlist match: Suspect","severity":"high","status":"new","match_confidence":0.93,"created_at":"2026-01-01T10:00:00Z"}]`,
	})
	ts.use(t)

	out, err := execute(t, "alerts", "--case", "c-1")
	if err != nil {
		t.Fatalf("alerts: %v", err)
	}
	if !strings.Contains(out, "Watchlist match: Suspect") || !strings.Contains(out, "0.93") {
		t.Errorf("output = %q", out)
	}
	if p := ts.last(t).Path; !strings.Contains(p, "case_id=c-1") || !strings.Contains(p, "limit=20") {
		t.Errorf("path = %q", p)
	}
}

func TestScanCaseCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /cases/c-1/watchlist-scan": `{"id":"c-1","job_id":"j-7","status":"queued"}`,
	})
	ts.use(t)

	if _, err := execute(t, "scan", "case", "c-1"); err != nil {
		t.Fatalf("scan case: %v", err)
	}
	if r := ts.last(t); r.Method != "POST" {
		t.Errorf("method = %q", r.Method)
	}
}

func TestParseLanes(t *testing.T) {
	all, err := parseLanes("")
	if err != nil || len(all) != len(pipeline.Lanes) {
		t.Errorf("parseLanes(\"\") = %v, %v", all, err)
	}

	got, err := parseLanes(" media , faces ")
	if err != nil || len(got) != 2 || got[0] != "media" || got[1] != "faces" {
		t.Errorf("parseLanes = %v, %v", got, err)
	}

	if _, err := parseLanes("media,gpu"); err == nil || !strings.Contains(err.Error(), "gpu") {
		t.Errorf("unknown lane error = %v", err)
	}
	if _, err := parseLanes(" , "); err == nil {
		t.Error("expected error for empty lane list")
	}
}

func TestFormatCounts(t *testing.T) {
	if got := formatCounts(map[string]int{"pending": 1, "completed": 3}); got != "completed=3 pending=1" {
		t.Errorf("formatCounts = %q", got)
	}
	if got := formatCounts(nil); got != "none" {
		t.Errorf("formatCounts(nil) = %q", got)
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}
