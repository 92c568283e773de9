package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/kalambet/casematch/internal/blob"
	"github.com/kalambet/casematch/internal/classifier"
	"github.com/kalambet/casematch/internal/facesvc"
	"github.com/kalambet/casematch/internal/fingerprint"
	"github.com/kalambet/casematch/internal/storage"
	"github.com/kalambet/casematch/internal/videodecode"
	"github.com/kalambet/casematch/internal/watchlist"
)

// --- fakes ---

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: make(map[string][]byte)} }

func (m *memBlobs) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[ref]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", ref, blob.ErrNotFound)
	}
	return data, nil
}

func (m *memBlobs) Put(_ context.Context, ref string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[ref] = data
	return ref, nil
}

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []Task
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, t Task) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, t)
	return fmt.Sprintf("task-%d", len(d.tasks)), nil
}

func (d *recordingDispatcher) names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.tasks))
	for i, t := range d.tasks {
		out[i] = t.Name
	}
	return out
}

type mockDetector struct {
	detectFn func(ctx context.Context, image []byte) ([]facesvc.Face, error)
}

func (m *mockDetector) Detect(ctx context.Context, image []byte) ([]facesvc.Face, error) {
	return m.detectFn(ctx, image)
}

type mockClassifier struct {
	classifyFn func(ctx context.Context, filename string, image []byte) (classifier.Result, error)
}

func (m *mockClassifier) Classify(ctx context.Context, filename string, image []byte) (classifier.Result, error) {
	return m.classifyFn(ctx, filename, image)
}

type fakeVideo struct {
	frames []image.Image
	closed bool
}

func (v *fakeVideo) FrameCount() int { return len(v.frames) }

func (v *fakeVideo) Frames(_ context.Context, indices []int) ([]image.Image, error) {
	out := make([]image.Image, 0, len(indices))
	for _, i := range indices {
		out = append(out, v.frames[i])
	}
	return out, nil
}

func (v *fakeVideo) Metadata() videodecode.Info {
	return videodecode.Info{FPS: 25, Duration: float64(len(v.frames)) / 25, FrameCount: len(v.frames), Width: 64, Height: 48}
}

func (v *fakeVideo) Close() error { v.closed = true; return nil }

// --- fixtures ---

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func blocksImage(seed uint64, w, h int) *image.RGBA {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b9))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for by := 0; by < h; by += 8 {
		for bx := 0; bx < w; bx += 8 {
			c := color.RGBA{uint8(r.IntN(256)), uint8(r.IntN(256)), uint8(r.IntN(256)), 255}
			for y := by; y < min(by+8, h); y++ {
				for x := bx; x < min(bx+8, w); x++ {
					img.SetRGBA(x, y, c)
				}
			}
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func addMedia(t *testing.T, s *storage.Store, blobs *memBlobs, id, caseID string, data []byte) {
	t.Helper()
	ref := blob.MediaRef(caseID, id, id+".bin")
	blobs.Put(context.Background(), ref, data, "")
	if err := s.CreateMedia(storage.Media{ID: id, CaseID: caseID, BlobRef: ref, Filename: id + ".bin"}); err != nil {
		t.Fatalf("CreateMedia: %v", err)
	}
}

var mp4Header = []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'm', 'p', '4', '2', 0, 0, 0, 0, 'm', 'p', '4', '2', 'i', 's', 'o', 'm'}

// --- orchestrator ---

func TestProcess_Image(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	d := &recordingDispatcher{}
	addMedia(t, s, blobs, "m1", "c1", pngBytes(t, blocksImage(1, 96, 96)))

	o := &Orchestrator{Store: s, Blobs: blobs, Dispatch: d}
	if err := o.Process(context.Background(), "m1"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	m, _ := s.GetMedia("m1")
	if m.Status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed", m.Status)
	}
	if m.MimeType != "image/png" || len(m.PHash) != 16 || len(m.SHA256) != 64 {
		t.Errorf("media = %+v", m)
	}
	if _, err := blobs.Get(context.Background(), m.ThumbnailRef); err != nil {
		t.Errorf("thumbnail %q not stored: %v", m.ThumbnailRef, err)
	}
	want := []string{TaskDetectFaces, TaskImageSignature, TaskCategorize}
	if got := d.names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("dispatched %v, want %v", got, want)
	}
}

func TestProcess_Video(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	d := &recordingDispatcher{}
	addMedia(t, s, blobs, "v1", "c1", mp4Header)

	o := &Orchestrator{Store: s, Blobs: blobs, Dispatch: d}
	if err := o.Process(context.Background(), "v1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	m, _ := s.GetMedia("v1")
	if m.Status != storage.StatusCompleted || !strings.HasPrefix(m.MimeType, "video/") {
		t.Errorf("media = %+v", m)
	}
	if m.PHash != "" {
		t.Errorf("videos get no pHash, got %q", m.PHash)
	}
	if got := d.names(); len(got) != 1 || got[0] != TaskVideoSignature {
		t.Errorf("dispatched %v", got)
	}
}

func TestProcess_OtherMime(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	d := &recordingDispatcher{}
	addMedia(t, s, blobs, "d1", "c1", []byte("just some notes"))

	o := &Orchestrator{Store: s, Blobs: blobs, Dispatch: d}
	if err := o.Process(context.Background(), "d1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	m, _ := s.GetMedia("d1")
	if m.Status != storage.StatusCompleted || len(d.names()) != 0 {
		t.Errorf("status = %q, dispatched %v", m.Status, d.names())
	}
}

func TestProcess_UndecodableImageCompletes(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	d := &recordingDispatcher{}
	corrupt := append([]byte("\x89PNG\r\n\x1a\n"), []byte("garbage garbage garbage")...)
	addMedia(t, s, blobs, "m1", "c1", corrupt)

	o := &Orchestrator{Store: s, Blobs: blobs, Dispatch: d}
	if err := o.Process(context.Background(), "m1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	m, _ := s.GetMedia("m1")
	if m.Status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed", m.Status)
	}
	if m.MimeType != "image/png" || len(m.SHA256) != 64 {
		t.Errorf("media = %+v", m)
	}
	if m.PHash != "" || m.ThumbnailRef != "" {
		t.Errorf("phash = %q, thumbnail = %q, want both empty", m.PHash, m.ThumbnailRef)
	}
	want := []string{TaskDetectFaces, TaskImageSignature, TaskCategorize}
	if got := d.names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("dispatched %v, want %v", got, want)
	}
}

func TestProcess_TIFF(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	d := &recordingDispatcher{}

	var buf bytes.Buffer
	if err := tiff.Encode(&buf, blocksImage(3, 16, 16), nil); err != nil {
		t.Fatalf("tiff.Encode: %v", err)
	}
	addMedia(t, s, blobs, "m1", "c1", buf.Bytes())

	o := &Orchestrator{Store: s, Blobs: blobs, Dispatch: d}
	if err := o.Process(context.Background(), "m1"); err != nil {
		t.Fatalf("Process: %v", err)
	}
	m, _ := s.GetMedia("m1")
	if m.Status != storage.StatusCompleted || m.MimeType != "image/tiff" {
		t.Errorf("media = %q / %q", m.Status, m.MimeType)
	}
	if len(m.PHash) != 16 || m.ThumbnailRef == "" {
		t.Errorf("phash = %q, thumbnail = %q", m.PHash, m.ThumbnailRef)
	}
	if len(d.names()) != 3 {
		t.Errorf("dispatched %v", d.names())
	}
}

func TestProcess_MissingBlobFails(t *testing.T) {
	s := openTestStore(t)
	if err := s.CreateMedia(storage.Media{ID: "m1", CaseID: "c1", BlobRef: "media/gone"}); err != nil {
		t.Fatalf("CreateMedia: %v", err)
	}
	o := &Orchestrator{Store: s, Blobs: newMemBlobs(), Dispatch: &recordingDispatcher{}}
	if err := o.Process(context.Background(), "m1"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("Process error = %v", err)
	}
	m, _ := s.GetMedia("m1")
	if m.Status != storage.StatusFailed {
		t.Errorf("status = %q, want failed", m.Status)
	}
}

func TestProcess_DispatchErrorFails(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	addMedia(t, s, blobs, "v1", "c1", mp4Header)

	o := &Orchestrator{Store: s, Blobs: blobs, Dispatch: &recordingDispatcher{err: errors.New("queue down")}}
	if err := o.Process(context.Background(), "v1"); err == nil {
		t.Fatal("expected error")
	}
	m, _ := s.GetMedia("v1")
	if m.Status != storage.StatusFailed {
		t.Errorf("status = %q, want failed", m.Status)
	}
}

func TestProcess_UnknownMediaIsDropped(t *testing.T) {
	o := &Orchestrator{Store: openTestStore(t), Blobs: newMemBlobs(), Dispatch: &recordingDispatcher{}}
	if err := o.Process(context.Background(), "nope"); err != nil {
		t.Errorf("Process(unknown) = %v, want nil", err)
	}
}

// --- stages ---

func TestFaceStage(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	d := &recordingDispatcher{}
	addMedia(t, s, blobs, "m1", "c1", pngBytes(t, blocksImage(2, 128, 128)))

	faces := []facesvc.Face{
		{Top: 10, Right: 50, Bottom: 60, Left: 5, Embedding: []float64{0.1, 0.2}, Confidence: 0.99},
		{Top: 70, Right: 120, Bottom: 120, Left: 64, Embedding: []float64{0.9, 0.8}, Confidence: 0.9},
	}
	det := &mockDetector{detectFn: func(context.Context, []byte) ([]facesvc.Face, error) { return faces, nil }}
	stage := &FaceStage{Store: s, Blobs: blobs, Detector: det, Dispatch: d}

	if err := stage.Run(context.Background(), "m1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	stored, _ := s.ListFacesByMedia("m1")
	if len(stored) != 2 {
		t.Fatalf("stored %d faces, want 2", len(stored))
	}
	for _, f := range stored {
		if f.ThumbnailRef == "" {
			t.Errorf("face %s has no thumbnail", f.ID)
		} else if _, err := blobs.Get(context.Background(), f.ThumbnailRef); err != nil {
			t.Errorf("thumbnail missing: %v", err)
		}
	}
	cats, _ := s.ListCategories("m1")
	if len(cats) != 1 || cats[0].Category != "person" || cats[0].Confidence != 0.9 {
		t.Errorf("categories = %+v", cats)
	}
	if got := d.names(); len(got) != 1 || got[0] != TaskWatchlistScan {
		t.Errorf("dispatched %v", got)
	}

	// Re-running replaces rather than duplicates.
	faces = faces[:1]
	if err := stage.Run(context.Background(), "m1"); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	stored, _ = s.ListFacesByMedia("m1")
	if len(stored) != 1 {
		t.Errorf("after rerun %d faces, want 1", len(stored))
	}
}

func TestFaceStage_NoFaces(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	d := &recordingDispatcher{}
	addMedia(t, s, blobs, "m1", "c1", pngBytes(t, blocksImage(3, 64, 64)))

	det := &mockDetector{detectFn: func(context.Context, []byte) ([]facesvc.Face, error) { return []facesvc.Face{}, nil }}
	stage := &FaceStage{Store: s, Blobs: blobs, Detector: det, Dispatch: d}
	if err := stage.Run(context.Background(), "m1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if cats, _ := s.ListCategories("m1"); len(cats) != 0 {
		t.Errorf("categories = %+v, want none", cats)
	}
	if got := d.names(); len(got) != 1 || got[0] != TaskWatchlistScan {
		t.Errorf("dispatched %v, want a scan even without faces", got)
	}
}

func TestFaceStage_DetectorError(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	d := &recordingDispatcher{}
	addMedia(t, s, blobs, "m1", "c1", pngBytes(t, blocksImage(4, 64, 64)))

	det := &mockDetector{detectFn: func(context.Context, []byte) ([]facesvc.Face, error) {
		return nil, errors.New("service unavailable")
	}}
	stage := &FaceStage{Store: s, Blobs: blobs, Detector: det, Dispatch: d}
	if err := stage.Run(context.Background(), "m1"); err == nil {
		t.Fatal("expected error")
	}
	if len(d.names()) != 0 {
		t.Errorf("dispatched %v after failure", d.names())
	}
	m, _ := s.GetMedia("m1")
	if m.Status != storage.StatusPending {
		t.Errorf("stage failure changed media status to %q", m.Status)
	}
}

func TestSignatureStage(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	addMedia(t, s, blobs, "m1", "c1", pngBytes(t, blocksImage(5, 128, 128)))

	stage := &SignatureStage{Store: s, Blobs: blobs}
	if err := stage.Run(context.Background(), "m1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sig, err := s.GetImageSignature("m1")
	if err != nil {
		t.Fatalf("GetImageSignature: %v", err)
	}
	if len(sig.Histogram) != fingerprint.HSHistogramLen {
		t.Errorf("histogram length = %d", len(sig.Histogram))
	}
	if sig.KeypointCount != len(sig.Descriptors) {
		t.Errorf("keypoints %d vs descriptors %d", sig.KeypointCount, len(sig.Descriptors))
	}
}

func TestSignatureStage_Undecodable(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	addMedia(t, s, blobs, "m1", "c1", []byte("not an image"))

	stage := &SignatureStage{Store: s, Blobs: blobs}
	if err := stage.Run(context.Background(), "m1"); !errors.Is(err, fingerprint.ErrUndecodable) {
		t.Errorf("Run = %v, want ErrUndecodable", err)
	}
	if _, err := s.GetImageSignature("m1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("signature persisted after failure: %v", err)
	}
}

func TestVideoStage(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	addMedia(t, s, blobs, "v1", "c1", mp4Header)

	video := &fakeVideo{}
	for i := 0; i < 40; i++ {
		video.frames = append(video.frames, blocksImage(uint64(i/10), 64, 48))
	}
	opener := VideoOpenerFunc(func(context.Context, []byte) (Video, error) { return video, nil })
	stage := &VideoStage{Store: s, Blobs: blobs, Videos: opener}
	if err := stage.Run(context.Background(), "v1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !video.closed {
		t.Error("video not closed")
	}
	sig, err := s.GetVideoSignature("v1")
	if err != nil {
		t.Fatalf("GetVideoSignature: %v", err)
	}
	if sig.FPS != 25 || sig.FrameCount != 40 || sig.Width != 64 || len(sig.KeyframeHashes) != fingerprint.Keyframes {
		t.Errorf("signature = %+v", sig)
	}
}

// An unopenable video fails the stage task while the media item, already
// completed by the orchestrator, keeps its status.
func TestVideoStage_UndecodableKeepsMediaCompleted(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	d := &recordingDispatcher{}
	addMedia(t, s, blobs, "v1", "c1", mp4Header)

	o := &Orchestrator{Store: s, Blobs: blobs, Dispatch: d}
	if err := o.Process(context.Background(), "v1"); err != nil {
		t.Fatalf("Process: %v", err)
	}

	opener := VideoOpenerFunc(func(context.Context, []byte) (Video, error) {
		return nil, videodecode.ErrNoVideoStream
	})
	stage := &VideoStage{Store: s, Blobs: blobs, Videos: opener}
	if err := stage.Run(context.Background(), "v1"); !errors.Is(err, videodecode.ErrNoVideoStream) {
		t.Fatalf("Run = %v, want ErrNoVideoStream", err)
	}
	m, _ := s.GetMedia("v1")
	if m.Status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed", m.Status)
	}
	if _, err := s.GetVideoSignature("v1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("signature persisted after failure: %v", err)
	}
}

func TestCategorizeStage(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	d := &recordingDispatcher{}
	addMedia(t, s, blobs, "m1", "c1", pngBytes(t, blocksImage(6, 32, 32)))

	cl := &mockClassifier{classifyFn: func(_ context.Context, filename string, _ []byte) (classifier.Result, error) {
		if filename != "m1.bin" {
			t.Errorf("filename = %q", filename)
		}
		return classifier.Result{Category: "weapons", Confidence: 0.8, Subcategory: "firearm"}, nil
	}}
	stage := &CategorizeStage{Store: s, Blobs: blobs, Classifier: cl, Dispatch: d}
	if err := stage.Run(context.Background(), "m1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	cats, _ := s.ListCategories("m1")
	if len(cats) != 2 {
		t.Fatalf("categories = %+v", cats)
	}
	if cats[0].Category != "weapons" || cats[0].Subcategory != "firearm" {
		t.Errorf("main category = %+v", cats[0])
	}
	if cats[1].Category != "firearm" || cats[1].Confidence < 0.7199 || cats[1].Confidence > 0.7201 {
		t.Errorf("subcategory = %+v", cats[1])
	}
	if got := d.names(); len(got) != 1 || got[0] != TaskWatchlistScan {
		t.Errorf("dispatched %v", got)
	}
}

func TestCategorizeStage_ClassifierError(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	d := &recordingDispatcher{}
	addMedia(t, s, blobs, "m1", "c1", []byte("x"))

	cl := &mockClassifier{classifyFn: func(context.Context, string, []byte) (classifier.Result, error) {
		return classifier.Result{}, errors.New("classify: unexpected status 500")
	}}
	stage := &CategorizeStage{Store: s, Blobs: blobs, Classifier: cl, Dispatch: d}
	if err := stage.Run(context.Background(), "m1"); err == nil {
		t.Fatal("expected error")
	}
	if cats, _ := s.ListCategories("m1"); len(cats) != 0 {
		t.Errorf("categories stored after failure: %+v", cats)
	}
}

// --- watchlist ---

func seedWatchlist(t *testing.T, s *storage.Store, alert bool, embedding []float64) {
	t.Helper()
	if err := s.CreateWatchlist(storage.Watchlist{ID: "w1", Name: "persons of interest", AlertOnMatch: alert, Active: true}); err != nil {
		t.Fatalf("CreateWatchlist: %v", err)
	}
	if err := s.AddWatchlistEntry(storage.WatchlistEntry{ID: "e1", WatchlistID: "w1", Name: "John Doe", Embedding: embedding}); err != nil {
		t.Fatalf("AddWatchlistEntry: %v", err)
	}
}

func TestWatchlistStage_ExactMatchRaisesHighAlert(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	addMedia(t, s, blobs, "m1", "c1", []byte("x"))
	emb := []float64{0.1, 0.2, 0.3}
	seedWatchlist(t, s, true, emb)
	if err := s.ReplaceFaces("m1", []storage.Face{{ID: "f1", Embedding: emb}}); err != nil {
		t.Fatalf("ReplaceFaces: %v", err)
	}

	stage := &WatchlistStage{Store: s}
	res, err := stage.ScanMedia(context.Background(), "m1")
	if err != nil {
		t.Fatalf("ScanMedia: %v", err)
	}
	if len(res.Matches) != 1 || res.Matches[0].Distance != 0 || res.Matches[0].Confidence != 1 {
		t.Fatalf("matches = %+v", res.Matches)
	}
	alerts, _ := s.ListAlerts(storage.AlertFilter{CaseID: "c1"})
	if len(alerts) != 1 || res.AlertsCreated != 1 {
		t.Fatalf("alerts = %+v", alerts)
	}
	a := alerts[0]
	if a.Severity != watchlist.SeverityHigh || a.Title != "Watchlist Match: John Doe" || a.FaceID != "f1" || a.WatchlistEntryID != "e1" {
		t.Errorf("alert = %+v", a)
	}
}

func TestWatchlistStage_NonAlertingWatchlist(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	addMedia(t, s, blobs, "m1", "c1", []byte("x"))
	emb := []float64{0.1, 0.2, 0.3}
	seedWatchlist(t, s, false, emb)
	s.ReplaceFaces("m1", []storage.Face{{ID: "f1", Embedding: emb}})

	res, err := (&WatchlistStage{Store: s}).ScanMedia(context.Background(), "m1")
	if err != nil {
		t.Fatalf("ScanMedia: %v", err)
	}
	if len(res.Matches) != 1 || res.AlertsCreated != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestWatchlistStage_ScanEntry(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	addMedia(t, s, blobs, "m1", "c1", []byte("x"))
	addMedia(t, s, blobs, "m2", "c2", []byte("y"))
	s.ReplaceFaces("m1", []storage.Face{{ID: "f1", Embedding: []float64{0, 0}}})
	s.ReplaceFaces("m2", []storage.Face{{ID: "f2", Embedding: []float64{0.3, 0}}, {ID: "f3", Embedding: []float64{5, 5}}})
	seedWatchlist(t, s, true, []float64{0, 0})

	res, err := (&WatchlistStage{Store: s}).ScanEntry(context.Background(), "e1")
	if err != nil {
		t.Fatalf("ScanEntry: %v", err)
	}
	if len(res.Matches) != 2 || res.AlertsCreated != 2 {
		t.Errorf("result = %+v", res)
	}
	alerts, _ := s.ListAlerts(storage.AlertFilter{CaseID: "c2"})
	if len(alerts) != 1 || alerts[0].Severity != watchlist.SeverityMedium {
		t.Errorf("case c2 alerts = %+v", alerts)
	}
}

func TestCaseScanStage(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	d := &recordingDispatcher{}
	addMedia(t, s, blobs, "m1", "c1", []byte("x"))
	addMedia(t, s, blobs, "m2", "c1", []byte("y"))
	addMedia(t, s, blobs, "m3", "c2", []byte("z"))
	s.CompleteMedia("m1", storage.MediaUpdate{})
	s.CompleteMedia("m3", storage.MediaUpdate{})

	n, err := (&CaseScanStage{Store: s, Dispatch: d}).Run(context.Background(), "c1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 1 || len(d.tasks) != 1 || d.tasks[0].Payload.(MediaPayload).MediaID != "m1" {
		t.Errorf("n = %d, tasks = %+v", n, d.tasks)
	}
}

// --- maintenance ---

func TestReprocessStage(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	d := &recordingDispatcher{}
	addMedia(t, s, blobs, "m1", "c1", []byte("x"))
	s.SetMediaStatus("m1", storage.StatusFailed, "boom")

	if err := (&ReprocessStage{Store: s, Dispatch: d}).Run(context.Background(), "m1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	m, _ := s.GetMedia("m1")
	if m.Status != storage.StatusPending {
		t.Errorf("status = %q", m.Status)
	}
	if got := d.names(); len(got) != 1 || got[0] != TaskProcess {
		t.Errorf("dispatched %v", got)
	}
	if err := (&ReprocessStage{Store: s, Dispatch: d}).Run(context.Background(), "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Run(nope) = %v", err)
	}
}

func TestBatchStage(t *testing.T) {
	s := openTestStore(t)
	blobs := newMemBlobs()
	d := &recordingDispatcher{}
	addMedia(t, s, blobs, "img", "c1", []byte("x"))
	addMedia(t, s, blobs, "vid", "c1", []byte("y"))
	addMedia(t, s, blobs, "doc", "c1", []byte("z"))
	s.CompleteMedia("img", storage.MediaUpdate{MimeType: "image/jpeg"})
	s.CompleteMedia("vid", storage.MediaUpdate{MimeType: "video/mp4"})
	s.CompleteMedia("doc", storage.MediaUpdate{MimeType: "text/plain"})

	n, err := (&BatchStage{Store: s, Dispatch: d}).Run(context.Background(), []string{"img", "vid", "doc", "missing"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{TaskImageSignature, TaskVideoSignature}
	if n != 2 || strings.Join(d.names(), ",") != strings.Join(want, ",") {
		t.Errorf("n = %d, dispatched %v", n, d.names())
	}
}

// --- dispatch & handlers ---

func TestQueueDispatcher(t *testing.T) {
	s := openTestStore(t)
	d := QueueDispatcher{Store: s, MaxAttempts: 5}

	id, err := d.Dispatch(context.Background(), ScanTask("m1"))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	job, err := s.GetJob(id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Type != TaskWatchlistScan || job.Lane != LaneWatchlist || job.MaxAttempts != 5 {
		t.Errorf("job = %+v", job)
	}
	var p MediaPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil || p.MediaID != "m1" {
		t.Errorf("payload = %s", job.PayloadJSON)
	}

	if _, err := d.Dispatch(context.Background(), Task{Name: "bogus"}); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestHandlersCoverEveryTask(t *testing.T) {
	p := New(Deps{Store: openTestStore(t), Blobs: newMemBlobs(), Dispatch: &recordingDispatcher{}})
	h := p.Handlers()
	for name := range Specs {
		if h[name] == nil {
			t.Errorf("no handler for %s", name)
		}
	}
	if len(h) != len(Specs) {
		t.Errorf("%d handlers for %d specs", len(h), len(Specs))
	}
}

func TestHandlers_PayloadValidation(t *testing.T) {
	p := New(Deps{Store: openTestStore(t), Blobs: newMemBlobs(), Dispatch: &recordingDispatcher{}})
	h := p.Handlers()

	if err := h[TaskProcess](context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for missing media_id")
	}
	if err := h[TaskProcess](context.Background(), json.RawMessage(`not json`)); err == nil {
		t.Error("expected error for invalid payload")
	}
	if err := h[TaskScanEntry](context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Error("expected error for missing entry_id")
	}
}
