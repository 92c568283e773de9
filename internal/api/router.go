// Package api exposes the matching corpus over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/casematch/internal/blob"
	"github.com/kalambet/casematch/internal/faceindex"
	"github.com/kalambet/casematch/internal/matching"
	"github.com/kalambet/casematch/internal/pipeline"
	"github.com/kalambet/casematch/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// FaceSearcher is an optional nearest-neighbour index over face embeddings.
type FaceSearcher interface {
	Search(ctx context.Context, embedding []float64, excludeFaceID string, maxDistance float64, limit int) ([]faceindex.Hit, error)
}

// WatchlistScanner runs a synchronous watchlist scan for one media item.
type WatchlistScanner interface {
	ScanMedia(ctx context.Context, mediaID string) (pipeline.ScanResult, error)
}

// Thresholds are the defaults applied when a request omits its own.
type Thresholds struct {
	Face    float64 // pairwise compare and similarity search
	Cluster float64
	Image   float64
	Video   float64
}

func (t Thresholds) withDefaults() Thresholds {
	if t.Face <= 0 {
		t.Face = matching.DefaultFaceThreshold
	}
	if t.Image <= 0 {
		t.Image = matching.DefaultImageThreshold
	}
	if t.Video <= 0 {
		t.Video = matching.VideoMatchThreshold
	}
	return t
}

type Deps struct {
	Store      *storage.Store
	Blobs      blob.Store
	Dispatch   pipeline.Dispatcher
	Watchlist  WatchlistScanner
	FaceIndex  FaceSearcher // optional
	Thresholds Thresholds
	Token      string
	Logger     *slog.Logger
}

// NewHandler returns the HTTP API. Everything except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	deps.Thresholds = deps.Thresholds.withDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/status", handleStatus(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))

		r.Post("/media", handleUploadMedia(deps))
		r.Get("/media/{id}", handleGetMedia(deps))
		r.Post("/media/{id}/reprocess", handleReprocess(deps))
		r.Get("/media/{id}/duplicates", handleDuplicates(deps))
		r.Post("/hashes/compare", handleCompareHashes)
		r.Post("/signatures/batch", handleSignatureBatch(deps))

		r.Post("/match/images", handleMatchImages(deps))
		r.Post("/match/videos", handleMatchVideos(deps))
		r.Post("/videos/compare", handleCompareVideos(deps))

		r.Post("/faces/compare", handleCompareFaces(deps))
		r.Get("/faces/{id}/similar", handleSimilarFaces(deps))
		r.Post("/faces/search", handleSearchFaces(deps))
		r.Post("/faces/cluster", handleClusterFaces(deps))

		r.Post("/watchlists", handleCreateWatchlist(deps))
		r.Post("/watchlists/{id}/entries/from-face", handleAddEntryFromFace(deps))
		r.Post("/media/{id}/watchlist-scan", handleScanMedia(deps))
		r.Post("/cases/{id}/watchlist-scan", handleScanCase(deps))
		r.Get("/alerts", handleListAlerts(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		media, err := deps.Store.MediaStatusCounts()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count media: %v", err)
			return
		}
		jobs, err := deps.Store.JobCounts()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count jobs: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, StatusResponse{Media: media, Jobs: jobs})
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		j, err := deps.Store.GetJob(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(j))
	}
}

// requestError carries an HTTP status for failures caused by the request.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) error {
	return &requestError{status: http.StatusNotFound, msg: fmt.Sprintf(format, args...)}
}

// writeError maps request errors to their status and everything else to 500.
func writeError(w http.ResponseWriter, err error) {
	var re *requestError
	if errors.As(err, &re) {
		errType := "invalid_request_error"
		if re.status == http.StatusNotFound {
			errType = "not_found"
		}
		httpError(w, re.status, errType, "%s", re.msg)
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// decodeBody reads a JSON request body into v. An empty body leaves v as is.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func parseFloatParam(r *http.Request, key string) (float64, bool, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, badRequest("invalid %s: %v", key, err)
	}
	return v, true, nil
}

// lookup converts storage.ErrNotFound into a 404 naming what.
func lookup(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return notFound("%s not found", what)
	}
	return err
}
