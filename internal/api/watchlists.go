package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/casematch/internal/pipeline"
	"github.com/kalambet/casematch/internal/storage"
)

func handleCreateWatchlist(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req WatchlistRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		wl := storage.Watchlist{
			ID:           uuid.New().String(),
			Name:         req.Name,
			Description:  req.Description,
			AlertOnMatch: req.AlertOnMatch == nil || *req.AlertOnMatch,
			Active:       req.Active == nil || *req.Active,
		}
		if err := deps.Store.CreateWatchlist(wl); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create watchlist: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, WatchlistResponse{
			ID:           wl.ID,
			Name:         wl.Name,
			Description:  wl.Description,
			AlertOnMatch: wl.AlertOnMatch,
			Active:       wl.Active,
		})
	}
}

// handleAddEntryFromFace copies a detected face's embedding into a watchlist
// entry and optionally queues a scan of the whole corpus for it.
func handleAddEntryFromFace(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EntryFromFaceRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.FaceID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "face_id is required")
			return
		}
		watchlistID := chi.URLParam(r, "id")
		if _, err := deps.Store.GetWatchlist(watchlistID); err != nil {
			writeError(w, lookup(err, "watchlist"))
			return
		}
		face, err := faceWithEmbedding(deps, req.FaceID)
		if err != nil {
			writeError(w, err)
			return
		}

		name := req.Name
		if name == "" {
			name = face.IdentityName
		}
		entry := storage.WatchlistEntry{
			ID:           uuid.New().String(),
			WatchlistID:  watchlistID,
			Name:         name,
			Notes:        req.Notes,
			Embedding:    face.Embedding,
			SourceFaceID: face.ID,
		}
		if err := deps.Store.AddWatchlistEntry(entry); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to add entry: %v", err)
			return
		}

		resp := EntryResponse{ID: entry.ID, WatchlistID: watchlistID, Name: name}
		if req.Scan {
			jobID, err := deps.Dispatch.Dispatch(r.Context(), pipeline.ScanEntryTask(entry.ID))
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "entry %s added but scan was not queued: %v", entry.ID, err)
				return
			}
			resp.ScanJobID = jobID
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func handleScanMedia(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetMedia(id); err != nil {
			writeError(w, lookup(err, "media"))
			return
		}
		res, err := deps.Watchlist.ScanMedia(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "watchlist scan failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleScanCase(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caseID := chi.URLParam(r, "id")
		jobID, err := deps.Dispatch.Dispatch(r.Context(), pipeline.ScanCaseTask(caseID))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue case scan: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, QueuedResponse{ID: caseID, JobID: jobID, Status: "queued"})
	}
}

func listAlerts(deps Deps, f storage.AlertFilter) ([]AlertResponse, error) {
	alerts, err := deps.Store.ListAlerts(f)
	if err != nil {
		return nil, err
	}
	out := make([]AlertResponse, len(alerts))
	for i, a := range alerts {
		out[i] = toAlertResponse(a)
	}
	return out, nil
}

func handleListAlerts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		alerts, err := listAlerts(deps, storage.AlertFilter{
			CaseID: q.Get("case_id"),
			Status: q.Get("status"),
			Limit:  parseIntParam(r, "limit", 100, maxLimit),
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list alerts: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, alerts)
	}
}
