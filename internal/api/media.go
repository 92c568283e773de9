package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/casematch/internal/blob"
	"github.com/kalambet/casematch/internal/matching"
	"github.com/kalambet/casematch/internal/pipeline"
	"github.com/kalambet/casematch/internal/storage"
)

const maxUploadSize = 512 << 20 // 512MB

const maxBatchSize = 1000

func handleUploadMedia(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		caseID := strings.TrimSpace(r.FormValue("case_id"))
		if caseID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "case_id is required")
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to read file: %v", err)
			return
		}
		if len(data) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is empty")
			return
		}

		id := uuid.New().String()
		ref := blob.MediaRef(caseID, id, header.Filename)
		if _, err := deps.Blobs.Put(r.Context(), ref, data, mimetype.Detect(data).String()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store upload: %v", err)
			return
		}
		m := storage.Media{ID: id, CaseID: caseID, BlobRef: ref, Filename: header.Filename}
		if err := deps.Store.CreateMedia(m); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save media: %v", err)
			return
		}

		jobID, err := deps.Dispatch.Dispatch(r.Context(), pipeline.ProcessTask(id))
		if err != nil {
			_ = deps.Store.SetMediaStatus(id, storage.StatusFailed, "dispatch failed: "+err.Error())
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue processing: %v", err)
			return
		}
		deps.Logger.Info("media uploaded", "media_id", id, "case_id", caseID, "bytes", len(data))
		writeJSON(w, http.StatusAccepted, QueuedResponse{ID: id, JobID: jobID, Status: storage.StatusPending})
	}
}

func handleGetMedia(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		m, err := deps.Store.GetMedia(id)
		if err != nil {
			writeError(w, lookup(err, "media"))
			return
		}
		cats, err := deps.Store.ListCategories(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list categories: %v", err)
			return
		}
		faces, err := deps.Store.ListFacesByMedia(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list faces: %v", err)
			return
		}

		resp := MediaResponse{
			ID:           m.ID,
			CaseID:       m.CaseID,
			Filename:     m.Filename,
			MimeType:     m.MimeType,
			Status:       m.Status,
			PHash:        m.PHash,
			SHA256:       m.SHA256,
			ThumbnailRef: m.ThumbnailRef,
			GPSLat:       m.GPSLat,
			GPSLon:       m.GPSLon,
			GPSAlt:       m.GPSAlt,
			CaptureDate:  m.CaptureDate,
			CameraMake:   m.CameraMake,
			CameraModel:  m.CameraModel,
			Error:        m.LastError,
			Categories:   make([]CategoryResponse, 0, len(cats)),
			Faces:        make([]FaceResponse, 0, len(faces)),
			CreatedAt:    m.CreatedAt,
			UpdatedAt:    m.UpdatedAt,
		}
		for _, c := range cats {
			resp.Categories = append(resp.Categories, CategoryResponse{
				Category:    c.Category,
				Subcategory: c.Subcategory,
				Confidence:  c.Confidence,
				Source:      c.Source,
			})
		}
		for _, f := range faces {
			resp.Faces = append(resp.Faces, toFaceResponse(f))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleReprocess(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetMedia(id); err != nil {
			writeError(w, lookup(err, "media"))
			return
		}
		jobID, err := deps.Dispatch.Dispatch(r.Context(), pipeline.ReprocessTask(id))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue reprocessing: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, QueuedResponse{ID: id, JobID: jobID, Status: "queued"})
	}
}

func handleDuplicates(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		m, err := deps.Store.GetMedia(id)
		if err != nil {
			writeError(w, lookup(err, "media"))
			return
		}
		maxDistance := parseIntParam(r, "max_distance", matching.NearDuplicateDistance, 64)
		limit := parseIntParam(r, "limit", matching.DefaultLimit, 500)

		matches := []matching.HashMatch{}
		if m.PHash != "" {
			hashed, err := deps.Store.ListHashedMedia()
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to load hashes: %v", err)
				return
			}
			corpus := make([]matching.HashCandidate, len(hashed))
			for i, h := range hashed {
				corpus[i] = matching.HashCandidate{MediaID: h.ID, CaseID: h.CaseID, Filename: h.Filename, Hash: h.PHash}
			}
			matches = matching.FindNearDuplicates(m.PHash, id, corpus, maxDistance, limit)
		}
		writeJSON(w, http.StatusOK, map[string]any{"media_id": id, "phash": m.PHash, "duplicates": matches})
	}
}

func handleCompareHashes(w http.ResponseWriter, r *http.Request) {
	var req HashCompareRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Hash1 == "" || req.Hash2 == "" {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "hash1 and hash2 are required")
		return
	}
	writeJSON(w, http.StatusOK, matching.CompareHashes(req.Hash1, req.Hash2))
}

func handleSignatureBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BatchRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		if len(req.MediaIDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "media_ids is required")
			return
		}
		if len(req.MediaIDs) > maxBatchSize {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at most %d media_ids per batch", maxBatchSize)
			return
		}
		jobID, err := deps.Dispatch.Dispatch(r.Context(), pipeline.SignatureBatchTask(req.MediaIDs))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to queue batch: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, QueuedResponse{JobID: jobID, Status: "queued"})
	}
}
