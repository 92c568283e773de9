package api

import (
	"time"

	"github.com/kalambet/casematch/internal/clustering"
	"github.com/kalambet/casematch/internal/matching"
	"github.com/kalambet/casematch/internal/storage"
)

type StatusResponse struct {
	Media map[string]int            `json:"media"`
	Jobs  map[string]map[string]int `json:"jobs"`
}

type JobResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Lane      string    `json:"lane"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toJobResponse(j storage.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		Lane:      j.Lane,
		Status:    j.Status,
		Attempts:  j.Attempts,
		LastError: j.LastError,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

// QueuedResponse acknowledges a dispatched task.
type QueuedResponse struct {
	ID     string `json:"id,omitempty"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type CategoryResponse struct {
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory,omitempty"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source"`
}

type FaceResponse struct {
	ID           string  `json:"id"`
	MediaID      string  `json:"media_id"`
	CaseID       string  `json:"case_id"`
	Top          int     `json:"top"`
	Right        int     `json:"right"`
	Bottom       int     `json:"bottom"`
	Left         int     `json:"left"`
	Confidence   float64 `json:"confidence"`
	ThumbnailRef string  `json:"thumbnail_ref,omitempty"`
	IdentityName string  `json:"identity_name,omitempty"`
}

func toFaceResponse(f storage.Face) FaceResponse {
	return FaceResponse{
		ID:           f.ID,
		MediaID:      f.MediaID,
		CaseID:       f.CaseID,
		Top:          f.Top,
		Right:        f.Right,
		Bottom:       f.Bottom,
		Left:         f.Left,
		Confidence:   f.Confidence,
		ThumbnailRef: f.ThumbnailRef,
		IdentityName: f.IdentityName,
	}
}

type MediaResponse struct {
	ID           string             `json:"id"`
	CaseID       string             `json:"case_id"`
	Filename     string             `json:"filename"`
	MimeType     string             `json:"mime_type,omitempty"`
	Status       string             `json:"status"`
	PHash        string             `json:"phash,omitempty"`
	SHA256       string             `json:"sha256,omitempty"`
	ThumbnailRef string             `json:"thumbnail_ref,omitempty"`
	GPSLat       *float64           `json:"gps_lat,omitempty"`
	GPSLon       *float64           `json:"gps_lon,omitempty"`
	GPSAlt       *float64           `json:"gps_alt,omitempty"`
	CaptureDate  *time.Time         `json:"capture_date,omitempty"`
	CameraMake   string             `json:"camera_make,omitempty"`
	CameraModel  string             `json:"camera_model,omitempty"`
	Error        string             `json:"error,omitempty"`
	Categories   []CategoryResponse `json:"categories"`
	Faces        []FaceResponse     `json:"faces"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

type HashCompareRequest struct {
	Hash1 string `json:"hash1"`
	Hash2 string `json:"hash2"`
}

type BatchRequest struct {
	MediaIDs []string `json:"media_ids"`
}

// ImageSignatureJSON is an image signature supplied by the caller:
// hex-encoded 32-byte descriptors and a flattened hue/saturation histogram.
type ImageSignatureJSON struct {
	Descriptors []string  `json:"descriptors"`
	Histogram   []float32 `json:"histogram"`
}

// VideoSignatureJSON is a video signature supplied by the caller.
type VideoSignatureJSON struct {
	KeyframeHashes    []string  `json:"keyframe_hashes"`
	TemporalSignature string    `json:"temporal_signature"`
	Histogram         []float32 `json:"histogram"`
}

// ImageMatchRequest names a stored media item, or carries a signature to
// search with. With both, the media item is left out of the results.
type ImageMatchRequest struct {
	MediaID   string              `json:"media_id"`
	Signature *ImageSignatureJSON `json:"signature,omitempty"`
	MatchType string              `json:"match_type"`
	Threshold *float64            `json:"threshold,omitempty"`
	Limit     int                 `json:"limit"`
}

type ImageMatchResponse struct {
	MediaID string                `json:"media_id"`
	Matches []matching.ImageMatch `json:"matches"`
}

type VideoMatchRequest struct {
	MediaID   string              `json:"media_id"`
	Signature *VideoSignatureJSON `json:"signature,omitempty"`
	Threshold *float64            `json:"threshold,omitempty"`
	Limit     int                 `json:"limit"`
}

type VideoMatchResponse struct {
	MediaID string                `json:"media_id"`
	Matches []matching.VideoMatch `json:"matches"`
}

// VideoCompareRequest takes each side as a stored media id or a signature.
type VideoCompareRequest struct {
	MediaID1   string              `json:"media_id_1"`
	MediaID2   string              `json:"media_id_2"`
	Signature1 *VideoSignatureJSON `json:"signature_1,omitempty"`
	Signature2 *VideoSignatureJSON `json:"signature_2,omitempty"`
}

type FaceCompareRequest struct {
	FaceID1   string   `json:"face_id_1"`
	FaceID2   string   `json:"face_id_2"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type FaceSimilarResponse struct {
	FaceID  string               `json:"face_id"`
	Matches []matching.FaceMatch `json:"matches"`
}

// FaceCandidate is a caller-supplied embedding to search against.
type FaceCandidate struct {
	ID       string `json:"id"`
	Encoding string `json:"encoding"` // base64 of little-endian float64s
}

type FaceSearchRequest struct {
	Encoding   string          `json:"encoding"`
	Candidates []FaceCandidate `json:"candidates,omitempty"`
	CaseID     string          `json:"case_id,omitempty"`
	Threshold  *float64        `json:"threshold,omitempty"`
	Limit      int             `json:"limit"`
}

type FaceSearchResponse struct {
	Matches []matching.FaceMatch `json:"matches"`
}

type ClusterRequest struct {
	CaseID    string   `json:"case_id,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type ClusterResponse struct {
	TotalFaces int                  `json:"total_faces"`
	Clusters   []clustering.Cluster `json:"clusters"`
}

type WatchlistRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	AlertOnMatch *bool  `json:"alert_on_match,omitempty"`
	Active       *bool  `json:"active,omitempty"`
}

type WatchlistResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	AlertOnMatch bool   `json:"alert_on_match"`
	Active       bool   `json:"active"`
}

type EntryFromFaceRequest struct {
	FaceID string `json:"face_id"`
	Name   string `json:"name"`
	Notes  string `json:"notes"`
	Scan   bool   `json:"scan"`
}

type EntryResponse struct {
	ID          string `json:"id"`
	WatchlistID string `json:"watchlist_id"`
	Name        string `json:"name"`
	ScanJobID   string `json:"scan_job_id,omitempty"`
}

type AlertResponse struct {
	ID               string    `json:"id"`
	CaseID           string    `json:"case_id"`
	MediaID          string    `json:"media_id"`
	WatchlistID      string    `json:"watchlist_id"`
	WatchlistEntryID string    `json:"watchlist_entry_id"`
	FaceID           string    `json:"face_id"`
	AlertType        string    `json:"alert_type"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Severity         string    `json:"severity"`
	MatchConfidence  float64   `json:"match_confidence"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
}

func toAlertResponse(a storage.Alert) AlertResponse {
	return AlertResponse{
		ID:               a.ID,
		CaseID:           a.CaseID,
		MediaID:          a.MediaID,
		WatchlistID:      a.WatchlistID,
		WatchlistEntryID: a.WatchlistEntryID,
		FaceID:           a.FaceID,
		AlertType:        a.AlertType,
		Title:            a.Title,
		Description:      a.Description,
		Severity:         a.Severity,
		MatchConfidence:  a.MatchConfidence,
		Status:           a.Status,
		CreatedAt:        a.CreatedAt,
	}
}
