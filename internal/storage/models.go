package storage

import (
	"errors"
	"time"

	"github.com/kalambet/casematch/internal/fingerprint"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Media statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

type Media struct {
	ID           string
	CaseID       string
	BlobRef      string
	Filename     string
	MimeType     string
	Status       string // "pending", "processing", "completed", "failed"
	PHash        string
	SHA256       string
	ThumbnailRef string
	GPSLat       *float64
	GPSLon       *float64
	GPSAlt       *float64
	CaptureDate  *time.Time
	CameraMake   string
	CameraModel  string
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MediaUpdate carries the metadata computed during ingest.
type MediaUpdate struct {
	MimeType     string
	PHash        string
	SHA256       string
	ThumbnailRef string
	EXIF         fingerprint.EXIF
}

// ImageSignatureRecord is a stored image signature joined with its media.
type ImageSignatureRecord struct {
	MediaID   string
	CaseID    string
	Filename  string
	Signature fingerprint.ImageSignature
}

// VideoSignatureRecord is a stored video signature joined with its media.
type VideoSignatureRecord struct {
	MediaID   string
	CaseID    string
	Filename  string
	Signature fingerprint.VideoSignature
}

type Face struct {
	ID           string
	MediaID      string
	CaseID       string // from the owning media; ignored on insert
	Top          int
	Right        int
	Bottom       int
	Left         int
	Embedding    []float64
	Confidence   float64
	ThumbnailRef string
	IdentityName string
	PersonID     string
	CreatedAt    time.Time
}

type MediaCategory struct {
	MediaID     string
	Category    string
	Subcategory string
	Confidence  float64
	Source      string // "ai" or "manual"
}

type Watchlist struct {
	ID           string
	Name         string
	Description  string
	AlertOnMatch bool
	Active       bool
	CreatedAt    time.Time
}

type WatchlistEntry struct {
	ID           string
	WatchlistID  string
	Name         string
	Notes        string
	Embedding    []float64
	SourceFaceID string
	CreatedAt    time.Time

	// From the owning watchlist.
	AlertOnMatch bool
	Active       bool
}

type Alert struct {
	ID               string
	CaseID           string
	MediaID          string
	WatchlistID      string
	WatchlistEntryID string
	FaceID           string
	AlertType        string
	Title            string
	Description      string
	Severity         string
	MatchConfidence  float64
	Status           string // "new" until reviewed
	CreatedAt        time.Time
}

// AlertFilter narrows ListAlerts. Empty fields match everything.
type AlertFilter struct {
	CaseID string
	Status string
	Limit  int
}

type Job struct {
	ID          string
	Type        string
	Lane        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
