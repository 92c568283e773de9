package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/casematch/internal/storage"
	"github.com/kalambet/casematch/internal/watchlist"
)

type WatchlistStore interface {
	ListFacesByMedia(mediaID string) ([]storage.Face, error)
	ListFaces(caseID string) ([]storage.Face, error)
	ListActiveWatchlistEntries() ([]storage.WatchlistEntry, error)
	GetWatchlistEntry(id string) (storage.WatchlistEntry, error)
	CreateAlert(a storage.Alert) error
}

// ScanResult is the outcome of a watchlist scan.
type ScanResult struct {
	Matches       []watchlist.Match `json:"matches"`
	AlertsCreated int               `json:"alerts_created"`
}

// WatchlistStage checks faces against active watchlist entries and persists
// the resulting alerts. Scans are not deduplicated: scanning the same media
// twice records its alerts twice.
type WatchlistStage struct {
	Store  WatchlistStore
	Engine watchlist.Engine
	Logger *slog.Logger
}

// ScanMedia scans the faces of one media item.
func (s *WatchlistStage) ScanMedia(ctx context.Context, mediaID string) (ScanResult, error) {
	faces, err := s.Store.ListFacesByMedia(mediaID)
	if err != nil {
		return ScanResult{}, fmt.Errorf("loading faces for %s: %w", mediaID, err)
	}
	if len(faces) == 0 {
		return ScanResult{Matches: []watchlist.Match{}}, nil
	}
	entries, err := s.Store.ListActiveWatchlistEntries()
	if err != nil {
		return ScanResult{}, fmt.Errorf("loading watchlist entries: %w", err)
	}

	matches, alerts := s.Engine.ScanFaces(toWatchlistFaces(faces), toWatchlistEntries(entries))
	n, err := s.persist(alerts)
	if err != nil {
		return ScanResult{}, err
	}
	loggerOr(s.Logger).Info("watchlist scan", "media_id", mediaID, "matches", len(matches), "alerts", n)
	return ScanResult{Matches: matches, AlertsCreated: n}, nil
}

// ScanEntry scans every stored face against one entry. Entries of inactive
// watchlists and entries without an embedding match nothing.
func (s *WatchlistStage) ScanEntry(ctx context.Context, entryID string) (ScanResult, error) {
	entry, err := s.Store.GetWatchlistEntry(entryID)
	if err != nil {
		return ScanResult{}, fmt.Errorf("loading watchlist entry %s: %w", entryID, err)
	}
	if !entry.Active || len(entry.Embedding) == 0 {
		return ScanResult{Matches: []watchlist.Match{}}, nil
	}
	faces, err := s.Store.ListFaces("")
	if err != nil {
		return ScanResult{}, fmt.Errorf("loading faces: %w", err)
	}

	matches, alerts := s.Engine.ScanEntry(toWatchlistEntries([]storage.WatchlistEntry{entry})[0], toWatchlistFaces(faces))
	n, err := s.persist(alerts)
	if err != nil {
		return ScanResult{}, err
	}
	loggerOr(s.Logger).Info("watchlist entry scan", "entry_id", entryID, "matches", len(matches), "alerts", n)
	return ScanResult{Matches: matches, AlertsCreated: n}, nil
}

func (s *WatchlistStage) persist(alerts []watchlist.Alert) (int, error) {
	for i, a := range alerts {
		err := s.Store.CreateAlert(storage.Alert{
			ID:               uuid.New().String(),
			CaseID:           a.CaseID,
			MediaID:          a.MediaID,
			WatchlistID:      a.WatchlistID,
			WatchlistEntryID: a.EntryID,
			FaceID:           a.FaceID,
			AlertType:        a.Type,
			Title:            a.Title,
			Description:      a.Description,
			Severity:         a.Severity,
			MatchConfidence:  a.Confidence,
		})
		if err != nil {
			return i, fmt.Errorf("creating alert: %w", err)
		}
	}
	return len(alerts), nil
}

func toWatchlistFaces(faces []storage.Face) []watchlist.Face {
	out := make([]watchlist.Face, len(faces))
	for i, f := range faces {
		out[i] = watchlist.Face{ID: f.ID, MediaID: f.MediaID, CaseID: f.CaseID, Embedding: f.Embedding}
	}
	return out
}

func toWatchlistEntries(entries []storage.WatchlistEntry) []watchlist.Entry {
	out := make([]watchlist.Entry, len(entries))
	for i, e := range entries {
		out[i] = watchlist.Entry{
			ID:           e.ID,
			WatchlistID:  e.WatchlistID,
			Name:         e.Name,
			Embedding:    e.Embedding,
			AlertOnMatch: e.AlertOnMatch,
		}
	}
	return out
}

// CaseLister lists the media of a case.
type CaseLister interface {
	ListMediaByCase(caseID string) ([]storage.Media, error)
}

// CaseScanStage fans a case-wide scan out into one scan task per media item.
type CaseScanStage struct {
	Store    CaseLister
	Dispatch Dispatcher
}

func (s *CaseScanStage) Run(ctx context.Context, caseID string) (int, error) {
	if caseID == "" {
		return 0, errors.New("case id required")
	}
	media, err := s.Store.ListMediaByCase(caseID)
	if err != nil {
		return 0, fmt.Errorf("listing media for case %s: %w", caseID, err)
	}
	n := 0
	for _, m := range media {
		if m.Status != storage.StatusCompleted {
			continue
		}
		if _, err := s.Dispatch.Dispatch(ctx, ScanTask(m.ID)); err != nil {
			return n, fmt.Errorf("dispatching scan for %s: %w", m.ID, err)
		}
		n++
	}
	return n, nil
}
