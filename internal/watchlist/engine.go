// Package watchlist compares detected faces against watchlist entries and
// turns qualifying matches into alerts.
package watchlist

import (
	"fmt"

	"github.com/kalambet/casematch/internal/matching"
)

const (
	// AlertType is the type recorded on every watchlist alert.
	AlertType = "watchlist_match"

	SeverityHigh   = "high"
	SeverityMedium = "medium"

	highConfidence = 0.8
)

// Entry is an active watchlist entry with its owning watchlist's policy.
type Entry struct {
	ID           string
	WatchlistID  string
	Name         string
	Embedding    []float64
	AlertOnMatch bool
}

// Face is a detected face to be checked.
type Face struct {
	ID        string
	MediaID   string
	CaseID    string
	Embedding []float64
}

// Match is a face within the scan threshold of an entry.
type Match struct {
	FaceID      string  `json:"face_id"`
	MediaID     string  `json:"media_id"`
	CaseID      string  `json:"case_id"`
	EntryID     string  `json:"watchlist_entry_id"`
	WatchlistID string  `json:"watchlist_id"`
	Name        string  `json:"name,omitempty"`
	Distance    float64 `json:"distance"`
	Confidence  float64 `json:"confidence"`
}

// Alert is an alert to be persisted for a match.
type Alert struct {
	CaseID      string
	MediaID     string
	WatchlistID string
	EntryID     string
	FaceID      string
	Type        string
	Title       string
	Description string
	Severity    string
	Confidence  float64
}

// Engine scans faces against entries. The zero value uses
// matching.DefaultScanThreshold.
type Engine struct {
	Threshold float64
}

func (e Engine) matcher() matching.FaceMatcher {
	th := e.Threshold
	if th <= 0 {
		th = matching.DefaultScanThreshold
	}
	return matching.FaceMatcher{Threshold: th, Confidence: matching.LinearConfidence}
}

// ScanFaces checks every face of a media item against every entry. One alert
// is produced per matching (face, entry) pair whose watchlist alerts on match.
func (e Engine) ScanFaces(faces []Face, entries []Entry) ([]Match, []Alert) {
	return e.scan(faces, entries, "Face detected matching watchlist entry")
}

// ScanEntry checks a newly added entry against existing faces.
func (e Engine) ScanEntry(entry Entry, faces []Face) ([]Match, []Alert) {
	return e.scan(faces, []Entry{entry}, "Existing face matches new watchlist entry")
}

func (e Engine) scan(faces []Face, entries []Entry, what string) ([]Match, []Alert) {
	m := e.matcher()
	matches := []Match{}
	var alerts []Alert
	for _, f := range faces {
		if len(f.Embedding) == 0 {
			continue
		}
		for _, en := range entries {
			if len(en.Embedding) == 0 {
				continue
			}
			cmp := m.Compare(f.Embedding, en.Embedding)
			if !cmp.IsMatch {
				continue
			}
			matches = append(matches, Match{
				FaceID:      f.ID,
				MediaID:     f.MediaID,
				CaseID:      f.CaseID,
				EntryID:     en.ID,
				WatchlistID: en.WatchlistID,
				Name:        en.Name,
				Distance:    cmp.Distance,
				Confidence:  cmp.Confidence,
			})
			if en.AlertOnMatch {
				alerts = append(alerts, newAlert(f, en, cmp.Confidence, what))
			}
		}
	}
	return matches, alerts
}

func newAlert(f Face, en Entry, confidence float64, what string) Alert {
	name := en.Name
	if name == "" {
		name = "Unknown"
	}
	return Alert{
		CaseID:      f.CaseID,
		MediaID:     f.MediaID,
		WatchlistID: en.WatchlistID,
		EntryID:     en.ID,
		FaceID:      f.ID,
		Type:        AlertType,
		Title:       "Watchlist Match: " + name,
		Description: fmt.Sprintf("%s with %.0f%% confidence", what, confidence*100),
		Severity:    Severity(confidence),
		Confidence:  confidence,
	}
}

// Severity grades a match confidence.
func Severity(confidence float64) string {
	if confidence > highConfidence {
		return SeverityHigh
	}
	return SeverityMedium
}
