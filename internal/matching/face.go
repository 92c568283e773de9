package matching

import (
	"sort"

	"github.com/kalambet/casematch/internal/similarity"
)

const (
	// DefaultFaceThreshold is the distance below which two faces are
	// treated as the same person in direct comparisons and searches.
	DefaultFaceThreshold = 0.6

	// DefaultScanThreshold is the stricter distance used for watchlist scans.
	DefaultScanThreshold = 0.5
)

// ConfidenceFunc maps an embedding distance to a confidence in [0, 1].
type ConfidenceFunc func(distance float64) float64

// LinearConfidence is max(0, 1-d).
func LinearConfidence(d float64) float64 { return max(0, 1-d) }

// HalfRangeConfidence is 1-d/2, spreading the 0..2 range of unit-norm
// embeddings over [0, 1].
func HalfRangeConfidence(d float64) float64 { return similarity.Clamp01(1 - d/2) }

// FaceCandidate is a stored face embedding.
type FaceCandidate struct {
	FaceID       string
	MediaID      string
	CaseID       string
	IdentityName string
	Embedding    []float64
}

// FaceMatch is a corpus face within the matcher's threshold.
type FaceMatch struct {
	FaceID       string  `json:"face_id"`
	MediaID      string  `json:"media_id,omitempty"`
	CaseID       string  `json:"case_id,omitempty"`
	IdentityName string  `json:"identity_name,omitempty"`
	Distance     float64 `json:"distance"`
	Confidence   float64 `json:"confidence"`
}

// FaceComparison is the outcome of comparing two embeddings.
type FaceComparison struct {
	Distance   float64 `json:"distance"`
	IsMatch    bool    `json:"is_match"`
	Confidence float64 `json:"confidence"`
}

// FaceMatcher compares embeddings by Euclidean distance. The zero value uses
// DefaultFaceThreshold, LinearConfidence and DefaultLimit.
type FaceMatcher struct {
	Threshold  float64
	Confidence ConfidenceFunc
	Limit      int
}

func (m FaceMatcher) threshold() float64 {
	if m.Threshold <= 0 {
		return DefaultFaceThreshold
	}
	return m.Threshold
}

func (m FaceMatcher) confidence(d float64) float64 {
	if m.Confidence == nil {
		return LinearConfidence(d)
	}
	return m.Confidence(d)
}

// Compare reports the distance between a and b and whether it is strictly
// below the threshold.
func (m FaceMatcher) Compare(a, b []float64) FaceComparison {
	d := similarity.Euclidean(a, b)
	return FaceComparison{
		Distance:   d,
		IsMatch:    d < m.threshold(),
		Confidence: m.confidence(d),
	}
}

// FindSimilar returns corpus faces strictly closer than the threshold to
// target, nearest first. The face excludeID is skipped.
func (m FaceMatcher) FindSimilar(target []float64, excludeID string, corpus []FaceCandidate) []FaceMatch {
	limit := m.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	th := m.threshold()

	matches := []FaceMatch{}
	for _, c := range corpus {
		if excludeID != "" && c.FaceID == excludeID {
			continue
		}
		if len(c.Embedding) == 0 {
			continue
		}
		d := similarity.Euclidean(target, c.Embedding)
		if !(d < th) {
			continue
		}
		matches = append(matches, FaceMatch{
			FaceID:       c.FaceID,
			MediaID:      c.MediaID,
			CaseID:       c.CaseID,
			IdentityName: c.IdentityName,
			Distance:     d,
			Confidence:   m.confidence(d),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
