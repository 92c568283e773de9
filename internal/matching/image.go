// Package matching ranks fingerprint corpora against a query: image
// signatures, video signatures, face embeddings and perceptual hashes.
package matching

import (
	"fmt"
	"sort"

	"github.com/kalambet/casematch/internal/fingerprint"
	"github.com/kalambet/casematch/internal/similarity"
)

// DefaultLimit caps the number of results returned by a search.
const DefaultLimit = 50

// DefaultImageThreshold is the minimum combined score for an image match.
const DefaultImageThreshold = 0.7

// MatchType selects which image signature components are scored.
type MatchType string

const (
	MatchColor    MatchType = "color"
	MatchORB      MatchType = "orb"
	MatchCombined MatchType = "combined"
)

// ParseMatchType validates s. An empty string selects MatchCombined.
func ParseMatchType(s string) (MatchType, error) {
	switch MatchType(s) {
	case "":
		return MatchCombined, nil
	case MatchColor, MatchORB, MatchCombined:
		return MatchType(s), nil
	}
	return "", fmt.Errorf("unknown match type %q", s)
}

// ImageCandidate is one stored image signature with its owning media.
type ImageCandidate struct {
	MediaID   string
	CaseID    string
	Filename  string
	Signature fingerprint.ImageSignature
}

// ImageMatch is a scored corpus entry.
type ImageMatch struct {
	MediaID    string   `json:"media_id"`
	CaseID     string   `json:"case_id"`
	Filename   string   `json:"filename"`
	Score      float64  `json:"score"`
	MatchType  string   `json:"match_type"`
	ORBScore   *float64 `json:"orb_score,omitempty"`
	ColorScore *float64 `json:"color_score,omitempty"`
}

// ImageQuery describes an image signature search. TargetID, when set, is
// excluded from the results.
type ImageQuery struct {
	TargetID  string
	Signature fingerprint.ImageSignature
	MatchType MatchType
	Threshold float64
	Limit     int
}

// ScoreImages scores two signatures for match type mt. ok is false when no
// permitted component could be computed.
func ScoreImages(a, b fingerprint.ImageSignature, mt MatchType) (ImageMatch, bool) {
	var m ImageMatch
	var color, orb similarity.Part

	if mt == MatchColor || mt == MatchCombined {
		if c, ok := similarity.HistogramCorrelation(a.Histogram, b.Histogram); ok {
			c = similarity.Clamp01(c)
			color = similarity.Part{Score: c, Valid: true}
			m.ColorScore = &c
		}
	}
	if mt == MatchORB || mt == MatchCombined {
		if s, ok := similarity.DescriptorScore(a.Descriptors, b.Descriptors); ok {
			orb = similarity.Part{Score: s, Valid: true}
			m.ORBScore = &s
		}
	}

	score, ok := similarity.Combine(color, orb)
	if !ok {
		return ImageMatch{}, false
	}
	m.Score = score
	m.MatchType = string(mt)
	return m, true
}

// MatchImages scores every candidate against q and returns those at or above
// the threshold, best first. No match yields an empty slice.
func MatchImages(q ImageQuery, corpus []ImageCandidate) []ImageMatch {
	mt := q.MatchType
	if mt == "" {
		mt = MatchCombined
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	matches := []ImageMatch{}
	for _, c := range corpus {
		if q.TargetID != "" && c.MediaID == q.TargetID {
			continue
		}
		m, ok := ScoreImages(q.Signature, c.Signature, mt)
		if !ok || m.Score < q.Threshold {
			continue
		}
		m.MediaID = c.MediaID
		m.CaseID = c.CaseID
		m.Filename = c.Filename
		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].MediaID < matches[j].MediaID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
