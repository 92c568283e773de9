package matching

import (
	"sort"

	"github.com/kalambet/casematch/internal/fingerprint"
	"github.com/kalambet/casematch/internal/similarity"
)

const (
	// KeyframeMatchDistance is the largest Hamming distance at which two
	// aligned keyframe hashes count as a match.
	KeyframeMatchDistance = 10

	// VideoMatchThreshold is the overall similarity above which two videos
	// are declared a match.
	VideoMatchThreshold = 0.7

	keyframeWeight  = 0.5
	temporalWeight  = 0.3
	histogramWeight = 0.2
)

// VideoComparison is the breakdown of a pairwise video comparison.
type VideoComparison struct {
	Similarity          float64 `json:"similarity"`
	KeyframeMatches     int     `json:"keyframe_matches"`
	KeyframeSimilarity  float64 `json:"keyframe_similarity"`
	TemporalSimilarity  float64 `json:"temporal_similarity"`
	HistogramSimilarity float64 `json:"histogram_similarity"`
	IsMatch             bool    `json:"is_match"`
}

// CompareVideos scores two video signatures.
func CompareVideos(a, b fingerprint.VideoSignature) VideoComparison {
	var c VideoComparison

	aligned := min(len(a.KeyframeHashes), len(b.KeyframeHashes))
	for i := 0; i < aligned; i++ {
		if similarity.Hamming(a.KeyframeHashes[i], b.KeyframeHashes[i]) <= KeyframeMatchDistance {
			c.KeyframeMatches++
		}
	}
	c.KeyframeSimilarity = float64(c.KeyframeMatches) / float64(max(aligned, 1))

	c.TemporalSimilarity = similarity.Clamp01(1 - float64(similarity.Hamming(a.TemporalSignature, b.TemporalSignature))/64)

	if h, ok := similarity.HistogramCorrelation(a.Histogram, b.Histogram); ok {
		c.HistogramSimilarity = h
	}

	c.Similarity = keyframeWeight*c.KeyframeSimilarity +
		temporalWeight*c.TemporalSimilarity +
		histogramWeight*max(0, c.HistogramSimilarity)
	c.IsMatch = c.Similarity > VideoMatchThreshold
	return c
}

// VideoCandidate is one stored video signature with its owning media.
type VideoCandidate struct {
	MediaID   string
	CaseID    string
	Filename  string
	Signature fingerprint.VideoSignature
}

// VideoMatch is a corpus entry with its comparison against the query.
type VideoMatch struct {
	MediaID  string `json:"media_id"`
	CaseID   string `json:"case_id"`
	Filename string `json:"filename"`
	VideoComparison
}

// SearchVideos compares query against every candidate except excludeID and
// returns those with similarity >= threshold, best first.
func SearchVideos(query fingerprint.VideoSignature, excludeID string, corpus []VideoCandidate, threshold float64, limit int) []VideoMatch {
	if limit <= 0 {
		limit = DefaultLimit
	}
	matches := []VideoMatch{}
	for _, c := range corpus {
		if excludeID != "" && c.MediaID == excludeID {
			continue
		}
		cmp := CompareVideos(query, c.Signature)
		if cmp.Similarity < threshold {
			continue
		}
		matches = append(matches, VideoMatch{
			MediaID:         c.MediaID,
			CaseID:          c.CaseID,
			Filename:        c.Filename,
			VideoComparison: cmp,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].MediaID < matches[j].MediaID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
