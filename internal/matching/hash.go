package matching

import (
	"sort"

	"github.com/kalambet/casematch/internal/similarity"
)

// NearDuplicateDistance is the largest pHash Hamming distance for two images
// to be reported as near-duplicates.
const NearDuplicateDistance = 10

// HashComparison compares two perceptual hashes.
type HashComparison struct {
	Distance  int  `json:"distance"`
	Similar   bool `json:"similar"`
	Identical bool `json:"identical"`
}

// CompareHashes returns the Hamming distance between two hex hashes.
func CompareHashes(a, b string) HashComparison {
	d := similarity.Hamming(a, b)
	return HashComparison{
		Distance:  d,
		Similar:   d <= NearDuplicateDistance,
		Identical: d == 0,
	}
}

// HashCandidate is a stored perceptual hash with its media.
type HashCandidate struct {
	MediaID  string
	CaseID   string
	Filename string
	Hash     string
}

// HashMatch is a near-duplicate of the query.
type HashMatch struct {
	MediaID  string `json:"media_id"`
	CaseID   string `json:"case_id"`
	Filename string `json:"filename"`
	Hash     string `json:"phash"`
	Distance int    `json:"distance"`
}

// FindNearDuplicates returns candidates within maxDistance of hash, closest
// first, skipping excludeID and candidates without a hash.
func FindNearDuplicates(hash, excludeID string, corpus []HashCandidate, maxDistance, limit int) []HashMatch {
	if limit <= 0 {
		limit = DefaultLimit
	}
	matches := []HashMatch{}
	for _, c := range corpus {
		if c.Hash == "" || (excludeID != "" && c.MediaID == excludeID) {
			continue
		}
		d := similarity.Hamming(hash, c.Hash)
		if d > maxDistance {
			continue
		}
		matches = append(matches, HashMatch{
			MediaID:  c.MediaID,
			CaseID:   c.CaseID,
			Filename: c.Filename,
			Hash:     c.Hash,
			Distance: d,
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].MediaID < matches[j].MediaID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}
