// Package clustering groups face embeddings into likely identities.
package clustering

import "github.com/kalambet/casematch/internal/similarity"

// DefaultThreshold is the seed distance below which a face joins a cluster.
const DefaultThreshold = 0.5

// Face is a clustering input.
type Face struct {
	ID        string
	Embedding []float64
}

// Cluster is a group of at least two face ids. The first id is the seed.
type Cluster struct {
	FaceIDs []string `json:"face_ids"`
}

// Greedy clusters faces in input order. Each unassigned face seeds a new
// cluster and absorbs every later unassigned face closer than threshold to
// the seed. Distances to absorbed members are never measured, so the result
// is not a connected-components grouping. Singletons are dropped, and fewer
// than two faces yields no clusters. Faces without an embedding are ignored.
func Greedy(faces []Face, threshold float64) []Cluster {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	usable := make([]Face, 0, len(faces))
	for _, f := range faces {
		if len(f.Embedding) > 0 {
			usable = append(usable, f)
		}
	}
	clusters := []Cluster{}
	if len(usable) < 2 {
		return clusters
	}

	used := make([]bool, len(usable))
	for i, seed := range usable {
		if used[i] {
			continue
		}
		used[i] = true
		members := []string{seed.ID}
		for j := i + 1; j < len(usable); j++ {
			if used[j] {
				continue
			}
			if similarity.Euclidean(seed.Embedding, usable[j].Embedding) < threshold {
				members = append(members, usable[j].ID)
				used[j] = true
			}
		}
		if len(members) > 1 {
			clusters = append(clusters, Cluster{FaceIDs: members})
		}
	}
	return clusters
}
