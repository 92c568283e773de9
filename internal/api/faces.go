package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/casematch/internal/clustering"
	"github.com/kalambet/casematch/internal/facesvc"
	"github.com/kalambet/casematch/internal/matching"
	"github.com/kalambet/casematch/internal/storage"
)

// distanceThreshold returns *v, or def when v is nil. Embedding distances
// have no upper bound, so only non-positive values are rejected.
func distanceThreshold(v *float64, def float64) (float64, error) {
	if v == nil {
		return def, nil
	}
	if *v <= 0 {
		return 0, badRequest("threshold must be positive, got %v", *v)
	}
	return *v, nil
}

func faceWithEmbedding(deps Deps, id string) (storage.Face, error) {
	f, err := deps.Store.GetFace(id)
	if err != nil {
		return storage.Face{}, lookup(err, "face "+id)
	}
	if len(f.Embedding) == 0 {
		return storage.Face{}, badRequest("face %s has no embedding", id)
	}
	return f, nil
}

func toFaceCandidates(faces []storage.Face) []matching.FaceCandidate {
	out := make([]matching.FaceCandidate, len(faces))
	for i, f := range faces {
		out[i] = matching.FaceCandidate{
			FaceID:       f.ID,
			MediaID:      f.MediaID,
			CaseID:       f.CaseID,
			IdentityName: f.IdentityName,
			Embedding:    f.Embedding,
		}
	}
	return out
}

// compareFaces reports confidence as 1-d/2 over the 0..2 distance range.
func compareFaces(deps Deps, req FaceCompareRequest) (matching.FaceComparison, error) {
	if req.FaceID1 == "" || req.FaceID2 == "" {
		return matching.FaceComparison{}, badRequest("face_id_1 and face_id_2 are required")
	}
	threshold, err := distanceThreshold(req.Threshold, deps.Thresholds.Face)
	if err != nil {
		return matching.FaceComparison{}, err
	}
	a, err := faceWithEmbedding(deps, req.FaceID1)
	if err != nil {
		return matching.FaceComparison{}, err
	}
	b, err := faceWithEmbedding(deps, req.FaceID2)
	if err != nil {
		return matching.FaceComparison{}, err
	}
	m := matching.FaceMatcher{Threshold: threshold, Confidence: matching.LinearConfidence}
	return m.Compare(a.Embedding, b.Embedding), nil
}

// similarFaces searches the face index when one is configured and the search
// spans all cases, and the stored corpus otherwise.
func similarFaces(ctx context.Context, deps Deps, faceID, caseID string, threshold *float64, limit int) (FaceSimilarResponse, error) {
	if faceID == "" {
		return FaceSimilarResponse{}, badRequest("face_id is required")
	}
	th, err := distanceThreshold(threshold, deps.Thresholds.Face)
	if err != nil {
		return FaceSimilarResponse{}, err
	}
	target, err := faceWithEmbedding(deps, faceID)
	if err != nil {
		return FaceSimilarResponse{}, err
	}
	limit = clampLimit(limit)

	if deps.FaceIndex != nil && caseID == "" {
		hits, err := deps.FaceIndex.Search(ctx, target.Embedding, faceID, th, limit)
		if err != nil {
			return FaceSimilarResponse{}, err
		}
		matches := make([]matching.FaceMatch, len(hits))
		for i, h := range hits {
			matches[i] = matching.FaceMatch{
				FaceID:     h.FaceID,
				MediaID:    h.MediaID,
				CaseID:     h.CaseID,
				Distance:   h.Distance,
				Confidence: matching.LinearConfidence(h.Distance),
			}
		}
		return FaceSimilarResponse{FaceID: faceID, Matches: matches}, nil
	}

	faces, err := deps.Store.ListFaces(caseID)
	if err != nil {
		return FaceSimilarResponse{}, err
	}
	m := matching.FaceMatcher{Threshold: th, Confidence: matching.LinearConfidence, Limit: limit}
	return FaceSimilarResponse{FaceID: faceID, Matches: m.FindSimilar(target.Embedding, faceID, toFaceCandidates(faces))}, nil
}

func searchFaces(deps Deps, req FaceSearchRequest) (FaceSearchResponse, error) {
	if req.Encoding == "" {
		return FaceSearchResponse{}, badRequest("encoding is required")
	}
	target, err := facesvc.DecodeEncoding(req.Encoding)
	if err != nil {
		return FaceSearchResponse{}, badRequest("invalid encoding: %v", err)
	}
	th, err := distanceThreshold(req.Threshold, deps.Thresholds.Face)
	if err != nil {
		return FaceSearchResponse{}, err
	}

	var corpus []matching.FaceCandidate
	if len(req.Candidates) > 0 {
		corpus = make([]matching.FaceCandidate, len(req.Candidates))
		for i, c := range req.Candidates {
			emb, err := facesvc.DecodeEncoding(c.Encoding)
			if err != nil {
				return FaceSearchResponse{}, badRequest("invalid encoding for candidate %q: %v", c.ID, err)
			}
			corpus[i] = matching.FaceCandidate{FaceID: c.ID, Embedding: emb}
		}
	} else {
		faces, err := deps.Store.ListFaces(req.CaseID)
		if err != nil {
			return FaceSearchResponse{}, err
		}
		corpus = toFaceCandidates(faces)
	}

	// Candidates here come from outside the corpus; confidence spreads over the
	// full 0..2 distance range.
	m := matching.FaceMatcher{Threshold: th, Confidence: matching.HalfRangeConfidence, Limit: clampLimit(req.Limit)}
	return FaceSearchResponse{Matches: m.FindSimilar(target, "", corpus)}, nil
}

func clusterFaces(deps Deps, req ClusterRequest) (ClusterResponse, error) {
	th, err := distanceThreshold(req.Threshold, deps.Thresholds.Cluster)
	if err != nil {
		return ClusterResponse{}, err
	}
	faces, err := deps.Store.ListFaces(req.CaseID)
	if err != nil {
		return ClusterResponse{}, err
	}
	in := make([]clustering.Face, len(faces))
	for i, f := range faces {
		in[i] = clustering.Face{ID: f.ID, Embedding: f.Embedding}
	}
	return ClusterResponse{TotalFaces: len(faces), Clusters: clustering.Greedy(in, th)}, nil
}

func handleCompareFaces(deps Deps) http.HandlerFunc {
	return jsonHandler(func(_ context.Context, req FaceCompareRequest) (matching.FaceComparison, error) {
		return compareFaces(deps, req)
	})
}

func handleSimilarFaces(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var threshold *float64
		v, ok, err := parseFloatParam(r, "threshold")
		if err != nil {
			writeError(w, err)
			return
		}
		if ok {
			threshold = &v
		}
		resp, err := similarFaces(r.Context(), deps, chi.URLParam(r, "id"), r.URL.Query().Get("case_id"),
			threshold, parseIntParam(r, "limit", 0, maxLimit))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleSearchFaces(deps Deps) http.HandlerFunc {
	return jsonHandler(func(_ context.Context, req FaceSearchRequest) (FaceSearchResponse, error) {
		return searchFaces(deps, req)
	})
}

func handleClusterFaces(deps Deps) http.HandlerFunc {
	return jsonHandler(func(_ context.Context, req ClusterRequest) (ClusterResponse, error) {
		return clusterFaces(deps, req)
	})
}
