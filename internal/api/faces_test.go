package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"testing"

	"github.com/kalambet/casematch/internal/faceindex"
	"github.com/kalambet/casematch/internal/facesvc"
)

// seedFaces stores three faces on a line: f1 at the origin, f2 at 0.59 and
// f3 at 0.61. f1 and f2 share case c1, f3 is in c2.
func seedFaces(t *testing.T, env *testEnv) {
	t.Helper()
	addMedia(t, env.store, "m1", "c1")
	addMedia(t, env.store, "m2", "c1")
	addMedia(t, env.store, "m3", "c2")
	addFace(t, env.store, "m1", "f1", []float64{0, 0})
	addFace(t, env.store, "m2", "f2", []float64{0.59, 0})
	addFace(t, env.store, "m3", "f3", []float64{0.61, 0})
}

func TestCompareFaces(t *testing.T) {
	env := setupTestEnv(t)
	seedFaces(t, env)

	rr := env.do(t, http.MethodPost, "/faces/compare", `{"face_id_1":"f1","face_id_2":"f2"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	got := decode[map[string]any](t, rr)
	if got["is_match"] != true {
		t.Errorf("is_match = %v, want true", got["is_match"])
	}
	if c := got["confidence"].(float64); math.Abs(c-0.41) > 1e-9 {
		t.Errorf("confidence = %v, want 0.41", c)
	}

	rr = env.do(t, http.MethodPost, "/faces/compare", `{"face_id_1":"f1","face_id_2":"f3"}`)
	if got := decode[map[string]any](t, rr); got["is_match"] != false {
		t.Errorf("f1/f3 is_match = %v, want false", got["is_match"])
	}
}

func TestCompareFaces_Errors(t *testing.T) {
	env := setupTestEnv(t)
	seedFaces(t, env)
	addFace(t, env.store, "m1", "blank", nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing id", `{"face_id_1":"f1"}`, http.StatusBadRequest},
		{"unknown face", `{"face_id_1":"f1","face_id_2":"ghost"}`, http.StatusNotFound},
		{"no embedding", `{"face_id_1":"f1","face_id_2":"blank"}`, http.StatusBadRequest},
		{"non-positive threshold", `{"face_id_1":"f1","face_id_2":"f2","threshold":0}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := env.do(t, http.MethodPost, "/faces/compare", tt.body); rr.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestSimilarFaces_Store(t *testing.T) {
	env := setupTestEnv(t)
	seedFaces(t, env)

	rr := env.do(t, http.MethodGet, "/faces/f1/similar", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	resp := decode[FaceSimilarResponse](t, rr)
	if len(resp.Matches) != 1 || resp.Matches[0].FaceID != "f2" {
		t.Fatalf("matches = %+v", resp.Matches)
	}
	if c := resp.Matches[0].Confidence; math.Abs(c-0.41) > 1e-9 {
		t.Errorf("confidence = %v, want 0.41", c)
	}

	rr = env.do(t, http.MethodGet, "/faces/f1/similar?threshold=0.7", "")
	if resp := decode[FaceSimilarResponse](t, rr); len(resp.Matches) != 2 {
		t.Errorf("threshold 0.7: %d matches, want 2", len(resp.Matches))
	}

	rr = env.do(t, http.MethodGet, "/faces/f1/similar?threshold=0.7&case_id=c1", "")
	if resp := decode[FaceSimilarResponse](t, rr); len(resp.Matches) != 1 {
		t.Errorf("case c1: %+v", resp.Matches)
	}

	if rr := env.do(t, http.MethodGet, "/faces/ghost/similar", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown face: status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/faces/f1/similar?threshold=abc", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad threshold: status = %d", rr.Code)
	}
}

func TestSimilarFaces_Index(t *testing.T) {
	env := setupTestEnv(t)
	seedFaces(t, env)

	var calls int
	env.deps.FaceIndex = &mockFaceSearcher{
		searchFn: func(_ context.Context, emb []float64, exclude string, maxDist float64, limit int) ([]faceindex.Hit, error) {
			calls++
			if exclude != "f1" || maxDist != 0.6 || limit != 50 {
				return nil, fmt.Errorf("unexpected search args %q %v %d", exclude, maxDist, limit)
			}
			return []faceindex.Hit{{FaceID: "remote", MediaID: "mx", CaseID: "cx", Distance: 0.2}}, nil
		},
	}
	env.rebuild()

	rr := env.do(t, http.MethodGet, "/faces/f1/similar", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	resp := decode[FaceSimilarResponse](t, rr)
	if len(resp.Matches) != 1 || resp.Matches[0].FaceID != "remote" || math.Abs(resp.Matches[0].Confidence-0.8) > 1e-9 {
		t.Errorf("matches = %+v", resp.Matches)
	}

	// A case-scoped search stays on the store.
	rr = env.do(t, http.MethodGet, "/faces/f1/similar?case_id=c1", "")
	if resp := decode[FaceSimilarResponse](t, rr); len(resp.Matches) != 1 || resp.Matches[0].FaceID != "f2" {
		t.Errorf("case search matches = %+v", resp.Matches)
	}
	if calls != 1 {
		t.Errorf("index searched %d times, want 1", calls)
	}
}

func TestSimilarFaces_IndexError(t *testing.T) {
	env := setupTestEnv(t)
	seedFaces(t, env)
	env.deps.FaceIndex = &mockFaceSearcher{
		searchFn: func(context.Context, []float64, string, float64, int) ([]faceindex.Hit, error) {
			return nil, errors.New("connection refused")
		},
	}
	env.rebuild()

	if rr := env.do(t, http.MethodGet, "/faces/f1/similar", ""); rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
}

func TestSearchFaces(t *testing.T) {
	env := setupTestEnv(t)
	seedFaces(t, env)
	query := facesvc.EncodeEncoding([]float64{0.31, 0})

	t.Run("stored corpus", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/faces/search", fmt.Sprintf(`{"encoding":%q}`, query))
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
		}
		resp := decode[FaceSearchResponse](t, rr)
		if len(resp.Matches) != 3 || resp.Matches[2].FaceID != "f1" {
			t.Fatalf("matches = %+v", resp.Matches)
		}
		// f2 is 0.28 away: 1 - 0.28/2.
		if c := resp.Matches[0].Confidence; math.Abs(c-0.86) > 1e-9 {
			t.Errorf("confidence = %v, want 0.86", c)
		}
	})

	t.Run("case filter", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/faces/search", fmt.Sprintf(`{"encoding":%q,"case_id":"c2"}`, query))
		if resp := decode[FaceSearchResponse](t, rr); len(resp.Matches) != 1 || resp.Matches[0].FaceID != "f3" {
			t.Errorf("matches = %+v", resp.Matches)
		}
	})

	t.Run("caller candidates", func(t *testing.T) {
		body := fmt.Sprintf(`{"encoding":%q,"candidates":[{"id":"near","encoding":%q},{"id":"far","encoding":%q}]}`,
			query, facesvc.EncodeEncoding([]float64{0.5, 0}), facesvc.EncodeEncoding([]float64{5, 5}))
		rr := env.do(t, http.MethodPost, "/faces/search", body)
		if resp := decode[FaceSearchResponse](t, rr); len(resp.Matches) != 1 || resp.Matches[0].FaceID != "near" {
			t.Errorf("matches = %+v", resp.Matches)
		}
	})

	t.Run("bad encoding", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/faces/search", `{"encoding":"!!not base64!!"}`)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("missing encoding", func(t *testing.T) {
		if rr := env.do(t, http.MethodPost, "/faces/search", `{}`); rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})
}

func TestClusterFaces(t *testing.T) {
	env := setupTestEnv(t)
	seedFaces(t, env)

	rr := env.do(t, http.MethodPost, "/faces/cluster", `{}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	resp := decode[ClusterResponse](t, rr)
	if resp.TotalFaces != 3 || len(resp.Clusters) != 1 || len(resp.Clusters[0].FaceIDs) != 2 || resp.Clusters[0].FaceIDs[0] != "f2" {
		t.Errorf("clusters = %+v", resp)
	}

	rr = env.do(t, http.MethodPost, "/faces/cluster", `{"threshold":0.7}`)
	if resp := decode[ClusterResponse](t, rr); len(resp.Clusters) != 1 || len(resp.Clusters[0].FaceIDs) != 3 {
		t.Errorf("threshold 0.7: %+v", resp.Clusters)
	}

	rr = env.do(t, http.MethodPost, "/faces/cluster", `{"case_id":"c1"}`)
	if resp := decode[ClusterResponse](t, rr); resp.TotalFaces != 2 || len(resp.Clusters) != 0 {
		t.Errorf("case c1: %+v", resp)
	}
}
