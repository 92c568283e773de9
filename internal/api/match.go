package api

import (
	"context"
	"encoding/hex"
	"net/http"

	"github.com/kalambet/casematch/internal/fingerprint"
	"github.com/kalambet/casematch/internal/matching"
)

const maxLimit = 500

func clampLimit(n int) int {
	if n <= 0 {
		return matching.DefaultLimit
	}
	return min(n, maxLimit)
}

// unitThreshold returns *v, or def when v is nil, rejecting values outside [0, 1].
func unitThreshold(v *float64, def float64) (float64, error) {
	if v == nil {
		return def, nil
	}
	if *v < 0 || *v > 1 {
		return 0, badRequest("threshold must be between 0 and 1, got %v", *v)
	}
	return *v, nil
}

func matchImages(deps Deps, req ImageMatchRequest) (ImageMatchResponse, error) {
	if req.MediaID == "" && req.Signature == nil {
		return ImageMatchResponse{}, badRequest("media_id or signature is required")
	}
	mt, err := matching.ParseMatchType(req.MatchType)
	if err != nil {
		return ImageMatchResponse{}, badRequest("%v: want color, orb or combined", err)
	}
	threshold, err := unitThreshold(req.Threshold, deps.Thresholds.Image)
	if err != nil {
		return ImageMatchResponse{}, err
	}
	sig, err := queryImageSignature(deps, req)
	if err != nil {
		return ImageMatchResponse{}, err
	}

	records, err := deps.Store.ListImageSignatures()
	if err != nil {
		return ImageMatchResponse{}, err
	}
	corpus := make([]matching.ImageCandidate, len(records))
	for i, rec := range records {
		corpus[i] = matching.ImageCandidate{MediaID: rec.MediaID, CaseID: rec.CaseID, Filename: rec.Filename, Signature: rec.Signature}
	}
	matches := matching.MatchImages(matching.ImageQuery{
		TargetID:  req.MediaID,
		Signature: sig,
		MatchType: mt,
		Threshold: threshold,
		Limit:     clampLimit(req.Limit),
	}, corpus)
	return ImageMatchResponse{MediaID: req.MediaID, Matches: matches}, nil
}

func matchVideos(deps Deps, req VideoMatchRequest) (VideoMatchResponse, error) {
	if req.MediaID == "" && req.Signature == nil {
		return VideoMatchResponse{}, badRequest("media_id or signature is required")
	}
	threshold, err := unitThreshold(req.Threshold, deps.Thresholds.Video)
	if err != nil {
		return VideoMatchResponse{}, err
	}
	var sig fingerprint.VideoSignature
	if req.Signature != nil {
		if sig, err = req.Signature.toSignature(); err != nil {
			return VideoMatchResponse{}, err
		}
	} else {
		if _, err := deps.Store.GetMedia(req.MediaID); err != nil {
			return VideoMatchResponse{}, lookup(err, "media")
		}
		if sig, err = deps.Store.GetVideoSignature(req.MediaID); err != nil {
			return VideoMatchResponse{}, lookup(err, "video signature")
		}
	}

	records, err := deps.Store.ListVideoSignatures()
	if err != nil {
		return VideoMatchResponse{}, err
	}
	corpus := make([]matching.VideoCandidate, len(records))
	for i, rec := range records {
		corpus[i] = matching.VideoCandidate{MediaID: rec.MediaID, CaseID: rec.CaseID, Filename: rec.Filename, Signature: rec.Signature}
	}
	matches := matching.SearchVideos(sig, req.MediaID, corpus, threshold, clampLimit(req.Limit))
	return VideoMatchResponse{MediaID: req.MediaID, Matches: matches}, nil
}

func compareVideos(deps Deps, req VideoCompareRequest) (matching.VideoComparison, error) {
	if (req.MediaID1 == "" && req.Signature1 == nil) || (req.MediaID2 == "" && req.Signature2 == nil) {
		return matching.VideoComparison{}, badRequest("media_id_1 and media_id_2 (or signature_1 and signature_2) are required")
	}
	a, err := videoSide(deps, req.MediaID1, req.Signature1)
	if err != nil {
		return matching.VideoComparison{}, err
	}
	b, err := videoSide(deps, req.MediaID2, req.Signature2)
	if err != nil {
		return matching.VideoComparison{}, err
	}
	return matching.CompareVideos(a, b), nil
}

func videoSide(deps Deps, mediaID string, sig *VideoSignatureJSON) (fingerprint.VideoSignature, error) {
	if sig != nil {
		return sig.toSignature()
	}
	s, err := deps.Store.GetVideoSignature(mediaID)
	if err != nil {
		return fingerprint.VideoSignature{}, lookup(err, "video signature for "+mediaID)
	}
	return s, nil
}

func queryImageSignature(deps Deps, req ImageMatchRequest) (fingerprint.ImageSignature, error) {
	if req.Signature != nil {
		return req.Signature.toSignature()
	}
	if _, err := deps.Store.GetMedia(req.MediaID); err != nil {
		return fingerprint.ImageSignature{}, lookup(err, "media")
	}
	sig, err := deps.Store.GetImageSignature(req.MediaID)
	if err != nil {
		return fingerprint.ImageSignature{}, lookup(err, "image signature")
	}
	return sig, nil
}

func (j ImageSignatureJSON) toSignature() (fingerprint.ImageSignature, error) {
	if len(j.Descriptors) == 0 && len(j.Histogram) == 0 {
		return fingerprint.ImageSignature{}, badRequest("signature needs descriptors or a histogram")
	}
	sig := fingerprint.ImageSignature{Histogram: j.Histogram, KeypointCount: len(j.Descriptors)}
	for i, d := range j.Descriptors {
		raw, err := hex.DecodeString(d)
		if err != nil || len(raw) != fingerprint.DescriptorSize {
			return fingerprint.ImageSignature{}, badRequest("descriptor %d: want %d hex-encoded bytes", i, fingerprint.DescriptorSize)
		}
		var b [fingerprint.DescriptorSize]byte
		copy(b[:], raw)
		sig.Descriptors = append(sig.Descriptors, b)
	}
	return sig, nil
}

func (j VideoSignatureJSON) toSignature() (fingerprint.VideoSignature, error) {
	for i, h := range j.KeyframeHashes {
		if !isHash64(h) {
			return fingerprint.VideoSignature{}, badRequest("keyframe hash %d: want 16 hex characters", i)
		}
	}
	if !isHash64(j.TemporalSignature) {
		return fingerprint.VideoSignature{}, badRequest("temporal_signature: want 16 hex characters")
	}
	return fingerprint.VideoSignature{
		KeyframeHashes:    j.KeyframeHashes,
		TemporalSignature: j.TemporalSignature,
		Histogram:         j.Histogram,
	}, nil
}

func isHash64(s string) bool {
	if len(s) != 16 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// jsonHandler decodes a request of type Req, runs fn and writes its result.
func jsonHandler[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req Req
		if err := decodeBody(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		resp, err := fn(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleMatchImages(deps Deps) http.HandlerFunc {
	return jsonHandler(func(_ context.Context, req ImageMatchRequest) (ImageMatchResponse, error) {
		return matchImages(deps, req)
	})
}

func handleMatchVideos(deps Deps) http.HandlerFunc {
	return jsonHandler(func(_ context.Context, req VideoMatchRequest) (VideoMatchResponse, error) {
		return matchVideos(deps, req)
	})
}

func handleCompareVideos(deps Deps) http.HandlerFunc {
	return jsonHandler(func(_ context.Context, req VideoCompareRequest) (matching.VideoComparison, error) {
		return compareVideos(deps, req)
	})
}
