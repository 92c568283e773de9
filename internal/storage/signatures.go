package storage

import (
	"database/sql"
	"fmt"

	"github.com/kalambet/casematch/internal/fingerprint"
)

// --- Image signatures ---

// UpsertImageSignature stores sig for mediaID, replacing any previous one.
func (s *Store) UpsertImageSignature(mediaID string, sig fingerprint.ImageSignature) error {
	_, err := s.db.Exec(`
		INSERT INTO image_signatures (media_id, descriptors, keypoint_count, histogram, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(media_id) DO UPDATE SET
			descriptors = excluded.descriptors,
			keypoint_count = excluded.keypoint_count,
			histogram = excluded.histogram,
			updated_at = excluded.updated_at`,
		mediaID, encodeDescriptors(sig.Descriptors), sig.KeypointCount, encodeFloat32s(sig.Histogram), now(),
	)
	return err
}

func decodeImageSignature(desc, hist []byte, keypoints int) (fingerprint.ImageSignature, error) {
	var sig fingerprint.ImageSignature
	var err error
	if sig.Descriptors, err = decodeDescriptors(desc); err != nil {
		return sig, err
	}
	if sig.Histogram, err = decodeFloat32s(hist); err != nil {
		return sig, err
	}
	sig.KeypointCount = keypoints
	return sig, nil
}

func (s *Store) GetImageSignature(mediaID string) (fingerprint.ImageSignature, error) {
	var desc, hist []byte
	var keypoints int
	err := s.db.QueryRow(`SELECT descriptors, keypoint_count, histogram FROM image_signatures WHERE media_id = ?`, mediaID).
		Scan(&desc, &keypoints, &hist)
	if err == sql.ErrNoRows {
		return fingerprint.ImageSignature{}, ErrNotFound
	}
	if err != nil {
		return fingerprint.ImageSignature{}, err
	}
	return decodeImageSignature(desc, hist, keypoints)
}

// ListImageSignatures returns every stored image signature with its media's
// case and filename.
func (s *Store) ListImageSignatures() ([]ImageSignatureRecord, error) {
	rows, err := s.db.Query(`
		SELECT sig.media_id, m.case_id, m.filename, sig.descriptors, sig.keypoint_count, sig.histogram
		FROM image_signatures sig JOIN media m ON m.id = sig.media_id
		ORDER BY sig.media_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ImageSignatureRecord
	for rows.Next() {
		var r ImageSignatureRecord
		var desc, hist []byte
		var keypoints int
		if err := rows.Scan(&r.MediaID, &r.CaseID, &r.Filename, &desc, &keypoints, &hist); err != nil {
			return nil, err
		}
		if r.Signature, err = decodeImageSignature(desc, hist, keypoints); err != nil {
			return nil, fmt.Errorf("decoding signature for media %s: %w", r.MediaID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Video signatures ---

// UpsertVideoSignature stores sig for mediaID, replacing any previous one.
func (s *Store) UpsertVideoSignature(mediaID string, sig fingerprint.VideoSignature) error {
	_, err := s.db.Exec(`
		INSERT INTO video_signatures (media_id, keyframe_hashes, temporal_signature, histogram, audio_fingerprint,
			fps, duration, frame_count, width, height, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(media_id) DO UPDATE SET
			keyframe_hashes = excluded.keyframe_hashes,
			temporal_signature = excluded.temporal_signature,
			histogram = excluded.histogram,
			audio_fingerprint = excluded.audio_fingerprint,
			fps = excluded.fps,
			duration = excluded.duration,
			frame_count = excluded.frame_count,
			width = excluded.width,
			height = excluded.height,
			updated_at = excluded.updated_at`,
		mediaID, joinHashes(sig.KeyframeHashes), sig.TemporalSignature, encodeFloat32s(sig.Histogram),
		sig.AudioFingerprint, sig.FPS, sig.Duration, sig.FrameCount, sig.Width, sig.Height, now(),
	)
	return err
}

const videoColumns = `keyframe_hashes, temporal_signature, histogram, audio_fingerprint, fps, duration, frame_count, width, height`

func scanVideoSignature(dest []any, row scanner) (fingerprint.VideoSignature, error) {
	var sig fingerprint.VideoSignature
	var keyframes string
	var hist []byte
	dest = append(dest, &keyframes, &sig.TemporalSignature, &hist, &sig.AudioFingerprint,
		&sig.FPS, &sig.Duration, &sig.FrameCount, &sig.Width, &sig.Height)
	if err := row.Scan(dest...); err != nil {
		return sig, err
	}
	sig.KeyframeHashes = splitHashes(keyframes)
	var err error
	if sig.Histogram, err = decodeFloat32s(hist); err != nil {
		return sig, err
	}
	return sig, nil
}

func (s *Store) GetVideoSignature(mediaID string) (fingerprint.VideoSignature, error) {
	sig, err := scanVideoSignature(nil, s.db.QueryRow(`SELECT `+videoColumns+` FROM video_signatures WHERE media_id = ?`, mediaID))
	if err == sql.ErrNoRows {
		return fingerprint.VideoSignature{}, ErrNotFound
	}
	return sig, err
}

// ListVideoSignatures returns every stored video signature with its media's
// case and filename.
func (s *Store) ListVideoSignatures() ([]VideoSignatureRecord, error) {
	rows, err := s.db.Query(`
		SELECT v.media_id, m.case_id, m.filename, ` + videoColumns + `
		FROM video_signatures v JOIN media m ON m.id = v.media_id
		ORDER BY v.media_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VideoSignatureRecord
	for rows.Next() {
		var r VideoSignatureRecord
		sig, err := scanVideoSignature([]any{&r.MediaID, &r.CaseID, &r.Filename}, rows)
		if err != nil {
			return nil, err
		}
		r.Signature = sig
		out = append(out, r)
	}
	return out, rows.Err()
}
