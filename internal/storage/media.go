package storage

import (
	"database/sql"
	"fmt"
)

const mediaColumns = `id, case_id, blob_ref, filename, mime_type, status, phash, sha256, thumbnail_ref,
	gps_lat, gps_lon, gps_alt, capture_date, camera_make, camera_model, last_error, created_at, updated_at`

func (s *Store) CreateMedia(m Media) error {
	ts := now()
	status := m.Status
	if status == "" {
		status = StatusPending
	}
	_, err := s.db.Exec(`
		INSERT INTO media (id, case_id, blob_ref, filename, mime_type, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CaseID, m.BlobRef, m.Filename, m.MimeType, status, ts, ts,
	)
	return err
}

func scanMedia(row scanner) (Media, error) {
	var m Media
	var lat, lon, alt sql.NullFloat64
	var captured sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&m.ID, &m.CaseID, &m.BlobRef, &m.Filename, &m.MimeType, &m.Status, &m.PHash, &m.SHA256,
		&m.ThumbnailRef, &lat, &lon, &alt, &captured, &m.CameraMake, &m.CameraModel, &m.LastError,
		&createdAt, &updatedAt)
	if err != nil {
		return Media{}, err
	}
	if lat.Valid {
		m.GPSLat = &lat.Float64
	}
	if lon.Valid {
		m.GPSLon = &lon.Float64
	}
	if alt.Valid {
		m.GPSAlt = &alt.Float64
	}
	if captured.Valid && captured.String != "" {
		t, err := parseTime("capture_date", captured.String)
		if err != nil {
			return Media{}, err
		}
		m.CaptureDate = &t
	}
	if m.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Media{}, err
	}
	if m.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Media{}, err
	}
	return m, nil
}

func (s *Store) GetMedia(id string) (Media, error) {
	m, err := scanMedia(s.db.QueryRow(`SELECT `+mediaColumns+` FROM media WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Media{}, ErrNotFound
	}
	if err != nil {
		return Media{}, fmt.Errorf("loading media %s: %w", id, err)
	}
	return m, nil
}

// ListMediaByCase returns the media of a case, oldest first.
func (s *Store) ListMediaByCase(caseID string) ([]Media, error) {
	rows, err := s.db.Query(`SELECT `+mediaColumns+` FROM media WHERE case_id = ? ORDER BY created_at ASC, id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListHashedMedia returns every media item with a perceptual hash.
func (s *Store) ListHashedMedia() ([]Media, error) {
	rows, err := s.db.Query(`SELECT ` + mediaColumns + ` FROM media WHERE phash != '' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Media
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetMediaStatus moves a media item to status. errMsg is recorded for failures.
func (s *Store) SetMediaStatus(id, status, errMsg string) error {
	return expectOne(s.db.Exec(`UPDATE media SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, now(), id))
}

// CompleteMedia stores ingest metadata and marks the item completed.
func (s *Store) CompleteMedia(id string, u MediaUpdate) error {
	var captured any
	if u.EXIF.CaptureDate != nil {
		captured = formatTime(*u.EXIF.CaptureDate)
	}
	return expectOne(s.db.Exec(`
		UPDATE media SET status = ?, mime_type = ?, phash = ?, sha256 = ?, thumbnail_ref = ?,
			gps_lat = ?, gps_lon = ?, gps_alt = ?, capture_date = ?, camera_make = ?, camera_model = ?,
			last_error = '', updated_at = ?
		WHERE id = ?`,
		StatusCompleted, u.MimeType, u.PHash, u.SHA256, u.ThumbnailRef,
		nullFloat(u.EXIF.GPSLat), nullFloat(u.EXIF.GPSLon), nullFloat(u.EXIF.GPSAlt), captured,
		u.EXIF.CameraMake, u.EXIF.CameraModel, now(), id,
	))
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

// MediaStatusCounts returns the number of media items per status.
func (s *Store) MediaStatusCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM media GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
