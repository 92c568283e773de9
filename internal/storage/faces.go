package storage

import (
	"database/sql"
	"fmt"
)

const faceColumns = `f.id, f.media_id, m.case_id, f.box_top, f.box_right, f.box_bottom, f.box_left, f.embedding,
	f.confidence, f.thumbnail_ref, f.identity_name, f.person_id, f.created_at`

func scanFace(row scanner) (Face, error) {
	var f Face
	var emb []byte
	var createdAt string
	err := row.Scan(&f.ID, &f.MediaID, &f.CaseID, &f.Top, &f.Right, &f.Bottom, &f.Left, &emb,
		&f.Confidence, &f.ThumbnailRef, &f.IdentityName, &f.PersonID, &createdAt)
	if err != nil {
		return Face{}, err
	}
	if f.Embedding, err = decodeFloat64s(emb); err != nil {
		return Face{}, fmt.Errorf("decoding face %s: %w", f.ID, err)
	}
	if f.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Face{}, err
	}
	return f, nil
}

// ReplaceFaces atomically swaps the faces stored for mediaID with faces, so
// re-running detection does not duplicate rows.
func (s *Store) ReplaceFaces(mediaID string, faces []Face) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning face transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM faces WHERE media_id = ?`, mediaID); err != nil {
		return fmt.Errorf("deleting faces: %w", err)
	}
	ts := now()
	for _, f := range faces {
		_, err := tx.Exec(`
			INSERT INTO faces (id, media_id, box_top, box_right, box_bottom, box_left, embedding, confidence,
				thumbnail_ref, identity_name, person_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, mediaID, f.Top, f.Right, f.Bottom, f.Left, encodeFloat64s(f.Embedding), f.Confidence,
			f.ThumbnailRef, f.IdentityName, f.PersonID, ts,
		)
		if err != nil {
			return fmt.Errorf("inserting face %s: %w", f.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetFace(id string) (Face, error) {
	f, err := scanFace(s.db.QueryRow(`SELECT `+faceColumns+` FROM faces f JOIN media m ON m.id = f.media_id WHERE f.id = ?`, id))
	if err == sql.ErrNoRows {
		return Face{}, ErrNotFound
	}
	return f, err
}

func (s *Store) ListFacesByMedia(mediaID string) ([]Face, error) {
	return s.queryFaces(`SELECT `+faceColumns+` FROM faces f JOIN media m ON m.id = f.media_id
		WHERE f.media_id = ? ORDER BY f.created_at ASC, f.id ASC`, mediaID)
}

// ListFaces returns every face with an embedding in a stable order,
// restricted to caseID when it is non-empty.
func (s *Store) ListFaces(caseID string) ([]Face, error) {
	q := `SELECT ` + faceColumns + ` FROM faces f JOIN media m ON m.id = f.media_id WHERE f.embedding IS NOT NULL`
	var args []any
	if caseID != "" {
		q += ` AND m.case_id = ?`
		args = append(args, caseID)
	}
	q += ` ORDER BY f.created_at ASC, f.id ASC`
	return s.queryFaces(q, args...)
}

func (s *Store) queryFaces(q string, args ...any) ([]Face, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Face
	for rows.Next() {
		f, err := scanFace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// --- Categories ---

// UpsertCategory records a category for a media item, keyed by
// (media_id, category).
func (s *Store) UpsertCategory(c MediaCategory) error {
	source := c.Source
	if source == "" {
		source = "ai"
	}
	_, err := s.db.Exec(`
		INSERT INTO media_categories (media_id, category, subcategory, confidence, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(media_id, category) DO UPDATE SET
			subcategory = excluded.subcategory,
			confidence = excluded.confidence,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		c.MediaID, c.Category, c.Subcategory, c.Confidence, source, now(),
	)
	return err
}

func (s *Store) ListCategories(mediaID string) ([]MediaCategory, error) {
	rows, err := s.db.Query(`SELECT media_id, category, subcategory, confidence, source
		FROM media_categories WHERE media_id = ? ORDER BY confidence DESC, category ASC`, mediaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MediaCategory
	for rows.Next() {
		var c MediaCategory
		if err := rows.Scan(&c.MediaID, &c.Category, &c.Subcategory, &c.Confidence, &c.Source); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
