package storage

import (
	"database/sql"
	"fmt"
)

// --- Watchlists ---

func (s *Store) CreateWatchlist(w Watchlist) error {
	_, err := s.db.Exec(`
		INSERT INTO watchlists (id, name, description, alert_on_match, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Description, w.AlertOnMatch, w.Active, now(),
	)
	return err
}

func (s *Store) GetWatchlist(id string) (Watchlist, error) {
	var w Watchlist
	var createdAt string
	err := s.db.QueryRow(`SELECT id, name, description, alert_on_match, active, created_at FROM watchlists WHERE id = ?`, id).
		Scan(&w.ID, &w.Name, &w.Description, &w.AlertOnMatch, &w.Active, &createdAt)
	if err == sql.ErrNoRows {
		return Watchlist{}, ErrNotFound
	}
	if err != nil {
		return Watchlist{}, err
	}
	if w.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Watchlist{}, err
	}
	return w, nil
}

// --- Watchlist entries ---

func (s *Store) AddWatchlistEntry(e WatchlistEntry) error {
	_, err := s.db.Exec(`
		INSERT INTO watchlist_entries (id, watchlist_id, name, notes, embedding, source_face_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.WatchlistID, e.Name, e.Notes, encodeFloat64s(e.Embedding), e.SourceFaceID, now(),
	)
	return err
}

const entryColumns = `e.id, e.watchlist_id, e.name, e.notes, e.embedding, e.source_face_id, e.created_at,
	w.alert_on_match, w.active`

func scanEntry(row scanner) (WatchlistEntry, error) {
	var e WatchlistEntry
	var emb []byte
	var createdAt string
	err := row.Scan(&e.ID, &e.WatchlistID, &e.Name, &e.Notes, &emb, &e.SourceFaceID, &createdAt,
		&e.AlertOnMatch, &e.Active)
	if err != nil {
		return WatchlistEntry{}, err
	}
	if e.Embedding, err = decodeFloat64s(emb); err != nil {
		return WatchlistEntry{}, fmt.Errorf("decoding entry %s: %w", e.ID, err)
	}
	if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return WatchlistEntry{}, err
	}
	return e, nil
}

func (s *Store) GetWatchlistEntry(id string) (WatchlistEntry, error) {
	e, err := scanEntry(s.db.QueryRow(`SELECT `+entryColumns+`
		FROM watchlist_entries e JOIN watchlists w ON w.id = e.watchlist_id WHERE e.id = ?`, id))
	if err == sql.ErrNoRows {
		return WatchlistEntry{}, ErrNotFound
	}
	return e, err
}

// ListActiveWatchlistEntries returns entries with an embedding that belong to
// active watchlists.
func (s *Store) ListActiveWatchlistEntries() ([]WatchlistEntry, error) {
	rows, err := s.db.Query(`SELECT ` + entryColumns + `
		FROM watchlist_entries e JOIN watchlists w ON w.id = e.watchlist_id
		WHERE w.active = 1 AND e.embedding IS NOT NULL
		ORDER BY e.created_at ASC, e.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WatchlistEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Alerts ---

func (s *Store) CreateAlert(a Alert) error {
	status := a.Status
	if status == "" {
		status = "new"
	}
	_, err := s.db.Exec(`
		INSERT INTO alerts (id, case_id, media_id, watchlist_id, watchlist_entry_id, face_id, alert_type, title,
			description, severity, match_confidence, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CaseID, a.MediaID, a.WatchlistID, a.WatchlistEntryID, a.FaceID, a.AlertType, a.Title,
		a.Description, a.Severity, a.MatchConfidence, status, now(),
	)
	return err
}

// ListAlerts returns alerts newest first.
func (s *Store) ListAlerts(f AlertFilter) ([]Alert, error) {
	q := `SELECT id, case_id, media_id, watchlist_id, watchlist_entry_id, face_id, alert_type, title,
		description, severity, match_confidence, status, created_at FROM alerts WHERE 1=1`
	var args []any
	if f.CaseID != "" {
		q += ` AND case_id = ?`
		args = append(args, f.CaseID)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += ` ORDER BY created_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Alert
	for rows.Next() {
		var a Alert
		var createdAt string
		if err := rows.Scan(&a.ID, &a.CaseID, &a.MediaID, &a.WatchlistID, &a.WatchlistEntryID, &a.FaceID,
			&a.AlertType, &a.Title, &a.Description, &a.Severity, &a.MatchConfidence, &a.Status, &createdAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
