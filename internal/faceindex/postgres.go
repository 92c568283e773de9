// Package faceindex mirrors face embeddings into Postgres with pgvector so
// similarity searches can run as an indexed L2 query instead of a scan.
package faceindex

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Face is one embedding to index.
type Face struct {
	ID        string
	Embedding []float64
}

// Hit is a search result ordered by ascending L2 distance.
type Hit struct {
	FaceID   string
	MediaID  string
	CaseID   string
	Distance float64
}

// Postgres stores face embeddings in a pgvector column.
type Postgres struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS face_embeddings (
    face_id   TEXT PRIMARY KEY,
    media_id  TEXT NOT NULL,
    case_id   TEXT NOT NULL,
    embedding vector NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_face_embeddings_media ON face_embeddings(media_id);
CREATE INDEX IF NOT EXISTS idx_face_embeddings_case ON face_embeddings(case_id);
`

// Open connects to dsn and creates the schema if needed.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to face index: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging face index: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating face index schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// ReplaceMedia swaps the indexed faces of mediaID for faces.
func (p *Postgres) ReplaceMedia(ctx context.Context, mediaID, caseID string, faces []Face) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM face_embeddings WHERE media_id = $1`, mediaID); err != nil {
		return fmt.Errorf("deleting indexed faces: %w", err)
	}

	batch := &pgx.Batch{}
	for _, f := range faces {
		if len(f.Embedding) == 0 {
			continue
		}
		batch.Queue(`INSERT INTO face_embeddings (face_id, media_id, case_id, embedding) VALUES ($1, $2, $3, $4)
			ON CONFLICT (face_id) DO UPDATE SET media_id = excluded.media_id, case_id = excluded.case_id, embedding = excluded.embedding`,
			f.ID, mediaID, caseID, pgvector.NewVector(toFloat32(f.Embedding)))
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("inserting indexed faces: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Search returns faces strictly closer than maxDistance to embedding,
// nearest first. Embeddings of a different dimension are never returned.
func (p *Postgres) Search(ctx context.Context, embedding []float64, excludeFaceID string, maxDistance float64, limit int) ([]Hit, error) {
	if len(embedding) == 0 {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT face_id, media_id, case_id, embedding <-> $1 AS distance
		FROM face_embeddings
		WHERE vector_dims(embedding) = $2 AND face_id <> $3 AND embedding <-> $1 < $4
		ORDER BY distance ASC, face_id ASC
		LIMIT $5`,
		pgvector.NewVector(toFloat32(embedding)), len(embedding), excludeFaceID, maxDistance, limit)
	if err != nil {
		return nil, fmt.Errorf("searching face index: %w", err)
	}
	defer rows.Close()

	hits := []Hit{}
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.FaceID, &h.MediaID, &h.CaseID, &h.Distance); err != nil {
			return nil, fmt.Errorf("scanning face hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
