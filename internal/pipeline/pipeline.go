package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/casematch/internal/blob"
	"github.com/kalambet/casematch/internal/storage"
	"github.com/kalambet/casematch/internal/watchlist"
)

// Deps are the collaborators shared by all stages.
type Deps struct {
	Store        *storage.Store
	Blobs        blob.Store
	Dispatch     Dispatcher
	Faces        FaceDetector
	Classifier   Classifier
	Videos       VideoOpener
	FaceIndex    FaceIndexer // optional
	Watchlist    watchlist.Engine
	MaxKeypoints int
	Logger       *slog.Logger
}

// Pipeline holds one handler per task.
type Pipeline struct {
	Orchestrator *Orchestrator
	Faces        *FaceStage
	Signatures   *SignatureStage
	Videos       *VideoStage
	Categorize   *CategorizeStage
	Watchlist    *WatchlistStage
	CaseScan     *CaseScanStage
	Reprocess    *ReprocessStage
	Batch        *BatchStage
}

// New wires every stage to d.
func New(d Deps) *Pipeline {
	log := loggerOr(d.Logger)
	return &Pipeline{
		Orchestrator: &Orchestrator{Store: d.Store, Blobs: d.Blobs, Dispatch: d.Dispatch, Logger: log},
		Faces:        &FaceStage{Store: d.Store, Blobs: d.Blobs, Detector: d.Faces, Index: d.FaceIndex, Dispatch: d.Dispatch, Logger: log},
		Signatures:   &SignatureStage{Store: d.Store, Blobs: d.Blobs, MaxKeypoints: d.MaxKeypoints, Logger: log},
		Videos:       &VideoStage{Store: d.Store, Blobs: d.Blobs, Videos: d.Videos, Logger: log},
		Categorize:   &CategorizeStage{Store: d.Store, Blobs: d.Blobs, Classifier: d.Classifier, Dispatch: d.Dispatch, Logger: log},
		Watchlist:    &WatchlistStage{Store: d.Store, Engine: d.Watchlist, Logger: log},
		CaseScan:     &CaseScanStage{Store: d.Store, Dispatch: d.Dispatch},
		Reprocess:    &ReprocessStage{Store: d.Store, Dispatch: d.Dispatch},
		Batch:        &BatchStage{Store: d.Store, Dispatch: d.Dispatch, Logger: log},
	}
}

// HandlerFunc runs one task from its JSON payload.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) error

// Handlers returns the handler of every task name.
func (p *Pipeline) Handlers() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		TaskProcess:        byMedia(p.Orchestrator.Process),
		TaskReprocess:      byMedia(p.Reprocess.Run),
		TaskDetectFaces:    byMedia(p.Faces.Run),
		TaskImageSignature: byMedia(p.Signatures.Run),
		TaskVideoSignature: byMedia(p.Videos.Run),
		TaskCategorize:     byMedia(p.Categorize.Run),
		TaskWatchlistScan: byMedia(func(ctx context.Context, id string) error {
			_, err := p.Watchlist.ScanMedia(ctx, id)
			return err
		}),
		TaskScanCase: func(ctx context.Context, raw json.RawMessage) error {
			var pl CasePayload
			if err := json.Unmarshal(raw, &pl); err != nil {
				return fmt.Errorf("parsing payload: %w", err)
			}
			_, err := p.CaseScan.Run(ctx, pl.CaseID)
			return err
		},
		TaskScanEntry: func(ctx context.Context, raw json.RawMessage) error {
			var pl EntryPayload
			if err := json.Unmarshal(raw, &pl); err != nil {
				return fmt.Errorf("parsing payload: %w", err)
			}
			if pl.EntryID == "" {
				return errors.New("payload missing entry_id")
			}
			_, err := p.Watchlist.ScanEntry(ctx, pl.EntryID)
			return err
		},
		TaskSignatureBatch: func(ctx context.Context, raw json.RawMessage) error {
			var pl BatchPayload
			if err := json.Unmarshal(raw, &pl); err != nil {
				return fmt.Errorf("parsing payload: %w", err)
			}
			_, err := p.Batch.Run(ctx, pl.MediaIDs)
			return err
		},
	}
}

func byMedia(fn func(ctx context.Context, mediaID string) error) HandlerFunc {
	return func(ctx context.Context, raw json.RawMessage) error {
		var pl MediaPayload
		if err := json.Unmarshal(raw, &pl); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		if pl.MediaID == "" {
			return errors.New("payload missing media_id")
		}
		return fn(ctx, pl.MediaID)
	}
}
