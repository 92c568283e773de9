package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kalambet/casematch/internal/storage"
)

type ReprocessStore interface {
	MediaGetter
	SetMediaStatus(id, status, errMsg string) error
}

// ReprocessStage resets a media item to pending and queues it again.
type ReprocessStage struct {
	Store    ReprocessStore
	Dispatch Dispatcher
}

func (s *ReprocessStage) Run(ctx context.Context, mediaID string) error {
	if _, err := s.Store.GetMedia(mediaID); err != nil {
		return fmt.Errorf("loading media %s: %w", mediaID, err)
	}
	if err := s.Store.SetMediaStatus(mediaID, storage.StatusPending, ""); err != nil {
		return fmt.Errorf("resetting media %s: %w", mediaID, err)
	}
	if _, err := s.Dispatch.Dispatch(ctx, ProcessTask(mediaID)); err != nil {
		return fmt.Errorf("dispatching process: %w", err)
	}
	return nil
}

// BatchStage queues signature extraction for many media items, choosing the
// image or video task from each item's mime type.
type BatchStage struct {
	Store    MediaGetter
	Dispatch Dispatcher
	Logger   *slog.Logger
}

func (s *BatchStage) Run(ctx context.Context, mediaIDs []string) (int, error) {
	log := loggerOr(s.Logger)
	n := 0
	for _, id := range mediaIDs {
		m, err := s.Store.GetMedia(id)
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn("signature batch: unknown media", "media_id", id)
			continue
		}
		if err != nil {
			return n, fmt.Errorf("loading media %s: %w", id, err)
		}
		var name string
		switch MediaClass(m.MimeType) {
		case ClassImage:
			name = TaskImageSignature
		case ClassVideo:
			name = TaskVideoSignature
		default:
			continue
		}
		if _, err := s.Dispatch.Dispatch(ctx, mediaTask(name, id)); err != nil {
			return n, fmt.Errorf("dispatching %s for %s: %w", name, id, err)
		}
		n++
	}
	return n, nil
}
