package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/kalambet/casematch/internal/blob"
	"github.com/kalambet/casematch/internal/fingerprint"
	"github.com/kalambet/casematch/internal/storage"
)

// Media classes decide which stage tasks run.
const (
	ClassImage = "image"
	ClassVideo = "video"
	ClassOther = "other"
)

// MediaClass maps a mime type to a media class.
func MediaClass(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return ClassImage
	case strings.HasPrefix(mime, "video/"):
		return ClassVideo
	default:
		return ClassOther
	}
}

// MediaStore is the part of the store the orchestrator needs.
type MediaStore interface {
	GetMedia(id string) (storage.Media, error)
	SetMediaStatus(id, status, errMsg string) error
	CompleteMedia(id string, u storage.MediaUpdate) error
}

// Orchestrator runs the synchronous part of ingest and fans out stage tasks.
type Orchestrator struct {
	Store    MediaStore
	Blobs    blob.Store
	Dispatch Dispatcher
	Logger   *slog.Logger
}

// Process moves a media item from pending through processing to completed
// or failed. Stage tasks are dispatched before the item is completed and
// their outcome never changes its status.
func (o *Orchestrator) Process(ctx context.Context, mediaID string) error {
	log := loggerOr(o.Logger)

	m, err := o.Store.GetMedia(mediaID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Warn("process: media not found, dropping task", "media_id", mediaID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading media %s: %w", mediaID, err)
	}

	if err := o.Store.SetMediaStatus(m.ID, storage.StatusProcessing, ""); err != nil {
		return fmt.Errorf("marking media %s processing: %w", m.ID, err)
	}

	update, err := o.ingest(ctx, m)
	if err != nil {
		if serr := o.Store.SetMediaStatus(m.ID, storage.StatusFailed, err.Error()); serr != nil {
			log.Error("process: failed to record failure", "media_id", m.ID, "error", serr)
		}
		return fmt.Errorf("processing media %s: %w", m.ID, err)
	}

	if err := o.Store.CompleteMedia(m.ID, update); err != nil {
		return fmt.Errorf("completing media %s: %w", m.ID, err)
	}
	log.Info("media processed", "media_id", m.ID, "mime", update.MimeType)
	return nil
}

func (o *Orchestrator) ingest(ctx context.Context, m storage.Media) (storage.MediaUpdate, error) {
	data, err := o.Blobs.Get(ctx, m.BlobRef)
	if err != nil {
		return storage.MediaUpdate{}, fmt.Errorf("downloading %s: %w", m.BlobRef, err)
	}

	u := storage.MediaUpdate{
		MimeType: mimetype.Detect(data).String(),
		SHA256:   fingerprint.SHA256(data),
	}

	var tasks []Task
	switch MediaClass(u.MimeType) {
	case ClassImage:
		u.EXIF = fingerprint.ExtractEXIF(data)
		u.PHash, u.ThumbnailRef = o.preview(ctx, m.ID, data)
		tasks = []Task{
			mediaTask(TaskDetectFaces, m.ID),
			mediaTask(TaskImageSignature, m.ID),
			mediaTask(TaskCategorize, m.ID),
		}
	case ClassVideo:
		tasks = []Task{mediaTask(TaskVideoSignature, m.ID)}
	}

	for _, t := range tasks {
		if _, err := o.Dispatch.Dispatch(ctx, t); err != nil {
			return storage.MediaUpdate{}, fmt.Errorf("dispatching %s: %w", t.Name, err)
		}
	}
	return u, nil
}

// preview computes the perceptual hash and stores a thumbnail. Both are best
// effort: an image Go cannot decode still completes and its stage tasks
// report their own errors.
func (o *Orchestrator) preview(ctx context.Context, mediaID string, data []byte) (phash, thumbRef string) {
	log := loggerOr(o.Logger)

	img, err := fingerprint.DecodeImage(data)
	if err != nil {
		log.Warn("process: skipping hash and thumbnail", "media_id", mediaID, "error", err)
		return "", ""
	}
	if phash, err = fingerprint.PerceptualHash(img); err != nil {
		log.Warn("process: perceptual hash failed", "media_id", mediaID, "error", err)
		phash = ""
	}
	thumb, err := fingerprint.Thumbnail(img, fingerprint.ThumbnailSize)
	if err != nil {
		log.Warn("process: thumbnail failed", "media_id", mediaID, "error", err)
		return phash, ""
	}
	if thumbRef, err = o.Blobs.Put(ctx, blob.ThumbnailRef(mediaID), thumb, "image/jpeg"); err != nil {
		log.Warn("process: storing thumbnail failed", "media_id", mediaID, "error", err)
		return phash, ""
	}
	return phash, thumbRef
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
