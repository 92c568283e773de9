package pipeline

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kalambet/casematch/internal/blob"
	"github.com/kalambet/casematch/internal/classifier"
	"github.com/kalambet/casematch/internal/faceindex"
	"github.com/kalambet/casematch/internal/facesvc"
	"github.com/kalambet/casematch/internal/fingerprint"
	"github.com/kalambet/casematch/internal/storage"
	"github.com/kalambet/casematch/internal/videodecode"
)

const (
	personCategory   = "person"
	personConfidence = 0.9
	subcategoryScale = 0.9
)

// MediaGetter loads media records.
type MediaGetter interface {
	GetMedia(id string) (storage.Media, error)
}

func download(ctx context.Context, store MediaGetter, blobs blob.Store, mediaID string) (storage.Media, []byte, error) {
	m, err := store.GetMedia(mediaID)
	if err != nil {
		return storage.Media{}, nil, fmt.Errorf("loading media %s: %w", mediaID, err)
	}
	data, err := blobs.Get(ctx, m.BlobRef)
	if err != nil {
		return storage.Media{}, nil, fmt.Errorf("downloading %s: %w", m.BlobRef, err)
	}
	return m, data, nil
}

// --- Faces ---

type FaceStore interface {
	MediaGetter
	ReplaceFaces(mediaID string, faces []storage.Face) error
	UpsertCategory(c storage.MediaCategory) error
}

type FaceDetector interface {
	Detect(ctx context.Context, image []byte) ([]facesvc.Face, error)
}

// FaceIndexer mirrors faces into an external vector index.
type FaceIndexer interface {
	ReplaceMedia(ctx context.Context, mediaID, caseID string, faces []faceindex.Face) error
}

// FaceStage detects faces, stores them with their thumbnails and triggers a
// watchlist scan.
type FaceStage struct {
	Store    FaceStore
	Blobs    blob.Store
	Detector FaceDetector
	Index    FaceIndexer // optional
	Dispatch Dispatcher
	Logger   *slog.Logger
}

func (s *FaceStage) Run(ctx context.Context, mediaID string) error {
	log := loggerOr(s.Logger)

	m, data, err := download(ctx, s.Store, s.Blobs, mediaID)
	if err != nil {
		return err
	}

	detected, err := s.Detector.Detect(ctx, data)
	if err != nil {
		return fmt.Errorf("detecting faces in %s: %w", m.ID, err)
	}

	// Thumbnails are best effort; the service may accept formats we cannot decode.
	img, imgErr := fingerprint.DecodeImage(data)
	if imgErr != nil && len(detected) > 0 {
		log.Warn("faces: skipping thumbnails", "media_id", m.ID, "error", imgErr)
	}

	faces := make([]storage.Face, 0, len(detected))
	for _, d := range detected {
		f := storage.Face{
			ID:         uuid.New().String(),
			MediaID:    m.ID,
			Top:        d.Top,
			Right:      d.Right,
			Bottom:     d.Bottom,
			Left:       d.Left,
			Embedding:  d.Embedding,
			Confidence: d.Confidence,
		}
		if imgErr == nil {
			f.ThumbnailRef = s.storeThumbnail(ctx, log, img, f)
		}
		faces = append(faces, f)
	}

	if err := s.Store.ReplaceFaces(m.ID, faces); err != nil {
		return fmt.Errorf("storing faces for %s: %w", m.ID, err)
	}

	if s.Index != nil {
		indexed := make([]faceindex.Face, len(faces))
		for i, f := range faces {
			indexed[i] = faceindex.Face{ID: f.ID, Embedding: f.Embedding}
		}
		if err := s.Index.ReplaceMedia(ctx, m.ID, m.CaseID, indexed); err != nil {
			log.Warn("faces: index update failed", "media_id", m.ID, "error", err)
		}
	}

	if len(faces) > 0 {
		err := s.Store.UpsertCategory(storage.MediaCategory{
			MediaID:    m.ID,
			Category:   personCategory,
			Confidence: personConfidence,
			Source:     "ai",
		})
		if err != nil {
			return fmt.Errorf("tagging %s as person: %w", m.ID, err)
		}
	}

	if _, err := s.Dispatch.Dispatch(ctx, ScanTask(m.ID)); err != nil {
		return fmt.Errorf("dispatching watchlist scan: %w", err)
	}
	log.Info("faces detected", "media_id", m.ID, "count", len(faces))
	return nil
}

func (s *FaceStage) storeThumbnail(ctx context.Context, log *slog.Logger, img image.Image, f storage.Face) string {
	crop := fingerprint.Crop(img, image.Rect(f.Left, f.Top, f.Right, f.Bottom))
	if crop == nil {
		return ""
	}
	thumb, err := fingerprint.Thumbnail(crop, fingerprint.ThumbnailSize)
	if err != nil {
		log.Warn("faces: thumbnail encode failed", "face_id", f.ID, "error", err)
		return ""
	}
	ref, err := s.Blobs.Put(ctx, blob.ThumbnailRef(f.ID), thumb, "image/jpeg")
	if err != nil {
		log.Warn("faces: thumbnail upload failed", "face_id", f.ID, "error", err)
		return ""
	}
	return ref
}

// --- Image signatures ---

type SignatureStore interface {
	MediaGetter
	UpsertImageSignature(mediaID string, sig fingerprint.ImageSignature) error
}

// SignatureStage extracts keypoint descriptors and the colour histogram of
// a still image.
type SignatureStage struct {
	Store        SignatureStore
	Blobs        blob.Store
	MaxKeypoints int
	Logger       *slog.Logger
}

func (s *SignatureStage) Run(ctx context.Context, mediaID string) error {
	m, data, err := download(ctx, s.Store, s.Blobs, mediaID)
	if err != nil {
		return err
	}
	img, err := fingerprint.DecodeImage(data)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", m.ID, err)
	}
	sig := fingerprint.ExtractImageSignature(img, s.MaxKeypoints)
	if err := s.Store.UpsertImageSignature(m.ID, sig); err != nil {
		return fmt.Errorf("storing image signature for %s: %w", m.ID, err)
	}
	loggerOr(s.Logger).Info("image signature extracted", "media_id", m.ID, "keypoints", sig.KeypointCount)
	return nil
}

// --- Video signatures ---

type VideoStore interface {
	MediaGetter
	UpsertVideoSignature(mediaID string, sig fingerprint.VideoSignature) error
}

// Video is an opened video.
type Video interface {
	fingerprint.FrameSource
	Metadata() videodecode.Info
	Close() error
}

type VideoOpener interface {
	OpenVideo(ctx context.Context, data []byte) (Video, error)
}

// VideoOpenerFunc adapts a function to VideoOpener.
type VideoOpenerFunc func(ctx context.Context, data []byte) (Video, error)

func (f VideoOpenerFunc) OpenVideo(ctx context.Context, data []byte) (Video, error) {
	return f(ctx, data)
}

// FFmpegOpener opens videos with d.
func FFmpegOpener(d *videodecode.Decoder) VideoOpener {
	return VideoOpenerFunc(func(ctx context.Context, data []byte) (Video, error) {
		v, err := d.Open(ctx, data)
		if err != nil {
			return nil, err
		}
		return v, nil
	})
}

// VideoStage extracts the keyframe, temporal and colour fingerprint of a
// video.
type VideoStage struct {
	Store  VideoStore
	Blobs  blob.Store
	Videos VideoOpener
	Logger *slog.Logger
}

func (s *VideoStage) Run(ctx context.Context, mediaID string) error {
	m, data, err := download(ctx, s.Store, s.Blobs, mediaID)
	if err != nil {
		return err
	}
	v, err := s.Videos.OpenVideo(ctx, data)
	if err != nil {
		return fmt.Errorf("opening video %s: %w", m.ID, err)
	}
	defer v.Close()

	sig, err := fingerprint.ExtractVideoSignature(ctx, v)
	if err != nil {
		return fmt.Errorf("fingerprinting video %s: %w", m.ID, err)
	}
	info := v.Metadata()
	sig.FPS = info.FPS
	sig.Duration = info.Duration
	sig.Width = info.Width
	sig.Height = info.Height

	if err := s.Store.UpsertVideoSignature(m.ID, sig); err != nil {
		return fmt.Errorf("storing video signature for %s: %w", m.ID, err)
	}
	loggerOr(s.Logger).Info("video signature extracted", "media_id", m.ID, "frames", sig.FrameCount)
	return nil
}

// --- Categories ---

type CategoryStore interface {
	MediaGetter
	UpsertCategory(c storage.MediaCategory) error
}

type Classifier interface {
	Classify(ctx context.Context, filename string, image []byte) (classifier.Result, error)
}

// CategorizeStage asks the classifier for a category and records it.
type CategorizeStage struct {
	Store      CategoryStore
	Blobs      blob.Store
	Classifier Classifier
	Dispatch   Dispatcher
	Logger     *slog.Logger
}

func (s *CategorizeStage) Run(ctx context.Context, mediaID string) error {
	m, data, err := download(ctx, s.Store, s.Blobs, mediaID)
	if err != nil {
		return err
	}
	res, err := s.Classifier.Classify(ctx, m.Filename, data)
	if err != nil {
		return fmt.Errorf("classifying %s: %w", m.ID, err)
	}

	cat := storage.MediaCategory{MediaID: m.ID, Category: res.Category, Confidence: res.Confidence, Source: "ai"}
	if res.HasSubcategory() {
		cat.Subcategory = res.Subcategory
	}
	if err := s.Store.UpsertCategory(cat); err != nil {
		return fmt.Errorf("storing category for %s: %w", m.ID, err)
	}
	if res.HasSubcategory() {
		sub := storage.MediaCategory{MediaID: m.ID, Category: res.Subcategory, Confidence: res.Confidence * subcategoryScale, Source: "ai"}
		if err := s.Store.UpsertCategory(sub); err != nil {
			return fmt.Errorf("storing subcategory for %s: %w", m.ID, err)
		}
	}

	if _, err := s.Dispatch.Dispatch(ctx, ScanTask(m.ID)); err != nil {
		return fmt.Errorf("dispatching watchlist scan: %w", err)
	}
	loggerOr(s.Logger).Info("media categorized", "media_id", m.ID, "category", res.Category,
		"confidence", res.Confidence, "flags", res.Flags)
	return nil
}
