package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kalambet/casematch/internal/blob"
	"github.com/kalambet/casematch/internal/classifier"
	"github.com/kalambet/casematch/internal/config"
	"github.com/kalambet/casematch/internal/faceindex"
	"github.com/kalambet/casematch/internal/facesvc"
	"github.com/kalambet/casematch/internal/logging"
	"github.com/kalambet/casematch/internal/pipeline"
	"github.com/kalambet/casematch/internal/storage"
	"github.com/kalambet/casematch/internal/videodecode"
	"github.com/kalambet/casematch/internal/watchlist"
)

// runtime holds the collaborators shared by the server and the worker.
type runtime struct {
	cfg       config.Config
	log       *slog.Logger
	store     *storage.Store
	blobs     blob.Store
	index     *faceindex.Postgres // nil when no DSN is configured
	dispatch  pipeline.Dispatcher
	pipeline  *pipeline.Pipeline
	closeFunc []func()
}

func openRuntime(ctx context.Context, cfg config.Config) (*runtime, error) {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)

	rt := &runtime{cfg: cfg, log: log}

	rt.store, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	rt.closeFunc = append(rt.closeFunc, func() {
		if err := rt.store.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	})

	rt.blobs, err = blob.Open(blob.Config{
		Backend:     cfg.Blob.Backend,
		LocalDir:    cfg.Blob.LocalDir,
		S3Endpoint:  cfg.Blob.S3Endpoint,
		S3Region:    cfg.Blob.S3Region,
		S3Bucket:    cfg.Blob.S3Bucket,
		S3AccessKey: cfg.Blob.S3AccessKey,
		S3SecretKey: cfg.Blob.S3SecretKey,
		S3PathStyle: cfg.Blob.S3PathStyle,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("opening blob store: %w", err)
	}

	deps := pipeline.Deps{
		Store:      rt.store,
		Blobs:      rt.blobs,
		Faces:      facesvc.New(cfg.Faces.URL),
		Classifier: classifier.New(cfg.Classifier.URL),
		Videos:     pipeline.FFmpegOpener(videodecode.New(cfg.Video.FFmpeg, cfg.Video.FFprobe)),
		Watchlist:  watchlist.Engine{Threshold: cfg.Matching.ScanThreshold},
		Logger:     log,
	}

	if cfg.FaceIndex.PostgresDSN != "" {
		rt.index, err = faceindex.Open(ctx, cfg.FaceIndex.PostgresDSN)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closeFunc = append(rt.closeFunc, rt.index.Close)
		deps.FaceIndex = rt.index
		log.Info("face index enabled")
	}

	rt.dispatch = pipeline.QueueDispatcher{Store: rt.store, MaxAttempts: cfg.Worker.MaxAttempts}
	deps.Dispatch = rt.dispatch
	rt.pipeline = pipeline.New(deps)
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closeFunc) - 1; i >= 0; i-- {
		rt.closeFunc[i]()
	}
}
