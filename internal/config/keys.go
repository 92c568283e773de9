package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

// Lanes lists the worker lanes that take a concurrency key.
var Lanes = []string{"media", "faces", "signatures", "categorization", "watchlist"}

var specs = append([]keySpec{
	{
		key: "server.port", typ: kInt, env: "CASEMATCH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_enabled", typ: kBool, env: "CASEMATCH_SERVER_MCP_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Server.MCPEnabled },
	},
	{
		key: "api.token", typ: kString, env: "CASEMATCH_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.API.Token },
	},
	{
		key: "log.level", typ: kString, env: "CASEMATCH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "CASEMATCH_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CASEMATCH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "blob.backend", typ: kString, env: "CASEMATCH_BLOB_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Blob.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.Backend },
	},
	{
		key: "blob.local_dir", typ: kString, env: "CASEMATCH_BLOB_LOCAL_DIR",
		apply:   func(cfg *Config, v any) { cfg.Blob.LocalDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.LocalDir },
	},
	{
		key: "blob.s3_endpoint", typ: kString, env: "CASEMATCH_BLOB_S3_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Blob.S3Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.S3Endpoint },
	},
	{
		key: "blob.s3_region", typ: kString, env: "CASEMATCH_BLOB_S3_REGION",
		apply:   func(cfg *Config, v any) { cfg.Blob.S3Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.S3Region },
	},
	{
		key: "blob.s3_bucket", typ: kString, env: "CASEMATCH_BLOB_S3_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Blob.S3Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.S3Bucket },
	},
	{
		key: "blob.s3_access_key", typ: kString, env: "CASEMATCH_BLOB_S3_ACCESS_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Blob.S3AccessKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.S3AccessKey },
	},
	{
		key: "blob.s3_secret_key", typ: kString, env: "CASEMATCH_BLOB_S3_SECRET_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Blob.S3SecretKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Blob.S3SecretKey },
	},
	{
		key: "blob.s3_path_style", typ: kBool, env: "CASEMATCH_BLOB_S3_PATH_STYLE",
		apply:   func(cfg *Config, v any) { cfg.Blob.S3PathStyle = v.(bool) },
		extract: func(cfg Config) any { return cfg.Blob.S3PathStyle },
	},
	{
		key: "faces.service_url", typ: kString, env: "CASEMATCH_FACES_SERVICE_URL",
		apply:   func(cfg *Config, v any) { cfg.Faces.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Faces.URL },
	},
	{
		key: "classifier.service_url", typ: kString, env: "CASEMATCH_CLASSIFIER_SERVICE_URL",
		apply:   func(cfg *Config, v any) { cfg.Classifier.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.Classifier.URL },
	},
	{
		key: "video.ffmpeg", typ: kString, env: "CASEMATCH_VIDEO_FFMPEG",
		apply:   func(cfg *Config, v any) { cfg.Video.FFmpeg = v.(string) },
		extract: func(cfg Config) any { return cfg.Video.FFmpeg },
	},
	{
		key: "video.ffprobe", typ: kString, env: "CASEMATCH_VIDEO_FFPROBE",
		apply:   func(cfg *Config, v any) { cfg.Video.FFprobe = v.(string) },
		extract: func(cfg Config) any { return cfg.Video.FFprobe },
	},
	{
		key: "worker.max_attempts", typ: kInt, env: "CASEMATCH_WORKER_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Worker.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Worker.MaxAttempts },
	},
	{
		key: "worker.poll_interval", typ: kDuration, env: "CASEMATCH_WORKER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Worker.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Worker.PollInterval },
	},
	{
		key: "worker.task_time_limit", typ: kDuration, env: "CASEMATCH_WORKER_TASK_TIME_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Worker.TaskTimeLimit = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Worker.TaskTimeLimit },
	},
	{
		key: "matching.face_threshold", typ: kFloat, env: "CASEMATCH_MATCHING_FACE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Matching.FaceThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Matching.FaceThreshold },
	},
	{
		key: "matching.scan_threshold", typ: kFloat, env: "CASEMATCH_MATCHING_SCAN_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Matching.ScanThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Matching.ScanThreshold },
	},
	{
		key: "matching.cluster_threshold", typ: kFloat, env: "CASEMATCH_MATCHING_CLUSTER_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Matching.ClusterThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Matching.ClusterThreshold },
	},
	{
		key: "matching.image_threshold", typ: kFloat, env: "CASEMATCH_MATCHING_IMAGE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Matching.ImageThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Matching.ImageThreshold },
	},
	{
		key: "matching.video_threshold", typ: kFloat, env: "CASEMATCH_MATCHING_VIDEO_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Matching.VideoThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Matching.VideoThreshold },
	},
	{
		key: "faceindex.postgres_dsn", typ: kString, env: "CASEMATCH_FACEINDEX_POSTGRES_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.FaceIndex.PostgresDSN = v.(string) },
		extract: func(cfg Config) any { return cfg.FaceIndex.PostgresDSN },
	},
}, concurrencySpecs()...)

func concurrencySpecs() []keySpec {
	out := make([]keySpec, 0, len(Lanes))
	for _, lane := range Lanes {
		out = append(out, keySpec{
			key: "worker.concurrency." + lane, typ: kInt,
			env: "CASEMATCH_WORKER_CONCURRENCY_" + strings.ToUpper(lane),
			apply: func(cfg *Config, v any) {
				if cfg.Worker.Concurrency == nil {
					cfg.Worker.Concurrency = make(map[string]int)
				}
				cfg.Worker.Concurrency[lane] = v.(int)
			},
			extract: func(cfg Config) any { return cfg.Worker.Concurrency[lane] },
		})
	}
	return out
}

// parse converts a raw string into the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			raw, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || raw == "" {
				continue
			}
			if v, err := s.parse(raw); err == nil {
				s.apply(cfg, v)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		if v, err := s.parse(raw); err == nil {
			s.apply(cfg, v)
		} else {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
		}
	}
}
