package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server     ServerConfig
	API        APIConfig
	Log        LogConfig
	Storage    StorageConfig
	Blob       BlobConfig
	Faces      ServiceConfig
	Classifier ServiceConfig
	Video      VideoConfig
	Worker     WorkerConfig
	Matching   MatchingConfig
	FaceIndex  FaceIndexConfig
}

type ServerConfig struct {
	Port       int
	MCPEnabled bool
}

type APIConfig struct {
	Token string
}

type LogConfig struct {
	Level  string
	Format string // "text", "json" or "console"
}

type StorageConfig struct {
	DataDir string
}

type BlobConfig struct {
	Backend     string // "local" or "s3"
	LocalDir    string
	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool
}

type ServiceConfig struct {
	URL string
}

type VideoConfig struct {
	FFmpeg  string
	FFprobe string
}

type WorkerConfig struct {
	Concurrency   map[string]int // keyed by lane
	MaxAttempts   int
	PollInterval  time.Duration
	TaskTimeLimit time.Duration
}

type MatchingConfig struct {
	FaceThreshold    float64
	ScanThreshold    float64
	ClusterThreshold float64
	ImageThreshold   float64
	VideoThreshold   float64
}

type FaceIndexConfig struct {
	PostgresDSN string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:       8000,
			MCPEnabled: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Blob: BlobConfig{
			Backend:  "local",
			S3Region: "us-east-1",
		},
		Faces:      ServiceConfig{URL: "http://localhost:8001"},
		Classifier: ServiceConfig{URL: "http://localhost:8002"},
		Video: VideoConfig{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
		},
		Worker: WorkerConfig{
			Concurrency: map[string]int{
				"media":          2,
				"faces":          1,
				"signatures":     2,
				"categorization": 1,
				"watchlist":      1,
			},
			MaxAttempts:   3,
			PollInterval:  500 * time.Millisecond,
			TaskTimeLimit: 10 * time.Minute,
		},
		Matching: MatchingConfig{
			FaceThreshold:    0.6,
			ScanThreshold:    0.5,
			ClusterThreshold: 0.5,
			ImageThreshold:   0.7,
			VideoThreshold:   0.7,
		},
	}
}

// Load reads configuration from defaults, the JSON file at
// $XDG_CONFIG_HOME/casematch/config.json, then CASEMATCH_* environment
// variables, each overriding the previous source.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Blob.LocalDir == "" {
		cfg.Blob.LocalDir = filepath.Join(cfg.Storage.DataDir, "blobs")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Log.Format {
	case "text", "json", "console":
	default:
		return fmt.Errorf("invalid log.format %q: want text, json or console", c.Log.Format)
	}
	switch c.Blob.Backend {
	case "local":
	case "s3":
		if c.Blob.S3Bucket == "" {
			return errors.New("missing required config: blob.s3_bucket must be set when blob.backend is s3")
		}
	default:
		return fmt.Errorf("invalid blob.backend %q: want local or s3", c.Blob.Backend)
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be at least 1, got %d", c.Worker.MaxAttempts)
	}
	return nil
}

// RequireAPIToken returns an error when no bearer token is configured. The
// HTTP server refuses to start without one.
func (c Config) RequireAPIToken() error {
	if c.API.Token == "" {
		return errors.New("missing required config: API token. " +
			"Set it via environment variable CASEMATCH_API_TOKEN")
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "casematch-data"
		}
	}
	return filepath.Join(dir, "casematch")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "casematch", "config.json")
}
