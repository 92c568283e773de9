// Package blob stores raw media bytes and derived thumbnails.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when ref does not name a stored object.
var ErrNotFound = errors.New("blob not found")

// Store is the object store used by the pipeline. Refs are slash-separated
// relative paths such as "media/<case>/<id>" or "thumbnails/<id>.jpg".
type Store interface {
	Get(ctx context.Context, ref string) ([]byte, error)
	Put(ctx context.Context, ref string, data []byte, contentType string) (string, error)
}

// Config selects and configures a backend.
type Config struct {
	Backend  string // "local" or "s3"
	LocalDir string

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3PathStyle bool
}

// Open builds the Store named by cfg.Backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.LocalDir)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, errors.New("blob: s3 backend requires a bucket")
		}
		return NewS3(NewS3Client(cfg), cfg.S3Bucket, ""), nil
	default:
		return nil, fmt.Errorf("blob: unknown backend %q", cfg.Backend)
	}
}

// cleanRef rejects refs that would escape the store root.
func cleanRef(ref string) (string, error) {
	ref = strings.TrimPrefix(ref, "/")
	if ref == "" {
		return "", errors.New("blob: empty ref")
	}
	for _, part := range strings.Split(ref, "/") {
		if part == ".." {
			return "", fmt.Errorf("blob: invalid ref %q", ref)
		}
	}
	return ref, nil
}

// MediaRef is the ref under which an uploaded media file is stored.
func MediaRef(caseID, mediaID, filename string) string {
	return "media/" + caseID + "/" + mediaID + "/" + sanitizeName(filename)
}

// ThumbnailRef is the ref of a media or face thumbnail.
func ThumbnailRef(id string) string {
	return "thumbnails/" + id + ".jpg"
}

func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}
