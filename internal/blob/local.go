package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Local keeps blobs on the local filesystem under a root directory.
type Local struct {
	root string
}

// NewLocal creates a Local store rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, errors.New("blob: local backend requires a directory")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &Local{root: abs}, nil
}

func (l *Local) resolve(ref string) (string, error) {
	ref, err := cleanRef(ref)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(ref)), nil
}

func (l *Local) Get(_ context.Context, ref string) ([]byte, error) {
	path, err := l.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob: get %s: %w", ref, ErrNotFound)
	}
	return data, err
}

// Put writes data to ref, replacing any existing object. The content type
// is not recorded on disk.
func (l *Local) Put(_ context.Context, ref string, data []byte, _ string) (string, error) {
	path, err := l.resolve(ref)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return ref, nil
}

var _ Store = (*Local)(nil)
