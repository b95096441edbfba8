package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const checkpointExt = ".json"

// FileStore keeps one JSON file per instance in a directory.
//
// Each Put writes a temporary file in the same directory and renames it
// over the previous checkpoint, so readers see either the old or the new
// file and never a partial one.
type FileStore[S any] struct {
	mu  sync.RWMutex
	dir string
}

// NewFileStore creates the directory if needed and returns a FileStore on it.
func NewFileStore[S any](dir string) (*FileStore[S], error) {
	if dir == "" {
		return nil, fmt.Errorf("invoicegraph/file: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("invoicegraph/file: create directory: %w", err)
	}
	return &FileStore[S]{dir: dir}, nil
}

func (f *FileStore[S]) path(instanceID string) (string, error) {
	if instanceID == "" || instanceID != filepath.Base(instanceID) || strings.HasPrefix(instanceID, ".") {
		return "", fmt.Errorf("invoicegraph/file: invalid instance id %q", instanceID)
	}
	return filepath.Join(f.dir, instanceID+checkpointExt), nil
}

// Put atomically replaces the checkpoint file for cp.InstanceID.
func (f *FileStore[S]) Put(_ context.Context, cp Checkpoint[S]) error {
	target, err := f.path(cp.InstanceID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("invoicegraph/file: encode checkpoint: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, ".tmp-"+cp.InstanceID+"-*")
	if err != nil {
		return fmt.Errorf("invoicegraph/file: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("invoicegraph/file: write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("invoicegraph/file: sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("invoicegraph/file: close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("invoicegraph/file: rename checkpoint: %w", err)
	}
	return nil
}

// Get reads the checkpoint file for instanceID. An id that cannot name a
// checkpoint file is reported as ErrNotFound.
func (f *FileStore[S]) Get(_ context.Context, instanceID string) (Checkpoint[S], error) {
	target, err := f.path(instanceID)
	if err != nil {
		return Checkpoint[S]{}, ErrNotFound
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	raw, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("invoicegraph/file: read checkpoint: %w", err)
	}
	return decodeCheckpoint[S](raw)
}

// ListPaused returns the checkpoints waiting at an interrupt point.
func (f *FileStore[S]) ListPaused(ctx context.Context) ([]Checkpoint[S], error) {
	all, err := f.List(ctx)
	if err != nil {
		return nil, err
	}
	paused := make([]Checkpoint[S], 0, len(all))
	for _, cp := range all {
		if cp.Paused() {
			paused = append(paused, cp)
		}
	}
	return paused, nil
}

// List returns every checkpoint in the directory ordered by instance id.
func (f *FileStore[S]) List(_ context.Context) ([]Checkpoint[S], error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("invoicegraph/file: list directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, checkpointExt) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Checkpoint[S], 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(f.dir, name))
		if err != nil {
			return nil, fmt.Errorf("invoicegraph/file: read %s: %w", name, err)
		}
		cp, err := decodeCheckpoint[S](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Delete removes the checkpoint file for instanceID.
func (f *FileStore[S]) Delete(_ context.Context, instanceID string) error {
	target, err := f.path(instanceID)
	if err != nil {
		return ErrNotFound
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	err = os.Remove(target)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("invoicegraph/file: delete checkpoint: %w", err)
	}
	return nil
}

// Close is a no-op; the directory stays on disk.
func (f *FileStore[S]) Close() error { return nil }
