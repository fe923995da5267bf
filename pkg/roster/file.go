package roster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

const rosterFileName = "roster.json"

// rosterFile is the on-disk layout.
type rosterFile struct {
	Activities []InstalledLiveActivity `json:"activities"`
}

// FileRepository keeps the roster in memory and rewrites a JSON file
// atomically after every change. It implements resource.Managed: the
// file is loaded on Startup.
type FileRepository struct {
	dir string

	mu      sync.RWMutex
	records map[string]InstalledLiveActivity
}

// NewFileRepository creates a repository stored under dir.
func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{dir: dir, records: make(map[string]InstalledLiveActivity)}
}

// Path returns the full path to the roster file.
func (r *FileRepository) Path() string {
	return filepath.Join(r.dir, rosterFileName)
}

// Name identifies the repository in resource logs.
func (r *FileRepository) Name() string { return "roster" }

// Startup loads the roster from disk.
func (r *FileRepository) Startup(ctx context.Context) error {
	return r.Load(ctx)
}

// Shutdown is a no-op: every change is already on disk.
func (r *FileRepository) Shutdown(ctx context.Context) error { return nil }

// Load replaces the in-memory roster with the file contents. A missing
// file yields an empty roster.
func (r *FileRepository) Load(ctx context.Context) error {
	data, err := os.ReadFile(r.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var f rosterFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse %s: %w", r.Path(), err)
	}

	records := make(map[string]InstalledLiveActivity, len(f.Activities))
	for _, rec := range f.Activities {
		records[rec.UUID] = rec
	}
	r.mu.Lock()
	r.records = records
	r.mu.Unlock()
	return nil
}

// Get returns the record for uuid.
func (r *FileRepository) Get(ctx context.Context, uuid string) (InstalledLiveActivity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[uuid]
	if !ok {
		return InstalledLiveActivity{}, ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns all records sorted by uuid.
func (r *FileRepository) List(ctx context.Context) ([]InstalledLiveActivity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedCopy(r.records), nil
}

// Put stores rec and persists the roster. On a write failure the
// in-memory roster is left unchanged.
func (r *FileRepository) Put(ctx context.Context, rec InstalledLiveActivity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, had := r.records[rec.UUID]
	r.records[rec.UUID] = rec.Clone()
	if err := r.saveLocked(); err != nil {
		if had {
			r.records[rec.UUID] = prev
		} else {
			delete(r.records, rec.UUID)
		}
		return err
	}
	return nil
}

// Delete removes the record and persists the roster.
func (r *FileRepository) Delete(ctx context.Context, uuid string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.records[uuid]
	if !ok {
		return false, nil
	}
	delete(r.records, uuid)
	if err := r.saveLocked(); err != nil {
		r.records[uuid] = prev
		return false, err
	}
	return true, nil
}

// Update applies fn and persists the result as one read-modify-write.
func (r *FileRepository) Update(ctx context.Context, uuid string, fn func(*InstalledLiveActivity) error) (InstalledLiveActivity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.records[uuid]
	if !ok {
		return InstalledLiveActivity{}, ErrNotFound
	}
	rec := prev.Clone()
	if err := fn(&rec); err != nil {
		return InstalledLiveActivity{}, err
	}
	rec.UUID = uuid
	r.records[uuid] = rec
	if err := r.saveLocked(); err != nil {
		r.records[uuid] = prev
		return InstalledLiveActivity{}, err
	}
	return rec.Clone(), nil
}

// saveLocked writes the roster atomically: temp file, fsync, rename.
func (r *FileRepository) saveLocked() error {
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rosterFile{Activities: sortedCopy(r.records)}, "", "  ")
	if err != nil {
		return err
	}

	path := r.Path()
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
