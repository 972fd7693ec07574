package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// fileState is the on-disk layout of a FileStore.
type fileState struct {
	Counters  []Counter `json:"counters"`
	LastSaved time.Time `json:"last_saved"`
}

// FileStore is a MemoryStore that is restored from a JSON file on start and
// written back periodically and on Close. Writes go to a temporary file
// that is renamed over the old one.
type FileStore struct {
	*MemoryStore
	path   string
	dirty  atomic.Bool
	logger *zap.Logger

	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
	saveMu    sync.Mutex
}

// NewFileStore opens the store at path. A missing file starts empty; a
// corrupt one is an error so counters are never silently lost. A zero
// interval disables periodic saves.
func NewFileStore(path string, interval time.Duration, logger *zap.Logger) (*FileStore, error) {
	fs := &FileStore{
		MemoryStore: NewMemoryStore(),
		path:        path,
		logger:      logger,
		done:        make(chan struct{}),
	}
	if err := fs.loadState(); err != nil {
		return nil, err
	}
	if interval > 0 {
		fs.ticker = time.NewTicker(interval)
		go fs.persistRoutine()
	}
	return fs, nil
}

func (fs *FileStore) Increment(key Key, amount int64) error {
	if err := fs.MemoryStore.Increment(key, amount); err != nil {
		return err
	}
	fs.dirty.Store(true)
	return nil
}

func (fs *FileStore) loadState() error {
	data, err := os.ReadFile(fs.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read usage file: %w", err)
	}

	var state fileState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("parse usage file %s: %w", fs.path, err)
	}
	fs.MemoryStore.load(state.Counters)
	return nil
}

// Save writes the counters to disk if anything changed since the last save.
func (fs *FileStore) Save() error {
	fs.saveMu.Lock()
	defer fs.saveMu.Unlock()

	if !fs.dirty.Swap(false) {
		return nil
	}
	data, err := json.Marshal(fileState{
		Counters:  fs.Snapshot(""),
		LastSaved: time.Now(),
	})
	if err != nil {
		fs.dirty.Store(true)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fs.path), 0755); err != nil {
		fs.dirty.Store(true)
		return err
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		fs.dirty.Store(true)
		return err
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		fs.dirty.Store(true)
		return err
	}
	return nil
}

func (fs *FileStore) persistRoutine() {
	for {
		select {
		case <-fs.ticker.C:
			if err := fs.Save(); err != nil {
				fs.logger.Error("Failed to save usage counters",
					zap.String("path", fs.path),
					zap.Error(err))
			}
		case <-fs.done:
			return
		}
	}
}

// Close stops periodic saves and writes a final snapshot.
func (fs *FileStore) Close() error {
	fs.closeOnce.Do(func() {
		close(fs.done)
		if fs.ticker != nil {
			fs.ticker.Stop()
		}
	})
	return fs.Save()
}
