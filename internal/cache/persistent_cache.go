package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const snapshotVersion = 1

type snapshotFile struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// PersistentCache wraps a ResponseCache and snapshots it to a JSON file.
// The in-memory contract is unchanged; persistence only happens on Load,
// Flush and Close.
type PersistentCache struct {
	*ResponseCache

	filePath string
	logger   *zap.Logger
	flushMu  sync.Mutex
}

// NewPersistent creates a cache backed by filePath and loads any existing
// snapshot. Expired entries in the snapshot are dropped.
func NewPersistent(filePath string, opts ...Option) (*PersistentCache, error) {
	inner := New(opts...)
	c := &PersistentCache{
		ResponseCache: inner,
		filePath:      filePath,
		logger:        inner.logger,
	}
	if err := c.load(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *PersistentCache) load() error {
	data, err := os.ReadFile(c.filePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read cache snapshot: %w", err)
	}

	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		// A corrupt snapshot only costs warm entries.
		c.logger.Warn("Ignoring unreadable cache snapshot", zap.String("path", c.filePath), zap.Error(err))
		return nil
	}
	loaded := c.restore(snap.Entries)
	c.logger.Debug("Loaded cache snapshot",
		zap.String("path", c.filePath),
		zap.Int("entries", loaded),
		zap.Int("dropped", len(snap.Entries)-loaded))
	return nil
}

// Flush writes the live entries to disk atomically.
func (c *PersistentCache) Flush() error {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	data, err := json.Marshal(snapshotFile{Version: snapshotVersion, Entries: c.snapshot()})
	if err != nil {
		return fmt.Errorf("failed to encode cache snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.filePath), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.filePath), ".cache-*.json")
	if err != nil {
		return fmt.Errorf("failed to create cache snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.filePath); err != nil {
		return fmt.Errorf("failed to replace cache snapshot: %w", err)
	}
	return nil
}

// Clear empties memory and removes the snapshot file.
func (c *PersistentCache) Clear() {
	c.ResponseCache.Clear()
	c.flushMu.Lock()
	defer c.flushMu.Unlock()
	if err := os.Remove(c.filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("Failed to remove cache snapshot", zap.String("path", c.filePath), zap.Error(err))
	}
}

// Close flushes the cache.
func (c *PersistentCache) Close() error {
	return c.Flush()
}

// Path returns the snapshot location.
func (c *PersistentCache) Path() string {
	return c.filePath
}
