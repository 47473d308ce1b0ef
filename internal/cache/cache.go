// Package cache implements the Discovery Cache (C3): a persisted,
// content-addressed record of per-file discovery results so that unchanged
// files can skip re-parsing on the next run.
package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/flanksource/commons/logger"

	"github.com/fastest-run/fastest/internal/item"
)

// CurrentVersion is bumped whenever the on-disk entry shape changes in a way
// that is not forward compatible; a version mismatch discards the cache
// wholesale rather than attempting a partial migration.
const CurrentVersion = 2

// DefaultMaxAge is how long an entry is trusted before it is swept during
// Load, even if its file still matches on mtime/size/hash.
const DefaultMaxAge = 7 * 24 * time.Hour

// mtimeTolerance absorbs filesystem timestamp precision differences (e.g.
// across bind mounts or FAT-derived filesystems) that would otherwise cause
// spurious cache misses.
const mtimeTolerance = 2 * time.Second

// hashBufferSize is the read buffer used while streaming a file through the
// content hasher, sized to amortize syscall overhead without holding large
// files entirely in memory.
const hashBufferSize = 32 * 1024

// Entry is the cached discovery result for a single source file.
type Entry struct {
	Fixtures    []item.FixtureDef `json:"fixtures"`
	Items       []item.TestItem   `json:"items"`
	ModTime     time.Time         `json:"mod_time"`
	Size        int64             `json:"size"`
	ContentHash uint64            `json:"content_hash"`
	CachedAt    time.Time         `json:"cached_at"`
}

// onDisk is the serialized envelope; Version lets Load reject a cache
// written by an incompatible build before touching any entry.
type onDisk struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// Cache is a discovery cache keyed by absolute file path. It is not
// safe for concurrent use without external synchronization; discovery
// is expected to populate it single-threaded ahead of the parallel
// execution phases.
type Cache struct {
	entries map[string]Entry
	maxAge  time.Duration
}

// New returns an empty cache with the default max age.
func New() *Cache {
	return &Cache{entries: map[string]Entry{}, maxAge: DefaultMaxAge}
}

// SetMaxAge overrides the default retention window for entries.
func (c *Cache) SetMaxAge(d time.Duration) {
	c.maxAge = d
}

// Stats summarizes the cache's current contents.
type Stats struct {
	TotalEntries   int
	TotalItems     int
	ExpiredEntries int
}

// Stats computes a Stats summary over the current in-memory contents.
func (c *Cache) Stats() Stats {
	now := time.Now()
	s := Stats{TotalEntries: len(c.entries)}
	for _, e := range c.entries {
		s.TotalItems += len(e.Items)
		if now.Sub(e.CachedAt) > c.maxAge {
			s.ExpiredEntries++
		}
	}
	return s
}

// Load reads a cache file from disk. A missing file returns an empty cache
// and no error (first run). A version mismatch or corrupt file logs a
// warning and returns an empty cache rather than failing discovery.
func Load(path string) (*Cache, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: opening %s: %w", path, err)
	}
	defer f.Close()

	var disk onDisk
	if err := json.NewDecoder(f).Decode(&disk); err != nil {
		logger.Warnf("cache: %s is corrupt, starting fresh: %v", path, err)
		return New(), nil
	}

	if disk.Version != CurrentVersion {
		logger.Warnf("cache: version mismatch in %s (found %d, want %d), discarding", path, disk.Version, CurrentVersion)
		return New(), nil
	}

	c := &Cache{entries: disk.Entries, maxAge: DefaultMaxAge}
	if c.entries == nil {
		c.entries = map[string]Entry{}
	}
	c.cleanupMissing()
	c.cleanupExpired()
	return c, nil
}

// Save persists the cache to path using a temp-file-then-rename sequence so
// a concurrent reader (or a crash mid-write) never observes a partial file.
func (c *Cache) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cache: creating %s: %w", dir, err)
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("cache: creating %s: %w", tmp, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "")
	err = enc.Encode(onDisk{Version: CurrentVersion, Entries: c.entries})
	closeErr := f.Close()
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cache: encoding %s: %w", path, err)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return fmt.Errorf("cache: closing %s: %w", tmp, closeErr)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("cache: renaming %s to %s: %w", tmp, path, err)
	}
	return nil
}

// Get returns the cached fixtures/items for path if the entry is fresh: not
// expired, and the file's current mtime (within tolerance), size and
// content hash all still match what was recorded.
func (c *Cache) Get(path string) ([]item.FixtureDef, []item.TestItem, bool) {
	entry, ok := c.entries[path]
	if !ok {
		return nil, nil, false
	}
	if time.Since(entry.CachedAt) > c.maxAge {
		return nil, nil, false
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, false
	}
	if info.Size() != entry.Size {
		return nil, nil, false
	}
	if !sameTime(info.ModTime(), entry.ModTime) {
		return nil, nil, false
	}

	hash, err := contentHash(path)
	if err != nil || hash != entry.ContentHash {
		return nil, nil, false
	}
	return entry.Fixtures, entry.Items, true
}

// Update records a fresh discovery result for path, replacing any prior
// entry.
func (c *Cache) Update(path string, fixtures []item.FixtureDef, items []item.TestItem) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cache: stat %s: %w", path, err)
	}
	hash, err := contentHash(path)
	if err != nil {
		return fmt.Errorf("cache: hashing %s: %w", path, err)
	}
	c.entries[path] = Entry{
		Fixtures:    fixtures,
		Items:       items,
		ModTime:     info.ModTime(),
		Size:        info.Size(),
		ContentHash: hash,
		CachedAt:    time.Now(),
	}
	return nil
}

// Remove drops path's entry, if any, reporting whether one was present.
func (c *Cache) Remove(path string) bool {
	if _, ok := c.entries[path]; !ok {
		return false
	}
	delete(c.entries, path)
	return true
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.entries = map[string]Entry{}
}

func (c *Cache) cleanupMissing() {
	removed := 0
	for path := range c.entries {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			delete(c.entries, path)
			removed++
		}
	}
	if removed > 0 {
		logger.Debugf("cache: removed %d entries for missing files", removed)
	}
}

func (c *Cache) cleanupExpired() {
	now := time.Now()
	removed := 0
	for path, e := range c.entries {
		if now.Sub(e.CachedAt) > c.maxAge {
			delete(c.entries, path)
			removed++
		}
	}
	if removed > 0 {
		logger.Debugf("cache: removed %d expired entries", removed)
	}
}

func sameTime(a, b time.Time) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}
	return diff < mtimeTolerance
}

// contentHash streams path through xxhash in hashBufferSize chunks rather
// than reading the whole file into memory.
func contentHash(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := xxhash.New()
	buf := make([]byte, hashBufferSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// DefaultPath returns the conventional cache file location under the user's
// cache directory, falling back to the working directory if that cannot be
// determined.
func DefaultPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir, err = os.Getwd()
		if err != nil {
			dir = os.TempDir()
		}
	}
	return filepath.Join(dir, "fastest", "discovery_cache.json")
}
