// Package cache keeps export responses on disk so re-generating the same crop
// does not hit the imagery service again.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"

	"trainz-basemap/internal/logging"
)

const (
	indexFile = "cache_index.json"
	dataExt   = ".bin"
)

// ResponseCache is a size-bounded LRU of export responses with disk persistence.
// Layout: baseDir/{hash[:2]}/{hash}.bin plus baseDir/cache_index.json.
type ResponseCache struct {
	baseDir  string
	maxSize  int64
	currSize int64 // atomic
	ttl      time.Duration

	mu      sync.RWMutex
	index   map[string]*Entry
	indexMu sync.Mutex // serializes index writes

	evictChan chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// Entry describes one cached response
type Entry struct {
	Key        string    `json:"key"`
	File       string    `json:"file"`
	Size       int64     `json:"size"`
	AccessTime time.Time `json:"accessTime"`
	CreateTime time.Time `json:"createTime"`
}

// Stats is a snapshot of cache usage
type Stats struct {
	Entries   int    `json:"entries"`
	SizeBytes int64  `json:"sizeBytes"`
	MaxBytes  int64  `json:"maxBytes"`
	Dir       string `json:"dir"`
}

// New opens (or creates) a cache under baseDir. A ttlDays of zero keeps entries until evicted by size.
func New(baseDir string, maxSizeMB int, ttlDays int) (*ResponseCache, error) {
	if maxSizeMB <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d MB", maxSizeMB)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &ResponseCache{
		baseDir:   baseDir,
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		ttl:       time.Duration(ttlDays) * 24 * time.Hour,
		index:     make(map[string]*Entry),
		evictChan: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	if err := c.loadIndex(); err != nil {
		logging.Warn("Cache index unreadable, rebuilding from disk", "error", err)
		if err := c.rebuildIndex(); err != nil {
			return nil, fmt.Errorf("failed to initialize cache: %w", err)
		}
	}

	go c.evictionWorker()

	return c, nil
}

// Get returns the cached response for key
func (c *ResponseCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.index[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if c.ttl > 0 && time.Since(entry.CreateTime) > c.ttl {
		c.remove(key)
		return nil, false
	}

	data, err := os.ReadFile(c.path(entry.File))
	if err != nil {
		c.remove(key)
		return nil, false
	}

	c.mu.Lock()
	entry.AccessTime = time.Now()
	c.mu.Unlock()

	return data, true
}

// Set stores data under key, replacing any previous value
func (c *ResponseCache) Set(key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("cache key is empty")
	}

	file := fileName(key)
	fullPath := c.path(file)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create cache subdirectory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := time.Now()
	size := int64(len(data))

	c.mu.Lock()
	if old, exists := c.index[key]; exists {
		atomic.AddInt64(&c.currSize, -old.Size)
	}
	c.index[key] = &Entry{
		Key:        key,
		File:       file,
		Size:       size,
		AccessTime: now,
		CreateTime: now,
	}
	c.mu.Unlock()
	atomic.AddInt64(&c.currSize, size)

	if atomic.LoadInt64(&c.currSize) > c.maxSize {
		select {
		case c.evictChan <- struct{}{}:
		default:
		}
	}

	return c.saveIndex()
}

// Stats returns the current usage
func (c *ResponseCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Entries:   len(c.index),
		SizeBytes: atomic.LoadInt64(&c.currSize),
		MaxBytes:  c.maxSize,
		Dir:       c.baseDir,
	}
}

// Dir returns the cache root directory
func (c *ResponseCache) Dir() string {
	return c.baseDir
}

// Clear removes every cached response
func (c *ResponseCache) Clear() error {
	c.mu.Lock()
	for _, entry := range c.index {
		os.Remove(c.path(entry.File))
	}
	c.index = make(map[string]*Entry)
	atomic.StoreInt64(&c.currSize, 0)
	c.mu.Unlock()

	return c.saveIndex()
}

// Close stops the background eviction worker and flushes the index
func (c *ResponseCache) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.saveIndex()
}

func (c *ResponseCache) evictionWorker() {
	for {
		select {
		case <-c.evictChan:
			c.evict()
			if err := c.saveIndex(); err != nil {
				logging.Warn("Failed to save cache index", "error", err)
			}
		case <-c.done:
			return
		}
	}
}

// evict drops least recently used entries until the cache is at 90% of its cap
func (c *ResponseCache) evict() {
	c.mu.Lock()
	defer c.mu.Unlock()

	currSize := atomic.LoadInt64(&c.currSize)
	if currSize <= c.maxSize {
		return
	}
	target := c.maxSize * 9 / 10

	entries := make([]*Entry, 0, len(c.index))
	for _, e := range c.index {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *Entry) int {
		return a.AccessTime.Compare(b.AccessTime)
	})

	evicted := 0
	for _, e := range entries {
		if currSize <= target {
			break
		}
		os.Remove(c.path(e.File))
		delete(c.index, e.Key)
		atomic.AddInt64(&c.currSize, -e.Size)
		currSize -= e.Size
		evicted++
	}
	logging.Debug("Evicted cached responses", "count", evicted, "sizeBytes", currSize)
}

func (c *ResponseCache) remove(key string) {
	c.mu.Lock()
	entry, ok := c.index[key]
	if ok {
		os.Remove(c.path(entry.File))
		delete(c.index, key)
		atomic.AddInt64(&c.currSize, -entry.Size)
	}
	c.mu.Unlock()
}

func (c *ResponseCache) path(file string) string {
	return filepath.Join(c.baseDir, file)
}

// fileName maps a key to a relative path; keys are hashed to stay filesystem safe
func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	h := hex.EncodeToString(sum[:])
	return filepath.Join(h[:2], h+dataExt)
}

func (c *ResponseCache) loadIndex() error {
	data, err := os.ReadFile(c.path(indexFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		info, err := os.Stat(c.path(e.File))
		if err != nil {
			continue
		}
		e.Size = info.Size()
		c.index[e.Key] = e
		atomic.AddInt64(&c.currSize, e.Size)
	}
	return nil
}

// rebuildIndex drops files whose keys are unknown; they cannot be looked up again
func (c *ResponseCache) rebuildIndex() error {
	c.mu.Lock()
	c.index = make(map[string]*Entry)
	atomic.StoreInt64(&c.currSize, 0)
	c.mu.Unlock()

	return filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if filepath.Ext(path) == dataExt || filepath.Base(path) == indexFile {
			os.Remove(path)
		}
		return nil
	})
}

func (c *ResponseCache) saveIndex() error {
	c.indexMu.Lock()
	defer c.indexMu.Unlock()

	c.mu.RLock()
	entries := make([]Entry, 0, len(c.index))
	for _, e := range c.index {
		entries = append(entries, *e)
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache index: %w", err)
	}

	tmp := c.path(indexFile + ".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache index: %w", err)
	}
	if err := os.Rename(tmp, c.path(indexFile)); err != nil {
		return fmt.Errorf("failed to save cache index: %w", err)
	}
	return nil
}
