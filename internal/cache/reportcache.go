// Package cache keeps parsed reports keyed by (source class, file id), with
// monotonic writes and a durable JSON snapshot so a restart does not refetch
// what was already parsed.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/woodid012/plugit/internal/domain/models"
	"github.com/woodid012/plugit/pkg/logger"
	"github.com/woodid012/plugit/pkg/marketime"
)

// ErrStaleWrite is returned when a put offers a file id older than the
// newest one already cached for that class.
var ErrStaleWrite = errors.New("report cache: offered file id older than cached")

// ReportCache is the process-local store of parsed reports. It is backed by
// a durable snapshot file, loaded at construction and rewritten after every
// accepted write.
type ReportCache struct {
	mu         sync.Mutex
	path       string
	staleAfter time.Duration
	maxEntries map[models.ReportClass]int
	entries    map[string]map[string]*models.ParsedReport // class name -> file id -> report
	log        *logger.Logger
}

type snapshot struct {
	Sources     map[string]map[string]*models.ParsedReport `json:"sources"`
	LastUpdated time.Time                                  `json:"last_updated"`
}

// New builds a cache backed by the snapshot at path. A missing or corrupt
// snapshot starts empty; the cause is logged, not raised.
func New(path string, staleAfter time.Duration, dispatchEntries, forecastEntries int, log *logger.Logger) *ReportCache {
	c := &ReportCache{
		path:       path,
		staleAfter: staleAfter,
		maxEntries: map[models.ReportClass]int{
			models.ClassHistorical:        dispatchEntries,
			models.ClassFiveMinForecast:   forecastEntries,
			models.ClassThirtyMinForecast: forecastEntries,
		},
		entries: make(map[string]map[string]*models.ParsedReport),
		log:     log,
	}
	c.load()
	return c
}

func (c *ReportCache) load() {
	b, err := os.ReadFile(c.path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("cache snapshot unreadable, starting empty", logger.Error(err))
		}
		return
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		c.log.Warn("cache snapshot corrupt, starting empty", logger.Error(err))
		return
	}
	if snap.Sources != nil {
		c.entries = snap.Sources
	}
	c.log.Info("cache snapshot loaded",
		logger.String("path", c.path),
		logger.Int("entries", c.sizeLocked()))
}

func (c *ReportCache) sizeLocked() int {
	n := 0
	for _, byID := range c.entries {
		n += len(byID)
	}
	return n
}

// Get returns the cached report for (class, fileID).
func (c *ReportCache) Get(class models.ReportClass, fileID string) (*models.ParsedReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[class.String()][fileID]
	return r, ok
}

// LatestID returns the newest cached file id for a class.
func (c *ReportCache) LatestID(class models.ReportClass) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.latestIDLocked(class)
}

func (c *ReportCache) latestIDLocked(class models.ReportClass) (string, bool) {
	best := ""
	for id := range c.entries[class.String()] {
		if id > best {
			best = id
		}
	}
	return best, best != ""
}

// Latest returns the newest cached report for a class.
func (c *ReportCache) Latest(class models.ReportClass) (*models.ParsedReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.latestIDLocked(class)
	if !ok {
		return nil, false
	}
	return c.entries[class.String()][id], true
}

// Reports returns all cached reports for a class, newest first.
func (c *ReportCache) Reports(class models.ReportClass) []*models.ParsedReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	byID := c.entries[class.String()]
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	out := make([]*models.ParsedReport, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}

// Put stores a parsed report under its (class, file id) key. Writes are
// monotonic per class: offering an id older than the newest cached one
// returns ErrStaleWrite so a stale refetch cannot clobber newer data.
// Accepted writes trim the class to its retention bound and rewrite the
// snapshot.
func (c *ReportCache) Put(report *models.ParsedReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := report.Class.String()
	if newest, ok := c.latestIDLocked(report.Class); ok && report.FileID < newest {
		c.log.Warn("stale cache write rejected",
			logger.String("class", name),
			logger.String("offered", report.FileID),
			logger.String("cached", newest))
		return ErrStaleWrite
	}

	if c.isStaleLocked(report.FileID) {
		// Flagged for observability only; a stale-but-newest file is still
		// the best data available.
		c.log.Warn("newest available report is stale",
			logger.String("class", name),
			logger.String("file_id", report.FileID),
			logger.Duration("age", marketime.Age(report.FileID, marketime.Now())))
	}

	if c.entries[name] == nil {
		c.entries[name] = make(map[string]*models.ParsedReport)
	}
	c.entries[name][report.FileID] = report
	c.trimLocked(report.Class)

	return c.flushLocked()
}

// IsStale reports whether a file id is older than the staleness horizon.
func (c *ReportCache) IsStale(fileID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isStaleLocked(fileID)
}

func (c *ReportCache) isStaleLocked(fileID string) bool {
	return marketime.Age(fileID, marketime.Now()) > c.staleAfter
}

// trimLocked evicts the oldest entries beyond the class retention bound.
func (c *ReportCache) trimLocked(class models.ReportClass) {
	limit := c.maxEntries[class]
	byID := c.entries[class.String()]
	if limit <= 0 || len(byID) <= limit {
		return
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids[:len(ids)-limit] {
		delete(byID, id)
	}
}

// Flush rewrites the snapshot file.
func (c *ReportCache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

func (c *ReportCache) flushLocked() error {
	snap := snapshot{Sources: c.entries, LastUpdated: time.Now()}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	tmp := c.path + ".tmp"
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("snapshot dir: %w", err)
		}
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
