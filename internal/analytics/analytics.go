// Package analytics provides a read-only view over the scheduler's and
// cache's usage counters. It aggregates for the status report and never
// mutates core state.
package analytics

import (
	"time"

	"github.com/book-expert/speech-scheduler/internal/cache"
	"github.com/book-expert/speech-scheduler/internal/scheduler"
)

// defaultTopLimit bounds the popular-phrase list in a snapshot.
const defaultTopLimit = 10

// CacheSource is the cache store surface the view reads from.
type CacheSource interface {
	Snapshot() cache.Stats
	TopUsage(limit int) []cache.Usage
}

// QueueSource is the scheduler surface the view reads from.
type QueueSource interface {
	Snapshot() scheduler.Stats
}

// RequestSource reports per-user request totals.
type RequestSource interface {
	UserRequestCounts() map[string]uint64
}

// Snapshot is one status report.
type Snapshot struct {
	GeneratedAt  time.Time         `json:"generated_at"`
	Queue        scheduler.Stats   `json:"queue"`
	Cache        cache.Stats       `json:"cache"`
	TopArtifacts []cache.Usage     `json:"top_artifacts"`
	UserRequests map[string]uint64 `json:"user_requests"`
}

// View aggregates read-only counters from the core components.
type View struct {
	cache    CacheSource
	queue    QueueSource
	requests RequestSource
}

// New creates an analytics view over the given sources.
func New(cacheSource CacheSource, queueSource QueueSource, requestSource RequestSource) *View {
	return &View{
		cache:    cacheSource,
		queue:    queueSource,
		requests: requestSource,
	}
}

// Snapshot collects a point-in-time status report.
func (v *View) Snapshot() Snapshot {
	return Snapshot{
		GeneratedAt:  time.Now().UTC(),
		Queue:        v.queue.Snapshot(),
		Cache:        v.cache.Snapshot(),
		TopArtifacts: v.cache.TopUsage(defaultTopLimit),
		UserRequests: v.requests.UserRequestCounts(),
	}
}
