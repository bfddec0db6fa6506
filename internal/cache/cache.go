// Package cache implements the content-addressed artifact store: a bounded
// in-memory index with least-recently-used eviction, backed by an object
// store bucket so artifacts survive process restart.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-scheduler/internal/core"
)

// Static errors.
var (
	// ErrMaxEntriesInvalid indicates a non-positive entry capacity.
	ErrMaxEntriesInvalid = errors.New("max entries must be positive")
	// ErrMaxBytesInvalid indicates a non-positive byte capacity.
	ErrMaxBytesInvalid = errors.New("max bytes must be positive")
)

// Stats is a point-in-time snapshot of cache usage, consumed by the
// read-only analytics view.
type Stats struct {
	Entries   int    `json:"entries"`
	Bytes     int64  `json:"bytes"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Usage reports the hit count of one cached artifact.
type Usage struct {
	Fingerprint core.Fingerprint `json:"fingerprint"`
	Hits        uint64           `json:"hits"`
}

type entry struct {
	artifact *core.AudioArtifact
	element  *list.Element
	pins     int
	hits     uint64
}

// Store is the fingerprint-addressed artifact cache. All methods are safe
// for concurrent use. Lookup pins the returned artifact against eviction;
// callers must Release it when they are done reading.
type Store struct {
	log     *logger.Logger
	persist core.ObjectStore

	mu         sync.Mutex
	entries    map[core.Fingerprint]*entry
	lru        *list.List
	maxEntries int
	maxBytes   int64
	totalBytes int64
	hits       uint64
	misses     uint64
	evictions  uint64
}

// New creates a cache store bounded by entry count and total byte size.
// The persist store may be nil, in which case artifacts live only in
// memory and do not survive restart.
func New(maxEntries int, maxBytes int64, persist core.ObjectStore, log *logger.Logger) (*Store, error) {
	if maxEntries <= 0 {
		return nil, ErrMaxEntriesInvalid
	}

	if maxBytes <= 0 {
		return nil, ErrMaxBytesInvalid
	}

	return &Store{
		log:        log,
		persist:    persist,
		mu:         sync.Mutex{},
		entries:    make(map[core.Fingerprint]*entry),
		lru:        list.New(),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		totalBytes: 0,
		hits:       0,
		misses:     0,
		evictions:  0,
	}, nil
}

// Lookup returns the artifact for the fingerprint if present. It never
// blocks on synthesis; at most it performs one object store read to
// re-admit a persisted artifact after a restart or eviction-free miss.
// A returned artifact is pinned; the caller must call Release.
func (s *Store) Lookup(ctx context.Context, fingerprint core.Fingerprint) (*core.AudioArtifact, bool) {
	s.mu.Lock()

	cached, ok := s.entries[fingerprint]
	if ok {
		s.lru.MoveToFront(cached.element)
		cached.pins++
		artifact := cached.artifact
		s.mu.Unlock()

		return artifact, true
	}

	s.mu.Unlock()

	restored := s.restoreFromPersist(ctx, fingerprint)
	if restored == nil {
		s.mu.Lock()
		s.misses++
		s.mu.Unlock()

		return nil, false
	}

	admitted, evicted := s.admit(restored)
	s.deletePersisted(ctx, evicted)

	return admitted, true
}

// Acquire re-pins an artifact that is already resident in memory, without
// the lookup accounting and without consulting the persisted bucket. It is
// how a reader takes its own pin on an artifact produced by another
// caller's Put. A returned artifact must be Released.
func (s *Store) Acquire(fingerprint core.Fingerprint) (*core.AudioArtifact, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, ok := s.entries[fingerprint]
	if !ok {
		return nil, false
	}

	s.lru.MoveToFront(cached.element)
	cached.pins++

	return cached.artifact, true
}

// Release unpins an artifact previously returned by Lookup, Acquire or
// Put, making it eligible for eviction again.
func (s *Store) Release(fingerprint core.Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, ok := s.entries[fingerprint]
	if ok && cached.pins > 0 {
		cached.pins--
	}
}

// Put stores a synthesized artifact under its fingerprint. It is
// idempotent: if an entry already exists the stored artifact is returned
// unchanged and the new bytes are discarded, so concurrent duplicate
// synthesis never produces divergent cached copies. The returned artifact
// is pinned; the caller must call Release.
func (s *Store) Put(ctx context.Context, fingerprint core.Fingerprint, audio []byte, duration time.Duration) *core.AudioArtifact {
	artifact := &core.AudioArtifact{
		Fingerprint: fingerprint,
		Audio:       audio,
		Duration:    duration,
		CreatedAt:   time.Now().UTC(),
	}

	admitted, evicted := s.admit(artifact)
	s.deletePersisted(ctx, evicted)

	if s.persist != nil && admitted == artifact {
		uploadErr := s.uploadArtifact(ctx, admitted)
		if uploadErr != nil {
			s.log.Warn("Failed to persist artifact %s: %v", fingerprint, uploadErr)
		}
	}

	return admitted
}

// RecordHit increments the usage counter for a cached artifact. It is a
// side effect only and never fails the caller.
func (s *Store) RecordHit(fingerprint core.Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, ok := s.entries[fingerprint]
	if !ok {
		return
	}

	cached.hits++
	s.hits++
}

// Snapshot reports current cache usage counters.
func (s *Store) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Entries:   len(s.entries),
		Bytes:     s.totalBytes,
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
	}
}

// TopUsage returns the most frequently hit artifacts, most popular first,
// capped at limit entries.
func (s *Store) TopUsage(limit int) []Usage {
	s.mu.Lock()

	usage := make([]Usage, 0, len(s.entries))
	for fingerprint, cached := range s.entries {
		if cached.hits > 0 {
			usage = append(usage, Usage{Fingerprint: fingerprint, Hits: cached.hits})
		}
	}

	s.mu.Unlock()

	sort.Slice(usage, func(i, j int) bool {
		if usage[i].Hits != usage[j].Hits {
			return usage[i].Hits > usage[j].Hits
		}

		return usage[i].Fingerprint < usage[j].Fingerprint
	})

	if limit > 0 && len(usage) > limit {
		usage = usage[:limit]
	}

	return usage
}

// admit inserts an artifact into the index, evicting least-recently-used
// unpinned entries as needed. First writer wins: when the fingerprint is
// already present the existing artifact is returned. The returned artifact
// is pinned. Evicted fingerprints are returned for persisted cleanup.
func (s *Store) admit(artifact *core.AudioArtifact) (*core.AudioArtifact, []core.Fingerprint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entries[artifact.Fingerprint]
	if ok {
		s.lru.MoveToFront(existing.element)
		existing.pins++

		return existing.artifact, nil
	}

	newEntry := &entry{
		artifact: artifact,
		element:  nil,
		pins:     1,
		hits:     0,
	}
	newEntry.element = s.lru.PushFront(artifact.Fingerprint)
	s.entries[artifact.Fingerprint] = newEntry
	s.totalBytes += int64(len(artifact.Audio))

	evicted := s.evictOverCapacity()

	return artifact, evicted
}

// evictOverCapacity removes unpinned entries from the LRU tail until the
// cache fits its bounds. Pinned entries are skipped, never removed. Callers
// must hold s.mu.
func (s *Store) evictOverCapacity() []core.Fingerprint {
	var evicted []core.Fingerprint

	element := s.lru.Back()
	for element != nil && s.overCapacity() {
		previous := element.Prev()

		fingerprint, _ := element.Value.(core.Fingerprint)

		cached := s.entries[fingerprint]
		if cached.pins == 0 {
			s.lru.Remove(element)
			delete(s.entries, fingerprint)
			s.totalBytes -= int64(len(cached.artifact.Audio))
			s.evictions++
			evicted = append(evicted, fingerprint)
		}

		element = previous
	}

	return evicted
}

func (s *Store) overCapacity() bool {
	return len(s.entries) > s.maxEntries || s.totalBytes > s.maxBytes
}

func (s *Store) restoreFromPersist(ctx context.Context, fingerprint core.Fingerprint) *core.AudioArtifact {
	if s.persist == nil {
		return nil
	}

	data, err := s.persist.Download(ctx, fingerprint.String())
	if err != nil {
		return nil
	}

	var artifact core.AudioArtifact

	err = json.Unmarshal(data, &artifact)
	if err != nil {
		s.log.Warn("Discarding corrupt persisted artifact %s: %v", fingerprint, err)

		return nil
	}

	return &artifact
}

func (s *Store) uploadArtifact(ctx context.Context, artifact *core.AudioArtifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact %s: %w", artifact.Fingerprint, err)
	}

	err = s.persist.Upload(ctx, artifact.Fingerprint.String(), data)
	if err != nil {
		return fmt.Errorf("failed to upload artifact %s: %w", artifact.Fingerprint, err)
	}

	return nil
}

// deletePersisted removes evicted artifacts from the persisted bucket so a
// repeated request after eviction triggers exactly one re-synthesis rather
// than a silent restore of stale audio.
func (s *Store) deletePersisted(ctx context.Context, fingerprints []core.Fingerprint) {
	if s.persist == nil {
		return
	}

	for _, fingerprint := range fingerprints {
		deleteErr := s.persist.Delete(ctx, fingerprint.String())
		if deleteErr != nil {
			s.log.Warn("Failed to delete evicted artifact %s: %v", fingerprint, deleteErr)
		}
	}
}
