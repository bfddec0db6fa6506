package analytics_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-scheduler/internal/analytics"
	"github.com/book-expert/speech-scheduler/internal/cache"
	"github.com/book-expert/speech-scheduler/internal/core"
	"github.com/book-expert/speech-scheduler/internal/scheduler"
)

type stubCache struct {
	stats cache.Stats
	usage []cache.Usage
}

func (s *stubCache) Snapshot() cache.Stats {
	return s.stats
}

func (s *stubCache) TopUsage(limit int) []cache.Usage {
	if limit > 0 && len(s.usage) > limit {
		return s.usage[:limit]
	}

	return s.usage
}

type stubQueue struct {
	stats scheduler.Stats
}

func (s *stubQueue) Snapshot() scheduler.Stats {
	return s.stats
}

type stubRequests struct {
	counts map[string]uint64
}

func (s *stubRequests) UserRequestCounts() map[string]uint64 {
	return s.counts
}

func TestSnapshot_AggregatesAllSources(t *testing.T) {
	t.Parallel()

	cacheSource := &stubCache{
		stats: cache.Stats{Entries: 3, Bytes: 4096, Hits: 7, Misses: 2, Evictions: 1},
		usage: []cache.Usage{
			{Fingerprint: core.Fingerprint("aa"), Hits: 5},
			{Fingerprint: core.Fingerprint("bb"), Hits: 2},
		},
	}
	queueSource := &stubQueue{
		stats: scheduler.Stats{
			PendingAdmin:  1,
			PendingNormal: 2,
			InFlight:      true,
			InFlightUser:  "user-1",
			Submitted:     9,
			Completed:     6,
			Failed:        1,
			Cancelled:     2,
			AvgSynthesis:  time.Second,
			EstimatedWait: 3 * time.Second,
		},
	}
	requestSource := &stubRequests{counts: map[string]uint64{"user-1": 9}}

	view := analytics.New(cacheSource, queueSource, requestSource)

	snapshot := view.Snapshot()

	assert.False(t, snapshot.GeneratedAt.IsZero())
	assert.Equal(t, cacheSource.stats, snapshot.Cache)
	assert.Equal(t, queueSource.stats, snapshot.Queue)
	assert.Equal(t, cacheSource.usage, snapshot.TopArtifacts)
	require.Contains(t, snapshot.UserRequests, "user-1")
	assert.Equal(t, uint64(9), snapshot.UserRequests["user-1"])
}
