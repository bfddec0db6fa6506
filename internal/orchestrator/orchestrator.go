// Package orchestrator ties the cache store, voice profile registry,
// synthesis engines and admission queue together behind a single Handle
// call. It is the only component that talks to both the cache and the
// queue, keeping cache-population logic out of the queue itself.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-scheduler/internal/cache"
	"github.com/book-expert/speech-scheduler/internal/core"
	"github.com/book-expert/speech-scheduler/internal/engine"
	"github.com/book-expert/speech-scheduler/internal/scheduler"
	"github.com/book-expert/speech-scheduler/internal/text"
	"github.com/book-expert/speech-scheduler/internal/voices"
)

// audioBytesPerSecond approximates artifact duration from payload size for
// engines that report none (16-bit mono at 24 kHz).
const audioBytesPerSecond = 48000

// Orchestrator resolves, schedules and caches synthesis requests.
type Orchestrator struct {
	cache      *cache.Store
	registry   *voices.Registry
	engines    engine.Set
	normalizer *text.Normalizer
	scheduler  *scheduler.Scheduler
	defaults   Defaults
	log        *logger.Logger

	mu           sync.Mutex
	userRequests map[string]uint64
}

// Defaults name the fallbacks applied when a request does not specify an
// engine or the requester has no voice profile.
type Defaults struct {
	Engine core.EngineID
	Voice  core.VoiceDescriptor
}

// New wires an orchestrator. The returned scheduler must be started with
// Run before requests are handled.
func New(cacheStore *cache.Store, registry *voices.Registry, engines engine.Set, defaults Defaults, log *logger.Logger) *Orchestrator {
	orc := &Orchestrator{
		cache:        cacheStore,
		registry:     registry,
		engines:      engines,
		normalizer:   text.NewNormalizer(),
		scheduler:    nil,
		defaults:     defaults,
		log:          log,
		mu:           sync.Mutex{},
		userRequests: make(map[string]uint64),
	}

	orc.scheduler = scheduler.New(orc.runJob, log)

	return orc
}

// Scheduler exposes the admission queue for Run, status reporting and the
// administrative cancel operations.
func (o *Orchestrator) Scheduler() *scheduler.Scheduler {
	return o.scheduler
}

// Handle processes one synthesis request: fingerprint, cache lookup (hit
// returns immediately), otherwise resolve the effective voice, submit to
// the admission queue and await the result. The returned flag reports
// whether the artifact was served from the cache without synthesis.
// Callers layer timeouts by bounding ctx; expiry while waiting behaves as
// cancellation.
func (o *Orchestrator) Handle(ctx context.Context, request core.SynthesisRequest) (*core.AudioArtifact, bool, error) {
	normalized := o.normalizer.Normalize(request.Text)
	if normalized == "" {
		return nil, false, core.ErrEmptyText
	}

	eng, voice, resolveErr := o.resolve(ctx, request)
	if resolveErr != nil {
		return nil, false, resolveErr
	}

	o.countRequest(request.UserID)

	fingerprint := core.NewFingerprint(normalized, voice.Reference, eng.ID(), request.Params)

	if artifact, ok := o.cache.Lookup(ctx, fingerprint); ok {
		o.cache.RecordHit(fingerprint)
		defer o.cache.Release(fingerprint)

		return artifact, true, nil
	}

	scheduled := request
	scheduled.Text = normalized
	scheduled.Engine = eng.ID()

	handle := o.scheduler.Submit(scheduled, fingerprint, voice)

	artifact, waitErr := handle.Wait(ctx)
	if waitErr != nil {
		return nil, false, waitErr
	}

	// Take this caller's own read pin. A waiter that cancelled before this
	// point never pins, so completed artifacts are never stranded pinned.
	if _, pinned := o.cache.Acquire(fingerprint); pinned {
		defer o.cache.Release(fingerprint)
	}

	return artifact, false, nil
}

// UserRequestCounts reports per-user request totals for the analytics
// view.
func (o *Orchestrator) UserRequestCounts() map[string]uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	counts := make(map[string]uint64, len(o.userRequests))
	for userID, count := range o.userRequests {
		counts[userID] = count
	}

	return counts
}

// runJob is the admitted-slot executor handed to the scheduler. It invokes
// the engine and writes the result to the cache before returning, so the
// queue signals waiters only after the artifact is cached.
func (o *Orchestrator) runJob(ctx context.Context, job scheduler.Job) (*core.AudioArtifact, error) {
	// A submission can land after an earlier entry for the same content
	// already completed and was removed from the queue. Serve the cached
	// artifact instead of synthesizing it a second time.
	if artifact, ok := o.cache.Acquire(job.Fingerprint); ok {
		o.cache.Release(job.Fingerprint)

		return artifact, nil
	}

	eng, ok := o.engines[job.Voice.Engine]
	if !ok {
		return nil, fmt.Errorf("%w: engine %s not available", core.ErrBackendUnavailable, job.Voice.Engine)
	}

	audio, synthErr := eng.Synthesize(ctx, job.Request.Text, job.Voice, job.Request.Params)
	if synthErr != nil {
		return nil, synthErr
	}

	duration := time.Duration(len(audio)) * time.Second / audioBytesPerSecond

	artifact := o.cache.Put(ctx, job.Fingerprint, audio, duration)

	// Drop the writer's pin. Each waiter handed the artifact pins it for
	// itself on receipt.
	o.cache.Release(job.Fingerprint)

	return artifact, nil
}

// resolve picks the engine and the effective voice descriptor for a
// request: an explicit voice override wins, then the requester's active
// profile voice, then the configured default. Descriptors created under
// another engine are translated, failing with ErrInvalidVoice when no
// faithful translation exists.
func (o *Orchestrator) resolve(ctx context.Context, request core.SynthesisRequest) (core.Engine, core.VoiceDescriptor, error) {
	engineID := request.Engine
	if engineID == "" {
		engineID = o.defaults.Engine
	}

	eng, ok := o.engines[engineID]
	if !ok {
		return nil, core.VoiceDescriptor{}, fmt.Errorf("%w: engine %s not available", core.ErrBackendUnavailable, engineID)
	}

	voice := o.defaults.Voice

	if request.VoiceID != "" {
		voice = core.VoiceDescriptor{Engine: engineID, Reference: request.VoiceID, Name: request.VoiceID}
	} else if active, hasProfile := o.registry.Active(ctx, request.UserID); hasProfile {
		voice = active
	}

	if voice.Engine != engineID {
		translated, translateErr := eng.TranslateVoice(voice)
		if translateErr != nil {
			return nil, core.VoiceDescriptor{}, translateErr
		}

		voice = translated
	}

	return eng, voice, nil
}

func (o *Orchestrator) countRequest(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.userRequests[userID]++
}
