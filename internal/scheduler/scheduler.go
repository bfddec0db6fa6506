// Package scheduler implements the admission and priority queue that
// serializes synthesis requests against the single shared synthesis
// resource. It admits exactly one entry at a time, ranks administrator
// requests ahead of normal ones, keeps first-in-first-out order within a
// tier, and de-duplicates concurrent requests for the same fingerprint by
// attaching them as waiters on one entry.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-scheduler/internal/core"
)

// defaultWaitEstimate is the per-entry wait estimate used before any
// synthesis has completed.
const defaultWaitEstimate = 2 * time.Second

// Job describes one admitted synthesis call: the fingerprint being
// produced, the request that created the entry and the resolved voice.
type Job struct {
	Fingerprint core.Fingerprint
	Request     core.SynthesisRequest
	Voice       core.VoiceDescriptor
}

// Runner executes an admitted job against the shared synthesis resource.
// The orchestrator supplies it and is responsible for writing the result
// to the cache store before returning, so that waiters are only signaled
// after the artifact is cached.
type Runner func(ctx context.Context, job Job) (*core.AudioArtifact, error)

// Stats is a point-in-time snapshot of queue state for the status report.
type Stats struct {
	PendingAdmin  int           `json:"pending_admin"`
	PendingNormal int           `json:"pending_normal"`
	InFlight      bool          `json:"in_flight"`
	InFlightUser  string        `json:"in_flight_user"`
	Submitted     uint64        `json:"submitted"`
	Completed     uint64        `json:"completed"`
	Failed        uint64        `json:"failed"`
	Cancelled     uint64        `json:"cancelled"`
	AvgSynthesis  time.Duration `json:"avg_synthesis"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}

type entryState int

const (
	statePending entryState = iota
	stateAdmitted
)

type result struct {
	artifact *core.AudioArtifact
	err      error
}

type waiter struct {
	userID string
	ch     chan result
}

type entry struct {
	job        Job
	tier       core.PriorityTier
	seq        uint64
	state      entryState
	waiters    []*waiter
	enqueuedAt time.Time
	admittedAt time.Time
}

// Scheduler is the admission queue. All methods are safe for concurrent
// use; Run must be started once and owns the admitted slot.
type Scheduler struct {
	runner Runner
	log    *logger.Logger
	wake   chan struct{}

	mu         sync.Mutex
	entries    map[core.Fingerprint]*entry
	adminLane  []*entry
	normalLane []*entry
	seq        uint64
	inFlight   *entry

	submitted      uint64
	completed      uint64
	failed         uint64
	cancelled      uint64
	synthesisTotal time.Duration
}

// Handle is one caller's attachment to a queue entry. Wait blocks until
// the entry resolves or the context ends; Cancel detaches the waiter.
type Handle struct {
	scheduler   *Scheduler
	fingerprint core.Fingerprint
	waiter      *waiter
}

// New creates a scheduler that executes admitted jobs with the given
// runner.
func New(runner Runner, log *logger.Logger) *Scheduler {
	return &Scheduler{
		runner:         runner,
		log:            log,
		wake:           make(chan struct{}, 1),
		mu:             sync.Mutex{},
		entries:        make(map[core.Fingerprint]*entry),
		adminLane:      nil,
		normalLane:     nil,
		seq:            0,
		inFlight:       nil,
		submitted:      0,
		completed:      0,
		failed:         0,
		cancelled:      0,
		synthesisTotal: 0,
	}
}

// Submit enqueues a request. If an entry for the same fingerprint is
// already pending or admitted the request is attached as an additional
// waiter instead of creating a duplicate job.
func (s *Scheduler) Submit(request core.SynthesisRequest, fingerprint core.Fingerprint, voice core.VoiceDescriptor) *Handle {
	newWaiter := &waiter{
		userID: request.UserID,
		ch:     make(chan result, 1),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.submitted++

	existing, ok := s.entries[fingerprint]
	if ok {
		existing.waiters = append(existing.waiters, newWaiter)

		return &Handle{scheduler: s, fingerprint: fingerprint, waiter: newWaiter}
	}

	s.seq++
	newEntry := &entry{
		job: Job{
			Fingerprint: fingerprint,
			Request:     request,
			Voice:       voice,
		},
		tier:       request.Tier,
		seq:        s.seq,
		state:      statePending,
		waiters:    []*waiter{newWaiter},
		enqueuedAt: time.Now(),
		admittedAt: time.Time{},
	}

	s.entries[fingerprint] = newEntry

	if newEntry.tier == core.TierAdmin {
		s.adminLane = append(s.adminLane, newEntry)
	} else {
		s.normalLane = append(s.normalLane, newEntry)
	}

	s.signalWake()

	return &Handle{scheduler: s, fingerprint: fingerprint, waiter: newWaiter}
}

// Run owns the single-slot admission gate: it admits one pending entry at
// a time, executes it, and fans the result out to all waiters. It returns
// when the context ends, failing any still-pending entries.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.drainPending()

			return nil
		default:
		}

		admitted := s.admitNext()
		if admitted == nil {
			select {
			case <-ctx.Done():
				s.drainPending()

				return nil
			case <-s.wake:
				continue
			}
		}

		artifact, err := s.runner(ctx, admitted.job)
		s.complete(admitted, artifact, err)
	}
}

// Wait blocks until the entry resolves or ctx ends. Context expiry is
// treated as cancellation: the waiter detaches and receives ErrCancelled,
// while any in-flight synthesis keeps running for remaining waiters.
func (h *Handle) Wait(ctx context.Context) (*core.AudioArtifact, error) {
	select {
	case res := <-h.waiter.ch:
		return res.artifact, res.err
	case <-ctx.Done():
		h.Cancel()

		// The result may have been delivered while detaching.
		select {
		case res := <-h.waiter.ch:
			return res.artifact, res.err
		default:
			return nil, fmt.Errorf("%w: %w", core.ErrCancelled, ctx.Err())
		}
	}
}

// Cancel detaches this waiter. If it was the only waiter on a pending
// entry the entry is removed from the queue; an admitted entry's synthesis
// call is never interrupted.
func (h *Handle) Cancel() {
	s := h.scheduler

	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.entries[h.fingerprint]
	if !ok {
		return
	}

	s.detachLocked(owner, h.waiter, false)
}

// CancelUser detaches all pending waiters belonging to a user and reports
// how many were removed. Detached waiters receive ErrCancelled.
func (s *Scheduler) CancelUser(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0

	for _, pending := range s.pendingEntries() {
		for _, entryWaiter := range append([]*waiter(nil), pending.waiters...) {
			if entryWaiter.userID == userID {
				s.detachLocked(pending, entryWaiter, true)

				removed++
			}
		}
	}

	return removed
}

// Clear cancels every pending entry and reports how many were removed.
// Waiters receive ErrCancelled; an admitted entry is left to finish.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0

	for _, pending := range s.pendingEntries() {
		for _, entryWaiter := range append([]*waiter(nil), pending.waiters...) {
			s.detachLocked(pending, entryWaiter, true)
		}

		removed++
	}

	return removed
}

// Snapshot reports current queue state.
func (s *Scheduler) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		PendingAdmin:  len(s.adminLane),
		PendingNormal: len(s.normalLane),
		InFlight:      s.inFlight != nil,
		InFlightUser:  "",
		Submitted:     s.submitted,
		Completed:     s.completed,
		Failed:        s.failed,
		Cancelled:     s.cancelled,
		AvgSynthesis:  0,
		EstimatedWait: 0,
	}

	if s.inFlight != nil {
		stats.InFlightUser = s.inFlight.job.Request.UserID
	}

	perEntry := defaultWaitEstimate
	if s.completed > 0 {
		stats.AvgSynthesis = s.synthesisTotal / time.Duration(s.completed)
		perEntry = stats.AvgSynthesis
	}

	pending := len(s.adminLane) + len(s.normalLane)
	stats.EstimatedWait = time.Duration(pending) * perEntry

	return stats
}

// admitNext pops the highest-ranked pending entry and marks it admitted.
// Administrator entries go first; within a tier order is FIFO by insertion
// sequence. Returns nil when the queue is empty.
func (s *Scheduler) admitNext() *entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *entry

	switch {
	case len(s.adminLane) > 0:
		next = s.adminLane[0]
		s.adminLane = s.adminLane[1:]
	case len(s.normalLane) > 0:
		next = s.normalLane[0]
		s.normalLane = s.normalLane[1:]
	default:
		return nil
	}

	next.state = stateAdmitted
	next.admittedAt = time.Now()
	s.inFlight = next

	return next
}

// complete resolves an admitted entry: on success the artifact (already
// written to the cache by the runner) is fanned out to all remaining
// waiters; on failure all waiters receive the normalized backend error and
// the entry is removed with no automatic retry.
func (s *Scheduler) complete(finished *entry, artifact *core.AudioArtifact, err error) {
	s.mu.Lock()

	delete(s.entries, finished.job.Fingerprint)
	s.inFlight = nil

	waiters := finished.waiters
	finished.waiters = nil

	if err != nil {
		s.failed++
	} else {
		s.completed++
		s.synthesisTotal += time.Since(finished.admittedAt)
	}

	s.mu.Unlock()

	for _, entryWaiter := range waiters {
		entryWaiter.ch <- result{artifact: artifact, err: err}
	}

	if err != nil {
		s.log.Warn("Synthesis failed for %s: %v", finished.job.Fingerprint, err)
	}
}

// detachLocked removes one waiter from an entry. When notify is set the
// waiter receives ErrCancelled. A pending entry left with no waiters is
// removed from its lane and the entry map. Callers must hold s.mu.
func (s *Scheduler) detachLocked(owner *entry, target *waiter, notify bool) {
	found := false

	for i, entryWaiter := range owner.waiters {
		if entryWaiter == target {
			owner.waiters = append(owner.waiters[:i], owner.waiters[i+1:]...)
			found = true

			break
		}
	}

	if !found {
		return
	}

	s.cancelled++

	if notify {
		target.ch <- result{artifact: nil, err: core.ErrCancelled}
	}

	if owner.state == statePending && len(owner.waiters) == 0 {
		delete(s.entries, owner.job.Fingerprint)
		s.removeFromLane(owner)
	}
}

func (s *Scheduler) removeFromLane(target *entry) {
	lane := &s.normalLane
	if target.tier == core.TierAdmin {
		lane = &s.adminLane
	}

	for i, pending := range *lane {
		if pending == target {
			*lane = append((*lane)[:i], (*lane)[i+1:]...)

			return
		}
	}
}

func (s *Scheduler) pendingEntries() []*entry {
	pending := make([]*entry, 0, len(s.adminLane)+len(s.normalLane))
	pending = append(pending, s.adminLane...)
	pending = append(pending, s.normalLane...)

	return pending
}

// drainPending fails every still-pending entry on shutdown so no waiter
// blocks forever.
func (s *Scheduler) drainPending() {
	s.mu.Lock()

	var waiters []*waiter

	for _, pending := range s.pendingEntries() {
		delete(s.entries, pending.job.Fingerprint)
		waiters = append(waiters, pending.waiters...)
		pending.waiters = nil
	}

	s.adminLane = nil
	s.normalLane = nil

	s.mu.Unlock()

	for _, entryWaiter := range waiters {
		entryWaiter.ch <- result{artifact: nil, err: fmt.Errorf("%w: scheduler stopped", core.ErrCancelled)}
	}
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
