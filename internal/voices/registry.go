// Package voices implements the voice profile registry: each user's active
// voice descriptor, its append-only version history and the backup chain
// behind replace and restore. Profile logs are persisted per user so they
// survive process restart.
package voices

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/book-expert/speech-scheduler/internal/core"
)

const (
	profileKeyPrefix = "profiles/"
	sampleKeyPrefix  = "samples/"
)

// Sample format signatures recognized by validation.
var (
	riffMagic = []byte("RIFF")
	oggMagic  = []byte("OggS")
	flacMagic = []byte("fLaC")
	id3Magic  = []byte("ID3")
)

// mpegSyncByte marks a headerless MP3 frame stream.
const mpegSyncByte = 0xFF

// Limits is the sample validation policy. Zero values disable the
// corresponding bound.
type Limits struct {
	MinSampleBytes int
	MaxSampleBytes int
	MaxBackups     int
}

// profile is the per-user mutable state. Its mutex serializes mutations
// for one user; different users' profiles are locked independently.
type profile struct {
	mu        sync.Mutex
	loaded    bool
	History   []core.VersionEntry `json:"history"` // newest first
	CurrentID string              `json:"current_id"`
}

// Registry tracks voice profiles for all users. All methods are safe for
// concurrent use; mutations for a single user are serialized.
type Registry struct {
	store  core.ObjectStore
	limits Limits
	log    *logger.Logger
	engine core.EngineID

	mu    sync.Mutex
	users map[string]*profile
}

// New creates a registry persisting through the given object store.
// Descriptors created from uploaded samples are attributed to nativeEngine,
// the engine that consumes raw speaker samples.
func New(store core.ObjectStore, nativeEngine core.EngineID, limits Limits, log *logger.Logger) *Registry {
	return &Registry{
		store:  store,
		limits: limits,
		log:    log,
		engine: nativeEngine,
		mu:     sync.Mutex{},
		users:  make(map[string]*profile),
	}
}

// Active returns the user's current voice descriptor, or false when the
// user has no profile and the caller should fall back to a default voice.
func (r *Registry) Active(ctx context.Context, userID string) (core.VoiceDescriptor, bool) {
	userProfile := r.profileFor(userID)

	userProfile.mu.Lock()
	defer userProfile.mu.Unlock()

	r.ensureLoaded(ctx, userID, userProfile)

	current := userProfile.current()
	if current == nil {
		return core.VoiceDescriptor{}, false
	}

	return current.Descriptor, true
}

// Upload validates a voice sample, stores it, appends a new version to the
// user's history and makes it current. Fails with core.ErrInvalidSample
// when the sample is empty, too short, too long or in an unknown format.
func (r *Registry) Upload(ctx context.Context, userID, voiceName string, sample []byte) (core.VoiceDescriptor, error) {
	validateErr := r.validateSample(sample)
	if validateErr != nil {
		return core.VoiceDescriptor{}, validateErr
	}

	userProfile := r.profileFor(userID)

	userProfile.mu.Lock()
	defer userProfile.mu.Unlock()

	r.ensureLoaded(ctx, userID, userProfile)

	versionID := uuid.NewString()
	sampleKey := sampleKeyPrefix + userID + "/" + versionID

	uploadErr := r.store.Upload(ctx, sampleKey, sample)
	if uploadErr != nil {
		return core.VoiceDescriptor{}, fmt.Errorf("failed to store voice sample for user %s: %w", userID, uploadErr)
	}

	version := core.VersionEntry{
		ID: versionID,
		Descriptor: core.VoiceDescriptor{
			Engine:    r.engine,
			Reference: sampleKey,
			Name:      voiceName,
		},
		CreatedAt: time.Now().UTC(),
		SampleKey: sampleKey,
	}

	// Stage the new state and persist it before touching the live profile,
	// so a persist failure leaves the served voice unchanged.
	staged := &profile{
		mu:        sync.Mutex{},
		loaded:    true,
		History:   append([]core.VersionEntry{version}, userProfile.History...),
		CurrentID: versionID,
	}

	pruned := r.prune(staged)

	persistErr := r.persist(ctx, userID, staged)
	if persistErr != nil {
		r.deleteSamples(ctx, []core.VersionEntry{version})

		return core.VoiceDescriptor{}, persistErr
	}

	userProfile.History = staged.History
	userProfile.CurrentID = staged.CurrentID

	r.deleteSamples(ctx, pruned)

	return version.Descriptor, nil
}

// Replace supersedes the user's current voice with a new sample. The prior
// current version is retained in history as a backup; this operation never
// deletes it.
func (r *Registry) Replace(ctx context.Context, userID, voiceName string, sample []byte) (core.VoiceDescriptor, error) {
	return r.Upload(ctx, userID, voiceName, sample)
}

// Restore moves the user's current pointer to an existing version. It does
// not create a new version and does not delete versions created after the
// restored one; they remain reachable for future restores. Fails with
// core.ErrVersionNotFound when the version is absent from history.
func (r *Registry) Restore(ctx context.Context, userID, versionID string) (core.VoiceDescriptor, error) {
	userProfile := r.profileFor(userID)

	userProfile.mu.Lock()
	defer userProfile.mu.Unlock()

	r.ensureLoaded(ctx, userID, userProfile)

	restored := userProfile.find(versionID)
	if restored == nil {
		return core.VoiceDescriptor{}, fmt.Errorf("%w: %s", core.ErrVersionNotFound, versionID)
	}

	staged := &profile{
		mu:        sync.Mutex{},
		loaded:    true,
		History:   userProfile.History,
		CurrentID: versionID,
	}

	persistErr := r.persist(ctx, userID, staged)
	if persistErr != nil {
		return core.VoiceDescriptor{}, persistErr
	}

	userProfile.CurrentID = versionID

	return restored.Descriptor, nil
}

// History returns the user's version entries, newest first. The returned
// slice is a copy and safe to retain.
func (r *Registry) History(ctx context.Context, userID string) []core.VersionEntry {
	userProfile := r.profileFor(userID)

	userProfile.mu.Lock()
	defer userProfile.mu.Unlock()

	r.ensureLoaded(ctx, userID, userProfile)

	history := make([]core.VersionEntry, len(userProfile.History))
	copy(history, userProfile.History)

	return history
}

func (p *profile) current() *core.VersionEntry {
	return p.find(p.CurrentID)
}

func (p *profile) find(versionID string) *core.VersionEntry {
	if versionID == "" {
		return nil
	}

	for i := range p.History {
		if p.History[i].ID == versionID {
			return &p.History[i]
		}
	}

	return nil
}

func (r *Registry) profileFor(userID string) *profile {
	r.mu.Lock()
	defer r.mu.Unlock()

	userProfile, ok := r.users[userID]
	if !ok {
		userProfile = &profile{
			mu:        sync.Mutex{},
			loaded:    false,
			History:   nil,
			CurrentID: "",
		}
		r.users[userID] = userProfile
	}

	return userProfile
}

// ensureLoaded restores the profile log from the object store on first
// touch after startup. A missing key means a fresh profile. Callers must
// hold the profile mutex.
func (r *Registry) ensureLoaded(ctx context.Context, userID string, userProfile *profile) {
	if userProfile.loaded {
		return
	}

	userProfile.loaded = true

	data, err := r.store.Download(ctx, profileKeyPrefix+userID)
	if err != nil {
		return
	}

	var persisted profile

	err = json.Unmarshal(data, &persisted)
	if err != nil {
		r.log.Warn("Discarding corrupt profile log for user %s: %v", userID, err)

		return
	}

	userProfile.History = persisted.History
	userProfile.CurrentID = persisted.CurrentID
}

func (r *Registry) persist(ctx context.Context, userID string, userProfile *profile) error {
	data, err := json.Marshal(userProfile)
	if err != nil {
		return fmt.Errorf("failed to marshal profile log for user %s: %w", userID, err)
	}

	err = r.store.Upload(ctx, profileKeyPrefix+userID, data)
	if err != nil {
		return fmt.Errorf("failed to persist profile log for user %s: %w", userID, err)
	}

	return nil
}

// prune enforces the backup count bound. The history is append-only except
// for this policy: when it grows past MaxBackups the oldest non-current
// versions are dropped. The current version is never pruned. Returns the
// removed entries so their samples can be cleaned up.
func (r *Registry) prune(userProfile *profile) []core.VersionEntry {
	if r.limits.MaxBackups <= 0 || len(userProfile.History) <= r.limits.MaxBackups {
		return nil
	}

	var (
		kept    []core.VersionEntry
		removed []core.VersionEntry
	)

	excess := len(userProfile.History) - r.limits.MaxBackups

	// Walk oldest-first so the oldest non-current entries go first.
	for i := len(userProfile.History) - 1; i >= 0; i-- {
		version := userProfile.History[i]
		if excess > 0 && version.ID != userProfile.CurrentID {
			removed = append(removed, version)
			excess--

			continue
		}

		kept = append([]core.VersionEntry{version}, kept...)
	}

	userProfile.History = kept

	return removed
}

func (r *Registry) deleteSamples(ctx context.Context, versions []core.VersionEntry) {
	for _, version := range versions {
		deleteErr := r.store.Delete(ctx, version.SampleKey)
		if deleteErr != nil {
			r.log.Warn("Failed to delete pruned sample %s: %v", version.SampleKey, deleteErr)
		}
	}
}

// validateSample performs the minimal checks required before a sample is
// accepted: non-empty, within configured size bounds, and a recognizable
// audio container (WAV, MP3, OGG or FLAC).
func (r *Registry) validateSample(sample []byte) error {
	if len(sample) == 0 {
		return fmt.Errorf("%w: sample is empty", core.ErrInvalidSample)
	}

	if r.limits.MinSampleBytes > 0 && len(sample) < r.limits.MinSampleBytes {
		return fmt.Errorf("%w: sample is %d bytes, minimum is %d", core.ErrInvalidSample, len(sample), r.limits.MinSampleBytes)
	}

	if r.limits.MaxSampleBytes > 0 && len(sample) > r.limits.MaxSampleBytes {
		return fmt.Errorf("%w: sample is %d bytes, maximum is %d", core.ErrInvalidSample, len(sample), r.limits.MaxSampleBytes)
	}

	if !recognizedFormat(sample) {
		return fmt.Errorf("%w: unsupported audio format", core.ErrInvalidSample)
	}

	return nil
}

func recognizedFormat(sample []byte) bool {
	switch {
	case bytes.HasPrefix(sample, riffMagic),
		bytes.HasPrefix(sample, oggMagic),
		bytes.HasPrefix(sample, flacMagic),
		bytes.HasPrefix(sample, id3Magic):
		return true
	case len(sample) >= 2 && sample[0] == mpegSyncByte && sample[1]&0xE0 == 0xE0:
		return true
	default:
		return false
	}
}
