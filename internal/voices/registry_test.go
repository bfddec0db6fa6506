// Package voices_test tests the voice profile registry.
package voices_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-scheduler/internal/core"
	"github.com/book-expert/speech-scheduler/internal/voices"
)

var errMockNotFound = errors.New("mock object not found")

// wavSample returns a minimal RIFF-tagged payload that passes validation.
func wavSample(filler string) []byte {
	return append([]byte("RIFF"), []byte(filler)...)
}

type mockObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{
		mu:      sync.Mutex{},
		objects: make(map[string][]byte),
	}
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, errMockNotFound
	}

	return data, nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data

	return nil
}

func (m *mockObjectStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

var errMockPersist = errors.New("mock persist failure")

// flakyProfileStore fails profile log writes on demand while passing
// sample writes through.
type flakyProfileStore struct {
	*mockObjectStore
	failProfileWrites bool
}

func (f *flakyProfileStore) Upload(ctx context.Context, key string, data []byte) error {
	if f.failProfileWrites && strings.HasPrefix(key, "profiles/") {
		return errMockPersist
	}

	return f.mockObjectStore.Upload(ctx, key, data)
}

func newTestRegistry(t *testing.T, store core.ObjectStore, limits voices.Limits) *voices.Registry {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "voices-test.log")
	require.NoError(t, err)

	return voices.New(store, core.EngineChatLLM, limits, testLogger)
}

func TestActive_AbsentUserFallsBackToDefault(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, newMockObjectStore(), voices.Limits{MinSampleBytes: 0, MaxSampleBytes: 0, MaxBackups: 0})

	_, ok := registry.Active(context.Background(), "nobody")
	assert.False(t, ok)
}

func TestUpload_SetsCurrentVersion(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, newMockObjectStore(), voices.Limits{MinSampleBytes: 0, MaxSampleBytes: 0, MaxBackups: 0})

	descriptor, err := registry.Upload(context.Background(), "user-1", "my voice", wavSample("sample one"))
	require.NoError(t, err)
	assert.Equal(t, core.EngineChatLLM, descriptor.Engine)
	assert.Equal(t, "my voice", descriptor.Name)
	assert.NotEmpty(t, descriptor.Reference)

	active, ok := registry.Active(context.Background(), "user-1")
	require.True(t, ok)
	assert.Equal(t, descriptor, active)

	history := registry.History(context.Background(), "user-1")
	require.Len(t, history, 1)
	assert.Equal(t, descriptor, history[0].Descriptor)
}

func TestUpload_RejectsInvalidSamples(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, newMockObjectStore(), voices.Limits{MinSampleBytes: 16, MaxSampleBytes: 64, MaxBackups: 0})

	testCases := []struct {
		name   string
		sample []byte
	}{
		{name: "empty", sample: nil},
		{name: "unknown format", sample: []byte("this is not audio data")},
		{name: "below minimum size", sample: []byte("RIFFx")},
		{name: "above maximum size", sample: wavSample(string(make([]byte, 128)))},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := registry.Upload(context.Background(), "user-1", "voice", testCase.sample)
			require.ErrorIs(t, err, core.ErrInvalidSample)
		})
	}
}

func TestUpload_AcceptsCommonContainers(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, newMockObjectStore(), voices.Limits{MinSampleBytes: 0, MaxSampleBytes: 0, MaxBackups: 0})

	samples := map[string][]byte{
		"wav":  append([]byte("RIFF"), []byte("wave data")...),
		"ogg":  append([]byte("OggS"), []byte("ogg data")...),
		"flac": append([]byte("fLaC"), []byte("flac data")...),
		"mp3":  append([]byte("ID3"), []byte("mp3 data")...),
		"mp3 frame": {
			0xFF, 0xFB, 0x90, 0x00, 0x01, 0x02,
		},
	}

	for name, sample := range samples {
		_, err := registry.Upload(context.Background(), "user-"+name, name, sample)
		require.NoError(t, err, "sample format %s should be accepted", name)
	}
}

func TestReplaceAndRestore_Scenario(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, newMockObjectStore(), voices.Limits{MinSampleBytes: 0, MaxSampleBytes: 0, MaxBackups: 0})
	ctx := context.Background()

	// Upload S1: current is v1.
	_, err := registry.Upload(ctx, "user-1", "first", wavSample("sample one"))
	require.NoError(t, err)

	historyAfterUpload := registry.History(ctx, "user-1")
	require.Len(t, historyAfterUpload, 1)

	versionOne := historyAfterUpload[0]

	// Replace with S2: current is v2, v1 retained as backup.
	replaced, err := registry.Replace(ctx, "user-1", "second", wavSample("sample two"))
	require.NoError(t, err)

	historyAfterReplace := registry.History(ctx, "user-1")
	require.Len(t, historyAfterReplace, 2)
	assert.Equal(t, "second", historyAfterReplace[0].Descriptor.Name)
	assert.Equal(t, versionOne.ID, historyAfterReplace[1].ID)

	active, ok := registry.Active(ctx, "user-1")
	require.True(t, ok)
	assert.Equal(t, replaced, active)

	// Restore v1: current moves back, v2 stays reachable.
	restored, err := registry.Restore(ctx, "user-1", versionOne.ID)
	require.NoError(t, err)
	assert.Equal(t, versionOne.Descriptor, restored)

	active, ok = registry.Active(ctx, "user-1")
	require.True(t, ok)
	assert.Equal(t, versionOne.Descriptor, active)

	// History is newest-first regardless of the current pointer.
	finalHistory := registry.History(ctx, "user-1")
	require.Len(t, finalHistory, 2)
	assert.Equal(t, "second", finalHistory[0].Descriptor.Name)
	assert.Equal(t, "first", finalHistory[1].Descriptor.Name)
}

func TestUpload_PersistFailureLeavesProfileUnchanged(t *testing.T) {
	t.Parallel()

	store := &flakyProfileStore{mockObjectStore: newMockObjectStore(), failProfileWrites: false}
	registry := newTestRegistry(t, store, voices.Limits{MinSampleBytes: 0, MaxSampleBytes: 0, MaxBackups: 0})
	ctx := context.Background()

	uploaded, err := registry.Upload(ctx, "user-1", "first", wavSample("sample one"))
	require.NoError(t, err)

	store.failProfileWrites = true

	_, err = registry.Upload(ctx, "user-1", "second", wavSample("sample two"))
	require.ErrorIs(t, err, errMockPersist)

	// The served voice and history must not reflect the failed upload.
	active, ok := registry.Active(ctx, "user-1")
	require.True(t, ok)
	assert.Equal(t, uploaded, active)

	history := registry.History(ctx, "user-1")
	require.Len(t, history, 1)
	assert.Equal(t, uploaded, history[0].Descriptor)
}

func TestRestore_PersistFailureLeavesCurrentUnchanged(t *testing.T) {
	t.Parallel()

	store := &flakyProfileStore{mockObjectStore: newMockObjectStore(), failProfileWrites: false}
	registry := newTestRegistry(t, store, voices.Limits{MinSampleBytes: 0, MaxSampleBytes: 0, MaxBackups: 0})
	ctx := context.Background()

	_, err := registry.Upload(ctx, "user-1", "first", wavSample("sample one"))
	require.NoError(t, err)

	replaced, err := registry.Replace(ctx, "user-1", "second", wavSample("sample two"))
	require.NoError(t, err)

	history := registry.History(ctx, "user-1")
	require.Len(t, history, 2)

	versionOne := history[1]

	store.failProfileWrites = true

	_, err = registry.Restore(ctx, "user-1", versionOne.ID)
	require.ErrorIs(t, err, errMockPersist)

	active, ok := registry.Active(ctx, "user-1")
	require.True(t, ok)
	assert.Equal(t, replaced, active)
}

func TestRestore_UnknownVersionFails(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, newMockObjectStore(), voices.Limits{MinSampleBytes: 0, MaxSampleBytes: 0, MaxBackups: 0})

	_, err := registry.Upload(context.Background(), "user-1", "voice", wavSample("sample"))
	require.NoError(t, err)

	_, err = registry.Restore(context.Background(), "user-1", "no-such-version")
	require.ErrorIs(t, err, core.ErrVersionNotFound)
}

func TestPrune_EnforcesBackupBoundButKeepsCurrent(t *testing.T) {
	t.Parallel()

	store := newMockObjectStore()
	registry := newTestRegistry(t, store, voices.Limits{MinSampleBytes: 0, MaxSampleBytes: 0, MaxBackups: 2})
	ctx := context.Background()

	_, err := registry.Upload(ctx, "user-1", "one", wavSample("s1"))
	require.NoError(t, err)
	_, err = registry.Upload(ctx, "user-1", "two", wavSample("s2"))
	require.NoError(t, err)
	_, err = registry.Upload(ctx, "user-1", "three", wavSample("s3"))
	require.NoError(t, err)

	history := registry.History(ctx, "user-1")
	require.Len(t, history, 2)
	assert.Equal(t, "three", history[0].Descriptor.Name)
	assert.Equal(t, "two", history[1].Descriptor.Name)

	active, ok := registry.Active(ctx, "user-1")
	require.True(t, ok)
	assert.Equal(t, "three", active.Name)
}

func TestRegistry_SurvivesRestart(t *testing.T) {
	t.Parallel()

	store := newMockObjectStore()
	ctx := context.Background()

	warm := newTestRegistry(t, store, voices.Limits{MinSampleBytes: 0, MaxSampleBytes: 0, MaxBackups: 0})

	uploaded, err := warm.Upload(ctx, "user-1", "persisted", wavSample("sample"))
	require.NoError(t, err)

	// A fresh registry over the same store simulates a process restart.
	cold := newTestRegistry(t, store, voices.Limits{MinSampleBytes: 0, MaxSampleBytes: 0, MaxBackups: 0})

	active, ok := cold.Active(ctx, "user-1")
	require.True(t, ok)
	assert.Equal(t, uploaded, active)

	history := cold.History(ctx, "user-1")
	require.Len(t, history, 1)
}

func TestMutations_IndependentAcrossUsers(t *testing.T) {
	t.Parallel()

	registry := newTestRegistry(t, newMockObjectStore(), voices.Limits{MinSampleBytes: 0, MaxSampleBytes: 0, MaxBackups: 0})
	ctx := context.Background()

	const users = 8

	var waitGroup sync.WaitGroup

	for i := range users {
		waitGroup.Add(1)

		go func(index int) {
			defer waitGroup.Done()

			userID := string(rune('a' + index))

			_, uploadErr := registry.Upload(ctx, userID, "voice", wavSample("sample"))
			assert.NoError(t, uploadErr)

			_, replaceErr := registry.Replace(ctx, userID, "replacement", wavSample("sample two"))
			assert.NoError(t, replaceErr)
		}(i)
	}

	waitGroup.Wait()

	for i := range users {
		userID := string(rune('a' + i))

		history := registry.History(ctx, userID)
		assert.Len(t, history, 2)
	}
}
