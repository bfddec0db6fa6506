// Package engine_test tests the synthesis backend adapters.
package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/book-expert/speech-scheduler/internal/core"
	"github.com/book-expert/speech-scheduler/internal/engine"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "engine-test.log")
	require.NoError(t, err)

	return testLogger
}

func defaultParams() core.SynthesisParams {
	return core.SynthesisParams{Language: "en", Speed: 1.0, Temperature: 0.7, Seed: 0}
}

func TestNewSet_IndexesByIdentity(t *testing.T) {
	t.Parallel()

	cloud := engine.NewOpenAI(engine.OpenAIConfig{APIKey: "", Model: "", Aliases: nil}, newTestLogger(t))

	local, err := engine.NewChatLLM(engine.ChatLLMConfig{
		Binary:        "",
		ModelPath:     "models/tts.gguf",
		SnacModelPath: "models/snac.gguf",
		Device:        "",
		NGL:           0,
		Aliases:       nil,
	}, nil, newTestLogger(t))
	require.NoError(t, err)

	set := engine.NewSet(cloud, local)
	require.Len(t, set, 2)
	assert.Same(t, cloud, set[core.EngineOpenAI])
	assert.Same(t, local, set[core.EngineChatLLM])
}

func TestOpenAI_UnconfiguredIsUnavailable(t *testing.T) {
	t.Parallel()

	cloud := engine.NewOpenAI(engine.OpenAIConfig{APIKey: "", Model: "", Aliases: nil}, newTestLogger(t))

	voice := core.VoiceDescriptor{Engine: core.EngineOpenAI, Reference: "alloy", Name: "alloy"}

	_, err := cloud.Synthesize(context.Background(), "hello", voice, defaultParams())
	require.ErrorIs(t, err, core.ErrBackendUnavailable)
}

func TestOpenAI_RejectsForeignDescriptor(t *testing.T) {
	t.Parallel()

	cloud := engine.NewOpenAI(engine.OpenAIConfig{APIKey: "test-key", Model: "", Aliases: nil}, newTestLogger(t))

	foreign := core.VoiceDescriptor{Engine: core.EngineChatLLM, Reference: "speaker.wav", Name: "cloned"}

	_, err := cloud.Synthesize(context.Background(), "hello", foreign, defaultParams())
	require.ErrorIs(t, err, core.ErrInvalidVoice)
}

func TestOpenAI_TranslateVoice(t *testing.T) {
	t.Parallel()

	cloud := engine.NewOpenAI(engine.OpenAIConfig{
		APIKey:  "",
		Model:   "",
		Aliases: map[string]string{"speaker.wav": "alloy"},
	}, newTestLogger(t))

	native := core.VoiceDescriptor{Engine: core.EngineOpenAI, Reference: "echo", Name: "echo"}

	identity, err := cloud.TranslateVoice(native)
	require.NoError(t, err)
	assert.Equal(t, native, identity)

	foreign := core.VoiceDescriptor{Engine: core.EngineChatLLM, Reference: "speaker.wav", Name: "cloned"}

	translated, err := cloud.TranslateVoice(foreign)
	require.NoError(t, err)
	assert.Equal(t, core.EngineOpenAI, translated.Engine)
	assert.Equal(t, "alloy", translated.Reference)
	assert.Equal(t, "cloned", translated.Name)

	unknown := core.VoiceDescriptor{Engine: core.EngineChatLLM, Reference: "other.wav", Name: "other"}

	_, err = cloud.TranslateVoice(unknown)
	require.ErrorIs(t, err, core.ErrInvalidVoice)
}

func TestNewChatLLM_RequiresModelPath(t *testing.T) {
	t.Parallel()

	_, err := engine.NewChatLLM(engine.ChatLLMConfig{
		Binary:        "",
		ModelPath:     "",
		SnacModelPath: "",
		Device:        "",
		NGL:           0,
		Aliases:       nil,
	}, nil, newTestLogger(t))
	require.ErrorIs(t, err, core.ErrBackendUnavailable)
}

func TestChatLLM_RejectsForeignDescriptor(t *testing.T) {
	t.Parallel()

	local, err := engine.NewChatLLM(engine.ChatLLMConfig{
		Binary:        "",
		ModelPath:     "models/tts.gguf",
		SnacModelPath: "models/snac.gguf",
		Device:        "",
		NGL:           0,
		Aliases:       nil,
	}, nil, newTestLogger(t))
	require.NoError(t, err)

	foreign := core.VoiceDescriptor{Engine: core.EngineOpenAI, Reference: "alloy", Name: "alloy"}

	_, err = local.Synthesize(context.Background(), "hello", foreign, defaultParams())
	require.ErrorIs(t, err, core.ErrInvalidVoice)
}

func TestChatLLM_MissingBinaryIsUnavailable(t *testing.T) {
	t.Parallel()

	local, err := engine.NewChatLLM(engine.ChatLLMConfig{
		Binary:        "definitely-not-an-installed-binary",
		ModelPath:     "models/tts.gguf",
		SnacModelPath: "models/snac.gguf",
		Device:        "",
		NGL:           0,
		Aliases:       nil,
	}, nil, newTestLogger(t))
	require.NoError(t, err)

	voice := core.VoiceDescriptor{Engine: core.EngineChatLLM, Reference: "speaker.wav", Name: "cloned"}

	_, err = local.Synthesize(context.Background(), "hello", voice, defaultParams())
	require.ErrorIs(t, err, core.ErrBackendUnavailable)
}

func TestChatLLM_ExpiredContextIsTimeout(t *testing.T) {
	t.Parallel()

	local, err := engine.NewChatLLM(engine.ChatLLMConfig{
		Binary:        "definitely-not-an-installed-binary",
		ModelPath:     "models/tts.gguf",
		SnacModelPath: "models/snac.gguf",
		Device:        "",
		NGL:           0,
		Aliases:       nil,
	}, nil, newTestLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()

	<-ctx.Done()

	voice := core.VoiceDescriptor{Engine: core.EngineChatLLM, Reference: "speaker.wav", Name: "cloned"}

	_, err = local.Synthesize(ctx, "hello", voice, defaultParams())
	require.ErrorIs(t, err, core.ErrTimeout)
}

func TestChatLLM_TranslateVoice(t *testing.T) {
	t.Parallel()

	local, err := engine.NewChatLLM(engine.ChatLLMConfig{
		Binary:        "",
		ModelPath:     "models/tts.gguf",
		SnacModelPath: "models/snac.gguf",
		Device:        "",
		NGL:           0,
		Aliases:       map[string]string{"alloy": "presets/alloy-like.wav"},
	}, nil, newTestLogger(t))
	require.NoError(t, err)

	preset := core.VoiceDescriptor{Engine: core.EngineOpenAI, Reference: "alloy", Name: "alloy"}

	translated, translateErr := local.TranslateVoice(preset)
	require.NoError(t, translateErr)
	assert.Equal(t, core.EngineChatLLM, translated.Engine)
	assert.Equal(t, "presets/alloy-like.wav", translated.Reference)

	unknown := core.VoiceDescriptor{Engine: core.EngineOpenAI, Reference: "nova", Name: "nova"}

	_, translateErr = local.TranslateVoice(unknown)
	require.ErrorIs(t, translateErr, core.ErrInvalidVoice)
}
