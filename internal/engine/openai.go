package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/book-expert/logger"
	openai "github.com/sashabaranov/go-openai"

	"github.com/book-expert/speech-scheduler/internal/core"
)

// OpenAIConfig holds the settings for the premium cloud engine.
type OpenAIConfig struct {
	APIKey string
	Model  string
	// Aliases maps local speaker references onto cloud preset voice
	// names, enabling approximate cross-engine translation.
	Aliases map[string]string
}

// OpenAI is the premium cloud synthesis backend, speaking the OpenAI
// speech API. A missing API key leaves the engine constructed but
// unavailable, matching the behavior of an unconfigured deployment.
type OpenAI struct {
	client  *openai.Client
	model   openai.SpeechModel
	aliases map[string]string
	log     *logger.Logger
}

// NewOpenAI creates the cloud engine adapter.
func NewOpenAI(cfg OpenAIConfig, log *logger.Logger) *OpenAI {
	var client *openai.Client
	if cfg.APIKey != "" {
		client = openai.NewClient(cfg.APIKey)
	}

	model := openai.SpeechModel(cfg.Model)
	if cfg.Model == "" {
		model = openai.TTSModel1
	}

	return &OpenAI{
		client:  client,
		model:   model,
		aliases: cfg.Aliases,
		log:     log,
	}
}

// ID reports the engine identity.
func (e *OpenAI) ID() core.EngineID {
	return core.EngineOpenAI
}

// Synthesize generates speech through the cloud speech endpoint and
// returns the encoded audio bytes.
func (e *OpenAI) Synthesize(ctx context.Context, text string, voice core.VoiceDescriptor, params core.SynthesisParams) ([]byte, error) {
	if e.client == nil {
		return nil, fmt.Errorf("%w: cloud engine not configured", core.ErrBackendUnavailable)
	}

	if voice.Engine != core.EngineOpenAI {
		return nil, fmt.Errorf("%w: descriptor belongs to engine %s", core.ErrInvalidVoice, voice.Engine)
	}

	speed := params.Speed
	if speed == 0 {
		speed = 1.0
	}

	response, err := e.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          e.model,
		Input:          text,
		Voice:          openai.SpeechVoice(voice.Reference),
		ResponseFormat: openai.SpeechResponseFormatWav,
		Speed:          speed,
	})
	if err != nil {
		return nil, e.classify(err)
	}

	defer func() {
		closeErr := response.Close()
		if closeErr != nil {
			e.log.Warn("Failed to close speech response body: %v", closeErr)
		}
	}()

	audio, readErr := io.ReadAll(response)
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read speech response: %w", core.ErrBackendUnavailable, readErr)
	}

	return audio, nil
}

// TranslateVoice maps a descriptor created under the local engine onto a
// cloud preset voice via the alias table.
func (e *OpenAI) TranslateVoice(voice core.VoiceDescriptor) (core.VoiceDescriptor, error) {
	return translateAlias(voice, core.EngineOpenAI, e.aliases)
}

// classify maps transport and API failures onto the shared taxonomy.
func (e *OpenAI) classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", core.ErrTimeout, err)
	}

	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", core.ErrCancelled, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", core.ErrRateLimited, err)
		case http.StatusBadRequest, http.StatusNotFound:
			return fmt.Errorf("%w: %w", core.ErrInvalidVoice, err)
		default:
			return fmt.Errorf("%w: %w", core.ErrBackendUnavailable, err)
		}
	}

	return fmt.Errorf("%w: %w", core.ErrBackendUnavailable, err)
}
