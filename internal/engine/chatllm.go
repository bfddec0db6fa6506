package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/book-expert/logger"

	"github.com/book-expert/speech-scheduler/internal/core"
)

// ChatLLMConfig holds the settings for the local model engine. Device
// names the accelerator the binary is pinned to; it is the explicit handle
// for the single shared compute resource.
type ChatLLMConfig struct {
	Binary        string
	ModelPath     string
	SnacModelPath string
	Device        string
	NGL           int
	// Aliases maps cloud preset voice names onto local speaker sample
	// references, enabling approximate cross-engine translation.
	Aliases map[string]string
}

// ChatLLM is the local model synthesis backend. It shells out to the
// chatllm binary, feeding the speaker reference sample from the object
// store when the descriptor points at an uploaded sample.
type ChatLLM struct {
	cfg     ChatLLMConfig
	samples core.ObjectStore
	log     *logger.Logger
}

// NewChatLLM creates the local engine adapter. The samples store resolves
// descriptor references that name uploaded speaker samples; references
// that do not resolve are treated as filesystem paths.
func NewChatLLM(cfg ChatLLMConfig, samples core.ObjectStore, log *logger.Logger) (*ChatLLM, error) {
	if cfg.Binary == "" {
		cfg.Binary = "chatllm"
	}

	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: model path cannot be empty", core.ErrBackendUnavailable)
	}

	return &ChatLLM{
		cfg:     cfg,
		samples: samples,
		log:     log,
	}, nil
}

// ID reports the engine identity.
func (e *ChatLLM) ID() core.EngineID {
	return core.EngineChatLLM
}

// Synthesize generates speech by invoking the chatllm binary and reading
// back the exported waveform.
func (e *ChatLLM) Synthesize(ctx context.Context, text string, voice core.VoiceDescriptor, params core.SynthesisParams) ([]byte, error) {
	if voice.Engine != core.EngineChatLLM {
		return nil, fmt.Errorf("%w: descriptor belongs to engine %s", core.ErrInvalidVoice, voice.Engine)
	}

	speakerPath, cleanupSpeaker, speakerErr := e.resolveSpeaker(ctx, voice)
	if speakerErr != nil {
		return nil, speakerErr
	}

	defer cleanupSpeaker()

	outputFile, err := os.CreateTemp("", "speech-output-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for synthesis output: %w", err)
	}

	defer func() {
		removeErr := os.Remove(outputFile.Name())
		if removeErr != nil {
			e.log.Warn("Failed to remove temp file '%s': %v", outputFile.Name(), removeErr)
		}
	}()

	args := []string{
		"-m", e.cfg.ModelPath,
		"--snac_model", e.cfg.SnacModelPath,
		"-p", text,
		"--speaker_ref", speakerPath,
		"--tts_export", outputFile.Name(),
		"--seed", strconv.Itoa(params.Seed),
		"-ngl", strconv.Itoa(e.cfg.NGL),
		"--temp", fmt.Sprintf("%.2f", params.Temperature),
	}
	if e.cfg.Device != "" {
		args = append(args, "--device", e.cfg.Device)
	}

	// #nosec G204 -- binary and model paths come from validated configuration
	cmd := exec.CommandContext(ctx, e.cfg.Binary, args...)

	output, runErr := cmd.CombinedOutput()
	if runErr != nil {
		return nil, e.classify(ctx, runErr, output)
	}

	audio, readErr := os.ReadFile(outputFile.Name())
	if readErr != nil {
		return nil, fmt.Errorf("failed to read audio data from temp file: %w", readErr)
	}

	return audio, nil
}

// TranslateVoice maps a cloud preset descriptor onto a local speaker
// reference via the alias table.
func (e *ChatLLM) TranslateVoice(voice core.VoiceDescriptor) (core.VoiceDescriptor, error) {
	return translateAlias(voice, core.EngineChatLLM, e.cfg.Aliases)
}

// resolveSpeaker materializes the speaker reference as a file path. Object
// store references are downloaded to a temp file; anything else is assumed
// to already be a path on disk.
func (e *ChatLLM) resolveSpeaker(ctx context.Context, voice core.VoiceDescriptor) (string, func(), error) {
	noop := func() {}

	if e.samples == nil {
		return voice.Reference, noop, nil
	}

	sample, downloadErr := e.samples.Download(ctx, voice.Reference)
	if downloadErr != nil {
		return voice.Reference, noop, nil
	}

	speakerFile, err := os.CreateTemp("", "speech-speaker-*.wav")
	if err != nil {
		return "", noop, fmt.Errorf("failed to create temp file for speaker sample: %w", err)
	}

	cleanup := func() {
		removeErr := os.Remove(speakerFile.Name())
		if removeErr != nil {
			e.log.Warn("Failed to remove temp file '%s': %v", speakerFile.Name(), removeErr)
		}
	}

	_, writeErr := speakerFile.Write(sample)
	closeErr := speakerFile.Close()

	if writeErr != nil {
		cleanup()

		return "", noop, fmt.Errorf("failed to write speaker sample: %w", writeErr)
	}

	if closeErr != nil {
		cleanup()

		return "", noop, fmt.Errorf("failed to close speaker sample file: %w", closeErr)
	}

	return speakerFile.Name(), cleanup, nil
}

// classify maps process failures onto the shared taxonomy.
func (e *ChatLLM) classify(ctx context.Context, err error, output []byte) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", core.ErrTimeout, err)
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %w", core.ErrCancelled, err)
	}

	return fmt.Errorf("%w: chatllm execution failed: %w - output: %s", core.ErrBackendUnavailable, err, string(output))
}
