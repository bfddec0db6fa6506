package core

import "context"

// ObjectStore defines the interface for interacting with a key-value blob
// store. It backs cache artifacts, voice profile logs and uploaded samples.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Engine is the uniform capability interface implemented by both synthesis
// backends. A single Synthesize call is attributed to exactly one shared
// compute resource; serialization against that resource is the admission
// queue's job, not the engine's.
type Engine interface {
	// ID reports the engine identity used for request routing.
	ID() EngineID

	// Synthesize turns text into encoded audio bytes. Failures are
	// normalized onto ErrBackendUnavailable, ErrRateLimited,
	// ErrInvalidVoice or ErrTimeout.
	Synthesize(ctx context.Context, text string, voice VoiceDescriptor, params SynthesisParams) ([]byte, error)

	// TranslateVoice maps a descriptor created under another engine onto
	// an equivalent descriptor for this engine. When no faithful
	// translation exists it fails with ErrInvalidVoice rather than
	// silently degrading quality.
	TranslateVoice(voice VoiceDescriptor) (VoiceDescriptor, error)
}
