// Package core defines the domain types, interfaces and error taxonomy
// shared by the speech scheduler's components.
package core

import "time"

// EngineID identifies one of the interchangeable synthesis backends.
type EngineID string

const (
	// EngineOpenAI is the premium cloud synthesis backend.
	EngineOpenAI EngineID = "openai"
	// EngineChatLLM is the local model synthesis backend.
	EngineChatLLM EngineID = "chatllm"
)

// PriorityTier ranks requests for admission. Administrator requests are
// admitted before normal requests regardless of arrival order.
type PriorityTier int

const (
	// TierNormal is the default tier for regular users.
	TierNormal PriorityTier = iota
	// TierAdmin is the elevated tier for administrators.
	TierAdmin
)

// SynthesisParams holds the per-request tuning knobs that influence the
// generated audio. They are part of the cache fingerprint, so two requests
// with different parameters never share an artifact.
type SynthesisParams struct {
	Language    string  `json:"language,omitempty"`
	Speed       float64 `json:"speed,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Seed        int     `json:"seed,omitempty"`
}

// SynthesisRequest is an immutable description of one utterance to
// synthesize. VoiceID is an optional explicit override; when empty the
// orchestrator resolves the requester's active profile voice.
type SynthesisRequest struct {
	UserID      string
	Text        string
	VoiceID     string
	Engine      EngineID
	Tier        PriorityTier
	Params      SynthesisParams
	SubmittedAt time.Time
}

// AudioArtifact is a synthesized result owned by the cache store. It is
// immutable after creation; usage counters live in the cache, not here.
type AudioArtifact struct {
	Fingerprint Fingerprint   `json:"fingerprint"`
	Audio       []byte        `json:"audio"`
	Duration    time.Duration `json:"duration"`
	CreatedAt   time.Time     `json:"created_at"`
}

// VoiceDescriptor is an engine-specific reference to a cloned or preset
// voice: a remote voice identifier for the cloud backend, a speaker sample
// path or object key for the local backend.
type VoiceDescriptor struct {
	Engine    EngineID `json:"engine"`
	Reference string   `json:"reference"`
	Name      string   `json:"name"`
}

// VersionEntry is one entry in a user's voice version history.
type VersionEntry struct {
	ID         string          `json:"id"`
	Descriptor VoiceDescriptor `json:"descriptor"`
	CreatedAt  time.Time       `json:"created_at"`
	SampleKey  string          `json:"sample_key"`
}
