package worker

import (
	"errors"

	"github.com/book-expert/events"

	"github.com/book-expert/speech-scheduler/internal/core"
)

// Voice command actions.
const (
	ActionUpload  = "upload"
	ActionReplace = "replace"
	ActionRestore = "restore"
	ActionHistory = "history"
)

// Queue command actions.
const (
	ActionCancelUser = "cancel_user"
	ActionClear      = "clear"
)

// Error kinds carried on reply events so the command layer can present an
// actionable message instead of a generic failure.
const (
	KindBackendUnavailable = "backend_unavailable"
	KindRateLimited        = "rate_limited"
	KindInvalidVoice       = "invalid_voice"
	KindInvalidSample      = "invalid_sample"
	KindVersionNotFound    = "version_not_found"
	KindTimeout            = "timeout"
	KindCancelled          = "cancelled"
	KindEmptyText          = "empty_text"
	KindInternal           = "internal"
)

// SynthesisRequestedEvent asks the scheduler to synthesize one utterance
// for the user named in the header.
type SynthesisRequestedEvent struct {
	Header  events.EventHeader   `json:"header"`
	Text    string               `json:"text"`
	VoiceID string               `json:"voice_id,omitempty"`
	Engine  string               `json:"engine,omitempty"`
	Admin   bool                 `json:"admin"`
	Params  core.SynthesisParams `json:"params"`
}

// SynthesisCompletedEvent reports the result of a synthesis request. On
// success AudioKey names the artifact in the object store bucket.
type SynthesisCompletedEvent struct {
	Header      events.EventHeader `json:"header"`
	Fingerprint string             `json:"fingerprint,omitempty"`
	AudioKey    string             `json:"audio_key,omitempty"`
	DurationMs  int64              `json:"duration_ms,omitempty"`
	CacheHit    bool               `json:"cache_hit"`
	ErrorKind   string             `json:"error_kind,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// VoiceCommandEvent carries one profile mutation or query for the user
// named in the header.
type VoiceCommandEvent struct {
	Header    events.EventHeader `json:"header"`
	Action    string             `json:"action"`
	VoiceName string             `json:"voice_name,omitempty"`
	VersionID string             `json:"version_id,omitempty"`
	Sample    []byte             `json:"sample,omitempty"`
}

// VoiceCommandReplyEvent reports the outcome of a voice command.
type VoiceCommandReplyEvent struct {
	Header     events.EventHeader    `json:"header"`
	Descriptor *core.VoiceDescriptor `json:"descriptor,omitempty"`
	History    []core.VersionEntry   `json:"history,omitempty"`
	ErrorKind  string                `json:"error_kind,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// QueueCommandEvent carries one administrative queue operation: cancel a
// user's pending requests or clear the whole queue.
type QueueCommandEvent struct {
	Header       events.EventHeader `json:"header"`
	Action       string             `json:"action"`
	TargetUserID string             `json:"target_user_id,omitempty"`
}

// QueueCommandReplyEvent reports how many pending requests were removed.
type QueueCommandReplyEvent struct {
	Header    events.EventHeader `json:"header"`
	Removed   int                `json:"removed"`
	ErrorKind string             `json:"error_kind,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// errorKind maps a failure onto its wire kind.
func errorKind(err error) string {
	switch {
	case errors.Is(err, core.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, core.ErrInvalidVoice):
		return KindInvalidVoice
	case errors.Is(err, core.ErrInvalidSample):
		return KindInvalidSample
	case errors.Is(err, core.ErrVersionNotFound):
		return KindVersionNotFound
	case errors.Is(err, core.ErrTimeout):
		return KindTimeout
	case errors.Is(err, core.ErrCancelled):
		return KindCancelled
	case errors.Is(err, core.ErrEmptyText):
		return KindEmptyText
	case errors.Is(err, core.ErrBackendUnavailable):
		return KindBackendUnavailable
	default:
		return KindInternal
	}
}
