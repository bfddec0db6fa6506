package core

import "errors"

// The shared failure taxonomy. Backend adapters normalize engine-specific
// failures onto these sentinels so that callers can present an actionable
// message instead of a generic one.
var (
	// ErrBackendUnavailable indicates the selected synthesis backend is
	// unreachable or not configured.
	ErrBackendUnavailable = errors.New("synthesis backend unavailable")
	// ErrRateLimited indicates the backend refused the call due to quota.
	ErrRateLimited = errors.New("synthesis backend rate limited")
	// ErrInvalidVoice indicates the voice descriptor cannot be used with
	// the requested engine, including failed cross-engine translation.
	ErrInvalidVoice = errors.New("invalid voice for requested engine")
	// ErrInvalidSample indicates an uploaded voice sample failed validation.
	ErrInvalidSample = errors.New("invalid voice sample")
	// ErrVersionNotFound indicates a restore referenced an unknown version.
	ErrVersionNotFound = errors.New("voice version not found")
	// ErrTimeout indicates the backend call exceeded its deadline.
	ErrTimeout = errors.New("synthesis timed out")
	// ErrCancelled indicates the caller stopped waiting for the result.
	ErrCancelled = errors.New("request cancelled")
	// ErrEmptyText indicates a request with nothing to synthesize.
	ErrEmptyText = errors.New("text cannot be empty")
)
