package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Fingerprint is the deterministic digest of the inputs that fully
// determine a synthesized artifact. It serves as the cache key and as the
// de-duplication key for in-flight requests.
type Fingerprint string

// fingerprintVersion is bumped whenever the canonical input encoding
// changes, so stale persisted artifacts are never matched by accident.
const fingerprintVersion = "v1"

// NewFingerprint digests the normalized text together with the voice
// identity, engine identity and synthesis parameters. The caller is
// responsible for normalizing the text first; identical inputs always
// yield identical fingerprints.
func NewFingerprint(normalizedText, voiceRef string, engine EngineID, params SynthesisParams) Fingerprint {
	canonical := fmt.Sprintf("%s|%s|%s|%s|%.4f|%.4f|%d|%s",
		fingerprintVersion,
		engine,
		voiceRef,
		params.Language,
		params.Speed,
		params.Temperature,
		params.Seed,
		normalizedText,
	)

	digest := sha256.Sum256([]byte(canonical))

	return Fingerprint(hex.EncodeToString(digest[:]))
}

// String returns the hex form of the fingerprint.
func (f Fingerprint) String() string {
	return string(f)
}
