// Package engine provides the two synthesis backend adapters behind the
// uniform core.Engine interface: a premium cloud engine and a local model
// engine. Adapters translate requests into backend-specific calls and
// normalize backend failures onto the shared error taxonomy.
package engine

import (
	"fmt"

	"github.com/book-expert/speech-scheduler/internal/core"
)

// Set maps engine identities to their adapters. Selection happens by
// engine identity at request time, never by runtime type inspection.
type Set map[core.EngineID]core.Engine

// NewSet indexes the given engines by identity.
func NewSet(engines ...core.Engine) Set {
	set := make(Set, len(engines))
	for _, eng := range engines {
		set[eng.ID()] = eng
	}

	return set
}

// translateAlias resolves a foreign descriptor through an alias table.
// Cross-engine translation is approximate at best; when no alias exists
// the translation fails with core.ErrInvalidVoice instead of silently
// degrading quality.
func translateAlias(voice core.VoiceDescriptor, target core.EngineID, aliases map[string]string) (core.VoiceDescriptor, error) {
	if voice.Engine == target {
		return voice, nil
	}

	reference, ok := aliases[voice.Reference]
	if !ok {
		return core.VoiceDescriptor{}, fmt.Errorf(
			"%w: no %s equivalent for voice %q created under %s",
			core.ErrInvalidVoice, target, voice.Name, voice.Engine,
		)
	}

	return core.VoiceDescriptor{
		Engine:    target,
		Reference: reference,
		Name:      voice.Name,
	}, nil
}
