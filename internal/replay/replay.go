// Package replay rejects messages whose timestamp is not strictly newer
// than the last accepted one.
package replay

import "github.com/bitdoglab/sectele/internal/types"

//go:generate stringer -type=Decision
type Decision uint8

const (
	Accept Decision = iota
	RejectReplay
	RejectUnauthenticated
)

// State belongs to exactly one receiving mode.
// Zero value is ready to use. Mutated only by Check.
type State struct {
	LastAccepted uint64
	Initialized  bool
}

// Check decides and, on Accept, advances state.
// Equal timestamp is a replay.
func Check(s *State, ts uint64, verdict types.AuthVerdict) Decision {
	if verdict == types.AuthFailed {
		return RejectUnauthenticated
	}
	if s.Initialized && ts <= s.LastAccepted {
		return RejectReplay
	}
	s.LastAccepted = ts
	s.Initialized = true
	return Accept
}

func (s *State) Reset() { *s = State{} }
