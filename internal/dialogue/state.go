package dialogue

import "strings"

// State is a call conversation state.
type State string

const (
	StateStart          State = "START"
	StateConsent        State = "CONSENT"
	StateVerifyIdentity State = "VERIFY_IDENTITY"
	StateMainMenu       State = "MAIN_MENU"
	StateCollectDetails State = "COLLECT_DETAILS"
	StateWrapUp         State = "WRAP_UP"
	StateEndCall        State = "END_CALL"
	StateTransfer       State = "TRANSFER"
)

// States lists every valid conversation state.
var States = []State{
	StateStart,
	StateConsent,
	StateVerifyIdentity,
	StateMainMenu,
	StateCollectDetails,
	StateWrapUp,
	StateEndCall,
	StateTransfer,
}

var stateSet = func() map[State]struct{} {
	m := make(map[State]struct{}, len(States))
	for _, s := range States {
		m[s] = struct{}{}
	}
	return m
}()

// NormalizeState coerces an externally supplied state to a member of the
// state set. Unknown values clamp to MAIN_MENU so a misbehaving classifier
// can never drive the call into an undefined state.
func NormalizeState(raw string) State {
	s := State(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := stateSet[s]; ok {
		return s
	}
	return StateMainMenu
}

// IsValidState reports whether raw is already a member of the state set.
func IsValidState(raw string) bool {
	_, ok := stateSet[State(strings.ToUpper(strings.TrimSpace(raw)))]
	return ok
}

// IsTerminal reports whether no further turns may be logged or classified
// once the session reaches s.
func (s State) IsTerminal() bool {
	return s == StateEndCall || s == StateTransfer
}
