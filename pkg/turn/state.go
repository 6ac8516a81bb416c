package turn

// State is a step of the per-turn state machine.
type State int

const (
	StateAwaitingCredentials State = iota
	StateTranscribing
	StateAwaitingReply
	StateSynthesizing
	StateStreaming
	StateDone
	StateErrored
)

var stateNames = [...]string{
	StateAwaitingCredentials: "awaiting_credentials",
	StateTranscribing:        "transcribing",
	StateAwaitingReply:       "awaiting_reply",
	StateSynthesizing:        "synthesizing",
	StateStreaming:           "streaming",
	StateDone:                "done",
	StateErrored:             "errored",
}

// String returns the snake_case name used in logs and events.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateErrored
}
