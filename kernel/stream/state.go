package stream

import "fmt"

// Phase identifies one stream lifecycle phase.
type Phase string

const (
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
	PhaseStreaming    Phase = "streaming"
	PhaseCompleted    Phase = "completed"
	PhaseError        Phase = "error"
	PhaseDisconnected Phase = "disconnected"
)

// State is a stream lifecycle snapshot. Message is set only for PhaseError.
type State struct {
	Phase   Phase
	Message string
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s.Phase == PhaseCompleted || s.Phase == PhaseError
}

func (s State) String() string {
	if s.Phase == PhaseError && s.Message != "" {
		return fmt.Sprintf("%s(%s)", s.Phase, s.Message)
	}
	return string(s.Phase)
}
