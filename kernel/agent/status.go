package agent

import (
	"fmt"
	"sync"
)

// Phase identifies one agent lifecycle phase.
type Phase string

const (
	PhaseNotStarted      Phase = "not_started"
	PhaseInitializing    Phase = "initializing"
	PhaseRunning         Phase = "running"
	PhaseWaitingForInput Phase = "waiting_for_input"
	PhaseExecutingTool   Phase = "executing_tool"
	PhasePaused          Phase = "paused"
	PhaseCompleted       Phase = "completed"
	PhaseError           Phase = "error"
)

// Status is an agent lifecycle snapshot. Message is set only for
// PhaseError.
type Status struct {
	Phase   Phase
	Message string
}

// Terminal reports whether the agent can make no further progress.
func (s Status) Terminal() bool {
	return s.Phase == PhaseCompleted || s.Phase == PhaseError
}

func (s Status) String() string {
	if s.Phase == PhaseError && s.Message != "" {
		return fmt.Sprintf("%s(%s)", s.Phase, s.Message)
	}
	return string(s.Phase)
}

// statusCell is the status snapshot shared between the loop and the
// facade.
type statusCell struct {
	mu sync.Mutex
	st Status
}

func newStatusCell() *statusCell {
	return &statusCell{st: Status{Phase: PhaseNotStarted}}
}

func (c *statusCell) set(st Status) {
	c.mu.Lock()
	c.st = st
	c.mu.Unlock()
}

func (c *statusCell) get() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st
}
