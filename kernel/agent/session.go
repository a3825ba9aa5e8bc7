package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/OnslaughtSnail/helmsman/kernel/model"
	"github.com/OnslaughtSnail/helmsman/kernel/steering"
)

// Session is the public surface around one agent loop. It holds only
// capability handles; the loop owns the context store and pipeline.
type Session struct {
	id    string
	queue *steering.Queue[steering.Message]
	loop  *loop
	done  chan struct{}
}

// Start constructs a session and spawns its loop. The loop exits when
// ctx is cancelled, the queue is closed, or a terminal failure occurs.
func Start(ctx context.Context, cfg Config, initial ...model.Message) (*Session, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("agent: transport is required")
	}
	cfg = normalizeLoopConfig(cfg)
	queue := steering.NewQueue[steering.Message]()
	s := &Session{
		id:    uuid.NewString(),
		queue: queue,
		loop:  newLoop(cfg, queue, initial),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		s.loop.run(ctx)
	}()
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// SendUserInput enqueues a user turn.
func (s *Session) SendUserInput(text string) error {
	return s.queue.Enqueue(steering.UserInput(text))
}

// SendInterrupt enqueues an interrupt. Reason "final" terminates the
// session; callers requiring hard cancellation close the queue via
// Shutdown instead.
func (s *Session) SendInterrupt(reason string) error {
	return s.queue.Enqueue(steering.Interrupt(reason))
}

// SendSystemControl enqueues a control command.
func (s *Session) SendSystemControl(cmd steering.Command, params map[string]string) error {
	return s.queue.Enqueue(steering.SystemControl(cmd, params))
}

// SubscribeResponses returns an independent lossy response receiver. The
// channel closes when the loop exits.
func (s *Session) SubscribeResponses() (<-chan Response, func(), error) {
	return s.loop.responses.Subscribe()
}

// Status returns a snapshot of the loop status.
func (s *Session) Status() Status {
	return s.loop.status.get()
}

// Done is closed when the loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Shutdown closes the queue and awaits loop termination.
func (s *Session) Shutdown(ctx context.Context) error {
	s.queue.Close()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the loop exits or the timeout elapses.
func (s *Session) Wait(timeout time.Duration) error {
	select {
	case <-s.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("agent: session %s still running after %s", s.id, timeout)
	}
}
