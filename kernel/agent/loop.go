// Package agent runs the per-session loop that integrates steering,
// history, the stream pipeline and the tool dispatcher, and exposes the
// session facade around it.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/OnslaughtSnail/helmsman/kernel/history"
	"github.com/OnslaughtSnail/helmsman/kernel/model"
	"github.com/OnslaughtSnail/helmsman/kernel/prompt"
	"github.com/OnslaughtSnail/helmsman/kernel/steering"
	"github.com/OnslaughtSnail/helmsman/kernel/stream"
	"github.com/OnslaughtSnail/helmsman/kernel/termout"
	"github.com/OnslaughtSnail/helmsman/kernel/tool"
)

const (
	defaultPollInterval  = 50 * time.Millisecond
	defaultRetryBudget   = 2
	defaultMaxSubs       = 64
	midStreamPoll        = 15 * time.Millisecond
	midStreamDequeueWait = time.Millisecond
)

// errTransport classifies failures that may be retried by reopening the
// stream with the same context.
var errTransport = errors.New("agent: transport failure")

// errStop is the internal signal for a graceful stop request.
var errStop = errors.New("agent: stop requested")

// Config assembles one session. Transport is required; everything else
// has a usable zero value.
type Config struct {
	Transport  model.Transport
	Registry   *tool.Registry
	Dispatch   tool.DispatcherConfig
	Summarizer history.Summarizer

	Sink   termout.Sink
	Output termout.Config

	History history.Config
	Params  model.GenerationParams

	Identity        string
	Workspace       *prompt.Workspace
	SessionOverride string

	PollInterval   time.Duration
	RetryBudget    int
	MaxSubscribers int
	Logger         *slog.Logger
}

func normalizeLoopConfig(cfg Config) Config {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.RetryBudget < 0 {
		cfg.RetryBudget = 0
	} else if cfg.RetryBudget == 0 {
		cfg.RetryBudget = defaultRetryBudget
	}
	if cfg.MaxSubscribers <= 0 {
		cfg.MaxSubscribers = defaultMaxSubs
	}
	if cfg.Registry == nil {
		cfg.Registry = tool.NewRegistry()
	}
	if cfg.Sink == nil {
		cfg.Output.Disabled = true
		cfg.Sink = termout.SinkFunc(func(string) error { return nil })
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return cfg
}

type loop struct {
	cfg        Config
	queue      *steering.Queue[steering.Message]
	hist       *history.Store
	out        *termout.Buffer
	pipe       *stream.Pipeline
	dispatcher *tool.Dispatcher
	responses  *stream.Fanout[Response]
	status     *statusCell
	log        *slog.Logger

	// Steering messages consumed mid-stream that must be replayed in
	// order once the stream settles.
	deferred []steering.Message
	// User input received while paused, replayed on resume. Kept apart
	// from deferred so the paused loop keeps draining the queue.
	held   []steering.Message
	paused bool
}

func newLoop(cfg Config, queue *steering.Queue[steering.Message], initial []model.Message) *loop {
	out := termout.New(cfg.Sink, cfg.Output)
	hist := history.New(cfg.History)
	for _, msg := range initial {
		hist.Append(msg)
	}
	return &loop{
		cfg:        cfg,
		queue:      queue,
		hist:       hist,
		out:        out,
		pipe:       stream.NewPipeline(out, cfg.MaxSubscribers),
		dispatcher: tool.NewDispatcher(cfg.Registry, cfg.Dispatch),
		responses:  stream.NewFanout[Response](cfg.MaxSubscribers),
		status:     newStatusCell(),
		log:        cfg.Logger,
	}
}

func (l *loop) run(ctx context.Context) {
	var exitErr error
	defer func() { l.finish(exitErr) }()

	l.setPhase(PhaseInitializing, "")
	if l.cfg.Transport == nil {
		exitErr = fmt.Errorf("agent: nil transport")
		return
	}
	l.setPhase(PhaseWaitingForInput, "")

	for {
		msg, err := l.nextMessage(ctx)
		if err != nil {
			switch {
			case errors.Is(err, steering.ErrTimeout):
				continue
			case errors.Is(err, steering.ErrClosed):
				return
			case ctx.Err() != nil:
				return
			default:
				exitErr = err
				return
			}
		}
		if err := l.handleMessage(ctx, msg); err != nil {
			if errors.Is(err, errStop) {
				return
			}
			exitErr = err
			return
		}
	}
}

// nextMessage replays deferred messages in order before polling the
// queue with the short timeout.
func (l *loop) nextMessage(ctx context.Context) (steering.Message, error) {
	if len(l.deferred) > 0 {
		msg := l.deferred[0]
		l.deferred = l.deferred[1:]
		return msg, nil
	}
	return l.queue.DequeueTimeout(ctx, l.cfg.PollInterval)
}

func (l *loop) handleMessage(ctx context.Context, msg steering.Message) error {
	switch msg.Kind {
	case steering.KindUserInput:
		if l.paused {
			l.held = append(l.held, msg)
			return nil
		}
		l.hist.Append(model.NewText(model.RoleUser, msg.Text))
		return l.runConversation(ctx)

	case steering.KindInterrupt:
		if msg.Reason == "final" {
			return errStop
		}
		l.emit(statusResponse(l.status.get(), fmt.Sprintf("interrupt: %s", msg.Reason)))
		return nil

	case steering.KindSystemControl:
		return l.handleControl(msg)

	case steering.KindStatusUpdate:
		l.emit(statusResponse(l.status.get(), msg.Status))
		return nil
	}
	return nil
}

func (l *loop) handleControl(msg steering.Message) error {
	switch msg.Command {
	case steering.CommandPause:
		l.paused = true
		l.setPhase(PhasePaused, "")
	case steering.CommandResume:
		l.paused = false
		l.deferred = append(l.deferred, l.held...)
		l.held = nil
		l.setPhase(PhaseWaitingForInput, "")
	case steering.CommandStop:
		return errStop
	case steering.CommandConfirmTool, steering.CommandDenyTool:
		// No call pending; stale confirmation, drop it.
		l.log.Debug("stale tool confirmation", "command", msg.Command)
	}
	return nil
}

// runConversation drives model turns until the model answers without
// tool calls, the turn is interrupted, or a terminal failure occurs.
func (l *loop) runConversation(ctx context.Context) error {
	l.setPhase(PhaseRunning, "")
	defer func() {
		if !l.status.get().Terminal() {
			l.setPhase(PhaseWaitingForInput, "")
		}
	}()

	for {
		if err := l.maybeCompact(ctx); err != nil {
			return err
		}

		outcome, err := l.streamWithRetry(ctx)
		if err != nil {
			return err
		}
		switch outcome {
		case outcomeInterrupted:
			return nil
		case outcomeStopped:
			return errStop
		}

		text := l.pipe.TurnText()
		calls := l.pipe.TurnToolCalls()
		l.appendAssistantTurn(text, calls)
		if text != "" {
			l.emit(textResponse(text, false))
		}
		for i := range calls {
			call := calls[i]
			l.emit(Response{Kind: ResponseToolCall, ToolCall: &call, Time: time.Now()})
		}

		if len(calls) == 0 {
			if err := l.out.ForceFlush(); err != nil {
				return fmt.Errorf("agent: flush output: %w", err)
			}
			l.emit(Response{Kind: ResponseCompleted, FinalText: text, Time: time.Now()})
			return nil
		}

		proceed, err := l.executeTools(ctx, calls)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}
}

func (l *loop) maybeCompact(ctx context.Context) error {
	if !l.hist.NeedsCompression() || l.cfg.Summarizer == nil {
		return nil
	}
	l.emit(statusResponse(l.status.get(), "compacting context"))
	if err := l.hist.Compress(ctx, l.cfg.Summarizer); err != nil {
		if errors.Is(err, history.ErrNoRoom) {
			return fmt.Errorf("agent: context overflow: %w", err)
		}
		return err
	}
	l.emit(statusResponse(l.status.get(), "context compacted"))
	return nil
}

func (l *loop) buildRequest() model.StreamRequest {
	decls := l.cfg.Registry.Declarations()
	composed := prompt.Assemble(prompt.Spec{
		Identity:        l.cfg.Identity,
		Workspace:       l.cfg.Workspace,
		Tools:           decls,
		SessionOverride: l.cfg.SessionOverride,
	})
	return model.StreamRequest{
		Messages:     l.hist.Messages(),
		SystemPrompt: composed.Prompt,
		Tools:        decls,
		Params:       l.cfg.Params,
	}
}

type streamOutcome int

const (
	outcomeCompleted streamOutcome = iota
	outcomeInterrupted
	outcomeStopped
)

// streamWithRetry reopens the stream on transport failures, up to the
// retry budget. Tool calls run only after a completed stream, so a
// retried turn never duplicates them.
func (l *loop) streamWithRetry(ctx context.Context) (streamOutcome, error) {
	attempts := l.cfg.RetryBudget + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		outcome, err := l.streamOnce(ctx)
		if err == nil {
			return outcome, nil
		}
		if !errors.Is(err, errTransport) || attempt == attempts-1 {
			return 0, err
		}
		lastErr = err
		l.log.Warn("transport failure, retrying turn", "attempt", attempt+1, "error", err)
	}
	return 0, lastErr
}

func (l *loop) streamOnce(ctx context.Context) (streamOutcome, error) {
	req := l.buildRequest()
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	body, err := l.cfg.Transport.OpenStream(streamCtx, req)
	if err != nil {
		return 0, fmt.Errorf("%w: open stream: %v", errTransport, err)
	}
	defer body.Close()

	l.pipe.Begin()
	l.emit(Response{Kind: ResponseStreamRequestStart, Time: time.Now()})

	chunks := make(chan []byte, 4)
	readErrs := make(chan error, 1)
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunks <- chunk:
				case <-streamCtx.Done():
					return
				}
			}
			if err != nil {
				readErrs <- err
				return
			}
		}
	}()

	steerTick := time.NewTicker(midStreamPoll)
	defer steerTick.Stop()

	for {
		select {
		case chunk := <-chunks:
			outcome, done, err := l.feed(chunk)
			if done || err != nil {
				return outcome, err
			}

		case err := <-readErrs:
			outcome, done, feedErr := l.drainChunks(chunks)
			if feedErr != nil {
				return 0, feedErr
			}
			if done {
				return outcome, nil
			}
			if l.pipe.State().Phase == stream.PhaseCompleted {
				return outcomeCompleted, nil
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, fmt.Errorf("%w: read stream: %v", errTransport, err)

		case <-steerTick.C:
			msg, err := l.queue.DequeueTimeout(ctx, midStreamDequeueWait)
			if err != nil {
				if errors.Is(err, steering.ErrTimeout) {
					continue
				}
				if errors.Is(err, steering.ErrClosed) {
					cancel()
					l.pipe.Reset()
					return outcomeStopped, nil
				}
				return 0, err
			}
			if outcome, handled := l.steerMidStream(msg, cancel); handled {
				return outcome, nil
			}

		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// drainChunks consumes any chunks the reader produced before it
// reported its error.
func (l *loop) drainChunks(chunks <-chan []byte) (streamOutcome, bool, error) {
	for {
		select {
		case chunk := <-chunks:
			outcome, done, err := l.feed(chunk)
			if done || err != nil {
				return outcome, true, err
			}
		default:
			return 0, false, nil
		}
	}
}

// feed pushes one chunk into the pipeline and reports whether the stream
// reached a terminal state.
func (l *loop) feed(chunk []byte) (streamOutcome, bool, error) {
	if err := l.pipe.ProcessChunk(chunk); err != nil {
		return 0, true, fmt.Errorf("agent: stream: %w", err)
	}
	switch st := l.pipe.State(); st.Phase {
	case stream.PhaseCompleted:
		return outcomeCompleted, true, nil
	case stream.PhaseError:
		return 0, true, fmt.Errorf("agent: stream error: %s", st.Message)
	}
	return 0, false, nil
}

// steerMidStream handles a steering message consumed while a stream is
// in flight. Interrupt and stop abort the read; everything else is
// deferred until the stream settles.
func (l *loop) steerMidStream(msg steering.Message, cancel context.CancelFunc) (streamOutcome, bool) {
	switch msg.Kind {
	case steering.KindInterrupt:
		cancel()
		l.pipe.Reset()
		if msg.Reason == "final" {
			return outcomeStopped, true
		}
		note := fmt.Sprintf("[response interrupted: %s]", msg.Reason)
		l.hist.Append(model.NewText(model.RoleAssistant, note))
		l.emit(statusResponse(l.status.get(), note))
		return outcomeInterrupted, true
	case steering.KindSystemControl:
		if msg.Command == steering.CommandStop {
			cancel()
			l.pipe.Reset()
			return outcomeStopped, true
		}
	}
	l.deferred = append(l.deferred, msg)
	return 0, false
}

// executeTools runs the sealed turn's calls serially in emission order.
// It returns false when the conversation must not continue with another
// model turn.
func (l *loop) executeTools(ctx context.Context, calls []model.ToolCall) (bool, error) {
	l.setPhase(PhaseExecutingTool, "")
	defer l.setPhase(PhaseRunning, "")

	interrupted := false
	for _, call := range calls {
		var result model.ToolResult
		switch {
		case interrupted:
			result = deniedResult(call, "turn interrupted before execution")
		case l.dispatcher.Permission(call.Name) == tool.PermissionConfirm:
			decision, err := l.awaitConfirmation(ctx, call)
			if err != nil {
				return false, err
			}
			switch decision {
			case confirmApproved:
				var dispatchErr error
				result, dispatchErr = l.dispatcher.Dispatch(ctx, call)
				if dispatchErr != nil {
					return false, dispatchErr
				}
			case confirmDenied:
				result = deniedResult(call, "denied by user")
			case confirmInterrupted:
				interrupted = true
				result = deniedResult(call, "turn interrupted before execution")
			}
		default:
			var err error
			result, err = l.dispatcher.Dispatch(ctx, call)
			if err != nil {
				return false, err
			}
		}
		l.hist.Append(model.NewToolResult(result))
		res := result
		l.emit(Response{Kind: ResponseToolResult, ToolResult: &res, Time: time.Now()})
	}
	return !interrupted, nil
}

type confirmDecision int

const (
	confirmApproved confirmDecision = iota
	confirmDenied
	confirmInterrupted
)

// awaitConfirmation suspends the call until a confirm or deny control
// arrives. User input received meanwhile is deferred.
func (l *loop) awaitConfirmation(ctx context.Context, call model.ToolCall) (confirmDecision, error) {
	l.setPhase(PhaseWaitingForInput, "")
	l.emit(statusResponse(l.status.get(),
		fmt.Sprintf("confirmation required for tool %s (call %s)", call.Name, call.ID)))

	for {
		msg, err := l.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, steering.ErrClosed) {
				return confirmInterrupted, errStop
			}
			return confirmInterrupted, err
		}
		switch msg.Kind {
		case steering.KindSystemControl:
			switch msg.Command {
			case steering.CommandConfirmTool:
				return confirmApproved, nil
			case steering.CommandDenyTool:
				return confirmDenied, nil
			case steering.CommandStop:
				return confirmInterrupted, errStop
			default:
				l.deferred = append(l.deferred, msg)
			}
		case steering.KindInterrupt:
			if msg.Reason == "final" {
				return confirmInterrupted, errStop
			}
			note := fmt.Sprintf("[response interrupted: %s]", msg.Reason)
			l.hist.Append(model.NewText(model.RoleAssistant, note))
			l.emit(statusResponse(l.status.get(), note))
			return confirmInterrupted, nil
		default:
			l.deferred = append(l.deferred, msg)
		}
	}
}

func (l *loop) appendAssistantTurn(text string, calls []model.ToolCall) {
	parts := make([]model.Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, model.Part{Kind: model.PartText, Text: text})
	}
	for i := range calls {
		call := calls[i]
		parts = append(parts, model.Part{Kind: model.PartToolCall, ToolCall: &call})
	}
	if len(parts) == 0 {
		return
	}
	l.hist.Append(model.Message{Role: model.RoleAssistant, Parts: parts, CreatedAt: time.Now()})
}

func (l *loop) finish(err error) {
	_ = l.out.Close()
	if err != nil {
		st := Status{Phase: PhaseError, Message: err.Error()}
		l.queue.Poison(fmt.Errorf("agent: session poisoned: %s", err))
		l.status.set(st)
		l.emit(errorResponse(st))
		l.log.Error("session terminated", "error", err)
	} else {
		l.setPhase(PhaseCompleted, "")
	}
	l.pipe.Close()
	l.responses.Close()
}

func (l *loop) emit(r Response) {
	l.responses.Publish(r)
}

func (l *loop) setPhase(phase Phase, msg string) {
	st := Status{Phase: phase, Message: msg}
	l.status.set(st)
	l.emit(statusResponse(st, ""))
}

func deniedResult(call model.ToolCall, reason string) model.ToolResult {
	return model.ToolResult{
		CallID:  call.ID,
		Result:  []byte(fmt.Sprintf(`{"error":%q}`, reason)),
		IsError: true,
	}
}
