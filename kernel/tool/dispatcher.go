package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/OnslaughtSnail/helmsman/kernel/model"
)

// ErrContract reports a handler that broke the tool contract, such as a
// panic. The session is unusable afterwards.
var ErrContract = errors.New("tool: contract violation")

const (
	defaultCallTimeout = 60 * time.Second
	defaultGrace       = 5 * time.Second
)

// DispatcherConfig bounds one dispatcher. Zero durations take defaults.
type DispatcherConfig struct {
	CallTimeout time.Duration
	Grace       time.Duration
	Truncation  TruncationPolicy
	Logger      *slog.Logger
}

// Dispatcher turns model tool calls into tool results: lookup, schema
// validation, timed execution, truncation. Calls run serially in the
// order the caller presents them.
type Dispatcher struct {
	reg *Registry
	cfg DispatcherConfig
	log *slog.Logger

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

// NewDispatcher returns a dispatcher over reg.
func NewDispatcher(reg *Registry, cfg DispatcherConfig) *Dispatcher {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = defaultGrace
	}
	if cfg.Truncation.MaxTokens <= 0 && cfg.Truncation.MaxBytes <= 0 {
		cfg.Truncation = DefaultTruncationPolicy()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		reg:     reg,
		cfg:     cfg,
		log:     log,
		schemas: map[string]*jsonschema.Schema{},
	}
}

// Permission reports the permission class for a tool name.
func (d *Dispatcher) Permission(name string) Permission {
	return d.reg.Permission(name)
}

// Dispatch executes one call and returns its result. Handler failures,
// timeouts, denials and validation errors come back as is-error results
// so the model can react; a non-nil error means the session must be
// poisoned.
func (d *Dispatcher) Dispatch(ctx context.Context, call model.ToolCall) (model.ToolResult, error) {
	t, ok := d.reg.Lookup(call.Name)
	if !ok {
		return errorResult(call.ID, fmt.Sprintf("unknown tool %q", call.Name)), nil
	}
	if d.reg.Permission(call.Name) == PermissionDeny {
		return errorResult(call.ID, fmt.Sprintf("tool %q denied by permission policy", call.Name)), nil
	}

	args, err := decodeArgs(call.Args)
	if err != nil {
		return errorResult(call.ID, fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if err := d.validate(t, args); err != nil {
		return errorResult(call.ID, fmt.Sprintf("arguments rejected by schema: %v", err)), nil
	}

	d.log.Debug("tool dispatch", "tool", call.Name, "call_id", call.ID)
	out, runErr := d.runBounded(ctx, t, args)
	if runErr != nil {
		if errors.Is(runErr, ErrContract) {
			return model.ToolResult{}, runErr
		}
		return errorResult(call.ID, runErr.Error()), nil
	}

	out, info := TruncateResult(out, d.cfg.Truncation)
	if info.Truncated {
		d.log.Debug("tool result truncated", "tool", call.Name, "removed_tokens", info.RemovedTokens)
	}
	payload, err := json.Marshal(out)
	if err != nil {
		return errorResult(call.ID, fmt.Sprintf("encode result: %v", err)), nil
	}
	return model.ToolResult{CallID: call.ID, Result: payload}, nil
}

type runOutcome struct {
	out map[string]any
	err error
}

// runBounded executes the handler under the call timeout. A handler that
// ignores cancellation past the grace period is detached; its eventual
// result is discarded.
func (d *Dispatcher) runBounded(ctx context.Context, t Tool, args map[string]any) (map[string]any, error) {
	runCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	done := make(chan runOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runOutcome{err: fmt.Errorf("tool: handler %q panicked: %v: %w", t.Name(), r, ErrContract)}
			}
		}()
		out, err := t.Run(runCtx, args)
		done <- runOutcome{out: out, err: err}
	}()

	select {
	case outcome := <-done:
		return outcome.out, outcome.err
	case <-runCtx.Done():
	}

	// Deadline fired or the caller cancelled; let the handler unwind
	// within the grace window, then detach it.
	select {
	case outcome := <-done:
		if outcome.err != nil {
			return nil, outcome.err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("tool: %q cancelled: %w", t.Name(), ctx.Err())
		}
		return nil, fmt.Errorf("tool: %q exceeded time budget %s", t.Name(), d.cfg.CallTimeout)
	case <-time.After(d.cfg.Grace):
		d.log.Warn("tool handler detached", "tool", t.Name())
		return nil, fmt.Errorf("tool: %q exceeded time budget %s and ignored cancellation", t.Name(), d.cfg.CallTimeout)
	}
}

func (d *Dispatcher) validate(t Tool, args map[string]any) error {
	schema, err := d.schemaFor(t)
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	// Round-trip so numbers carry the json.Number form the validator expects.
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

func (d *Dispatcher) schemaFor(t Tool) (*jsonschema.Schema, error) {
	name := t.Name()
	d.mu.Lock()
	defer d.mu.Unlock()
	if schema, ok := d.schemas[name]; ok {
		return schema, nil
	}
	decl := t.Declaration()
	if decl.InputSchema == nil {
		d.schemas[name] = nil
		return nil, nil
	}
	raw, err := json.Marshal(decl.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("tool: encode schema for %q: %w", name, err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name+".json", strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("tool: load schema for %q: %w", name, err)
	}
	schema, err := compiler.Compile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("tool: compile schema for %q: %w", name, err)
	}
	d.schemas[name] = schema
	return schema, nil
}

func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	args := map[string]any{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

func errorResult(callID, msg string) model.ToolResult {
	payload, _ := json.Marshal(map[string]any{"error": msg})
	return model.ToolResult{CallID: callID, Result: payload, IsError: true}
}
