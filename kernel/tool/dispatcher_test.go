package tool

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/OnslaughtSnail/helmsman/kernel/model"
)

type echoArgs struct {
	Text string `json:"text"`
}

type echoResult struct {
	Echo string `json:"echo"`
}

func newEchoRegistry(t *testing.T, perm Permission) *Registry {
	t.Helper()
	echo, err := NewFunction("echo", "echo text back", func(_ context.Context, args echoArgs) (echoResult, error) {
		return echoResult{Echo: args.Text}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	if err := reg.Register(echo, perm); err != nil {
		t.Fatal(err)
	}
	return reg
}

func dispatch(t *testing.T, d *Dispatcher, name, args string) model.ToolResult {
	t.Helper()
	result, err := d.Dispatch(context.Background(), model.ToolCall{
		ID:   "call_1",
		Name: name,
		Args: json.RawMessage(args),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	return result
}

func TestDispatchSuccess(t *testing.T) {
	d := NewDispatcher(newEchoRegistry(t, PermissionAllow), DispatcherConfig{})
	result := dispatch(t, d, "echo", `{"text":"hello"}`)
	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Result)
	}
	if result.CallID != "call_1" {
		t.Fatalf("call id = %q", result.CallID)
	}
	var decoded echoResult
	if err := json.Unmarshal(result.Result, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Echo != "hello" {
		t.Fatalf("echo = %q", decoded.Echo)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(newEchoRegistry(t, PermissionAllow), DispatcherConfig{})
	result := dispatch(t, d, "missing", `{}`)
	if !result.IsError {
		t.Fatal("unknown tool must produce an error result")
	}
}

func TestDispatchDenied(t *testing.T) {
	d := NewDispatcher(newEchoRegistry(t, PermissionDeny), DispatcherConfig{})
	result := dispatch(t, d, "echo", `{"text":"hi"}`)
	if !result.IsError || !strings.Contains(string(result.Result), "denied") {
		t.Fatalf("denied tool result = %s", result.Result)
	}
}

func TestDispatchSchemaRejection(t *testing.T) {
	d := NewDispatcher(newEchoRegistry(t, PermissionAllow), DispatcherConfig{})
	result := dispatch(t, d, "echo", `{"text":42}`)
	if !result.IsError || !strings.Contains(string(result.Result), "schema") {
		t.Fatalf("schema violation result = %s", result.Result)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	failing, err := NewFunction("fail", "always fails", func(_ context.Context, _ struct{}) (struct{}, error) {
		return struct{}{}, errors.New("disk on fire")
	})
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	if err := reg.Register(failing, PermissionAllow); err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(reg, DispatcherConfig{})
	result := dispatch(t, d, "fail", `{}`)
	if !result.IsError || !strings.Contains(string(result.Result), "disk on fire") {
		t.Fatalf("handler failure result = %s", result.Result)
	}
}

func TestDispatchTimeout(t *testing.T) {
	slow, err := NewFunction("slow", "sleeps past the budget", func(ctx context.Context, _ struct{}) (struct{}, error) {
		select {
		case <-ctx.Done():
			return struct{}{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return struct{}{}, nil
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	if err := reg.Register(slow, PermissionAllow); err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(reg, DispatcherConfig{CallTimeout: 30 * time.Millisecond, Grace: 100 * time.Millisecond})
	result := dispatch(t, d, "slow", `{}`)
	if !result.IsError {
		t.Fatalf("timed-out call must produce an error result: %s", result.Result)
	}
}

func TestDispatchDetachesStuckHandler(t *testing.T) {
	stuck, err := NewFunction("stuck", "ignores cancellation", func(_ context.Context, _ struct{}) (struct{}, error) {
		time.Sleep(2 * time.Second)
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	if err := reg.Register(stuck, PermissionAllow); err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(reg, DispatcherConfig{CallTimeout: 20 * time.Millisecond, Grace: 20 * time.Millisecond})

	start := time.Now()
	result := dispatch(t, d, "stuck", `{}`)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("dispatch blocked on a stuck handler for %s", elapsed)
	}
	if !result.IsError || !strings.Contains(string(result.Result), "ignored cancellation") {
		t.Fatalf("stuck handler result = %s", result.Result)
	}
}

func TestDispatchPanicPoisons(t *testing.T) {
	angry, err := NewFunction("angry", "panics", func(_ context.Context, _ struct{}) (struct{}, error) {
		panic("nope")
	})
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry()
	if err := reg.Register(angry, PermissionAllow); err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(reg, DispatcherConfig{})
	_, err = d.Dispatch(context.Background(), model.ToolCall{ID: "c", Name: "angry", Args: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrContract) {
		t.Fatalf("err = %v, want ErrContract", err)
	}
}

func TestRegistryDuplicateAndPermissions(t *testing.T) {
	reg := newEchoRegistry(t, PermissionConfirm)
	echo, _ := reg.Lookup("echo")
	if err := reg.Register(echo, PermissionAllow); err == nil {
		t.Fatal("duplicate register must fail")
	}
	if reg.Permission("echo") != PermissionConfirm {
		t.Fatalf("permission = %v", reg.Permission("echo"))
	}
	if reg.Permission("nope") != PermissionDeny {
		t.Fatal("unregistered tools default to deny")
	}
	decls := reg.Declarations()
	if len(decls) != 1 || decls[0].Name != "echo" {
		t.Fatalf("declarations = %+v", decls)
	}
}
