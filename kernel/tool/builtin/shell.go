package builtin

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/OnslaughtSnail/helmsman/kernel/tool"
)

const (
	// BashToolName is the built-in shell execution tool name.
	BashToolName = "BASH"

	defaultBashTimeout = 90 * time.Second
	maxOutputBytes     = 256 * 1024
)

type bashArgs struct {
	Command   string `json:"command" desc:"shell command"`
	Dir       string `json:"dir,omitempty" desc:"working directory"`
	TimeoutMS int    `json:"timeout_ms,omitempty" desc:"timeout override in milliseconds"`
}

type bashResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	TimedOut bool   `json:"timed_out,omitempty"`
}

// NewBash creates the built-in BASH tool. Commands run under sh -c with
// the call deadline; output is capped at 256 KiB per stream.
func NewBash() (tool.Tool, error) {
	return tool.NewFunction(BashToolName, "Execute a shell command and return stdout, stderr and exit code.",
		func(ctx context.Context, args bashArgs) (bashResult, error) {
			if strings.TrimSpace(args.Command) == "" {
				return bashResult{}, fmt.Errorf("builtin: bash: command is required")
			}
			timeout := defaultBashTimeout
			if args.TimeoutMS > 0 {
				timeout = time.Duration(args.TimeoutMS) * time.Millisecond
			}
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			cmd := exec.CommandContext(runCtx, "sh", "-c", args.Command)
			cmd.Dir = args.Dir
			var stdout, stderr cappedBuffer
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr

			err := cmd.Run()
			result := bashResult{
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				TimedOut: runCtx.Err() == context.DeadlineExceeded,
			}
			if exitErr, ok := err.(*exec.ExitError); ok {
				result.ExitCode = exitErr.ExitCode()
				return result, nil
			}
			if err != nil {
				return bashResult{}, fmt.Errorf("builtin: bash: %w", err)
			}
			return result, nil
		})
}

// cappedBuffer keeps the first maxOutputBytes and drops the rest.
type cappedBuffer struct {
	buf     strings.Builder
	dropped int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	room := maxOutputBytes - b.buf.Len()
	if room <= 0 {
		b.dropped += n
		return n, nil
	}
	if n > room {
		b.dropped += n - room
		p = p[:room]
	}
	b.buf.Write(p)
	return n, nil
}

func (b *cappedBuffer) String() string {
	if b.dropped > 0 {
		return b.buf.String() + fmt.Sprintf("\n[%d bytes dropped]", b.dropped)
	}
	return b.buf.String()
}
