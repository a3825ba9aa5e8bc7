package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/OnslaughtSnail/helmsman/kernel/tool"
)

// ClockToolName is the built-in clock tool name.
const ClockToolName = "CLOCK"

type clockArgs struct {
	TZ string `json:"tz,omitempty" desc:"IANA time zone name, defaults to local"`
}

type clockResult struct {
	Time string `json:"time"`
	Zone string `json:"zone"`
	Unix int64  `json:"unix"`
}

// NewClock creates the built-in CLOCK tool.
func NewClock() (tool.Tool, error) {
	return tool.NewFunction(ClockToolName, "Report the current time, optionally in a named time zone.",
		func(_ context.Context, args clockArgs) (clockResult, error) {
			loc := time.Local
			if args.TZ != "" {
				var err error
				loc, err = time.LoadLocation(args.TZ)
				if err != nil {
					return clockResult{}, fmt.Errorf("builtin: clock: %w", err)
				}
			}
			now := time.Now().In(loc)
			return clockResult{
				Time: now.Format(time.RFC3339),
				Zone: loc.String(),
				Unix: now.Unix(),
			}, nil
		})
}

// All returns the full built-in tool set.
func All() ([]tool.Tool, error) {
	constructors := []func() (tool.Tool, error){NewRead, NewWrite, NewList, NewBash, NewClock}
	out := make([]tool.Tool, 0, len(constructors))
	for _, construct := range constructors {
		t, err := construct()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
