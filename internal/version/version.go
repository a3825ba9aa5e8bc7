// Package version carries build metadata stamped in through -ldflags.
package version

import "strings"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the stamped values as a single line, skipping blanks.
func String() string {
	out := make([]string, 0, 3)
	if v := strings.TrimSpace(Version); v != "" {
		out = append(out, v)
	}
	if c := strings.TrimSpace(Commit); c != "" {
		out = append(out, "commit="+c)
	}
	if d := strings.TrimSpace(Date); d != "" {
		out = append(out, "date="+d)
	}
	return strings.Join(out, " ")
}
