// Package builtin provides the tool set the CLI registers by default:
// filesystem access, shell execution and a clock.
package builtin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/OnslaughtSnail/helmsman/kernel/tool"
)

const (
	// ReadToolName is the built-in file read tool name.
	ReadToolName = "READ"
	// WriteToolName is the built-in file write tool name.
	WriteToolName = "WRITE"
	// ListToolName is the built-in directory listing tool name.
	ListToolName = "LIST"

	defaultReadLimit = 400
	maxListEntries   = 500
)

type readArgs struct {
	Path   string `json:"path" desc:"file path, absolute or relative"`
	Offset int    `json:"offset,omitempty" desc:"start line, zero-based"`
	Limit  int    `json:"limit,omitempty" desc:"max lines returned"`
}

type readResult struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Lines     int    `json:"lines"`
	Truncated bool   `json:"truncated,omitempty"`
}

// NewRead creates the built-in READ tool.
func NewRead() (tool.Tool, error) {
	return tool.NewFunction(ReadToolName, "Read a text file segment by path with offset and line limit.",
		func(ctx context.Context, args readArgs) (readResult, error) {
			if args.Path == "" {
				return readResult{}, fmt.Errorf("builtin: read: path is required")
			}
			limit := args.Limit
			if limit <= 0 || limit > defaultReadLimit {
				limit = defaultReadLimit
			}
			f, err := os.Open(args.Path)
			if err != nil {
				return readResult{}, fmt.Errorf("builtin: read %q: %w", args.Path, err)
			}
			defer f.Close()

			var b strings.Builder
			lines := 0
			truncated := false
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for line := 0; scanner.Scan(); line++ {
				if err := ctx.Err(); err != nil {
					return readResult{}, err
				}
				if line < args.Offset {
					continue
				}
				if lines >= limit {
					truncated = true
					break
				}
				b.WriteString(scanner.Text())
				b.WriteByte('\n')
				lines++
			}
			if err := scanner.Err(); err != nil {
				return readResult{}, fmt.Errorf("builtin: read %q: %w", args.Path, err)
			}
			return readResult{Path: args.Path, Content: b.String(), Lines: lines, Truncated: truncated}, nil
		})
}

type writeArgs struct {
	Path    string `json:"path" desc:"file path to create or overwrite"`
	Content string `json:"content" desc:"full file content"`
}

type writeResult struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// NewWrite creates the built-in WRITE tool.
func NewWrite() (tool.Tool, error) {
	return tool.NewFunction(WriteToolName, "Write full content to a file, creating parent directories.",
		func(_ context.Context, args writeArgs) (writeResult, error) {
			if args.Path == "" {
				return writeResult{}, fmt.Errorf("builtin: write: path is required")
			}
			if dir := filepath.Dir(args.Path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return writeResult{}, fmt.Errorf("builtin: write %q: %w", args.Path, err)
				}
			}
			if err := os.WriteFile(args.Path, []byte(args.Content), 0o644); err != nil {
				return writeResult{}, fmt.Errorf("builtin: write %q: %w", args.Path, err)
			}
			return writeResult{Path: args.Path, Bytes: len(args.Content)}, nil
		})
}

type listArgs struct {
	Path string `json:"path,omitempty" desc:"directory path, defaults to the working directory"`
}

type listResult struct {
	Path      string   `json:"path"`
	Entries   []string `json:"entries"`
	Truncated bool     `json:"truncated,omitempty"`
}

// NewList creates the built-in LIST tool.
func NewList() (tool.Tool, error) {
	return tool.NewFunction(ListToolName, "List directory entries; directories carry a trailing slash.",
		func(_ context.Context, args listArgs) (listResult, error) {
			dir := args.Path
			if dir == "" {
				dir = "."
			}
			entries, err := os.ReadDir(dir)
			if err != nil {
				return listResult{}, fmt.Errorf("builtin: list %q: %w", dir, err)
			}
			names := make([]string, 0, len(entries))
			truncated := false
			for _, entry := range entries {
				if len(names) >= maxListEntries {
					truncated = true
					break
				}
				name := entry.Name()
				if entry.IsDir() {
					name += "/"
				}
				names = append(names, name)
			}
			sort.Strings(names)
			return listResult{Path: dir, Entries: names, Truncated: truncated}, nil
		})
}
