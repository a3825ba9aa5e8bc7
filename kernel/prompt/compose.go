// Package prompt assembles the per-turn system prompt from ordered
// fragments: assistant identity, workspace context, tool usage notes and
// session overrides.
package prompt

import (
	"fmt"
	"strings"

	"github.com/OnslaughtSnail/helmsman/kernel/model"
)

const defaultIdentity = `You are a careful terminal coding assistant. You work inside the
user's repository, prefer small verifiable steps, and use the provided
tools for any filesystem or shell access instead of guessing.`

// Workspace is the repository context folded into the prompt.
type Workspace struct {
	Root   string
	Branch string
	Commit string
	Dirty  bool
}

// Spec describes prompt assembly inputs.
type Spec struct {
	Identity        string
	Workspace       *Workspace
	Tools           []model.ToolDefinition
	SessionOverride string
}

// Fragment is one assembled prompt section.
type Fragment struct {
	Stage   string
	Content string
}

// Result carries the final prompt and the fragments it was built from.
type Result struct {
	Prompt    string
	Fragments []Fragment
}

// Assemble builds the system prompt from the ordered stages. Empty
// stages are skipped.
func Assemble(spec Spec) Result {
	out := Result{}

	identity := normalize(spec.Identity)
	if identity == "" {
		identity = defaultIdentity
	}
	out.add("identity", identity)

	if ws := spec.Workspace; ws != nil && ws.Root != "" {
		out.add("workspace", workspaceSection(ws))
	}
	if len(spec.Tools) > 0 {
		out.add("tools", toolSection(spec.Tools))
	}
	if override := normalize(spec.SessionOverride); override != "" {
		out.add("session_overrides", "## Session Overrides\n\n"+override)
	}

	parts := make([]string, 0, len(out.Fragments))
	for _, fragment := range out.Fragments {
		parts = append(parts, fragment.Content)
	}
	out.Prompt = strings.Join(parts, "\n\n")
	return out
}

func (r *Result) add(stage, content string) {
	r.Fragments = append(r.Fragments, Fragment{Stage: stage, Content: content})
}

func workspaceSection(ws *Workspace) string {
	var b strings.Builder
	b.WriteString("## Workspace\n\n")
	fmt.Fprintf(&b, "Root: %s\n", ws.Root)
	if ws.Branch != "" {
		fmt.Fprintf(&b, "Branch: %s\n", ws.Branch)
	}
	if ws.Commit != "" {
		fmt.Fprintf(&b, "Commit: %s\n", ws.Commit)
	}
	if ws.Dirty {
		b.WriteString("The working tree has uncommitted changes.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func toolSection(tools []model.ToolDefinition) string {
	var b strings.Builder
	b.WriteString("## Tools\n\nThe following tools are available; call them rather than describing the action:\n")
	for _, t := range tools {
		desc := strings.TrimSpace(t.Description)
		if desc == "" {
			desc = "(no description)"
		}
		fmt.Fprintf(&b, "- %s: %s\n", t.Name, desc)
	}
	return strings.TrimRight(b.String(), "\n")
}

func normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}
