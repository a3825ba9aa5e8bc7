// Package tool defines the executable tool contract, the session
// registry and the dispatcher that turns model tool calls into results.
package tool

import (
	"context"
	"fmt"

	"github.com/OnslaughtSnail/helmsman/kernel/model"
)

// Tool is the executable tool contract.
type Tool interface {
	Name() string
	Description() string
	Declaration() model.ToolDefinition
	Run(context.Context, map[string]any) (map[string]any, error)
}

// Permission classifies how a tool call may proceed.
type Permission int

const (
	// PermissionAllow runs the call without asking.
	PermissionAllow Permission = iota
	// PermissionConfirm suspends the call until the user confirms.
	PermissionConfirm
	// PermissionDeny rejects the call outright.
	PermissionDeny
)

func (p Permission) String() string {
	switch p {
	case PermissionAllow:
		return "allow"
	case PermissionConfirm:
		return "confirm"
	case PermissionDeny:
		return "deny"
	}
	return fmt.Sprintf("permission(%d)", int(p))
}

// ParsePermission maps a policy-file value to a permission class.
func ParsePermission(s string) (Permission, error) {
	switch s {
	case "allow", "always-allow", "":
		return PermissionAllow, nil
	case "confirm", "requires-confirmation":
		return PermissionConfirm, nil
	case "deny":
		return PermissionDeny, nil
	}
	return PermissionDeny, fmt.Errorf("tool: unknown permission %q", s)
}

// Declarations returns model-visible declarations for tools.
func Declarations(tools []Tool) []model.ToolDefinition {
	decls := make([]model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		if t == nil {
			continue
		}
		decls = append(decls, t.Declaration())
	}
	return decls
}
