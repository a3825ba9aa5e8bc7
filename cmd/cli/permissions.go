package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/OnslaughtSnail/helmsman/kernel/tool"
	"github.com/OnslaughtSnail/helmsman/kernel/tool/builtin"
)

// permissionFile maps tool names to permission strings:
//
//	tools:
//	  BASH: confirm
//	  WRITE: confirm
//	  READ: allow
type permissionFile struct {
	Tools map[string]string `yaml:"tools"`
}

func loadToolPermissions(path string) (map[string]tool.Permission, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cli permissions: read %q: %w", path, err)
	}
	var parsed permissionFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("cli permissions: parse %q: %w", path, err)
	}
	out := make(map[string]tool.Permission, len(parsed.Tools))
	for name, value := range parsed.Tools {
		perm, err := tool.ParsePermission(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("cli permissions: tool %q: %w", name, err)
		}
		out[strings.TrimSpace(name)] = perm
	}
	return out, nil
}

// buildToolRegistry registers the builtin set. Mutating tools default to
// confirmation unless the permission file says otherwise.
func buildToolRegistry(perms map[string]tool.Permission) (*tool.Registry, error) {
	tools, err := builtin.All()
	if err != nil {
		return nil, err
	}
	registry := tool.NewRegistry()
	for _, t := range tools {
		perm := defaultPermissionFor(t.Name())
		if override, ok := perms[t.Name()]; ok {
			perm = override
		}
		if err := registry.Register(t, perm); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func defaultPermissionFor(name string) tool.Permission {
	switch name {
	case builtin.BashToolName, builtin.WriteToolName:
		return tool.PermissionConfirm
	default:
		return tool.PermissionAllow
	}
}
