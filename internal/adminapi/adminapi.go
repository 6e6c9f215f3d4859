// Package adminapi exposes the circuit breaker's operator surface
// (enumerate, forceOpen, forceClosed, reset) both as a plain Go API
// (the *breaker.Manager methods themselves) and as admin.* tool
// descriptors reachable through the same Dispatcher/MCP Adapter path
// as any other tool, classified admin per spec.md §4.4's requirement
// that these operations be exposed to an operator. Grounded on the
// breaker package's own Snapshot/ForceOpen/ForceClosed/Reset methods
// and on internal/tool's descriptor shape.
package adminapi

import (
	"context"
	"fmt"

	"github.com/larkmcp/corekit/internal/breaker"
	"github.com/larkmcp/corekit/internal/tool"
	"github.com/larkmcp/corekit/internal/upstream"
)

// Tool names under the admin.* namespace.
const (
	ToolListBreakers = "admin.breakers.list"
	ToolResetAll     = "admin.breakers.resetAll"
	ToolForceOpen    = "admin.breakers.forceOpen"
	ToolForceClosed  = "admin.breakers.forceClosed"
)

var breakerNameSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"name": map[string]any{"type": "string", "description": "the tool name the breaker is keyed by"},
	},
	"required": []string{"name"},
}

// Descriptors returns the admin.* tool descriptors. Callers merge
// these into the Core holder's declared descriptor set so they are
// resolvable by the Tool Registry and reachable through tools/list.
func Descriptors() []tool.Descriptor {
	return []tool.Descriptor{
		{
			Name:        ToolListBreakers,
			Description: "list every circuit breaker created so far with its current state",
			InputSchema: map[string]any{"type": "object"},
			Classify:    tool.ClassifyAdmin,
			Auth:        tool.AuthEither,
			RateTier:    "admin",
		},
		{
			Name:        ToolResetAll,
			Description: "reset every circuit breaker to CLOSED",
			InputSchema: map[string]any{"type": "object"},
			Classify:    tool.ClassifyAdmin,
			Auth:        tool.AuthEither,
			RateTier:    "admin",
		},
		{
			Name:        ToolForceOpen,
			Description: "force a named circuit breaker OPEN until reset",
			InputSchema: breakerNameSchema,
			Classify:    tool.ClassifyAdmin,
			Auth:        tool.AuthEither,
			RateTier:    "admin",
		},
		{
			Name:        ToolForceClosed,
			Description: "force a named circuit breaker CLOSED",
			InputSchema: breakerNameSchema,
			Classify:    tool.ClassifyAdmin,
			Auth:        tool.AuthEither,
			RateTier:    "admin",
		},
	}
}

// IsAdminTool reports whether name belongs to the admin.* namespace,
// used to route dispatcher calls to Invoker instead of the real
// upstream client.
func IsAdminTool(name string) bool {
	switch name {
	case ToolListBreakers, ToolResetAll, ToolForceOpen, ToolForceClosed:
		return true
	default:
		return false
	}
}

// Invoker answers admin.* tool calls directly against the breaker
// manager. These operate on this process's own in-memory state, so
// unlike the real tool set they never reach the upstream boundary.
type Invoker struct {
	breakers *breaker.Manager
}

// NewInvoker builds an Invoker over the Core holder's breaker manager.
func NewInvoker(breakers *breaker.Manager) *Invoker {
	return &Invoker{breakers: breakers}
}

// Invoke implements upstream.Invoker for the admin.* tool set.
func (i *Invoker) Invoke(ctx context.Context, b upstream.Binding, creds upstream.Credentials, args map[string]any) ([]upstream.Content, error) {
	switch b.ToolName {
	case ToolListBreakers:
		return []upstream.Content{{Kind: upstream.ContentJSON, JSON: i.breakers.Snapshots()}}, nil
	case ToolResetAll:
		i.breakers.ResetAll()
		return []upstream.Content{{Kind: upstream.ContentText, Text: "ok"}}, nil
	case ToolForceOpen:
		name, err := requiredName(args)
		if err != nil {
			return nil, err
		}
		i.breakers.Get(name).ForceOpen()
		return []upstream.Content{{Kind: upstream.ContentText, Text: "ok"}}, nil
	case ToolForceClosed:
		name, err := requiredName(args)
		if err != nil {
			return nil, err
		}
		i.breakers.Get(name).ForceClosed()
		return []upstream.Content{{Kind: upstream.ContentText, Text: "ok"}}, nil
	default:
		return nil, fmt.Errorf("adminapi: unknown admin tool %q", b.ToolName)
	}
}

func requiredName(args map[string]any) (string, error) {
	name, _ := args["name"].(string)
	if name == "" {
		return "", fmt.Errorf("adminapi: missing required argument %q", "name")
	}
	return name, nil
}
