// Package upstream defines the external-invoker boundary the
// Dispatcher hands resolved tool calls to. The concrete Lark/Feishu
// OpenAPI HTTP client living behind this interface is explicitly out
// of scope (spec.md §1 Non-goals: "the several hundred concrete Lark
// API bindings" and "the HTTP client issuing real network calls").
// Grounded on the teacher's ports.ToolExecutor boundary
// (internal/domain/agent/ports/tools.go): a narrow Execute-shaped
// interface the registry wraps, never the concrete tool itself.
package upstream

import "context"

// ContentKind tags one variant of a heterogeneous result payload, per
// spec.md §9 ("never a language-native dynamic value").
type ContentKind string

const (
	ContentText   ContentKind = "text"
	ContentJSON   ContentKind = "json"
	ContentBinary ContentKind = "binary"
)

// Content is one tagged unit of a tool's result.
type Content struct {
	Kind ContentKind
	Text string
	JSON any
	Bytes []byte
}

// Credentials carries the resolved authentication material for a
// single call, chosen by the Dispatcher's auth-selection step.
type Credentials struct {
	TenantToken string
	UserToken   string
}

// Binding is the opaque descriptor-side data the Dispatcher forwards
// to the invoker: the canonical upstream operation this tool name maps
// to. The core never interprets its contents.
type Binding struct {
	ToolName string
	Opaque   map[string]any
}

// Invoker performs the actual upstream call. Implementations own
// transport, retries-within-a-single-attempt, and response parsing;
// the Dispatcher owns everything around the call (breaker, rate limit,
// cache, timeout, telemetry).
type Invoker interface {
	Invoke(ctx context.Context, binding Binding, creds Credentials, args map[string]any) ([]Content, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, binding Binding, creds Credentials, args map[string]any) ([]Content, error)

func (f InvokerFunc) Invoke(ctx context.Context, binding Binding, creds Credentials, args map[string]any) ([]Content, error) {
	return f(ctx, binding, creds, args)
}
