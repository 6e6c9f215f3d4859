// Package mcpserver binds the active tool set to the two verbs MCP
// clients use — tools/list and tools/call — behind a Transport
// interface, per spec.md §6.1. No example repo in the retrieved
// corpus implements an MCP *server* (only clients exist in the
// ecosystem this was grounded on), so the JSON-RPC envelope and both
// transports here are new code; the surrounding idiom (functional
// options, component logger, Deps struct) is grounded on the
// teacher's internal/delivery/server/http package.
package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/larkmcp/corekit/internal/dispatcher"
	corekiterrors "github.com/larkmcp/corekit/internal/errors"
	"github.com/larkmcp/corekit/internal/logging"
	"github.com/larkmcp/corekit/internal/upstream"
)

// Request is one line-framed or POSTed JSON-RPC request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is the JSON-RPC response for one Request. Exactly one of
// Result or Error is populated once the transport encodes it.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id,omitempty"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError is a protocol-level JSON-RPC error (unknown method,
// malformed params) — distinct from a tool call's in-band §6.3
// error envelope, which rides back as a successful Response.Result.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// ToolInfo is one entry of a tools/list result.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// listToolsResult is the tools/list result shape.
type listToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// callToolParams is the tools/call params shape.
type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// contentBlock is one entry of a tools/call result's content array.
// Per spec.md §9 the Dispatcher's heterogeneous Result.Content is
// never forwarded as a language-native dynamic value; here it is
// additionally flattened to the wire's single "text" block shape
// (§6.1: "content: [{type: 'text', text: <serialized payload>}]").
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// callToolResult is the tools/call result shape on success, or the
// §6.3 error envelope fields merged in with IsError true on failure.
type callToolResult struct {
	Content []contentBlock
	IsError bool
	Envelope corekiterrors.Envelope
}

// MarshalJSON flattens the embedded error envelope's fields alongside
// Content/IsError only when the call failed, keeping a clean success
// shape otherwise.
func (r callToolResult) MarshalJSON() ([]byte, error) {
	if !r.IsError {
		return json.Marshal(struct {
			Content []contentBlock `json:"content"`
		}{Content: r.Content})
	}
	return json.Marshal(struct {
		IsError   bool                    `json:"isError"`
		ErrorCode string                  `json:"errorCode"`
		Category  corekiterrors.Category  `json:"category"`
		Severity  corekiterrors.Severity  `json:"severity"`
		Retryable bool                    `json:"retryable"`
		Message   string                  `json:"message"`
		Details   map[string]any          `json:"details,omitempty"`
		Timestamp string                  `json:"timestamp"`
	}{
		IsError:   true,
		ErrorCode: r.Envelope.ErrorCode,
		Category:  r.Envelope.Category,
		Severity:  r.Envelope.Severity,
		Retryable: r.Envelope.Retryable,
		Message:   r.Envelope.Message,
		Details:   r.Envelope.Details,
		Timestamp: r.Envelope.Timestamp,
	})
}

// Adapter translates JSON-RPC requests into Dispatcher calls.
type Adapter struct {
	dispatcher *dispatcher.Dispatcher
	logger     logging.Logger
}

// Option customizes an Adapter at construction.
type Option func(*Adapter)

// WithLogger overrides the default component logger.
func WithLogger(logger logging.Logger) Option {
	return func(a *Adapter) { a.logger = logging.OrNop(logger) }
}

// NewAdapter builds an Adapter over an already-wired Dispatcher.
func NewAdapter(d *dispatcher.Dispatcher, opts ...Option) *Adapter {
	a := &Adapter{dispatcher: d, logger: logging.NewComponentLogger("mcpserver")}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handle dispatches one JSON-RPC request to tools/list or tools/call.
func (a *Adapter) Handle(ctx context.Context, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "tools/list":
		resp.Result = a.handleList()
	case "tools/call":
		result, rpcErr := a.handleCall(ctx, req.Params)
		if rpcErr != nil {
			resp.Error = rpcErr
			return resp
		}
		resp.Result = result
	default:
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
	return resp
}

func (a *Adapter) handleList() listToolsResult {
	listed := a.dispatcher.List()
	tools := make([]ToolInfo, 0, len(listed))
	for _, t := range listed {
		tools = append(tools, ToolInfo{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return listToolsResult{Tools: tools}
}

func (a *Adapter) handleCall(ctx context.Context, raw json.RawMessage) (callToolResult, *RPCError) {
	var params callToolParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return callToolResult{}, &RPCError{Code: codeInvalidParams, Message: "malformed tools/call params"}
		}
	}

	result, callErr := a.dispatcher.Call(ctx, params.Name, params.Arguments, dispatcher.CallOptions{})
	if callErr != nil {
		a.logger.Warn("tools/call %s failed: %s", params.Name, callErr.Error())
		return callToolResult{IsError: true, Envelope: callErr.ToEnvelope()}, nil
	}

	blocks := make([]contentBlock, 0, len(result.Content))
	for _, c := range result.Content {
		blocks = append(blocks, contentBlock{Type: "text", Text: serializeContent(c)})
	}
	return callToolResult{Content: blocks}, nil
}

// serializeContent flattens one tagged Content variant to text, per
// §6.1's single-shape wire content block.
func serializeContent(c upstream.Content) string {
	switch c.Kind {
	case upstream.ContentText:
		return c.Text
	case upstream.ContentJSON:
		encoded, err := json.Marshal(c.JSON)
		if err != nil {
			return fmt.Sprintf("%v", c.JSON)
		}
		return string(encoded)
	case upstream.ContentBinary:
		return base64.StdEncoding.EncodeToString(c.Bytes)
	default:
		return ""
	}
}
