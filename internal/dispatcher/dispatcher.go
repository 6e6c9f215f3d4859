// Package dispatcher implements the Tool Dispatcher's ordered call
// pipeline (spec.md §4.2): name resolution, input validation, auth
// selection, circuit-breaker admission, rate-limit admission, cache
// check, upstream invocation, result shaping, and telemetry/cache
// write. Grounded on the teacher's wrapTool layering in
// internal/app/toolregistry/registry.go (approval -> retry -> id ->
// SLA, each an independent decorator around the base executor),
// generalized into one sequential pipeline since the breaker, rate
// limiter, and cache here are shared cross-tool components rather than
// per-tool decorators.
package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/larkmcp/corekit/internal/breaker"
	"github.com/larkmcp/corekit/internal/cache"
	corekiterrors "github.com/larkmcp/corekit/internal/errors"
	"github.com/larkmcp/corekit/internal/logging"
	"github.com/larkmcp/corekit/internal/monitor"
	"github.com/larkmcp/corekit/internal/ratelimit"
	"github.com/larkmcp/corekit/internal/tool"
	"github.com/larkmcp/corekit/internal/upstream"
)

// DefaultTimeout is applied when CallOptions.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// CredentialSource resolves tenant/user tokens for auth selection. The
// Core holder backs the tenant token with the cache manager's AppTokens
// category and the user token with a static configured value; the
// dispatcher itself is agnostic to how tokens are
// fetched or refreshed.
type CredentialSource interface {
	TenantToken(ctx context.Context) (string, error)
	UserToken(ctx context.Context) (string, bool, error) // ok=false if no user token configured
}

// CallOptions customizes a single call, per spec.md §4.2.
type CallOptions struct {
	TokenMode tool.AuthMode // "" defers to the registry default ("auto")
	Timeout   time.Duration
	NoCache   bool
}

// Result is the success shape of a call.
type Result struct {
	Content  []upstream.Content
	Metadata map[string]any
}

// Dispatcher wires the active tool set to the shared rate limiter,
// circuit breaker manager, cache manager, and upstream invoker.
type Dispatcher struct {
	active      *tool.ActiveSet
	breakers    *breaker.Manager
	limiter     *ratelimit.Limiter
	cache       *cache.Manager
	invoker     upstream.Invoker
	credentials CredentialSource
	defaultMode tool.AuthMode
	monitor     *monitor.Monitor
	logger      logging.Logger
	tracer      trace.Tracer
}

// Option customizes a Dispatcher at construction.
type Option func(*Dispatcher)

// WithLogger overrides the default component logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = logging.OrNop(logger) }
}

// WithMonitor attaches a Performance Monitor for per-tool latency and
// error-rate telemetry.
func WithMonitor(m *monitor.Monitor) Option {
	return func(d *Dispatcher) { d.monitor = m }
}

// WithTracer overrides the default no-op tracer.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithDefaultTokenMode overrides the "auto" default.
func WithDefaultTokenMode(mode tool.AuthMode) Option {
	return func(d *Dispatcher) { d.defaultMode = mode }
}

// New builds a Dispatcher over an already-resolved active tool set.
func New(active *tool.ActiveSet, breakers *breaker.Manager, limiter *ratelimit.Limiter, cacheMgr *cache.Manager, invoker upstream.Invoker, credentials CredentialSource, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		active:      active,
		breakers:    breakers,
		limiter:     limiter,
		cache:       cacheMgr,
		invoker:     invoker,
		credentials: credentials,
		defaultMode: tool.AuthEither,
		logger:      logging.NewComponentLogger("dispatcher"),
		tracer:      noop.NewTracerProvider().Tracer("noop"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ListedTool is the metadata shape returned by List, per spec.md §4.2's
// list() operation: no bindings leaked.
type ListedTool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// List returns the active set's metadata.
func (d *Dispatcher) List() []ListedTool {
	descs := d.active.List()
	out := make([]ListedTool, 0, len(descs))
	for _, desc := range descs {
		out = append(out, ListedTool{Name: desc.Name, Description: desc.Description, InputSchema: desc.InputSchema})
	}
	return out
}

// Call runs the full ordered pipeline for one tool invocation.
// Exactly one of (*Result, nil) or (nil, *corekiterrors.CoreError) is
// ever returned.
func (d *Dispatcher) Call(ctx context.Context, name string, args map[string]any, opts CallOptions) (*Result, *corekiterrors.CoreError) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.call", trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	start := time.Now()
	result, callErr := d.call(ctx, name, args, opts)

	if d.monitor != nil {
		d.monitor.RecordDuration("dispatcher.call."+name, time.Since(start))
	}
	if callErr != nil {
		span.SetStatus(codes.Error, callErr.Error())
		span.SetAttributes(attribute.String("error.category", string(callErr.Category)))
		return nil, callErr
	}
	return result, nil
}

func (d *Dispatcher) call(ctx context.Context, name string, args map[string]any, opts CallOptions) (*Result, *corekiterrors.CoreError) {
	// 1. Name resolution.
	desc, ok := d.active.Get(name)
	if !ok {
		return nil, corekiterrors.NotFoundError("tool_not_found", fmt.Sprintf("tool %q is not in the active set", name))
	}

	// 2. Input validation.
	if fieldErrors := validate(desc.InputSchema, args); len(fieldErrors) > 0 {
		return nil, corekiterrors.ValidationError(fieldErrors)
	}

	// 3. Auth selection.
	creds, authErr := d.selectAuth(ctx, desc, opts)
	if authErr != nil {
		return nil, authErr
	}

	// 4. Circuit-breaker admission.
	b := d.breakers.Get(name)
	if err := b.Allow(); err != nil {
		if ce, ok := err.(*corekiterrors.CoreError); ok {
			return nil, ce
		}
		return nil, corekiterrors.Internal(err)
	}

	// 5. Rate-limit admission.
	tier := desc.RateTier
	if tier == "" {
		tier = ratelimit.DefaultTier
	}
	if err := d.limiter.Acquire(tier, 1, d.timeoutFor(opts)); err != nil {
		b.Mark(err, 0)
		if ce, ok := err.(*corekiterrors.CoreError); ok {
			return nil, ce
		}
		return nil, corekiterrors.Internal(err)
	}

	// 6. Cache check (read-classified tools only).
	cacheKey := canonicalKey(name, args)
	if desc.Classify == tool.ClassifyRead && !opts.NoCache && d.cache != nil {
		if cached, hit := d.cache.Get(desc.Category, cacheKey); hit {
			b.Mark(nil, 0)
			if res, ok := cached.(*Result); ok {
				return res, nil
			}
		}
	}

	// 7. Upstream invocation.
	timeout := d.timeoutFor(opts)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callStart := time.Now()
	content, invokeErr := d.invoker.Invoke(callCtx, upstream.Binding{ToolName: name}, creds, args)
	elapsed := time.Since(callStart)

	// 8. Result shaping.
	if callCtx.Err() == context.DeadlineExceeded {
		b.Mark(callCtx.Err(), elapsed)
		return nil, corekiterrors.TimeoutError(name)
	}
	if invokeErr != nil {
		b.Mark(invokeErr, elapsed)
		return nil, shapeUpstreamError(invokeErr)
	}
	b.Mark(nil, elapsed)

	result := &Result{Content: content, Metadata: map[string]any{"tool": name}}

	// 9. Telemetry & cache write.
	if desc.Classify == tool.ClassifyRead && !opts.NoCache && d.cache != nil {
		d.cache.Set(desc.Category, cacheKey, result, nil)
	}

	return result, nil
}

func (d *Dispatcher) selectAuth(ctx context.Context, desc tool.Descriptor, opts CallOptions) (upstream.Credentials, *corekiterrors.CoreError) {
	mode := opts.TokenMode
	if mode == "" {
		mode = d.defaultMode
	}
	if desc.Auth != "" && desc.Auth != tool.AuthEither {
		mode = desc.Auth
	}

	var creds upstream.Credentials
	switch mode {
	case tool.AuthTenant:
		token, err := d.credentials.TenantToken(ctx)
		if err != nil {
			return creds, corekiterrors.New("auth_failed", corekiterrors.CategoryAuthentication, "failed to resolve tenant token", err)
		}
		creds.TenantToken = token
	case tool.AuthUser:
		token, ok, err := d.credentials.UserToken(ctx)
		if err != nil {
			return creds, corekiterrors.New("auth_failed", corekiterrors.CategoryAuthentication, "failed to resolve user token", err)
		}
		if !ok {
			return creds, corekiterrors.New("auth_unavailable", corekiterrors.CategoryAuthentication, "no user access token is configured", nil)
		}
		creds.UserToken = token
	default: // auto / either: prefer user when available, else tenant
		if token, ok, err := d.credentials.UserToken(ctx); err == nil && ok {
			creds.UserToken = token
			return creds, nil
		}
		token, err := d.credentials.TenantToken(ctx)
		if err != nil {
			return creds, corekiterrors.New("auth_failed", corekiterrors.CategoryAuthentication, "failed to resolve tenant token", err)
		}
		creds.TenantToken = token
	}
	return creds, nil
}

func (d *Dispatcher) timeoutFor(opts CallOptions) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return DefaultTimeout
}

func shapeUpstreamError(err error) *corekiterrors.CoreError {
	if ce, ok := err.(*corekiterrors.CoreError); ok {
		return ce
	}
	return corekiterrors.Internal(err)
}

// validate checks args against a descriptor's input schema, which
// carries an optional "required" list of field names. Returns a
// per-field diagnostic map; empty means valid.
func validate(schema map[string]any, args map[string]any) map[string]string {
	fieldErrors := map[string]string{}
	if schema == nil {
		return fieldErrors
	}
	required, _ := schema["required"].([]string)
	for _, field := range required {
		if _, ok := args[field]; !ok {
			fieldErrors[field] = "required field is missing"
		}
	}
	return fieldErrors
}

// canonicalKey builds the name:canonicalized(args) portion of the
// cache key described in spec.md §4.2 step 6 ("category:name:
// canonicalized(args)"); the cache.Manager prepends the category
// itself. Canonicalization is a stable, sorted-key JSON encoding so
// argument order never affects the key.
func canonicalKey(name string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, args[k])
	}
	encoded, _ := json.Marshal(ordered)

	sum := sha256.Sum256(encoded)
	return name + ":" + hex.EncodeToString(sum[:])
}
