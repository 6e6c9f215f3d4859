// Package core centralizes every component into a single constructed
// holder, per spec.md §9 ("Global mutable state... Centralize in a
// single Core holder constructed at startup; no process-wide
// singletons beyond it"). Grounded on the teacher's internal/app/di
// container-builder pattern: an explicit struct built once at startup
// by a constructor function, rather than package-level globals wired
// up by init().
package core

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/larkmcp/corekit/internal/adminapi"
	"github.com/larkmcp/corekit/internal/agent"
	"github.com/larkmcp/corekit/internal/balancer"
	"github.com/larkmcp/corekit/internal/breaker"
	"github.com/larkmcp/corekit/internal/cache"
	"github.com/larkmcp/corekit/internal/config"
	"github.com/larkmcp/corekit/internal/coordinator"
	"github.com/larkmcp/corekit/internal/dispatcher"
	"github.com/larkmcp/corekit/internal/logging"
	"github.com/larkmcp/corekit/internal/mcpserver"
	"github.com/larkmcp/corekit/internal/monitor"
	"github.com/larkmcp/corekit/internal/observability"
	"github.com/larkmcp/corekit/internal/ratelimit"
	"github.com/larkmcp/corekit/internal/scheduler"
	"github.com/larkmcp/corekit/internal/task"
	"github.com/larkmcp/corekit/internal/tool"
	"github.com/larkmcp/corekit/internal/upstream"
)

// Config is everything New needs beyond the resolved RuntimeConfig
// itself: the pieces spec.md §1 puts out of scope (the concrete
// upstream invoker, the real token-minting call) and the tool
// catalog, which spec.md §9 treats as externally supplied descriptor
// data rather than something the core compiles in.
type Config struct {
	Runtime            config.RuntimeConfig
	Meta               config.Metadata
	Descriptors        []tool.Descriptor
	Presets            []tool.Preset
	Invoker            upstream.Invoker
	TenantTokenFetcher TenantTokenFetcher
	ServiceName        string
	PrometheusRegistry *prometheus.Registry
}

// Core holds every constructed component. Tests and the cmd
// entrypoint are the only two callers of New; nothing else in this
// module reaches for a package-level singleton.
type Core struct {
	Runtime config.RuntimeConfig
	Meta    config.Metadata
	Logger  logging.Logger

	Observability *observability.Provider
	Breakers      *breaker.Manager
	Limiter       *ratelimit.Limiter
	Cache         *cache.Manager
	Monitor       *monitor.Monitor
	Tools         *tool.ActiveSet
	Credentials   *TokenSource
	Dispatcher    *dispatcher.Dispatcher
	Agents        *agent.Registry
	Tasks         *task.Queue
	Balancer      *balancer.Balancer
	Coordinator   *coordinator.Coordinator
	Scheduler     *scheduler.Scheduler
	MCP           *mcpserver.Adapter
}

// New constructs every component and wires them together in
// dependency order: observability and logging first, then the shared
// cross-tool components (breaker, limiter, cache, monitor), then the
// tool registry's active set, then the Dispatcher over all of it,
// then the multi-agent scheduling components, then the MCP adapter on
// top of the Dispatcher.
func New(cfg Config) (*Core, error) {
	logger := logging.New(logging.Config{Level: cfg.Runtime.LogLevel, Format: cfg.Runtime.LogFormat})

	obsProvider, err := observability.New(observability.Config{
		ServiceName: firstNonEmpty(cfg.ServiceName, "lark-mcp-core"),
		Registry:    cfg.PrometheusRegistry,
	})
	if err != nil {
		return nil, fmt.Errorf("core: observability: %w", err)
	}

	breakers := breaker.NewManager(cfg.Runtime.CircuitBreaker, obsProvider.Registry)
	limiter := ratelimit.New(cfg.Runtime.RateLimiting)
	cacheMgr := cache.New(cfg.Runtime.Cache)
	perfMonitor := monitor.New(monitor.WithMetrics(obsProvider.Registry))

	// admin.* operator tools (§C.4) are always registered, independent
	// of the caller's own descriptor set: they give the circuit
	// breaker manager a reachable operator surface even for a build
	// (e.g. cmd/larkmcpd) that supplies no concrete Lark API tools.
	descriptors := append(append([]tool.Descriptor{}, cfg.Descriptors...), adminapi.Descriptors()...)

	registry, err := tool.New(descriptors, cfg.Presets)
	if err != nil {
		return nil, fmt.Errorf("core: tool registry: %w", err)
	}
	activeSet, err := registry.Resolve(tool.FilterSpec{
		Include: cfg.Runtime.Tools.Include,
		Exclude: cfg.Runtime.Tools.Exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("core: resolve active tool set: %w", err)
	}

	credentials := NewTokenSource(cacheMgr, cfg.Runtime.UserAccessToken, cfg.TenantTokenFetcher)

	fallbackInvoker := cfg.Invoker
	if fallbackInvoker == nil {
		fallbackInvoker = upstream.InvokerFunc(func(ctx context.Context, b upstream.Binding, c upstream.Credentials, args map[string]any) ([]upstream.Content, error) {
			return nil, fmt.Errorf("core: no upstream invoker configured for tool %q", b.ToolName)
		})
	}
	adminInvoker := adminapi.NewInvoker(breakers)
	invoker := upstream.InvokerFunc(func(ctx context.Context, b upstream.Binding, c upstream.Credentials, args map[string]any) ([]upstream.Content, error) {
		if adminapi.IsAdminTool(b.ToolName) {
			return adminInvoker.Invoke(ctx, b, c, args)
		}
		return fallbackInvoker.Invoke(ctx, b, c, args)
	})

	disp := dispatcher.New(activeSet, breakers, limiter, cacheMgr, invoker, credentials,
		dispatcher.WithMonitor(perfMonitor),
		dispatcher.WithTracer(obsProvider.Tracer()),
		dispatcher.WithDefaultTokenMode(tokenModeFromString(cfg.Runtime.TokenMode)),
	)

	agents := agent.NewRegistry()
	balancerInst := balancer.New()

	var coord *coordinator.Coordinator
	tasks := task.NewQueue(task.WithListener(func(evt task.Event) { coord.Listener()(evt) }))
	coord = coordinator.New(tasks)

	sched := scheduler.New(tasks, agents, balancerInst, disp, scheduler.DefaultInterval)

	mcpAdapter := mcpserver.NewAdapter(disp)

	return &Core{
		Runtime:       cfg.Runtime,
		Meta:          cfg.Meta,
		Logger:        logger,
		Observability: obsProvider,
		Breakers:      breakers,
		Limiter:       limiter,
		Cache:         cacheMgr,
		Monitor:       perfMonitor,
		Tools:         activeSet,
		Credentials:   credentials,
		Dispatcher:    disp,
		Agents:        agents,
		Tasks:         tasks,
		Balancer:      balancerInst,
		Coordinator:   coord,
		Scheduler:     sched,
		MCP:           mcpAdapter,
	}, nil
}

// Shutdown releases every background goroutine the Core started:
// the agent registry's heartbeat sweep, the task queue's delay
// promoter, and the observability provider's exporters.
func (c *Core) Shutdown(ctx context.Context) error {
	c.Scheduler.Close()
	c.Agents.Close()
	c.Tasks.Close()
	c.Cache.Close()
	return c.Observability.Shutdown(ctx)
}

func tokenModeFromString(mode string) tool.AuthMode {
	switch mode {
	case "tenant":
		return tool.AuthTenant
	case "user":
		return tool.AuthUser
	default:
		return tool.AuthEither
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
