// Command larkmcpd starts the Lark/Feishu MCP core over either the
// line-framed stdio transport or the SSE-over-HTTP transport, per
// spec.md §6.1. Grounded on the teacher's cmd/cobra_cli.go root
// command + persistent-flags + signal-handling shape
// (cmd/cobra_cli.go's runOptimizedTUI/runSinglePrompt), stripped of
// the interactive TUI this daemon has no analogue for.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/larkmcp/corekit/internal/config"
	"github.com/larkmcp/corekit/internal/core"
	"github.com/larkmcp/corekit/internal/mcpserver"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configFile     string
		transport      string
		addr           string
		allowedOrigins []string
	)

	cmd := &cobra.Command{
		Use:   "larkmcpd",
		Short: "Lark/Feishu OpenAPI MCP server",
		Long: `larkmcpd exposes a Lark/Feishu OpenAPI tool set to MCP clients over
either a line-framed stdio transport or server-sent events over HTTP.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configFile, transport, addr, allowedOrigins)
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a YAML configuration file")
	cmd.PersistentFlags().StringVar(&transport, "transport", "stdio", "transport to serve: stdio|sse")
	cmd.PersistentFlags().StringVar(&addr, "addr", ":8080", "listen address for the sse transport")
	cmd.PersistentFlags().StringSliceVar(&allowedOrigins, "allowed-origins", nil, "CORS-allowed origins for the sse transport")

	return cmd
}

func runServe(ctx context.Context, configFile, transport, addr string, allowedOrigins []string) error {
	runtimeCfg, meta, err := config.Load(config.WithFile(configFile))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	c, err := core.New(core.Config{
		Runtime: runtimeCfg,
		Meta:    meta,
		// Descriptors/Invoker/TenantTokenFetcher are left nil here: the
		// several hundred concrete Lark API tool descriptors and the
		// HTTP client issuing real upstream calls are out of scope
		// (spec.md §1 Non-goals). A production deployment supplies
		// both via its own build of this binary.
	})
	if err != nil {
		return fmt.Errorf("construct core: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch transport {
	case "stdio":
		return serveStdio(ctx, c)
	case "sse":
		return serveSSE(ctx, c, addr, allowedOrigins)
	default:
		return fmt.Errorf("unknown transport %q: want stdio or sse", transport)
	}
}

func serveStdio(ctx context.Context, c *core.Core) error {
	c.Logger.Info("serving MCP over stdio")
	transport := mcpserver.NewStdioTransport(c.MCP)
	err := transport.Serve(ctx, os.Stdin, os.Stdout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := c.Shutdown(shutdownCtx); shutdownErr != nil {
		c.Logger.Warn("shutdown: %v", shutdownErr)
	}
	return err
}

func serveSSE(ctx context.Context, c *core.Core, addr string, allowedOrigins []string) error {
	c.Logger.Info("serving MCP over sse at %s", addr)
	transport := mcpserver.NewHTTPTransport(c.MCP, c.Observability.Registry)
	server := &http.Server{
		Addr: addr,
		Handler: transport.Handler(mcpserver.HTTPConfig{
			Addr:           addr,
			AllowedOrigins: allowedOrigins,
		}),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			c.Logger.Warn("http shutdown: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.Shutdown(shutdownCtx)
}
