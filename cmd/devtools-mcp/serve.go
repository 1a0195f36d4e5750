package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	mcp "github.com/MegaGrindStone/devtools-mcp"
	"github.com/MegaGrindStone/devtools-mcp/internal/config"
	"github.com/MegaGrindStone/devtools-mcp/servers/devtools"
)

const (
	shutdownTimeout = 10 * time.Second

	serverInstructions = "Use search_code to find text in the workspace, analyze_dependencies to " +
		"list dependency manifests, and fetch_documentation to look up a PyPI or npm package."
)

var (
	serveTransport string
	servePort      int
	serveHost      string
)

// serveCmd runs the server on the selected transport.
var serveCmd = &cobra.Command{
	Use:   "serve [stdio|sse [port]]",
	Short: "Serve the developer tools",
	Long: `Serve the developer tools on stdio (the default) or over SSE.

With sse, clients open an event stream on /sse, receive the message endpoint as
an "endpoint" event, and POST their messages to it.`,
	Example: `  devtools-mcp serve
  devtools-mcp serve sse 8000
  devtools-mcp serve --transport sse --host 0.0.0.0`,
	Args: func(_ *cobra.Command, args []string) error {
		if _, _, err := parseServeArgs(args); err != nil {
			return usageError(err)
		}
		return nil
	},
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveTransport, "transport", "", "transport: stdio or sse")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "SSE listen port (default 8000)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "SSE listen host (default 127.0.0.1)")
}

// parseServeArgs reads the positional transport and port. Zero values mean not given.
func parseServeArgs(args []string) (string, int, error) {
	if len(args) > 2 {
		return "", 0, fmt.Errorf("accepts at most 2 args, received %d", len(args))
	}
	if len(args) == 0 {
		return "", 0, nil
	}

	transport := args[0]
	if transport != config.TransportStdio && transport != config.TransportSSE {
		return "", 0, fmt.Errorf("unknown transport %q (want stdio or sse)", transport)
	}
	if len(args) == 1 {
		return transport, 0, nil
	}
	if transport != config.TransportSSE {
		return "", 0, errors.New("a port is only accepted with sse")
	}
	port, err := strconv.Atoi(args[1])
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port %q", args[1])
	}
	return transport, port, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	transport, port, err := parseServeArgs(args)
	if err != nil {
		return usageError(err)
	}
	if cmd.Flags().Changed("transport") {
		cfg.Transport = serveTransport
	}
	if transport != "" {
		cfg.Transport = transport
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if port != 0 {
		cfg.Port = port
	}
	if cmd.Flags().Changed("host") {
		cfg.Host = serveHost
	}
	if err := cfg.Validate(); err != nil {
		return usageError(err)
	}

	logger, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	toolbox, err := devtools.New(toolboxOptions(cfg, logger))
	if err != nil {
		return exitError(ExitError, "devtools-mcp: %s", err)
	}
	registry, err := toolbox.Registry()
	if err != nil {
		return exitError(ExitError, "devtools-mcp: %s", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting server",
		slog.String("transport", cfg.Transport),
		slog.String("root", toolbox.Workspace().Root()),
		slog.String("version", Version))

	options := []mcp.ServerOption{
		mcp.WithToolRegistry(registry),
		mcp.WithResourceServer(toolbox),
		mcp.WithPromptServer(toolbox),
		mcp.WithInstructions(serverInstructions),
		mcp.WithServerLogger(logger),
	}

	if cfg.Transport == config.TransportSSE {
		return serveSSE(ctx, cfg, logger, options)
	}
	return serveStdio(ctx, logger, options)
}

func serverInfo() mcp.Info {
	return mcp.Info{Name: "devtools-mcp", Version: Version}
}

// serveStdio serves the single stdio session. The process fails when stdin closes before the
// client sent exit.
func serveStdio(ctx context.Context, logger *slog.Logger, options []mcp.ServerOption) error {
	transport := mcp.NewStdIO(os.Stdin, os.Stdout, mcp.WithStdIOLogger(logger))

	sessionErr := make(chan error, 1)
	options = append(options, mcp.WithServerOnClientDisconnected(func(_ string, err error) {
		sessionErr <- err
	}))
	server := mcp.NewServer(serverInfo(), transport, options...)

	served := make(chan struct{})
	go func() {
		server.Serve()
		close(served)
	}()

	select {
	case <-served:
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return exitError(ExitError, "devtools-mcp: %s", err)
		}
		<-served
	}

	var err error
	select {
	case err = <-sessionErr:
	default:
	}
	if errors.Is(err, mcp.ErrConnectionClosed) {
		return exitError(ExitError, "devtools-mcp: stdin closed before exit")
	}
	logger.Info("server stopped")
	return nil
}

// serveSSE serves SSE sessions until a signal arrives or the listener fails.
func serveSSE(ctx context.Context, cfg config.Config, logger *slog.Logger, options []mcp.ServerOption) error {
	transport := mcp.NewSSEServer(cfg.MessagePath, mcp.WithSSEServerLogger(logger))
	server := mcp.NewServer(serverInfo(), transport, options...)

	mux := http.NewServeMux()
	mux.Handle(cfg.SSEPath, transport.HandleSSE())
	mux.Handle(cfg.MessagePath, transport.HandleMessage())

	httpSrv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go server.Serve()

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", httpSrv.Addr), slog.String("ssePath", cfg.SSEPath))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err, ok := <-listenErr:
		if ok {
			runErr = exitError(ExitError, "devtools-mcp: %s", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Sessions first, so the open event streams return before the HTTP server drains.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", slog.String("err", err.Error()))
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown http server", slog.String("err", err.Error()))
	}

	logger.Info("server stopped")
	return runErr
}
