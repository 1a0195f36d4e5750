package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	mcp "github.com/MegaGrindStone/devtools-mcp"
)

const maxProbeOutput = 400

var (
	probeURL       string
	probeQuery     string
	probeDirectory string
	probePackage   string
	probeTimeout   time.Duration
)

// probeCmd runs a smoke session against a server.
var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run a smoke session against a server",
	Long: `Run initialize, the catalog listings, one call of every tool, then shutdown and
exit against a server. Without --url a stdio server is spawned from this binary;
with --url the server's SSE endpoint is used.`,
	Example: `  devtools-mcp probe --query TODO
  devtools-mcp probe --url http://127.0.0.1:8000/sse --package requests`,
	Args: cobra.NoArgs,
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVar(&probeURL, "url", "", "SSE endpoint of a running server")
	probeCmd.Flags().StringVar(&probeQuery, "query", "def", "query passed to search_code")
	probeCmd.Flags().StringVar(&probeDirectory, "directory", ".", "directory passed to search_code and analyze_dependencies")
	probeCmd.Flags().StringVar(&probePackage, "package", "requests", "package passed to fetch_documentation")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", time.Minute, "overall time limit")
}

type probeOptions struct {
	query     string
	directory string
	pkg       string
}

func runProbe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogger(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	var transport mcp.ClientTransport
	if probeURL != "" {
		transport = mcp.NewSSEClient(probeURL, &http.Client{}, mcp.WithSSEClientLogger(logger))
	} else {
		child, err := spawnServer(ctx, cmd)
		if err != nil {
			return exitError(ExitError, "devtools-mcp: %s", err)
		}
		defer child.wait(logger)
		transport = child.transport
	}

	client := mcp.NewClient(mcp.Info{Name: "devtools-mcp-probe", Version: Version}, transport,
		mcp.WithClientLogger(logger))
	if err := client.Connect(ctx); err != nil {
		return exitError(ExitError, "devtools-mcp: %s", err)
	}
	defer client.Close()

	opts := probeOptions{query: probeQuery, directory: probeDirectory, pkg: probePackage}
	if err := probeSession(ctx, client, cmd.OutOrStdout(), opts); err != nil {
		return exitError(ExitError, "devtools-mcp: probe failed: %s", err)
	}
	return nil
}

// probeSession walks a session through its whole lifecycle, printing each step.
func probeSession(ctx context.Context, client *mcp.Client, w io.Writer, opts probeOptions) error {
	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	faint := color.New(color.Faint)

	step := func(name string, err error) error {
		if err != nil {
			_, _ = fmt.Fprintf(w, "%s %s: %s\n", red.Sprint("FAIL"), name, err)
			return fmt.Errorf("%s: %w", name, err)
		}
		_, _ = fmt.Fprintf(w, "%s %s\n", green.Sprint("ok  "), name)
		return nil
	}

	initResult, err := client.Initialize(ctx)
	if err := step("initialize", err); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(w, "     server %s %s, protocol %s\n",
		bold.Sprint(initResult.ServerInfo.Name), initResult.ServerInfo.Version, initResult.ProtocolVersion)

	tools, err := client.ListTools(ctx)
	if err := step("listTools", err); err != nil {
		return err
	}
	for _, tool := range tools {
		_, _ = fmt.Fprintf(w, "     %s %s\n", bold.Sprint(tool.Name), faint.Sprint(tool.Description))
	}

	resources, err := client.ListResources(ctx)
	if err := step("listResources", err); err != nil {
		return err
	}
	for _, res := range resources {
		_, _ = fmt.Fprintf(w, "     %s %s\n", bold.Sprint(res.Name), faint.Sprint(res.URI))
	}

	prompts, err := client.ListPrompts(ctx)
	if err := step("listPrompts", err); err != nil {
		return err
	}
	for _, prompt := range prompts {
		_, _ = fmt.Fprintf(w, "     %s %s\n", bold.Sprint(prompt.Name), faint.Sprint(prompt.Description))
	}

	calls := []struct {
		name string
		args map[string]string
	}{
		{name: "search_code", args: map[string]string{"query": opts.query, "directory": opts.directory}},
		{name: "analyze_dependencies", args: map[string]string{"directory": opts.directory}},
		{name: "fetch_documentation", args: map[string]string{"package": opts.pkg}},
	}
	for _, call := range calls {
		result, err := client.CallTool(ctx, call.name, call.args)
		if err := step("callTool "+call.name, err); err != nil {
			return err
		}
		for _, content := range result.Content {
			text := content.Text
			if runes := []rune(text); len(runes) > maxProbeOutput {
				text = string(runes[:maxProbeOutput]) + "..."
			}
			if result.IsError {
				text = red.Sprint(text)
			}
			_, _ = fmt.Fprintf(w, "     %s\n", strings.ReplaceAll(text, "\n", "\n     "))
		}
	}

	if err := step("shutdown", client.Shutdown(ctx)); err != nil {
		return err
	}
	return step("exit", client.Exit(ctx))
}

type childServer struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	transport mcp.StdIO
}

// spawnServer starts this binary with "serve stdio", forwarding the persistent flags that
// were set, and returns a stdio transport over its pipes.
func spawnServer(ctx context.Context, cmd *cobra.Command) (*childServer, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate executable: %w", err)
	}

	args := []string{"serve", "stdio"}
	cmd.InheritedFlags().Visit(func(f *pflag.Flag) {
		args = append(args, fmt.Sprintf("--%s=%s", f.Name, f.Value.String()))
	})

	child := exec.CommandContext(ctx, exe, args...) //nolint:gosec // re-executes this binary
	child.Stderr = os.Stderr
	stdin, err := child.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := child.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	if err := child.Start(); err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	return &childServer{
		cmd:       child,
		stdin:     stdin,
		transport: mcp.NewStdIO(stdout, stdin),
	}, nil
}

func (c *childServer) wait(logger *slog.Logger) {
	_ = c.stdin.Close()
	if err := c.cmd.Wait(); err != nil {
		logger.Warn("server process ended with error", slog.String("err", err.Error()))
	}
}
