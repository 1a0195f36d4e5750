// Package devtools implements the developer tools served over MCP: code search, dependency
// manifest analysis, and package documentation lookup, plus the README resource and the
// code review prompt. All filesystem access is confined to a workspace root.
package devtools

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gobwas/glob"

	mcp "github.com/MegaGrindStone/devtools-mcp"
)

// Options configures a Toolbox. Zero values select the defaults.
type Options struct {
	// Root is the workspace root. Defaults to the process working directory.
	Root string

	Search SearchOptions
	Docs   DocsOptions

	Logger *slog.Logger
}

// SearchOptions configures search_code and analyze_dependencies scanning.
type SearchOptions struct {
	Extensions []string
	Exclude    []string
	// ContextLines is the number of lines shown on each side of a match. Values below 1
	// select the default of 3.
	ContextLines int
	MaxFileSize  int64
	Concurrency  int
}

// DocsOptions configures fetch_documentation.
type DocsOptions struct {
	PyPIURL    string
	NpmURL     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Toolbox holds the tools, the resource catalog and the prompt catalog of one workspace.
// Tools keep no state between calls.
type Toolbox struct {
	workspace Workspace
	search    SearchOptions
	excludes  []glob.Glob
	manifests []manifestKind
	docs      []DocProvider
	timeout   time.Duration
	logger    *slog.Logger
}

// DefaultExtensions are the source file extensions searched by search_code.
var DefaultExtensions = []string{".py", ".js", ".ts", ".jsx", ".tsx", ".html", ".css", ".go"}

// DefaultExclude are the directory names skipped while scanning.
var DefaultExclude = []string{".git", "node_modules", "vendor", "__pycache__", ".venv", "venv", "dist", "build"}

const (
	defaultContextLines = 3
	defaultMaxFileSize  = 1 << 20
	defaultConcurrency  = 8
	defaultDocsTimeout  = 10 * time.Second
)

// New builds a Toolbox from opts.
func New(opts Options) (*Toolbox, error) {
	root := opts.Root
	if root == "" {
		root = "."
	}
	ws, err := NewWorkspace(root)
	if err != nil {
		return nil, err
	}

	search := opts.Search
	if len(search.Extensions) == 0 {
		search.Extensions = DefaultExtensions
	}
	if search.Exclude == nil {
		search.Exclude = DefaultExclude
	}
	if search.ContextLines <= 0 {
		search.ContextLines = defaultContextLines
	}
	if search.MaxFileSize <= 0 {
		search.MaxFileSize = defaultMaxFileSize
	}
	if search.Concurrency <= 0 {
		search.Concurrency = defaultConcurrency
	}

	excludes, err := compileGlobs(search.Exclude)
	if err != nil {
		return nil, fmt.Errorf("failed to compile exclude patterns: %w", err)
	}
	manifests, err := compileManifests()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		slog.String("package", "devtools-mcp"),
		slog.String("component", "devtools"),
	)

	timeout := opts.Docs.Timeout
	if timeout <= 0 {
		timeout = defaultDocsTimeout
	}
	httpClient := opts.Docs.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Toolbox{
		workspace: ws,
		search:    search,
		excludes:  excludes,
		manifests: manifests,
		docs: []DocProvider{
			&PyPIClient{HTTPClient: httpClient, BaseURL: opts.Docs.PyPIURL},
			&NpmClient{HTTPClient: httpClient, BaseURL: opts.Docs.NpmURL},
		},
		timeout: timeout,
		logger:  logger,
	}, nil
}

// Workspace returns the workspace the toolbox is confined to.
func (t *Toolbox) Workspace() Workspace {
	return t.workspace
}

// Registry returns a registry holding search_code, analyze_dependencies and
// fetch_documentation, in that order.
func (t *Toolbox) Registry() (*mcp.ToolRegistry, error) {
	registry := mcp.NewToolRegistry()
	tools := []mcp.ToolDefinition{
		mcp.NewTool("search_code", "Search code files for specific queries", t.SearchCode),
		mcp.NewTool("analyze_dependencies", "Analyze project dependencies", t.AnalyzeDependencies),
		mcp.NewTool("fetch_documentation", "Fetch documentation for a package", t.FetchDocumentation),
	}
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("failed to register tool: %w", err)
		}
	}
	return registry, nil
}
