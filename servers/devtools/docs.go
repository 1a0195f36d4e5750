package devtools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	mcp "github.com/MegaGrindStone/devtools-mcp"
)

// FetchDocumentationArgs are the arguments of fetch_documentation.
type FetchDocumentationArgs struct {
	Package string `json:"package" jsonschema_description:"The package name to fetch documentation for"`
}

// DocProvider looks up the documentation of a package in one package registry.
type DocProvider interface {
	// Name identifies the registry in logs.
	Name() string
	// FetchDoc returns the formatted documentation of pkg.
	FetchDoc(ctx context.Context, pkg string) (string, error)
}

// PyPIClient queries the PyPI JSON API.
type PyPIClient struct {
	HTTPClient *http.Client
	BaseURL    string
}

// NpmClient queries the npm registry.
type NpmClient struct {
	HTTPClient *http.Client
	BaseURL    string
}

const (
	// PyPIBaseURL is the default PyPI JSON API URL.
	PyPIBaseURL = "https://pypi.org/pypi"
	// NpmBaseURL is the default npm registry URL.
	NpmBaseURL = "https://registry.npmjs.org"

	maxDescriptionRunes = 1000
	maxRegistryBody     = 10 << 20

	invalidPackageText = "Invalid package name. Package names should only contain alphanumeric characters, hyphens, underscores, or periods."
)

// pypiPackageInfo represents the subset of the PyPI JSON API response we need.
type pypiPackageInfo struct {
	Info struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
	} `json:"info"`
}

// npmPackageInfo represents the subset of the npm registry response we need.
type npmPackageInfo struct {
	Description string `json:"description"`
}

// FetchDocumentation asks each registry in turn for the package's documentation, PyPI first
// and npm second, each bounded by the configured timeout.
func (t *Toolbox) FetchDocumentation(ctx context.Context, args FetchDocumentationArgs) (mcp.CallToolResult, error) {
	pkg := strings.TrimSpace(args.Package)
	if !validPackageName(pkg) {
		return mcp.ErrorResult(invalidPackageText), nil
	}

	for _, provider := range t.docs {
		fetchCtx, cancel := context.WithTimeout(ctx, t.timeout)
		text, err := provider.FetchDoc(fetchCtx, pkg)
		cancel()
		if err == nil {
			return mcp.TextResult(text), nil
		}
		t.logger.DebugContext(ctx, "documentation lookup failed",
			slog.String("registry", provider.Name()),
			slog.String("package", pkg),
			slog.String("err", err.Error()))
	}

	return mcp.ErrorResult(fmt.Sprintf("Could not fetch documentation for package '%s'.", pkg)), nil
}

// Name implements DocProvider.
func (c *PyPIClient) Name() string { return "pypi" }

// FetchDoc implements DocProvider.
func (c *PyPIClient) FetchDoc(ctx context.Context, pkg string) (string, error) {
	base := c.BaseURL
	if base == "" {
		base = PyPIBaseURL
	}

	var info pypiPackageInfo
	if err := getJSON(ctx, c.HTTPClient, fmt.Sprintf("%s/%s/json", strings.TrimRight(base, "/"), url.PathEscape(pkg)), &info); err != nil {
		return "", err
	}

	summary := info.Info.Summary
	if summary == "" {
		summary = "No summary available"
	}
	description := info.Info.Description
	if description == "" {
		description = "No description available"
	}
	if r := []rune(description); len(r) > maxDescriptionRunes {
		description = string(r[:maxDescriptionRunes]) + "...(truncated)"
	}

	return fmt.Sprintf("Documentation for %s:\n\nSummary: %s\n\nDescription:\n%s", pkg, summary, description), nil
}

// Name implements DocProvider.
func (c *NpmClient) Name() string { return "npm" }

// FetchDoc implements DocProvider.
func (c *NpmClient) FetchDoc(ctx context.Context, pkg string) (string, error) {
	base := c.BaseURL
	if base == "" {
		base = NpmBaseURL
	}

	var info npmPackageInfo
	if err := getJSON(ctx, c.HTTPClient, fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), url.PathEscape(pkg)), &info); err != nil {
		return "", err
	}

	description := info.Description
	if description == "" {
		description = "No description available"
	}
	return fmt.Sprintf("Documentation for %s:\n\nDescription: %s", pkg, description), nil
}

func getJSON(ctx context.Context, client *http.Client, u string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", u, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", u, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRegistryBody)).Decode(v); err != nil {
		return fmt.Errorf("decoding response of %s: %w", u, err)
	}
	return nil
}

func validPackageName(pkg string) bool {
	if pkg == "" {
		return false
	}
	for _, r := range pkg {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
