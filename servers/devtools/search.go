package devtools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	mcp "github.com/MegaGrindStone/devtools-mcp"
)

// SearchCodeArgs are the arguments of search_code.
type SearchCodeArgs struct {
	Query     string `json:"query" jsonschema:"minLength=1" jsonschema_description:"The search query to find in code files"`
	Directory string `json:"directory,omitempty" jsonschema:"default=." jsonschema_description:"The directory to search in (default: current directory)"`
}

const accessDeniedText = "Access denied: Invalid directory"

// SearchCode searches source files under the requested directory for lines containing the
// query, ignoring case, and reports every match with its surrounding lines.
func (t *Toolbox) SearchCode(ctx context.Context, args SearchCodeArgs) (mcp.CallToolResult, error) {
	directory := args.Directory
	if directory == "" {
		directory = "."
	}

	dir, res, ok := t.resolveDir(ctx, directory)
	if !ok {
		return res, nil
	}

	files, err := t.workspace.walkFiles(ctx, dir, t.excludes, func(name string) bool {
		return hasExtension(name, t.search.Extensions)
	})
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to scan %s: %w", directory, err)
	}

	query := strings.ToLower(args.Query)
	results := make([]string, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.search.Concurrency)
	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			matches, err := t.searchFile(path, query)
			if err != nil {
				t.logger.DebugContext(gctx, "skipping file", slog.String("path", path), slog.String("err", err.Error()))
				return nil
			}
			if matches != "" {
				results[i] = fmt.Sprintf("File: %s\n%s\n---\n", t.workspace.Rel(path), matches)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("search interrupted: %w", err)
	}

	found := compact(results)
	if len(found) == 0 {
		return mcp.TextResult(fmt.Sprintf("No results found for '%s' in directory '%s'.", args.Query, directory)), nil
	}
	return mcp.TextResult("Search Results:\n\n" + strings.Join(found, "\n")), nil
}

// searchFile returns the context blocks of every matching line of the file, or "" when
// nothing matches.
func (t *Toolbox) searchFile(path, query string) (string, error) {
	content, err := t.readText(path)
	if err != nil {
		return "", err
	}
	if !strings.Contains(strings.ToLower(content), query) {
		return "", nil
	}

	lines := strings.Split(content, "\n")
	var blocks []string
	for i, line := range lines {
		if !strings.Contains(strings.ToLower(line), query) {
			continue
		}
		start := max(0, i-t.search.ContextLines)
		end := min(len(lines), i+t.search.ContextLines+1)
		blocks = append(blocks, fmt.Sprintf("Lines %d-%d:\n%s", start+1, end, strings.Join(lines[start:end], "\n")))
	}
	return strings.Join(blocks, "\n\n"), nil
}

// readText reads a file that is small enough and valid UTF-8, with line endings normalized.
func (t *Toolbox) readText(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > t.search.MaxFileSize {
		return "", fmt.Errorf("file is larger than %d bytes", t.search.MaxFileSize)
	}
	bs, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(bs) {
		return "", errors.New("file is not valid UTF-8")
	}
	return normalizeLineEndings(string(bs)), nil
}

// resolveDir resolves a requested directory. When it fails, the returned result holds the
// domain error to report.
func (t *Toolbox) resolveDir(ctx context.Context, directory string) (string, mcp.CallToolResult, bool) {
	dir, err := t.workspace.ResolveDir(directory)
	switch {
	case err == nil:
		return dir, mcp.CallToolResult{}, true
	case errors.Is(err, ErrAccessDenied):
		t.logger.WarnContext(ctx, "denied directory outside workspace", slog.String("directory", directory))
		return "", mcp.ErrorResult(accessDeniedText), false
	case errors.Is(err, fs.ErrNotExist):
		return "", mcp.ErrorResult(fmt.Sprintf("Directory '%s' does not exist.", directory)), false
	}
	return "", mcp.ErrorResult(fmt.Sprintf("Cannot open directory '%s': %v", directory, err)), false
}

func hasExtension(name string, extensions []string) bool {
	ext := filepath.Ext(name)
	for _, e := range extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

func normalizeLineEndings(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

func compact(blocks []string) []string {
	out := blocks[:0:0]
	for _, b := range blocks {
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}
