package devtools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	mcp "github.com/MegaGrindStone/devtools-mcp"
)

var (
	// ErrResourceNotFound is returned when reading a resource that is not in the catalog.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrPromptNotFound is returned when rendering a prompt that is not in the catalog.
	ErrPromptNotFound = errors.New("prompt not found")
)

var readmeNames = []string{"README.md", "README.txt", "Readme.md"}

const codeReviewPrompt = "code_review"

var codeReviewTemplate = template.Must(template.New(codeReviewPrompt).Parse(
	"Please review the following code from {{.FilePath}}:\n" +
		"\n" +
		"```\n" +
		"{{.Content}}\n" +
		"```\n" +
		"\n" +
		"{{if .Focus}}Focus your review on {{.Focus}} aspects.\n" +
		"{{else}}Provide a general code review focusing on:\n" +
		"- Code quality\n" +
		"- Potential bugs\n" +
		"- Performance issues\n" +
		"- Security concerns\n" +
		"{{end}}\n" +
		"Provide specific suggestions for improvement with code examples where appropriate.\n"))

// ListResources implements mcp.ResourceServer. The catalog holds the project README when the
// workspace root has one.
func (t *Toolbox) ListResources(_ context.Context) ([]mcp.Resource, error) {
	path, ok := t.readmePath()
	if !ok {
		return []mcp.Resource{}, nil
	}
	return []mcp.Resource{{
		URI:         fileURI(path),
		Name:        "readme",
		Description: "Project README file",
		MimeType:    mimeTypeOf(path),
	}}, nil
}

// ReadResource implements mcp.ResourceServer.
func (t *Toolbox) ReadResource(_ context.Context, uri string) (mcp.ResourceContents, error) {
	path, ok := t.readmePath()
	if !ok || (uri != fileURI(path) && uri != "readme") {
		return mcp.ResourceContents{}, fmt.Errorf("%w: %s", ErrResourceNotFound, uri)
	}
	text, err := t.readText(path)
	if err != nil {
		return mcp.ResourceContents{}, fmt.Errorf("failed to read %s: %w", t.workspace.Rel(path), err)
	}
	return mcp.ResourceContents{URI: fileURI(path), MimeType: mimeTypeOf(path), Text: text}, nil
}

// ListPrompts implements mcp.PromptServer.
func (t *Toolbox) ListPrompts(_ context.Context) ([]mcp.Prompt, error) {
	return []mcp.Prompt{{
		Name:        codeReviewPrompt,
		Description: "Perform a code review on a specific file",
		Arguments: []mcp.PromptArgument{
			{Name: "filepath", Description: "Path to the file to review", Required: true},
			{Name: "focus", Description: "Specific aspect to focus on (e.g., 'security', 'performance')"},
		},
	}}, nil
}

// GetPrompt implements mcp.PromptServer. The reviewed file is read through the workspace, so
// it must lie inside the root.
func (t *Toolbox) GetPrompt(_ context.Context, name string, arguments map[string]string) (mcp.GetPromptResult, error) {
	if name != codeReviewPrompt {
		return mcp.GetPromptResult{}, fmt.Errorf("%w: %s", ErrPromptNotFound, name)
	}
	requested := arguments["filepath"]
	if requested == "" {
		return mcp.GetPromptResult{}, errors.New("missing required argument: filepath")
	}

	path, err := t.workspace.Resolve(requested)
	if err != nil {
		return mcp.GetPromptResult{}, err
	}
	content, err := t.readText(path)
	if err != nil {
		return mcp.GetPromptResult{}, fmt.Errorf("failed to read %s: %w", requested, err)
	}

	var b strings.Builder
	err = codeReviewTemplate.Execute(&b, struct {
		FilePath string
		Content  string
		Focus    string
	}{
		FilePath: requested,
		Content:  strings.TrimRight(content, "\n"),
		Focus:    arguments["focus"],
	})
	if err != nil {
		return mcp.GetPromptResult{}, fmt.Errorf("failed to render prompt: %w", err)
	}

	return mcp.GetPromptResult{
		Description: "Code review of " + requested,
		Messages: []mcp.PromptMessage{{
			Role:    mcp.RoleUser,
			Content: mcp.Content{Type: mcp.ContentTypeText, Text: b.String()},
		}},
	}, nil
}

func (t *Toolbox) readmePath() (string, bool) {
	for _, name := range readmeNames {
		path, err := t.workspace.Resolve(name)
		if err != nil {
			continue
		}
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

func fileURI(path string) string {
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return "file://" + p
}

func mimeTypeOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".md") {
		return "text/markdown"
	}
	return "text/plain"
}
