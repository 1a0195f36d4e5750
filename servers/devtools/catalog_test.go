package devtools_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcp "github.com/MegaGrindStone/devtools-mcp"
	"github.com/MegaGrindStone/devtools-mcp/servers/devtools"
)

func TestReadmeResource(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"README.md": "# Project\r\nHello\r\n"})
	tb := newToolbox(t, root)
	ctx := context.Background()

	resources, err := tb.ListResources(ctx)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "readme", resources[0].Name)
	assert.Equal(t, "text/markdown", resources[0].MimeType)
	assert.Equal(t, "file://"+filepath.ToSlash(filepath.Join(tb.Workspace().Root(), "README.md")), resources[0].URI)

	contents, err := tb.ReadResource(ctx, resources[0].URI)
	require.NoError(t, err)
	assert.Equal(t, "# Project\nHello\n", contents.Text)

	_, err = tb.ReadResource(ctx, "readme")
	require.NoError(t, err)

	_, err = tb.ReadResource(ctx, "file:///etc/passwd")
	assert.True(t, errors.Is(err, devtools.ErrResourceNotFound))
}

func TestReadmeResourceAbsent(t *testing.T) {
	tb := newToolbox(t, t.TempDir())

	resources, err := tb.ListResources(context.Background())
	require.NoError(t, err)
	assert.Empty(t, resources)

	_, err = tb.ReadResource(context.Background(), "readme")
	assert.True(t, errors.Is(err, devtools.ErrResourceNotFound))
}

func TestCodeReviewPrompt(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "workspace")
	writeFiles(t, parent, map[string]string{
		"workspace/app/main.py": "print('hi')\n",
		"other.py":              "secret",
	})
	tb := newToolbox(t, root)
	ctx := context.Background()

	prompts, err := tb.ListPrompts(ctx)
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, "code_review", prompts[0].Name)
	require.Len(t, prompts[0].Arguments, 2)
	assert.True(t, prompts[0].Arguments[0].Required)

	result, err := tb.GetPrompt(ctx, "code_review", map[string]string{"filepath": "app/main.py", "focus": "security"})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, mcp.RoleUser, result.Messages[0].Role)
	text := result.Messages[0].Content.Text
	assert.Contains(t, text, "Please review the following code from app/main.py:\n\n```\nprint('hi')\n```\n")
	assert.Contains(t, text, "Focus your review on security aspects.")
	assert.NotContains(t, text, "Potential bugs")

	result, err = tb.GetPrompt(ctx, "code_review", map[string]string{"filepath": "app/main.py"})
	require.NoError(t, err)
	assert.Contains(t, result.Messages[0].Content.Text, "- Potential bugs\n")

	_, err = tb.GetPrompt(ctx, "code_review", map[string]string{"filepath": "../other.py"})
	assert.True(t, errors.Is(err, devtools.ErrAccessDenied))

	_, err = tb.GetPrompt(ctx, "code_review", map[string]string{})
	assert.Error(t, err)

	_, err = tb.GetPrompt(ctx, "summarize", nil)
	assert.True(t, errors.Is(err, devtools.ErrPromptNotFound))
}
