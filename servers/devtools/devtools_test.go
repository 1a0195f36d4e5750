package devtools_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcp "github.com/MegaGrindStone/devtools-mcp"
	"github.com/MegaGrindStone/devtools-mcp/servers/devtools"
)

// writeFiles creates files under root, creating parent directories as needed.
func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	}
}

func newToolbox(t *testing.T, root string, mutate ...func(*devtools.Options)) *devtools.Toolbox {
	t.Helper()
	opts := devtools.Options{Root: root}
	for _, m := range mutate {
		m(&opts)
	}
	tb, err := devtools.New(opts)
	require.NoError(t, err)
	return tb
}

func resultText(t *testing.T, result mcp.CallToolResult, err error) string {
	t.Helper()
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	require.Equal(t, mcp.ContentTypeText, result.Content[0].Type)
	return result.Content[0].Text
}

func TestRegistryListsToolsInOrder(t *testing.T) {
	tb := newToolbox(t, t.TempDir())
	registry, err := tb.Registry()
	require.NoError(t, err)

	tools := registry.List()
	require.Len(t, tools, 3)
	require.Equal(t, "search_code", tools[0].Name)
	require.Equal(t, "analyze_dependencies", tools[1].Name)
	require.Equal(t, "fetch_documentation", tools[2].Name)

	def, err := registry.Lookup("search_code")
	require.NoError(t, err)
	_, err = def.Validate(context.Background(), []byte(`{"directory":"."}`))
	require.Error(t, err, "query is required")

	_, err = def.Validate(context.Background(), []byte(`{"query":""}`))
	var vErr *mcp.ValidationError
	require.ErrorAs(t, err, &vErr, "query must not be empty")
	assert.Contains(t, vErr.Reason, "query")

	args, err := def.Validate(context.Background(), []byte(`{"query":"x"}`))
	require.NoError(t, err)
	_, err = def.Execute(context.Background(), args)
	require.NoError(t, err)
}

func TestNewRejectsMissingRoot(t *testing.T) {
	_, err := devtools.New(devtools.Options{Root: filepath.Join(t.TempDir(), "absent")})
	require.Error(t, err)
}
