package devtools_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/MegaGrindStone/devtools-mcp/servers/devtools"
)

func TestAnalyzeDependenciesFormat(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"requirements.txt": "flask==3.0.0\n# comment\nrequests>=2\n",
	})
	tb := newToolbox(t, root)

	result, err := tb.AnalyzeDependencies(context.Background(), devtools.AnalyzeDependenciesArgs{})
	text := resultText(t, result, err)
	assert.Equal(t,
		"Dependency Analysis:\n\n"+
			"Found python dependencies in requirements.txt:\n"+
			"flask==3.0.0\n# comment\nrequests>=2\n\n"+
			"Declared: flask, requests\n"+
			"---\n",
		text)
}

func TestAnalyzeDependenciesEcosystems(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"go.mod":                      "module example.com/app\n\ngo 1.22\n\nrequire (\n\tgithub.com/google/uuid v1.6.0\n\tgolang.org/x/sys v0.1.0 // indirect\n)\n",
		"web/package.json":            `{"dependencies":{"react":"^18"},"devDependencies":{"jest":"^29"}}`,
		"api/pyproject.toml":          "[project]\nname = \"api\"\ndependencies = [\"fastapi>=0.100\", \"uvicorn[standard]\"]\n",
		"svc/Cargo.toml":              "[package]\nname = \"svc\"\n\n[dependencies]\nserde = \"1\"\n\n[dev-dependencies]\ntokio = { version = \"1\" }\n",
		"dotnet/App.csproj":           `<Project Sdk="Microsoft.NET.Sdk"><ItemGroup><PackageReference Include="Newtonsoft.Json" Version="13.0.1" /></ItemGroup></Project>`,
		"legacy/setup.py":             "from setuptools import setup\nsetup(name='legacy')\n",
		"node_modules/x/package.json": `{"dependencies":{"hidden":"1"}}`,
		"README.md":                   "# not a manifest",
	})
	tb := newToolbox(t, root)

	result, err := tb.AnalyzeDependencies(context.Background(), devtools.AnalyzeDependenciesArgs{Directory: "."})
	text := resultText(t, result, err)
	assert.False(t, result.IsError)

	for _, want := range []string{
		"Found python dependencies in api/pyproject.toml:",
		"Declared: fastapi, uvicorn\n",
		"Found python dependencies in legacy/setup.py:",
		"Found node dependencies in web/package.json:",
		"Declared: react, jest (dev)\n",
		"Found dotnet dependencies in dotnet/App.csproj:",
		"Declared: Newtonsoft.Json\n",
		"Found go dependencies in go.mod:",
		"Declared: github.com/google/uuid v1.6.0, golang.org/x/sys v0.1.0 (indirect)\n",
		"Found rust dependencies in svc/Cargo.toml:",
		"Declared: serde, tokio (dev)\n",
	} {
		assert.Contains(t, text, want)
	}
	assert.NotContains(t, text, "hidden")
	assert.NotContains(t, text, "README")

	// Manifests are grouped by kind in a fixed order.
	order := []string{"setup.py", "pyproject.toml", "package.json", "App.csproj", "go.mod", "Cargo.toml"}
	for i := 1; i < len(order); i++ {
		assert.Less(t, strings.Index(text, order[i-1]), strings.Index(text, order[i]), "%s before %s", order[i-1], order[i])
	}
}

func TestAnalyzeDependenciesUnparsableManifest(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"package.json": "{ not json"})
	tb := newToolbox(t, root)

	result, err := tb.AnalyzeDependencies(context.Background(), devtools.AnalyzeDependenciesArgs{})
	text := resultText(t, result, err)
	assert.Contains(t, text, "Found node dependencies in package.json:\n{ not json\n")
	assert.NotContains(t, text, "Declared:")
}

func TestAnalyzeDependenciesDomainErrors(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"src/main.go": "package main"})
	tb := newToolbox(t, root)

	tests := []struct {
		name        string
		directory   string
		wantText    string
		wantIsError bool
	}{
		{name: "nothing found", directory: "src", wantText: "No dependency files found in directory 'src'."},
		{name: "traversal", directory: "../..", wantText: "Access denied: Invalid directory", wantIsError: true},
		{name: "missing", directory: "lib", wantText: "Directory 'lib' does not exist.", wantIsError: true},
		{name: "file instead of directory", directory: "src/main.go", wantIsError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tb.AnalyzeDependencies(context.Background(), devtools.AnalyzeDependenciesArgs{Directory: tt.directory})
			text := resultText(t, result, err)
			if tt.wantText != "" {
				assert.Equal(t, tt.wantText, text)
			}
			assert.Equal(t, tt.wantIsError, result.IsError)
		})
	}
}
