package devtools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequirements(t *testing.T) {
	names, err := parseRequirements([]byte(`
# pinned
Django==4.2 ; python_version >= "3.8"
requests[security]>=2.0
-r base.txt
--index-url https://example.com
numpy
pkg @ https://example.com/pkg.whl
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Django", "requests", "numpy", "pkg"}, names)
}

func TestParsePyprojectPoetry(t *testing.T) {
	names, err := parsePyproject([]byte(`
[tool.poetry.dependencies]
python = "^3.11"
httpx = "^0.27"
attrs = { version = "*" }
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"attrs", "httpx"}, names)

	_, err = parsePyproject([]byte("[project"))
	assert.Error(t, err)
}

func TestParseMSBuildProject(t *testing.T) {
	names, err := parseMSBuildProject([]byte(`<Project>
  <ItemGroup><Compile Include="a.cs" /></ItemGroup>
  <ItemGroup>
    <PackageReference Include="Serilog" Version="3.0.0" />
    <PackageReference Include="xunit" Version="2.5.0" />
  </ItemGroup>
</Project>`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Serilog", "xunit"}, names)
}

func TestParseGoModRejectsGarbage(t *testing.T) {
	_, err := parseGoMod([]byte("this is not a go.mod {"))
	assert.Error(t, err)
}

func TestManifestKindMatchesPatterns(t *testing.T) {
	tb := &Toolbox{}
	kinds, err := compileManifests()
	require.NoError(t, err)
	tb.manifests = kinds

	assert.GreaterOrEqual(t, tb.manifestKind("Web.csproj"), 0)
	assert.GreaterOrEqual(t, tb.manifestKind("Lib.fsproj"), 0)
	assert.Equal(t, -1, tb.manifestKind("requirements-dev.txt"))
	assert.Equal(t, -1, tb.manifestKind("package-lock.json"))
	assert.Less(t, tb.manifestKind("requirements.txt"), tb.manifestKind("Cargo.toml"))
}
