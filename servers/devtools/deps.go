package devtools

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gobwas/glob"
	"golang.org/x/mod/modfile"
	"golang.org/x/sync/errgroup"

	mcp "github.com/MegaGrindStone/devtools-mcp"
)

// AnalyzeDependenciesArgs are the arguments of analyze_dependencies.
type AnalyzeDependenciesArgs struct {
	Directory string `json:"directory,omitempty" jsonschema:"default=." jsonschema_description:"The directory to analyze (default: current directory)"`
}

// manifestKind is a dependency manifest file name pattern of one ecosystem.
type manifestKind struct {
	ecosystem string
	pattern   glob.Glob
	parse     func([]byte) ([]string, error)
}

type manifestSpec struct {
	ecosystem string
	pattern   string
	parse     func([]byte) ([]string, error)
}

// manifestSpecs lists manifests in reporting order.
var manifestSpecs = []manifestSpec{
	{ecosystem: "python", pattern: "requirements.txt", parse: parseRequirements},
	{ecosystem: "python", pattern: "setup.py"},
	{ecosystem: "python", pattern: "pyproject.toml", parse: parsePyproject},
	{ecosystem: "node", pattern: "package.json", parse: parsePackageJSON},
	{ecosystem: "dotnet", pattern: "*.csproj", parse: parseMSBuildProject},
	{ecosystem: "dotnet", pattern: "*.fsproj", parse: parseMSBuildProject},
	{ecosystem: "dotnet", pattern: "*.vbproj", parse: parseMSBuildProject},
	{ecosystem: "go", pattern: "go.mod", parse: parseGoMod},
	{ecosystem: "rust", pattern: "Cargo.toml", parse: parseCargo},
}

type manifestFile struct {
	path string
	kind int
}

func compileManifests() ([]manifestKind, error) {
	kinds := make([]manifestKind, 0, len(manifestSpecs))
	for _, spec := range manifestSpecs {
		g, err := glob.Compile(spec.pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid manifest pattern %q: %w", spec.pattern, err)
		}
		kinds = append(kinds, manifestKind{ecosystem: spec.ecosystem, pattern: g, parse: spec.parse})
	}
	return kinds, nil
}

// AnalyzeDependencies finds dependency manifests under the requested directory and returns
// their raw contents, each followed by the dependency names it declares when it parses.
func (t *Toolbox) AnalyzeDependencies(ctx context.Context, args AnalyzeDependenciesArgs) (mcp.CallToolResult, error) {
	directory := args.Directory
	if directory == "" {
		directory = "."
	}

	dir, res, ok := t.resolveDir(ctx, directory)
	if !ok {
		return res, nil
	}

	paths, err := t.workspace.walkFiles(ctx, dir, t.excludes, func(name string) bool {
		return t.manifestKind(name) >= 0
	})
	if err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("failed to scan %s: %w", directory, err)
	}

	files := make([]manifestFile, 0, len(paths))
	for _, p := range paths {
		files = append(files, manifestFile{path: p, kind: t.manifestKind(filepath.Base(p))})
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].kind < files[j].kind
	})

	results := make([]string, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.search.Concurrency)
	for i, f := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = t.describeManifest(gctx, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return mcp.CallToolResult{}, fmt.Errorf("analysis interrupted: %w", err)
	}

	found := compact(results)
	if len(found) == 0 {
		return mcp.TextResult(fmt.Sprintf("No dependency files found in directory '%s'.", directory)), nil
	}
	return mcp.TextResult("Dependency Analysis:\n\n" + strings.Join(found, "\n")), nil
}

func (t *Toolbox) describeManifest(ctx context.Context, f manifestFile) string {
	kind := t.manifests[f.kind]

	content, err := t.readText(f.path)
	if err != nil {
		t.logger.DebugContext(ctx, "skipping manifest", slog.String("path", f.path), slog.String("err", err.Error()))
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %s dependencies in %s:\n%s\n", kind.ecosystem, t.workspace.Rel(f.path), content)

	if kind.parse != nil {
		names, err := kind.parse([]byte(content))
		switch {
		case err != nil:
			t.logger.DebugContext(ctx, "failed to parse manifest", slog.String("path", f.path), slog.String("err", err.Error()))
		case len(names) > 0:
			fmt.Fprintf(&b, "Declared: %s\n", strings.Join(names, ", "))
		}
	}
	b.WriteString("---\n")
	return b.String()
}

func (t *Toolbox) manifestKind(name string) int {
	for i, k := range t.manifests {
		if k.pattern.Match(name) {
			return i
		}
	}
	return -1
}

func parseRequirements(data []byte) ([]string, error) {
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "-") {
			continue
		}
		if name := requirementName(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// requirementName extracts the project name of a PEP 508 requirement.
func requirementName(req string) string {
	end := strings.IndexAny(req, "[=<>!~;@ (")
	if end < 0 {
		end = len(req)
	}
	return strings.TrimSpace(req[:end])
}

type pyprojectFile struct {
	Project struct {
		Dependencies []string `toml:"dependencies"`
	} `toml:"project"`
	Tool struct {
		Poetry struct {
			Dependencies map[string]any `toml:"dependencies"`
		} `toml:"poetry"`
	} `toml:"tool"`
}

func parsePyproject(data []byte) ([]string, error) {
	var proj pyprojectFile
	if err := toml.Unmarshal(data, &proj); err != nil {
		return nil, err
	}

	var names []string
	for _, dep := range proj.Project.Dependencies {
		if name := requirementName(dep); name != "" {
			names = append(names, name)
		}
	}
	for _, name := range sortedKeys(proj.Tool.Poetry.Dependencies) {
		if name != "python" {
			names = append(names, name)
		}
	}
	return names, nil
}

type packageJSON struct {
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

func parsePackageJSON(data []byte) ([]string, error) {
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}

	names := sortedKeys(pkg.Dependencies)
	for _, name := range sortedKeys(pkg.DevDependencies) {
		names = append(names, name+" (dev)")
	}
	return names, nil
}

type msbuildProject struct {
	ItemGroups []struct {
		PackageReferences []struct {
			Include string `xml:"Include,attr"`
		} `xml:"PackageReference"`
	} `xml:"ItemGroup"`
}

func parseMSBuildProject(data []byte) ([]string, error) {
	var proj msbuildProject
	if err := xml.Unmarshal(data, &proj); err != nil {
		return nil, err
	}

	var names []string
	for _, group := range proj.ItemGroups {
		for _, ref := range group.PackageReferences {
			if ref.Include != "" {
				names = append(names, ref.Include)
			}
		}
	}
	return names, nil
}

func parseGoMod(data []byte) ([]string, error) {
	f, err := modfile.Parse("go.mod", data, nil)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(f.Require))
	for _, req := range f.Require {
		name := req.Mod.Path + " " + req.Mod.Version
		if req.Indirect {
			name += " (indirect)"
		}
		names = append(names, name)
	}
	return names, nil
}

type cargoManifest struct {
	Dependencies    map[string]any `toml:"dependencies"`
	DevDependencies map[string]any `toml:"dev-dependencies"`
}

func parseCargo(data []byte) ([]string, error) {
	var manifest cargoManifest
	if err := toml.Unmarshal(data, &manifest); err != nil {
		return nil, err
	}

	names := sortedKeys(manifest.Dependencies)
	for _, name := range sortedKeys(manifest.DevDependencies) {
		names = append(names, name+" (dev)")
	}
	return names, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
