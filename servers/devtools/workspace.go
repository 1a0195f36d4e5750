package devtools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// ErrAccessDenied is returned for paths that resolve outside the workspace root.
var ErrAccessDenied = errors.New("access denied")

// Workspace confines filesystem access to a root directory. Every path a tool touches is
// resolved through it.
type Workspace struct {
	root string
}

// NewWorkspace returns a workspace rooted at the real path of root.
func NewWorkspace(root string) (Workspace, error) {
	absolute, err := filepath.Abs(root)
	if err != nil {
		return Workspace{}, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(absolute)
	if err != nil {
		return Workspace{}, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	info, err := os.Stat(realRoot)
	if err != nil {
		return Workspace{}, fmt.Errorf("failed to stat workspace root: %w", err)
	}
	if !info.IsDir() {
		return Workspace{}, fmt.Errorf("workspace root %s is not a directory", realRoot)
	}
	return Workspace{root: filepath.Clean(realRoot)}, nil
}

// Root returns the absolute real path of the workspace root.
func (w Workspace) Root() string {
	return w.root
}

// Resolve returns the real path of requested, which may be relative to the root or
// absolute. Both the cleaned path and the path with symlinks evaluated must equal or descend
// from the root, otherwise ErrAccessDenied is returned. Missing paths return an error
// wrapping fs.ErrNotExist.
func (w Workspace) Resolve(requested string) (string, error) {
	if strings.ContainsRune(requested, 0) {
		return "", fmt.Errorf("%w: path contains NUL byte", ErrAccessDenied)
	}

	p := filepath.FromSlash(requested)
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.root, p)
	}
	p = filepath.Clean(p)

	if !isSubpath(p, w.root) {
		return "", fmt.Errorf("%w: %s is outside the workspace", ErrAccessDenied, requested)
	}

	// Handle symlinks by checking their real path
	realPath, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", requested, err)
	}
	if !isSubpath(realPath, w.root) {
		return "", fmt.Errorf("%w: %s resolves outside the workspace", ErrAccessDenied, requested)
	}
	return realPath, nil
}

// Rel returns path relative to the root with forward slashes, for display.
func (w Workspace) Rel(path string) string {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// ResolveDir resolves requested and checks that it is a directory.
func (w Workspace) ResolveDir(requested string) (string, error) {
	p, err := w.Resolve(requested)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", requested, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", requested)
	}
	return p, nil
}

// walkFiles returns the regular files under dir accepted by keep, sorted by path. Directories
// whose name matches an exclude pattern are skipped, symlinks are only followed to files that
// stay inside the root.
func (w Workspace) walkFiles(ctx context.Context, dir string, excludes []glob.Glob, keep func(name string) bool) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, the walk goes on.
			if d != nil && d.IsDir() && path != dir {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if d.IsDir() {
			if path != dir && matchesAny(excludes, d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !keep(d.Name()) {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			target, err := w.Resolve(path)
			if err != nil {
				return nil
			}
			info, err := os.Stat(target)
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

func isSubpath(path, base string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != ".."
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

func matchesAny(globs []glob.Glob, name string) bool {
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}
