package workspace

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/lockstep-run/lockstep/pkg/schema"
)

// Resolver maps an opaque caller identity to a filesystem workspace
// root. Hosts may substitute their own mapping; the interpreter only
// depends on this interface.
type Resolver interface {
	Root(ctx context.Context, agentID string) (string, error)
}

// DirResolver is the default Resolver: one directory per caller id
// under a configured base directory, created lazily on first use.
type DirResolver struct {
	Base string
}

// NewDirResolver creates a DirResolver rooted at base.
func NewDirResolver(base string) *DirResolver {
	return &DirResolver{Base: base}
}

// Root resolves (and creates if needed) the workspace directory for a
// caller id. Ids are restricted to a safe charset so a caller can never
// influence which directory it is mapped to.
func (r *DirResolver) Root(_ context.Context, agentID string) (string, error) {
	if err := ValidateAgentID(agentID); err != nil {
		return "", err
	}
	root := filepath.Join(r.Base, agentID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeExecution, "create workspace for %q: %v", agentID, err).WithCause(err)
	}
	return root, nil
}

// ValidateAgentID checks that a caller id is non-empty and uses only
// [a-zA-Z0-9._-], with no leading dot.
func ValidateAgentID(id string) error {
	if id == "" {
		return schema.NewError(schema.ErrCodeCallerContract, "agent id is required")
	}
	if strings.HasPrefix(id, ".") {
		return schema.NewErrorf(schema.ErrCodeCallerContract, "invalid agent id %q: must not start with a dot", id)
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.', r == '_', r == '-':
		default:
			return schema.NewErrorf(schema.ErrCodeCallerContract,
				"invalid agent id %q: only letters, digits, '.', '_', '-' are allowed", id)
		}
	}
	return nil
}

// Contain joins a workspace-relative path onto the root and verifies
// the result stays inside it. Absolute paths, null bytes, and any
// traversal that escapes the root are denied before the filesystem is
// touched.
func Contain(root, rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", schema.NewErrorf(schema.ErrCodePathDenied, "path %q contains a null byte", rel)
	}
	if rel == "" {
		return "", schema.NewError(schema.ErrCodePathDenied, "empty path")
	}
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, string(filepath.Separator)) {
		return "", schema.NewErrorf(schema.ErrCodePathDenied, "path %q must be workspace-relative", rel)
	}

	cleanRoot, err := resolveCleanPath(root)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodePathDenied, "invalid workspace root %q: %v", root, err)
	}
	resolved, err := resolveCleanPath(filepath.Join(cleanRoot, rel))
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodePathDenied, "invalid path %q: %v", rel, err)
	}
	if !IsUnder(resolved, cleanRoot) {
		return "", schema.NewErrorf(schema.ErrCodePathDenied, "path %q escapes the workspace root", rel)
	}
	return resolved, nil
}

// resolveCleanPath cleans and resolves a path to absolute. Walks up
// ancestors to resolve symlinks on the longest existing prefix, so new
// files resolve consistently with existing ones.
func resolveCleanPath(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", err
	}

	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}

	return resolveAncestor(abs), nil
}

// resolveAncestor walks up from path until it finds an existing
// directory, resolves symlinks on that ancestor, and re-appends the
// unresolved suffix.
func resolveAncestor(path string) string {
	dir := path
	for range 256 { // Defensive depth limit.
		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached root
		}
		resolved, err := filepath.EvalSymlinks(parent)
		if err == nil {
			rel, err := filepath.Rel(parent, path)
			if err != nil {
				return path
			}
			return filepath.Join(resolved, rel)
		}
		dir = parent
	}
	return path
}

// IsUnder returns true if path is under (or equal to) the base
// directory. Uses filepath.Rel to avoid string-prefix false positives
// (e.g. /tmp vs /tmpevil).
func IsUnder(path, base string) bool {
	if path == base {
		return true
	}
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
