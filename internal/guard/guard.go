// SPDX-License-Identifier: MIT

// Package guard implements the access authorization check that every
// filesystem-touching component runs before serving a path. A path is
// servable only when its symlink-resolved form sits inside an active
// administrator-approved directory and names no hidden component.
package guard

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog"

	"github.com/strmd/strmd/internal/catalog"
	"github.com/strmd/strmd/internal/log"
	"github.com/strmd/strmd/internal/metrics"
)

// Denial reasons. Stable strings: they label metrics and appear in logs.
const (
	ReasonPathEscape  = "path_escape"
	ReasonNotFound    = "not_found"
	ReasonHiddenPath  = "hidden_path"
	ReasonNotApproved = "not_approved"
	ReasonInternal    = "internal_error"
)

// DirectoryProvider yields the current approved-directory snapshot. The
// guard fetches a fresh snapshot per request so directory toggles take
// effect immediately.
type DirectoryProvider interface {
	ApprovedDirectories(ctx context.Context) ([]catalog.Directory, error)
}

// Result is the outcome of one authorization check. ResolvedPath is set only
// when Allowed is true and is always a real (symlink-free) path.
type Result struct {
	Allowed      bool
	ResolvedPath string
	Reason       string
	Status       int
}

// Guard validates requested paths against the live approved-directory set.
// It holds no state beyond its collaborators and is safe for concurrent use.
type Guard struct {
	dirs     DirectoryProvider
	caseFold bool
	log      zerolog.Logger
}

// New creates a Guard. Path comparison is case-insensitive on platforms
// whose default filesystems are (darwin, windows).
func New(dirs DirectoryProvider) *Guard {
	return &Guard{
		dirs:     dirs,
		caseFold: runtime.GOOS == "darwin" || runtime.GOOS == "windows",
		log:      log.WithComponent("guard"),
	}
}

// Authorize resolves and validates the requested path. It never returns an
// error: every failure mode is a typed denial, with internal errors failing
// closed under a reason distinct from ordinary denial.
func (g *Guard) Authorize(ctx context.Context, requested string) Result {
	if requested == "" || ContainsTraversal(requested) {
		return g.deny(requested, ReasonPathEscape, http.StatusForbidden)
	}

	abs, err := filepath.Abs(requested)
	if err != nil {
		g.log.Error().Err(err).Str("path", requested).Msg("could not absolutize requested path")
		return g.deny(requested, ReasonInternal, http.StatusInternalServerError)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return g.deny(requested, ReasonNotFound, http.StatusNotFound)
		}
		g.log.Error().Err(err).Str("path", abs).Msg("could not evaluate symlinks")
		return g.deny(requested, ReasonInternal, http.StatusInternalServerError)
	}

	dirs, err := g.dirs.ApprovedDirectories(ctx)
	if err != nil {
		g.log.Error().Err(err).Msg("could not fetch approved directories")
		return g.deny(requested, ReasonInternal, http.StatusInternalServerError)
	}

	roots := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if !d.Active {
			continue
		}
		root, err := filepath.EvalSymlinks(d.Path)
		if err != nil {
			// A stale approved entry must not break checks against the rest.
			g.log.Warn().Err(err).Str("dir", d.Path).Msg("skipping unresolvable approved directory")
			continue
		}
		roots = append(roots, root)
	}

	if g.hasBlockedHiddenComponent(resolved, roots) {
		return g.deny(requested, ReasonHiddenPath, http.StatusForbidden)
	}

	for _, root := range roots {
		if g.contains(root, resolved) {
			g.log.Debug().Str("event", "authz.allowed").Str("path", resolved).Str("root", root).Msg("path authorized")
			return Result{Allowed: true, ResolvedPath: resolved, Status: http.StatusOK}
		}
	}

	return g.deny(requested, ReasonNotApproved, http.StatusForbidden)
}

func (g *Guard) deny(path, reason string, status int) Result {
	g.log.Warn().Str("event", "authz.denied").Str("path", path).Str("reason", reason).Msg("path authorization denied")
	metrics.AuthorizationDeniedTotal.WithLabelValues(reason).Inc()
	return Result{Allowed: false, Reason: reason, Status: status}
}

// contains reports whether candidate equals root or is a proper descendant.
// The comparison appends a separator to the root so "/media-evil" never
// matches an approved "/media".
func (g *Guard) contains(root, candidate string) bool {
	r, c := root, candidate
	if g.caseFold {
		r, c = strings.ToLower(r), strings.ToLower(c)
	}
	if r == c {
		return true
	}
	if !strings.HasSuffix(r, string(filepath.Separator)) {
		r += string(filepath.Separator)
	}
	return strings.HasPrefix(c, r)
}

// hasBlockedHiddenComponent reports whether any component of resolved starts
// with a dot, unless the prefix ending at that component is itself one of
// the approved roots (an admin may deliberately approve a hidden directory).
func (g *Guard) hasBlockedHiddenComponent(resolved string, roots []string) bool {
	sep := string(filepath.Separator)
	parts := strings.Split(resolved, sep)
	prefix := ""
	for i, part := range parts {
		if i == 0 {
			// Leading empty component of an absolute unix path, or a volume
			// name on windows.
			prefix = part
			continue
		}
		prefix = prefix + sep + part
		if part == "." || part == ".." {
			return true
		}
		if !strings.HasPrefix(part, ".") {
			continue
		}
		approved := false
		for _, root := range roots {
			if g.samePath(root, prefix) {
				approved = true
				break
			}
		}
		if !approved {
			return true
		}
	}
	return false
}

func (g *Guard) samePath(a, b string) bool {
	if g.caseFold {
		return strings.EqualFold(a, b)
	}
	return a == b
}
