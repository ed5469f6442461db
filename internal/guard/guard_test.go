// SPDX-License-Identifier: MIT

package guard

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/strmd/strmd/internal/catalog"
)

type fakeProvider struct {
	dirs []catalog.Directory
	err  error
}

func (f *fakeProvider) ApprovedDirectories(ctx context.Context) ([]catalog.Directory, error) {
	return f.dirs, f.err
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestAuthorize_AllowsFileInsideApprovedDirectory(t *testing.T) {
	root := t.TempDir()
	media := filepath.Join(root, "media")
	file := filepath.Join(media, "movie.mp4")
	writeFile(t, file)

	g := New(&fakeProvider{dirs: []catalog.Directory{{Path: media, Kind: catalog.KindLocal, Active: true}}})
	res := g.Authorize(context.Background(), file)

	require.True(t, res.Allowed)
	resolved, err := filepath.EvalSymlinks(file)
	require.NoError(t, err)
	require.Equal(t, resolved, res.ResolvedPath)
}

func TestAuthorize_DeniesPathOutsideEveryApprovedDirectory(t *testing.T) {
	root := t.TempDir()
	media := filepath.Join(root, "media")
	outside := filepath.Join(root, "other", "movie.mp4")
	writeFile(t, filepath.Join(media, "keep"))
	writeFile(t, outside)

	g := New(&fakeProvider{dirs: []catalog.Directory{{Path: media, Active: true}}})
	res := g.Authorize(context.Background(), outside)

	require.False(t, res.Allowed)
	require.Equal(t, ReasonNotApproved, res.Reason)
	require.Equal(t, http.StatusForbidden, res.Status)
}

func TestAuthorize_DeniesSiblingWithApprovedPrefix(t *testing.T) {
	// "/media-evil" must not match an approved "/media".
	root := t.TempDir()
	media := filepath.Join(root, "media")
	evil := filepath.Join(root, "media-evil", "movie.mp4")
	writeFile(t, filepath.Join(media, "keep"))
	writeFile(t, evil)

	g := New(&fakeProvider{dirs: []catalog.Directory{{Path: media, Active: true}}})
	res := g.Authorize(context.Background(), evil)

	require.False(t, res.Allowed)
	require.Equal(t, ReasonNotApproved, res.Reason)
}

func TestAuthorize_DeniesInactiveDirectory(t *testing.T) {
	root := t.TempDir()
	media := filepath.Join(root, "media")
	file := filepath.Join(media, "movie.mp4")
	writeFile(t, file)

	provider := &fakeProvider{dirs: []catalog.Directory{{Path: media, Active: false}}}
	g := New(provider)

	res := g.Authorize(context.Background(), file)
	require.False(t, res.Allowed)

	// Toggling active takes effect on the next call: no guard-side cache.
	provider.dirs[0].Active = true
	res = g.Authorize(context.Background(), file)
	require.True(t, res.Allowed)
}

func TestAuthorize_DeniesSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	media := filepath.Join(root, "media")
	secret := filepath.Join(root, "secret", "passwd")
	writeFile(t, secret)
	require.NoError(t, os.MkdirAll(media, 0o755))
	link := filepath.Join(media, "innocent.mp4")
	require.NoError(t, os.Symlink(secret, link))

	g := New(&fakeProvider{dirs: []catalog.Directory{{Path: media, Active: true}}})
	res := g.Authorize(context.Background(), link)

	require.False(t, res.Allowed)
	require.Equal(t, ReasonNotApproved, res.Reason)
}

func TestAuthorize_DeniesHiddenComponent(t *testing.T) {
	root := t.TempDir()
	media := filepath.Join(root, "media")
	hidden := filepath.Join(media, ".config", "credentials.json")
	writeFile(t, hidden)

	g := New(&fakeProvider{dirs: []catalog.Directory{{Path: media, Active: true}}})
	res := g.Authorize(context.Background(), hidden)

	require.False(t, res.Allowed)
	require.Equal(t, ReasonHiddenPath, res.Reason)
}

func TestAuthorize_AllowsApprovedHiddenDirectoryItself(t *testing.T) {
	root := t.TempDir()
	hiddenRoot := filepath.Join(root, ".library")
	file := filepath.Join(hiddenRoot, "movie.mp4")
	writeFile(t, file)

	g := New(&fakeProvider{dirs: []catalog.Directory{{Path: hiddenRoot, Active: true}}})
	res := g.Authorize(context.Background(), file)

	require.True(t, res.Allowed)
}

func TestAuthorize_MissingFileIsNotFound(t *testing.T) {
	root := t.TempDir()
	media := filepath.Join(root, "media")
	require.NoError(t, os.MkdirAll(media, 0o755))

	g := New(&fakeProvider{dirs: []catalog.Directory{{Path: media, Active: true}}})
	res := g.Authorize(context.Background(), filepath.Join(media, "nope.mp4"))

	require.False(t, res.Allowed)
	require.Equal(t, ReasonNotFound, res.Reason)
	require.Equal(t, http.StatusNotFound, res.Status)
}

func TestAuthorize_ProviderErrorFailsClosedAsInternal(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "movie.mp4")
	writeFile(t, file)

	g := New(&fakeProvider{err: errors.New("store down")})
	res := g.Authorize(context.Background(), file)

	require.False(t, res.Allowed)
	require.Equal(t, ReasonInternal, res.Reason)
	require.Equal(t, http.StatusInternalServerError, res.Status)
}

func TestContainsTraversal(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/media/movie.mp4", false},
		{"/media/Movie..2020.mkv", false},
		{"/media/../etc/passwd", true},
		{"/media/%2e%2e/etc/passwd", true},
		{"/media/%252e%252e/etc/passwd", true},
		{"/media/..", true},
		{"/media/movie\x00.mp4", true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ContainsTraversal(tc.path), "path %q", tc.path)
	}
}
