package github

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/user/nostrgit/internal/errors"
	"github.com/user/nostrgit/internal/identity"
	"github.com/user/nostrgit/internal/repo"
)

const ownerHex = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"

func newTestClient(t *testing.T) *Client {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/repos/octo/Hello-World", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"name": "Hello-World",
			"full_name": "octo/Hello-World",
			"description": "My first repo",
			"default_branch": "main",
			"clone_url": "https://github.com/octo/Hello-World.git",
			"html_url": "https://github.com/octo/Hello-World",
			"stargazers_count": 3
		}`))
	})
	r.Get("/repos/octo/Hello-World/contributors", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"login": "octocat", "avatar_url": "https://avatars/1", "contributions": 32},
			{"login": "octocat", "avatar_url": "https://avatars/1", "contributions": 1},
			{"login": "hubot", "contributions": 5}
		]`))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c := NewClient("")
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	c.client.BaseURL = base
	c.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return c
}

func TestParseFullName(t *testing.T) {
	for _, in := range []string{"octo/Hello-World", "https://github.com/octo/Hello-World.git", " github.com/octo/Hello-World/ "} {
		owner, name, err := ParseFullName(in)
		require.NoError(t, err, in)
		assert.Equal(t, "octo", owner)
		assert.Equal(t, "Hello-World", name)
	}
	for _, bad := range []string{"", "octo", "a/b/c", "/x"} {
		_, _, err := ParseFullName(bad)
		assert.Error(t, err, bad)
	}
}

func TestListContributors(t *testing.T) {
	c := newTestClient(t)
	list, err := c.ListContributors(t.Context(), "octo", "Hello-World")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "octocat", list[0].GithubLogin)
	assert.Equal(t, 32, list[0].Weight)
	assert.Equal(t, repo.RoleContributor, list[1].Role)
}

func TestImportRepository(t *testing.T) {
	c := newTestClient(t)
	r, err := c.ImportRepository(t.Context(), "octo", "Hello-World", ownerHex)
	require.NoError(t, err)

	assert.Equal(t, identity.Npub(ownerHex), r.Entity)
	assert.Equal(t, ownerHex, r.OwnerPubkey)
	assert.Equal(t, "hello-world", r.Slug)
	assert.Equal(t, "main", r.DefaultBranch)
	assert.Equal(t, repo.StatusLocal, r.Status)
	assert.Equal(t, int64(1_700_000_000_000), r.CreatedAt)
	assert.Equal(t, []string{"https://github.com/octo/Hello-World.git"}, r.Clone)
	require.Len(t, r.Contributors, 3)
	assert.Equal(t, repo.RoleOwner, r.Contributors[0].Role)
	assert.Equal(t, ownerHex, r.Contributors[0].Pubkey)
}

func TestImportRepositoryErrors(t *testing.T) {
	c := newTestClient(t)

	_, err := c.ImportRepository(t.Context(), "octo", "Hello-World", "not-a-key")
	assert.ErrorIs(t, err, apperrors.ErrInvalidIdentifier)

	_, err = c.ImportRepository(t.Context(), "octo", "missing", ownerHex)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
