package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/user/nostrgit/internal/errors"
	"github.com/user/nostrgit/internal/identity"
	"github.com/user/nostrgit/internal/ingest"
	"github.com/user/nostrgit/internal/migration"
	"github.com/user/nostrgit/internal/remote"
	"github.com/user/nostrgit/internal/repo"
	"github.com/user/nostrgit/internal/storage"
)

const otherHex = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"

type fakeImporter struct{}

func (fakeImporter) ImportRepository(_ context.Context, owner, name, ownerHex string) (repo.Repository, error) {
	if name == "missing" {
		return repo.Repository{}, apperrors.ErrNotFound
	}
	return repo.Canonicalize(repo.Repository{
		Entity: identity.Npub(ownerHex), OwnerPubkey: ownerHex, Name: name,
		SourceURL: "https://github.com/" + owner + "/" + name, Status: repo.StatusLocal,
	}), nil
}

type fixture struct {
	srv   *httptest.Server
	cache storage.Cache
	sk    string
	pk    string
	npub  string
}

func newFixture(t *testing.T, importer Importer) *fixture {
	t.Helper()
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &fixture{cache: storage.NewSQLiteCache(db, 0), sk: nostr.GeneratePrivateKey()}
	f.pk, err = nostr.GetPublicKey(f.sk)
	require.NoError(t, err)
	f.npub = identity.Npub(f.pk)

	require.NoError(t, storage.SaveRepositories(context.Background(), f.cache, []repo.Repository{
		{Entity: f.npub, OwnerPubkey: f.pk, Slug: "demo", Name: "Demo", Status: repo.StatusLive, CreatedAt: 1_700_000_000},
		{Entity: f.npub, OwnerPubkey: f.pk, Slug: "demo", Name: "demo", Status: repo.StatusLocal, CreatedAt: 1_700_000_100, LastModifiedAt: 1_700_000_100},
		{Entity: identity.Npub(otherHex), OwnerPubkey: otherHex, Slug: "other", Name: "Other"},
	}))

	f.srv = httptest.NewServer(NewRouter(Deps{
		Cache:    f.cache,
		Pipeline: ingest.NewPipeline(f.cache),
		Session:  migration.NewSession(f.pk, "me"),
		Hosts:    remote.Hosts{SSHHost: "git.example.com", BridgeURLs: []string{"https://bridge.example.com"}},
		Importer: importer,
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) signedPR(t *testing.T, id string) *nostr.Event {
	t.Helper()
	ev := &nostr.Event{
		Kind:      ingest.KindPullRequest,
		CreatedAt: 1_700_000_500,
		Content:   "please merge",
		Tags:      nostr.Tags{{"a", "30617:" + f.pk + ":demo"}, {"subject", "Feature " + id}},
	}
	require.NoError(t, ev.Sign(f.sk))
	return ev
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	var body map[string]string
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestListRepos(t *testing.T) {
	f := newFixture(t, nil)

	var list []repo.Repository
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/repos", nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, repo.StatusLiveWithEdits, list[0].Status)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/repos?owner="+otherHex, nil, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "other", list[0].Slug)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/repos?owner=alice", nil, nil))
}

func TestGetRepoAndRemotes(t *testing.T) {
	f := newFixture(t, nil)

	var r repo.Repository
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/repos/"+f.npub+"/demo", nil, &r))
	assert.Equal(t, f.pk, r.OwnerPubkey)

	var remotes remote.Remotes
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/repos/"+f.npub+"/demo/remotes", nil, &remotes))
	assert.Equal(t, "git@git.example.com:"+f.npub+"/demo.git", remotes.SSH)
	assert.Equal(t, []string{"https://bridge.example.com/" + f.npub + "/demo.git"}, remotes.HTTPS)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/repos/"+f.npub+"/nope", nil, nil))
}

func TestDeleteAndRestore(t *testing.T) {
	f := newFixture(t, nil)
	path := "/v1/repos/" + f.npub + "/demo"

	var tomb repo.Tombstone
	require.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, path, nil, &tomb))
	assert.Equal(t, f.pk, tomb.OwnerPubkey)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, path, nil, nil))
	var list []repo.Repository
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/repos", nil, &list))
	assert.Empty(t, list)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, path+"/restore", nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, path+"/restore", nil, nil))
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, path, nil, nil))
}

func TestPostEvent(t *testing.T) {
	f := newFixture(t, nil)

	ev := f.signedPR(t, "one")
	var res ingest.Result
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/events", ev, &res))
	assert.True(t, res.Inserted)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/v1/events", ev, &res))
	assert.False(t, res.Inserted)

	var pulls []ingest.Entry
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/repos/"+f.npub+"/demo/pulls?status=open", nil, &pulls))
	require.Len(t, pulls, 1)
	assert.Equal(t, "Feature one", pulls[0].Title)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/repos/"+f.npub+"/demo/pulls?status=weird", nil, nil))

	tampered := f.signedPR(t, "two")
	tampered.Content = "changed"
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/events", tampered, nil))

	note := &nostr.Event{Kind: 1, CreatedAt: 1_700_000_000, Content: "hello"}
	require.NoError(t, note.Sign(f.sk))
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(t, http.MethodPost, "/v1/events", note, nil))
}

func TestRunMigration(t *testing.T) {
	f := newFixture(t, nil)

	var out migration.Outcome
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/migrate", nil, &out))
	assert.True(t, out.Completed)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/migrate", nil, &out))
	assert.True(t, out.Skipped)
}

func TestImport(t *testing.T) {
	disabled := newFixture(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, disabled.do(t, http.MethodPost, "/v1/import", importRequest{GitHub: "octo/tool"}, nil))

	f := newFixture(t, fakeImporter{})
	var r repo.Repository
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/import", importRequest{GitHub: "octo/tool"}, &r))
	assert.Equal(t, "tool", r.Slug)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/import", importRequest{GitHub: "https://github.com/octo/tool"}, &r))

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/import", importRequest{GitHub: "octo"}, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/v1/import", importRequest{GitHub: "octo/missing"}, nil))

	var list []repo.Repository
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/repos", nil, &list))
	assert.Len(t, list, 2)
}
