package migration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/user/nostrgit/internal/errors"
	"github.com/user/nostrgit/internal/identity"
	"github.com/user/nostrgit/internal/repo"
	"github.com/user/nostrgit/internal/storage"
)

const (
	sessionHex = "9a83779ef1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8"
	otherHex   = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
)

func TestMigrateRules(t *testing.T) {
	s := NewSession(identity.Npub(sessionHex), "Alice Smith")
	sessionNpub := identity.Npub(sessionHex)
	otherNpub := identity.Npub(otherHex)

	cases := []struct {
		name string
		in   repo.Repository
		want string
	}{
		{"external username owned by session", repo.Repository{Entity: "alice-gh", OwnerPubkey: sessionHex}, sessionNpub},
		{"external username owned by someone else", repo.Repository{Entity: "alice-gh", OwnerPubkey: otherHex}, "alice-gh"},
		{"session prefix", repo.Repository{Entity: sessionHex[:8], OwnerPubkey: sessionHex}, sessionNpub},
		{"missing entity", repo.Repository{OwnerPubkey: sessionHex}, sessionNpub},
		{"missing entity, other owner", repo.Repository{OwnerPubkey: otherHex}, ""},
		{"other owner prefix", repo.Repository{Entity: otherHex[:8], OwnerPubkey: otherHex}, otherNpub},
		{"prefix not matching owner", repo.Repository{Entity: "deadbeef", OwnerPubkey: otherHex}, "deadbeef"},
		{"prefix without owner", repo.Repository{Entity: otherHex[:8]}, otherHex[:8]},
		{"short handle", repo.Repository{Entity: "bob", OwnerPubkey: sessionHex}, "bob"},
		{"seven char handle", repo.Repository{Entity: "alice-g", OwnerPubkey: sessionHex}, "alice-g"},
		{"long username", repo.Repository{Entity: "alice-on-github", OwnerPubkey: sessionHex}, sessionNpub},
		{"already npub", repo.Repository{Entity: otherNpub, OwnerPubkey: otherHex}, otherNpub},
		{"sentinel user with session owner", repo.Repository{Entity: SentinelUser, OwnerPubkey: sessionHex}, sessionNpub},
		{"sentinel user without owner", repo.Repository{Entity: SentinelUser}, "alice-smith"},
		{"sentinel user, other owner", repo.Repository{Entity: SentinelUser, OwnerPubkey: otherHex}, SentinelUser},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.in.Name = "demo"
			res := Migrate([]repo.Repository{tc.in}, s)
			require.Len(t, res.Repositories, 1)
			assert.Equal(t, tc.want, res.Repositories[0].Entity)
		})
	}
}

func TestMigrateScenario(t *testing.T) {
	s := NewSession(sessionHex, "")
	in := []repo.Repository{{Entity: "alice-gh", OwnerPubkey: sessionHex, Name: "demo", Repo: "demo", Slug: "demo"}}

	res := Migrate(in, s)
	assert.True(t, res.Changed)
	assert.Equal(t, identity.Npub(sessionHex), res.Repositories[0].Entity)
	assert.Equal(t, "alice-gh", in[0].Entity, "input is not modified")
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := NewSession(sessionHex, "Alice Smith")
	in := []repo.Repository{
		{Entity: "alice-gh", OwnerPubkey: sessionHex},
		{Entity: sessionHex[:8], OwnerPubkey: sessionHex, RepositoryName: "x"},
		{Entity: otherHex[:8], OwnerPubkey: otherHex, Slug: "y"},
		{Entity: otherHex[:8]},
		{Entity: SentinelUser},
		{OwnerPubkey: sessionHex, Name: "z"},
	}

	first := Migrate(in, s)
	assert.True(t, first.Changed)
	assert.Len(t, first.OpenItems, 1)

	second := Migrate(first.Repositories, s)
	assert.False(t, second.Changed)
	assert.Equal(t, first.Repositories, second.Repositories)
}

func TestMigrateSentinelMatchingDisplayName(t *testing.T) {
	s := NewSession("", "User")
	in := []repo.Repository{{Entity: SentinelUser, Name: "demo", Repo: "demo", Slug: "demo"}}

	res := Migrate(in, s)
	assert.False(t, res.Changed)
	assert.Equal(t, SentinelUser, res.Repositories[0].Entity)
}

func TestMigrateBackfillsNames(t *testing.T) {
	res := Migrate([]repo.Repository{{Entity: identity.Npub(otherHex), RepositoryName: "Tool"}, {}}, Session{})
	assert.True(t, res.Changed)

	assert.Equal(t, "Tool", res.Repositories[0].Name)
	assert.Equal(t, "Tool", res.Repositories[0].Repo)
	assert.Equal(t, "Tool", res.Repositories[0].Slug)
	assert.Equal(t, repo.PlaceholderName, res.Repositories[1].Slug)
}

func TestCustomRecognizers(t *testing.T) {
	legacyDomain := RecognizerFunc{Label: "domain", Fn: func(r repo.Repository, s Session) (string, bool) {
		if r.Entity == "example.com" {
			return identity.Npub(otherHex), true
		}
		return "", false
	}}
	res := Migrate([]repo.Repository{{Entity: "example.com", Name: "a", Repo: "a", Slug: "a"}}, Session{}, legacyDomain)
	assert.True(t, res.Changed)
	assert.Equal(t, identity.Npub(otherHex), res.Repositories[0].Entity)
	assert.Equal(t, "domain", legacyDomain.Name())
}

type quotaCache struct {
	storage.Cache
	failKey string
}

func (q *quotaCache) Set(ctx context.Context, key string, value any) error {
	if key == q.failKey {
		return &apperrors.QuotaError{Key: key, Size: 2, Limit: 1}
	}
	return q.Cache.Set(ctx, key, value)
}

func newCache(t *testing.T) storage.Cache {
	t.Helper()
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return storage.NewSQLiteCache(db, 0)
}

func TestRunnerRunsOncePerFingerprint(t *testing.T) {
	ctx := context.Background()
	c := newCache(t)
	require.NoError(t, storage.SaveRepositories(ctx, c, []repo.Repository{
		{Entity: "alice-gh", OwnerPubkey: sessionHex, Name: "demo", Repo: "demo", Slug: "demo"},
	}))

	runner := NewRunner(c, NewSession(sessionHex, ""))

	out, err := runner.Run(ctx)
	require.NoError(t, err)
	assert.True(t, out.Completed)
	assert.True(t, out.Changed)
	assert.False(t, out.Skipped)

	stored, err := storage.LoadRawRepositories(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, identity.Npub(sessionHex), stored[0].Entity)

	out, err = runner.Run(ctx)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
}

func TestRunnerQuotaExceededIsRecoverable(t *testing.T) {
	ctx := context.Background()
	base := newCache(t)
	require.NoError(t, storage.SaveRepositories(ctx, base, []repo.Repository{
		{Entity: "alice-gh", OwnerPubkey: sessionHex, Name: "demo", Repo: "demo", Slug: "demo"},
	}))
	c := &quotaCache{Cache: base, failKey: storage.RepositoriesKey()}

	out, err := NewRunner(c, NewSession(sessionHex, "")).Run(ctx)
	require.NoError(t, err)
	assert.False(t, out.Completed)

	stored, err := storage.LoadRawRepositories(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, "alice-gh", stored[0].Entity, "prior state untouched")
}
