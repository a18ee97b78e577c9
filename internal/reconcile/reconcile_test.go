package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/nostrgit/internal/identity"
	"github.com/user/nostrgit/internal/repo"
)

const (
	ownerHex = "9a83779ef1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c0d1e2f3a4b5c6d7e8"
	otherHex = "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"
)

var ownerNpub = identity.Npub(ownerHex)

func TestReconcileMergesLocalDraftWithLiveCopy(t *testing.T) {
	raw := []repo.Repository{
		{Entity: ownerNpub, Name: "demo", Status: repo.StatusLocal, LastModifiedAt: 2000, LogoURL: "local.png"},
		{Entity: ownerNpub, Name: "Demo", Status: repo.StatusLive, LastNostrEventCreatedAt: 1000, LastNostrEventID: "ev1", LogoURL: "net.png"},
	}

	out := New().Reconcile(raw, ownerNpub, nil)
	require.Len(t, out, 1)
	assert.Equal(t, repo.StatusLiveWithEdits, out[0].Status)
	assert.Equal(t, "local.png", out[0].LogoURL)
	assert.Equal(t, "ev1", out[0].LastNostrEventID)
	assert.Equal(t, "Demo", out[0].Name)
	assert.Equal(t, int64(2_000_000), out[0].LastModifiedAt)
}

func TestReconcileMergeKeepsLiveStatusWhenDraftIsOlder(t *testing.T) {
	raw := []repo.Repository{
		{Entity: ownerNpub, Name: "demo", Status: repo.StatusLocal, LastModifiedAt: 100},
		{Entity: ownerNpub, Name: "demo", Status: repo.StatusLive, LastNostrEventCreatedAt: 500},
	}
	out := New().Reconcile(raw, ownerHex, nil)
	require.Len(t, out, 1)
	assert.Equal(t, repo.StatusLive, out[0].Status)

	raw[0].LastModifiedAt = 100
	raw[1].LastNostrEventCreatedAt = 50
	out = New().Reconcile(raw, ownerHex, nil)
	require.Len(t, out, 1)
	assert.Equal(t, repo.StatusLiveWithEdits, out[0].Status)

	raw[0].LastModifiedAt = 10
	raw[0].HasUnpushedEdits = true
	out = New().Reconcile(raw, ownerHex, nil)
	require.Len(t, out, 1)
	assert.Equal(t, repo.StatusLiveWithEdits, out[0].Status)
	assert.True(t, out[0].HasUnpushedEdits)
}

func TestReconcileNonPairDuplicatesKeepLaterCreated(t *testing.T) {
	raw := []repo.Repository{
		{Entity: ownerNpub, Name: "demo", Status: repo.StatusLive, CreatedAt: 10, Description: "old", LastNostrEventID: "a"},
		{Entity: ownerHex, OwnerPubkey: ownerHex, Name: "De-Mo", Status: repo.StatusLive, CreatedAt: 20, Description: "new", LastNostrEventID: "b"},
	}
	out := New().Reconcile(raw, ownerNpub, nil)
	require.Len(t, out, 1)
	assert.Equal(t, "new", out[0].Description)
}

func TestReconcileFilters(t *testing.T) {
	raw := []repo.Repository{
		{Entity: ownerNpub, Name: "keep"},
		{Entity: "gittr.space", OwnerPubkey: ownerHex, Name: "bad-sentinel"},
		{Entity: ownerNpub, Name: "corrupt", Description: "CORRUPT"},
		{Entity: ownerNpub, Name: "gone"},
		{Entity: ownerNpub, Name: "deleted", Deleted: true},
		{Entity: ownerNpub, Name: "archived", Archived: true},
		{Entity: identity.Npub(otherHex), Name: "not-mine"},
		{Entity: "alice-gh", OwnerPubkey: ownerHex, Name: "legacy-entity"},
		{Entity: "", OwnerPubkey: ownerHex, Name: "no-entity"},
		{Entity: identity.Npub(otherHex), OwnerPubkey: ownerHex, Name: "owner-key"},
		{Entity: identity.Npub(otherHex), Name: "co-owned", Contributors: []repo.Contributor{{Pubkey: ownerHex, Role: repo.RoleOwner}}},
	}
	tombstones := []repo.Tombstone{{Entity: ownerNpub, Repo: "gone"}}

	rc := New(WithCorruptionCheck(func(r repo.Repository) bool { return r.Description == "CORRUPT" }))
	out := rc.Reconcile(raw, ownerHex, tombstones)

	var names []string
	for _, r := range out {
		names = append(names, r.Name)
	}
	assert.ElementsMatch(t, []string{"keep", "owner-key", "co-owned"}, names)
}

func TestReconcileTombstoneMatchPaths(t *testing.T) {
	live := repo.Repository{Entity: ownerNpub, OwnerPubkey: ownerHex, Name: "demo", LastNostrEventID: "x"}

	// A hex-entity record only meets an npub tombstone through decoding.
	hexEntity := repo.Repository{Entity: ownerHex, Name: "demo", LastNostrEventID: "x"}

	cases := map[string]struct {
		record repo.Repository
		ts     repo.Tombstone
	}{
		"owner key":         {live, repo.Tombstone{Entity: "whatever", Repo: "demo", OwnerPubkey: ownerHex}},
		"decoded entity":    {hexEntity, repo.Tombstone{Entity: ownerNpub, Repo: "DEMO"}},
		"raw entity + name": {live, repo.Tombstone{Entity: ownerNpub, Repo: "demo"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Len(t, New().Reconcile([]repo.Repository{tc.record}, ownerHex, nil), 1)
			out := New().Reconcile([]repo.Repository{tc.record}, ownerHex, []repo.Tombstone{tc.ts})
			assert.Empty(t, out)
		})
	}

	t.Run("raw pair without owner key", func(t *testing.T) {
		legacy := repo.Repository{Entity: "alice-gh", Name: "demo"}
		assert.True(t, repo.Tombstone{Entity: "alice-gh", Repo: "demo"}.Matches(legacy))
		assert.False(t, repo.Tombstone{Entity: ownerNpub, Repo: "demo"}.Matches(legacy))
	})

	t.Run("survives re-observation until cleared", func(t *testing.T) {
		ts := []repo.Tombstone{{Entity: ownerNpub, Repo: "demo"}}
		fresh := live
		fresh.LastNostrEventID = "newer"
		fresh.LastNostrEventCreatedAt = 99999
		assert.Empty(t, New().Reconcile([]repo.Repository{live, fresh}, ownerHex, ts))
		assert.Len(t, New().Reconcile([]repo.Repository{live, fresh}, ownerHex, nil), 1)
	})

	t.Run("other repo of the same owner is unaffected", func(t *testing.T) {
		other := live
		other.Name = "tool"
		ts := []repo.Tombstone{{Entity: ownerNpub, Repo: "demo", OwnerPubkey: ownerHex}}
		out := New().Reconcile([]repo.Repository{live, other}, ownerHex, ts)
		require.Len(t, out, 1)
		assert.Equal(t, "tool", out[0].Name)
	})
}

func TestReconcileOrdering(t *testing.T) {
	raw := []repo.Repository{
		{Entity: ownerNpub, Name: "live-old", LastNostrEventID: "1", LastNostrEventCreatedAt: 100},
		{Entity: ownerNpub, Name: "live-new", LastNostrEventID: "2", LastNostrEventCreatedAt: 200},
		{Entity: ownerNpub, Name: "zeta", CreatedAt: 50},
		{Entity: ownerNpub, Name: "Alpha", CreatedAt: 50},
		{Entity: ownerNpub, Name: "pushing", Status: repo.StatusPushing},
		{Entity: ownerNpub, Name: "failed", Status: repo.StatusPushFailed},
		{Entity: ownerNpub, Name: "edited", LastNostrEventID: "3", HasUnpushedEdits: true},
		{Entity: ownerNpub, Name: "odd", Status: "mystery"},
	}
	out := New().Reconcile(raw, ownerNpub, nil)

	var names []string
	for _, r := range out {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"pushing", "failed", "Alpha", "zeta", "edited", "live-new", "live-old", "odd"}, names)
}

func TestReconcileIsIdempotent(t *testing.T) {
	raw := []repo.Repository{
		{Entity: ownerNpub, Name: "demo", Status: repo.StatusLocal, LastModifiedAt: 1_700_000_200},
		{Entity: ownerNpub, Name: "Demo", Status: repo.StatusLive, LastNostrEventCreatedAt: 1_700_000_100},
		{Entity: ownerNpub, Name: "tool", LastNostrEventID: "t", CreatedAt: 1_700_000_000_000},
	}
	once := New().Reconcile(raw, ownerNpub, nil)
	twice := New().Reconcile(once, ownerNpub, nil)
	assert.Equal(t, once, twice)
}

func TestReconcileWithoutOwnerShowsNothing(t *testing.T) {
	assert.Empty(t, New().Reconcile([]repo.Repository{{Entity: ownerNpub, Name: "x"}}, "", nil))
}
