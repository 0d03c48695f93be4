package state

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinode-dao/storekeeper/internal/shared/types"
)

func TestSnapshotRoundTrip(t *testing.T) {
	src := NewStore()
	chat := pkg("chat", "alice.os")
	files := pkg("files", "bob.os")

	src.UpsertListings([]types.AppListing{listing(chat, "1.0.0"), listing(files, "2.0.0")})
	src.SetInstalled(types.PackageState{PackageID: chat, OurVersionHash: "aa", AutoUpdate: true})
	src.AddCustomMirror(chat, "carol.os")
	notif := src.Notify(types.NotifyWarning, "Update for chat:alice.os needs capability approval")

	snap := src.Export()
	snap.Updates = types.Updates{
		"chat:alice.os": {"aa": {Errors: []types.UpdateError{
			{Mirror: "bob.os", Error: *types.NewTimeout()},
		}}},
	}

	path := filepath.Join(t.TempDir(), "state.json.zst")
	require.NoError(t, Save(path, snap))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, SnapshotVersion, loaded.Version)
	assert.False(t, loaded.SavedAt.IsZero())
	assert.Len(t, loaded.Updates["chat:alice.os"]["aa"].Errors, 1)

	dst := NewStore()
	dst.Import(loaded)

	assert.Len(t, dst.Listings(), 2)
	st, ok := dst.InstalledFor(chat)
	require.True(t, ok)
	assert.True(t, st.AutoUpdate)
	assert.Equal(t, []string{"carol.os"}, dst.CustomMirrors(chat))

	restored := dst.Notifications()
	require.Len(t, restored, 1)
	assert.Equal(t, notif.ID, restored[0].ID)

	// Importing the same snapshot again must not duplicate entries.
	dst.Import(loaded)
	assert.Len(t, dst.Notifications(), 1)

	assert.True(t, dst.DismissNotification(notif.ID))
}

func TestSnapshotFileIsCompressed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json.zst")
	require.NoError(t, Save(path, Snapshot{}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(raw), 4)
	assert.Equal(t, []byte{0x28, 0xb5, 0x2f, 0xfd}, raw[:4], "zstd magic")
}

func TestSnapshotSaveCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "state.json.zst")
	require.NoError(t, Save(path, Snapshot{}))
	_, err := Load(path)
	assert.NoError(t, err)
}

func TestSnapshotLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json.zst"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err))
}

func TestSnapshotLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.json.zst")
	require.NoError(t, os.WriteFile(path, []byte("not a snapshot"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestSnapshotOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json.zst")

	first := NewStore()
	first.UpsertListings([]types.AppListing{listing(pkg("chat", "alice.os"), "1.0.0")})
	require.NoError(t, Save(path, first.Export()))

	second := NewStore()
	second.UpsertListings([]types.AppListing{
		listing(pkg("chat", "alice.os"), "1.0.0"),
		listing(pkg("files", "bob.os"), "2.0.0"),
	})
	require.NoError(t, Save(path, second.Export()))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, loaded.Listings, 2)
}
