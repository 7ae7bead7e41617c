package fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sg "github.com/panyam/secretgate"
	"github.com/panyam/secretgate/stores/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSUserStore(t *testing.T) {
	storetest.RunUserStoreTests(t, func(t *testing.T) sg.UserStore {
		return NewUserStore(t.TempDir())
	})
}

func TestMigrateCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	store := NewUserStore(dir)
	require.NoError(t, store.Migrate(context.Background()))

	for _, sub := range []string{"users", "index/username", "index/google", "index/facebook"} {
		info, err := os.Stat(filepath.Join(dir, sub))
		require.NoError(t, err, sub)
		assert.True(t, info.IsDir())
	}
}

func TestListOnEmptyStorage(t *testing.T) {
	store := NewUserStore(filepath.Join(t.TempDir(), "missing"))
	users, err := store.ListUsersWithSecrets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestLosingCreateLeavesNoUserFile(t *testing.T) {
	dir := t.TempDir()
	store := NewUserStore(dir)
	ctx := context.Background()

	_, err := store.CreateLocalUser(ctx, "dave", "h", "s")
	require.NoError(t, err)
	_, err = store.CreateLocalUser(ctx, "dave", "h2", "s2")
	require.ErrorIs(t, err, sg.ErrDuplicateUsername)

	entries, err := os.ReadDir(filepath.Join(dir, "users"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestUserIdsCannotEscapeStorage(t *testing.T) {
	store := NewUserStore(t.TempDir())
	_, err := store.GetUserById(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, sg.ErrUserNotFound)
}

func TestUsernamesNeedNoEscaping(t *testing.T) {
	store := NewUserStore(t.TempDir())
	ctx := context.Background()
	user, err := store.CreateLocalUser(ctx, "../weird/name@example.com", "h", "s")
	require.NoError(t, err)

	got, err := store.GetUserByUsername(ctx, "../weird/name@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
}

func TestLongKeysUseDigestNames(t *testing.T) {
	dir := t.TempDir()
	store := NewUserStore(dir)
	ctx := context.Background()

	_, err := store.CreateLocalUser(ctx, "short", "h", "s")
	require.NoError(t, err)
	_, err = store.CreateLocalUser(ctx, strings.Repeat("界", sg.MaxUsernameLength), "h", "s")
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(dir, "index", "username"))
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		assert.LessOrEqual(t, len(e.Name()), 255)
		names[e.Name()] = true
	}
	assert.True(t, names["73686f7274"], "short keys stay plain hex")
	assert.Len(t, names, 2)

	assert.Len(t, indexKey(strings.Repeat("x", 1000)), len("h-")+64)
	assert.NotEqual(t, indexKey(strings.Repeat("x", 65)), indexKey(strings.Repeat("x", 66)))
}

func TestLookupRejectsMismatchedIndex(t *testing.T) {
	dir := t.TempDir()
	store := NewUserStore(dir)
	ctx := context.Background()

	alice, err := store.CreateLocalUser(ctx, "alice", "h", "s")
	require.NoError(t, err)
	// an index entry for "mallory" pointing at alice
	require.NoError(t, os.WriteFile(store.getIndexPath(indexUsername, "mallory"), []byte(alice.ID), 0644))

	_, err = store.GetUserByUsername(ctx, "mallory")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, sg.ErrUserNotFound)
}
