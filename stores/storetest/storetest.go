// Package storetest holds the behaviour every secretgate.UserStore backend
// must show. Backend packages call RunUserStoreTests from their own tests.
package storetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sg "github.com/panyam/secretgate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) sg.UserStore

func RunUserStoreTests(t *testing.T, newStore Factory) {
	t.Run("CreateLocalUser", func(t *testing.T) { testCreateLocalUser(t, newStore(t)) })
	t.Run("DuplicateUsername", func(t *testing.T) { testDuplicateUsername(t, newStore(t)) })
	t.Run("ConcurrentRegistration", func(t *testing.T) { testConcurrentRegistration(t, newStore(t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(t, newStore(t)) })
	t.Run("FindOrCreateFederated", func(t *testing.T) { testFindOrCreateFederated(t, newStore(t)) })
	t.Run("ConcurrentFindOrCreate", func(t *testing.T) { testConcurrentFindOrCreate(t, newStore(t)) })
	t.Run("ProvidersAreSeparate", func(t *testing.T) { testProvidersAreSeparate(t, newStore(t)) })
	t.Run("Secrets", func(t *testing.T) { testSecrets(t, newStore(t)) })
	t.Run("LongKeys", func(t *testing.T) { testLongKeys(t, newStore(t)) })
}

func testCreateLocalUser(t *testing.T, store sg.UserStore) {
	ctx := context.Background()
	user, err := store.CreateLocalUser(ctx, "alice", "hash", "salt")
	require.NoError(t, err)
	require.NotEmpty(t, user.ID)
	assert.Equal(t, "alice", user.Username)
	assert.True(t, user.HasLocalCredential())

	byName, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)
	assert.Equal(t, "hash", byName.PasswordHash)
	assert.Equal(t, "salt", byName.Salt)
	assert.Empty(t, byName.Secret)

	byId, err := store.GetUserById(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byId.Username)
}

func testDuplicateUsername(t *testing.T, store sg.UserStore) {
	ctx := context.Background()
	first, err := store.CreateLocalUser(ctx, "bob", "hash1", "salt1")
	require.NoError(t, err)

	_, err = store.CreateLocalUser(ctx, "bob", "hash2", "salt2")
	require.ErrorIs(t, err, sg.ErrDuplicateUsername)

	// the original record is untouched
	got, err := store.GetUserByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "hash1", got.PasswordHash)
}

func testConcurrentRegistration(t *testing.T, store sg.UserStore) {
	ctx := context.Background()
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.CreateLocalUser(ctx, "carol", fmt.Sprintf("hash%d", i), "salt")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, sg.ErrDuplicateUsername)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func testNotFound(t *testing.T, store sg.UserStore) {
	ctx := context.Background()
	_, err := store.GetUserById(ctx, "does-not-exist")
	assert.ErrorIs(t, err, sg.ErrUserNotFound)

	_, err = store.GetUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, sg.ErrUserNotFound)

	err = store.SetSecret(ctx, "does-not-exist", "boo")
	assert.ErrorIs(t, err, sg.ErrUserNotFound)
}

func testFindOrCreateFederated(t *testing.T, store sg.UserStore) {
	ctx := context.Background()
	user, created, err := store.FindOrCreateFederated(ctx, sg.ProviderGoogle, "g-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "g-1", user.GoogleID)
	assert.Empty(t, user.FacebookID)
	assert.False(t, user.HasLocalCredential())

	again, created, err := store.FindOrCreateFederated(ctx, sg.ProviderGoogle, "g-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, user.ID, again.ID)

	// federated users have no username, so they never collide with each
	// other on the username index
	other, created, err := store.FindOrCreateFederated(ctx, sg.ProviderGoogle, "g-2")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, user.ID, other.ID)
}

func testConcurrentFindOrCreate(t *testing.T, store sg.UserStore) {
	ctx := context.Background()
	const n = 16
	var wg sync.WaitGroup
	ids := make([]string, n)
	createdCount := make([]bool, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user, created, err := store.FindOrCreateFederated(ctx, sg.ProviderGoogle, "g-123")
			errs[i] = err
			if err == nil {
				ids[i] = user.ID
				createdCount[i] = created
			}
		}(i)
	}
	wg.Wait()

	creators := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
		if createdCount[i] {
			creators++
		}
	}
	assert.Equal(t, 1, creators)

	// exactly one record is visible once it carries a secret
	require.NoError(t, store.SetSecret(ctx, ids[0], "only one"))
	users, err := store.ListUsersWithSecrets(ctx)
	require.NoError(t, err)
	matching := 0
	for _, u := range users {
		if u.GoogleID == "g-123" {
			matching++
		}
	}
	assert.Equal(t, 1, matching)
}

func testProvidersAreSeparate(t *testing.T, store sg.UserStore) {
	ctx := context.Background()
	google, _, err := store.FindOrCreateFederated(ctx, sg.ProviderGoogle, "same-id")
	require.NoError(t, err)
	facebook, created, err := store.FindOrCreateFederated(ctx, sg.ProviderFacebook, "same-id")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, google.ID, facebook.ID)
	assert.Equal(t, "same-id", facebook.FederatedID(sg.ProviderFacebook))
	assert.Empty(t, facebook.FederatedID(sg.ProviderGoogle))
}

func testSecrets(t *testing.T, store sg.UserStore) {
	ctx := context.Background()
	alice, err := store.CreateLocalUser(ctx, "alice", "h", "s")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	fed, _, err := store.FindOrCreateFederated(ctx, sg.ProviderFacebook, "fb-1")
	require.NoError(t, err)
	_, err = store.CreateLocalUser(ctx, "quiet", "h", "s")
	require.NoError(t, err)

	users, err := store.ListUsersWithSecrets(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	require.NoError(t, store.SetSecret(ctx, alice.ID, "first"))
	require.NoError(t, store.SetSecret(ctx, fed.ID, "fed secret"))
	require.NoError(t, store.SetSecret(ctx, alice.ID, "hi"))

	users, err = store.ListUsersWithSecrets(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, alice.ID, users[0].ID)
	assert.Equal(t, "hi", users[0].Secret)
	assert.Equal(t, fed.ID, users[1].ID)
	assert.Equal(t, "fed secret", users[1].Secret)

	got, err := store.GetUserById(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.Secret)
	// setting a secret does not disturb the credential
	assert.Equal(t, "h", got.PasswordHash)
}

// the longest username signup accepts, in four byte runes, and a subject id
// well past any file name limit
func testLongKeys(t *testing.T, store sg.UserStore) {
	ctx := context.Background()
	username := strings.Repeat("😀", sg.MaxUsernameLength)
	user, err := store.CreateLocalUser(ctx, username, "h", "s")
	require.NoError(t, err)
	got, err := store.GetUserByUsername(ctx, username)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = store.CreateLocalUser(ctx, username, "h2", "s2")
	assert.ErrorIs(t, err, sg.ErrDuplicateUsername)
	// a prefix of a long name is a different name
	_, err = store.GetUserByUsername(ctx, username[:len(username)-4])
	assert.ErrorIs(t, err, sg.ErrUserNotFound)

	subject := strings.Repeat("g", 200)
	fed, created, err := store.FindOrCreateFederated(ctx, sg.ProviderGoogle, subject)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, subject, fed.FederatedID(sg.ProviderGoogle))

	again, created, err := store.FindOrCreateFederated(ctx, sg.ProviderGoogle, subject)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, fed.ID, again.ID)
}
