package store

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/diary-we-write/internal/diary"
)

// runStoreContract は diary.Store の実装すべてに共通する振る舞いを検証します。
func runStoreContract(t *testing.T, open func(t *testing.T) diary.Store) {
	t.Run("CreateLocalRejectsDuplicate", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		account, err := s.CreateLocal(ctx, "alice", "hash")
		require.NoError(t, err)
		assert.NotEmpty(t, account.ID)
		assert.Equal(t, diary.LocalIdentity{Username: "alice", PasswordHash: "hash"}, account.Identity)

		_, err = s.CreateLocal(ctx, "alice", "other")
		assert.ErrorIs(t, err, diary.ErrUsernameTaken)
	})

	t.Run("FindByUsernameAndID", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		created, err := s.CreateLocal(ctx, "bob", "hash")
		require.NoError(t, err)

		byName, err := s.FindByUsername(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, created.ID, byName.ID)

		byID, err := s.FindByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob", byID.Identity.(diary.LocalIdentity).Username)

		_, err = s.FindByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, diary.ErrAccountNotFound)
		_, err = s.FindByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, diary.ErrAccountNotFound)
	})

	t.Run("FindOrCreateByProvider", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		first, created, err := s.FindOrCreateByProvider(ctx, diary.ProviderGoogle, "g-1")
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, diary.ProviderIdentity{Provider: diary.ProviderGoogle, Subject: "g-1"}, first.Identity)

		again, created, err := s.FindOrCreateByProvider(ctx, diary.ProviderGoogle, "g-1")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)

		fb, created, err := s.FindOrCreateByProvider(ctx, diary.ProviderFacebook, "g-1")
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, first.ID, fb.ID)
	})

	t.Run("FindOrCreateByProviderConcurrent", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		const workers = 8
		ids := make([]string, workers)
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				account, _, err := s.FindOrCreateByProvider(ctx, diary.ProviderFacebook, "fb-race")
				errs[i] = err
				if account != nil {
					ids[i] = account.ID
				}
			}(i)
		}
		wg.Wait()

		for i := 0; i < workers; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
		}
	})

	t.Run("UpsertEntry", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		account, err := s.CreateLocal(ctx, "carol", "hash")
		require.NoError(t, err)

		replaced, err := s.UpsertEntry(ctx, account.ID, diary.Entry{Date: "3/14/2024", Task: "ran 5k"})
		require.NoError(t, err)
		assert.False(t, replaced)

		replaced, err = s.UpsertEntry(ctx, account.ID, diary.Entry{Date: "3/14/2024", Task: "ran 10k"})
		require.NoError(t, err)
		assert.True(t, replaced)

		replaced, err = s.UpsertEntry(ctx, account.ID, diary.Entry{Date: "3/15/2024", Task: "rest day"})
		require.NoError(t, err)
		assert.False(t, replaced)

		got, err := s.FindByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, []diary.Entry{
			{Date: "3/14/2024", Task: "ran 10k"},
			{Date: "3/15/2024", Task: "rest day"},
		}, got.Diaries)

		_, err = s.UpsertEntry(ctx, uuid.NewString(), diary.Entry{Date: "3/14/2024", Task: "x"})
		assert.ErrorIs(t, err, diary.ErrAccountNotFound)
	})

	t.Run("UpsertEntryConcurrentSameDay", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		account, err := s.CreateLocal(ctx, "dave", "hash")
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.UpsertEntry(ctx, account.ID, diary.Entry{Date: "3/14/2024", Task: fmt.Sprintf("draft %d", i)})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		got, err := s.FindByID(ctx, account.ID)
		require.NoError(t, err)
		assert.Len(t, got.Diaries, 1)
	})

	t.Run("ListByDate", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		alice, err := s.CreateLocal(ctx, "alice", "hash")
		require.NoError(t, err)
		bob, _, err := s.FindOrCreateByProvider(ctx, diary.ProviderGoogle, "g-bob")
		require.NoError(t, err)
		_, err = s.CreateLocal(ctx, "idle", "hash")
		require.NoError(t, err)

		_, err = s.UpsertEntry(ctx, alice.ID, diary.Entry{Date: "3/14/2024", Task: "alice"})
		require.NoError(t, err)
		_, err = s.UpsertEntry(ctx, bob.ID, diary.Entry{Date: "3/14/2024", Task: "bob"})
		require.NoError(t, err)
		_, err = s.UpsertEntry(ctx, bob.ID, diary.Entry{Date: "3/13/2024", Task: "old"})
		require.NoError(t, err)

		found, err := s.ListByDate(ctx, "3/14/2024")
		require.NoError(t, err)
		ids := make([]string, 0, len(found))
		for _, a := range found {
			ids = append(ids, a.ID)
		}
		assert.ElementsMatch(t, []string{alice.ID, bob.ID}, ids)

		found, err = s.ListByDate(ctx, "3/12/2024")
		require.NoError(t, err)
		assert.Empty(t, found)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) diary.Store {
		return NewMemory()
	})
}

func TestMemoryReturnsCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	account, err := s.CreateLocal(ctx, "alice", "hash")
	require.NoError(t, err)
	_, err = s.UpsertEntry(ctx, account.ID, diary.Entry{Date: "3/14/2024", Task: "original"})
	require.NoError(t, err)

	got, err := s.FindByID(ctx, account.ID)
	require.NoError(t, err)
	got.Diaries[0].Task = "mutated"

	again, err := s.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", again.Diaries[0].Task)
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("TEST_MONGODB_URI not set")
	}

	runStoreContract(t, func(t *testing.T) diary.Store {
		ctx := context.Background()
		database := "dww_test_" + uuid.NewString()[:8]
		s, err := OpenMongo(ctx, uri, database)
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.users.Database().Drop(ctx)
			_ = s.Close(ctx)
		})
		return s
	})
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}

	runStoreContract(t, func(t *testing.T) diary.Store {
		ctx := context.Background()
		s, err := OpenPostgres(ctx, dsn)
		require.NoError(t, err)
		require.NoError(t, s.db.Exec("TRUNCATE TABLE users").Error)
		t.Cleanup(func() {
			_ = s.Close(ctx)
		})
		return s
	})
}
