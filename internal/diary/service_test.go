package diary_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/diary-we-write/internal/diary"
	"github.com/yourusername/diary-we-write/internal/store"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestService(t *testing.T) (*diary.Service, *store.Memory, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, time.March, 14, 10, 0, 0, 0, time.UTC)}
	mem := store.NewMemory()
	svc := diary.NewService(mem, diary.Options{
		Now:        clock.Now,
		Location:   time.UTC,
		BcryptCost: bcrypt.MinCost,
	})
	return svc, mem, clock
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.Register(ctx, "alice", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, account.ID)

	local, ok := account.Identity.(diary.LocalIdentity)
	require.True(t, ok)
	assert.Equal(t, "alice", local.Username)
	assert.NotEqual(t, "s3cret", local.PasswordHash)

	got, err := svc.Authenticate(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, account.ID, got.ID)
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "one")
	require.NoError(t, err)

	_, err = svc.Register(ctx, "alice", "two")
	assert.True(t, errors.Is(err, diary.ErrUsernameTaken), "got %v", err)
}

func TestRegisterValidatesInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string]struct {
		username string
		password string
	}{
		"empty username": {"  ", "pw"},
		"empty password": {"bob", ""},
		"long username":  {string(make([]rune, 65)), "pw"},
		"long password":  {"bob", string(make([]byte, 73))},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Register(ctx, tc.username, tc.password)
			assert.True(t, errors.Is(err, diary.ErrInvalidInput), "got %v", err)
		})
	}
}

func TestAuthenticateFailures(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "alice", "s3cret")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, diary.ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "nobody", "s3cret")
	assert.ErrorIs(t, err, diary.ErrInvalidCredentials)
}

func TestAuthenticateRejectsProviderAccount(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.LoginWithProvider(ctx, diary.ProviderGoogle, "g-1")
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, "g-1", "anything")
	assert.ErrorIs(t, err, diary.ErrInvalidCredentials)
}

func TestLoginWithProviderReusesAccount(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.LoginWithProvider(ctx, diary.ProviderGoogle, "1234")
	require.NoError(t, err)
	second, err := svc.LoginWithProvider(ctx, diary.ProviderGoogle, "1234")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// 同じIDでもプロバイダーが違えば別アカウント
	other, err := svc.LoginWithProvider(ctx, diary.ProviderFacebook, "1234")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)

	_, err = svc.LoginWithProvider(ctx, diary.ProviderGoogle, "")
	assert.ErrorIs(t, err, diary.ErrInvalidInput)
}

func TestSubmitReplacesSameDayEntry(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	replaced, err := svc.Submit(ctx, account.ID, "ran 5k")
	require.NoError(t, err)
	assert.False(t, replaced)

	replaced, err = svc.Submit(ctx, account.ID, "ran 10k")
	require.NoError(t, err)
	assert.True(t, replaced)

	got, err := mem.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, []diary.Entry{{Date: "3/14/2024", Task: "ran 10k"}}, got.Diaries)
}

func TestSubmitOnDifferentDaysKeepsBoth(t *testing.T) {
	svc, mem, clock := newTestService(t)
	ctx := context.Background()

	account, err := svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	_, err = svc.Submit(ctx, account.ID, "day one")
	require.NoError(t, err)

	clock.now = clock.now.Add(24 * time.Hour)
	_, err = svc.Submit(ctx, account.ID, "day two")
	require.NoError(t, err)

	got, err := mem.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, []diary.Entry{
		{Date: "3/14/2024", Task: "day one"},
		{Date: "3/15/2024", Task: "day two"},
	}, got.Diaries)
}

func TestSubmitRejectsEmptyEntry(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	_, err = svc.Submit(ctx, account.ID, "   \n")
	assert.ErrorIs(t, err, diary.ErrEmptyEntry)

	got, err := mem.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Diaries)
}

func TestSubmitUnknownAccount(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Submit(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, diary.ErrAccountNotFound)
}

func TestListTodayOnlyReturnsTodaysEntries(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	alice, err := svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)
	bob, err := svc.LoginWithProvider(ctx, diary.ProviderFacebook, "fb-9")
	require.NoError(t, err)
	_, err = svc.Register(ctx, "carol", "pw")
	require.NoError(t, err)

	_, err = svc.Submit(ctx, alice.ID, "yesterday's note")
	require.NoError(t, err)

	clock.now = clock.now.Add(24 * time.Hour)
	_, err = svc.Submit(ctx, alice.ID, "alice today")
	require.NoError(t, err)
	_, err = svc.Submit(ctx, bob.ID, "bob today")
	require.NoError(t, err)

	date, entries, err := svc.ListToday(ctx)
	require.NoError(t, err)
	assert.Equal(t, "3/15/2024", date)
	assert.Equal(t, []diary.TodayEntry{
		{AccountID: alice.ID, Task: "alice today"},
		{AccountID: bob.ID, Task: "bob today"},
	}, entries)
}

func TestTodayUsesConfiguredLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	// UTC では 3/14 の夜、東京では 3/15
	now := time.Date(2024, time.March, 14, 20, 0, 0, 0, time.UTC)
	svc := diary.NewService(store.NewMemory(), diary.Options{
		Now:      func() time.Time { return now },
		Location: tokyo,
	})
	assert.Equal(t, "3/15/2024", svc.Today())
}

func TestSubmitTwiceOnMarch14(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.LoginWithProvider(ctx, diary.ProviderGoogle, "g-314")
	require.NoError(t, err)

	_, err = svc.Submit(ctx, account.ID, "Today I debugged the server.")
	require.NoError(t, err)
	_, err = svc.Submit(ctx, account.ID, "Fixed it.")
	require.NoError(t, err)

	got, err := mem.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, []diary.Entry{{Date: "3/14/2024", Task: "Fixed it."}}, got.Diaries)
}

func TestSubmitStoresTextAsSent(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()

	account, err := svc.Register(ctx, "alice", "pw")
	require.NoError(t, err)

	text := "  line one\nline two\n"
	_, err = svc.Submit(ctx, account.ID, text)
	require.NoError(t, err)

	got, err := mem.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, []diary.Entry{{Date: "3/14/2024", Task: text}}, got.Diaries)
}
