package sessionsvc_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrupp/booksy/internal/domain"
	"github.com/mkrupp/booksy/internal/infra/metrics"
	"github.com/mkrupp/booksy/internal/repo/kv"
	"github.com/mkrupp/booksy/internal/util/password"

	. "github.com/mkrupp/booksy/internal/svc/sessionsvc"
)

var testJoined = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testConfig() SessionConfig {
	cfg := DefaultSessionConfig()
	cfg.Password = password.Config{
		MemoryKB:    8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}

	return cfg
}

type recordedOp struct {
	operation string
	result    string
}

type fakeRecorder struct {
	m   sync.Mutex
	ops []recordedOp
}

func (r *fakeRecorder) RecordOperation(operation, result string, _ time.Duration) {
	r.m.Lock()
	defer r.m.Unlock()

	r.ops = append(r.ops, recordedOp{operation: operation, result: result})
}

func (r *fakeRecorder) RecordHTTPStatus(string, int) {}

func sequentialUIDs() func() (string, error) {
	return prefixedUIDs("uid")
}

func prefixedUIDs(prefix string) func() (string, error) {
	var n atomic.Int64

	return func() (string, error) {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1)), nil
	}
}

func newTestService(t *testing.T, store kv.Store, opts ...Option) *SessionService {
	t.Helper()

	opts = append([]Option{
		WithClock(func() time.Time { return testJoined }),
		WithUIDGenerator(sequentialUIDs()),
	}, opts...)

	svc, err := NewSessionService(context.Background(), store, testConfig(), opts...)
	require.NoError(t, err)

	return svc
}

func rawValue(t *testing.T, store kv.Store, key string) (string, bool) {
	t.Helper()

	value, found, err := store.Get(context.Background(), key)
	require.NoError(t, err)

	return string(value), found
}

func storedAccounts(t *testing.T, store kv.Store) []domain.Account {
	t.Helper()

	raw, found := rawValue(t, store, "booksy_users")
	require.True(t, found)

	var accounts []domain.Account
	require.NoError(t, json.Unmarshal([]byte(raw), &accounts))

	return accounts
}

func TestDefaultSessionConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultSessionConfig()

	assert.Equal(t, "booksy_users", cfg.AccountsKey())
	assert.Equal(t, "booksy_auth", cfg.SessionKey())
	assert.Equal(t, password.DefaultConfig(), cfg.Password)

	_, err := password.NewHasher(cfg.Password)
	require.NoError(t, err)
}

func TestNewSessionService(t *testing.T) {
	t.Parallel()

	t.Run("initializes accounts key", func(t *testing.T) {
		t.Parallel()

		store := kv.NewMemoryStore()
		svc := newTestService(t, store)

		raw, found := rawValue(t, store, "booksy_users")
		assert.True(t, found)
		assert.Equal(t, "[]", raw)

		assert.Equal(t, domain.StateAnonymous, svc.State())
		assert.True(t, svc.Loading())

		_, ok := svc.CurrentSession()
		assert.False(t, ok)
	})

	t.Run("keeps existing accounts", func(t *testing.T) {
		t.Parallel()

		store := kv.NewMemoryStore()
		existing := `[{"uid":"u1","email":"a@x.com","password":"pw123","displayName":"Ada","profile":{"uid":"u1"}}]`
		require.NoError(t, store.Set(context.Background(), "booksy_users", []byte(existing)))

		newTestService(t, store)

		raw, _ := rawValue(t, store, "booksy_users")
		assert.Equal(t, existing, raw)
	})

	t.Run("uses scope for keys", func(t *testing.T) {
		t.Parallel()

		store := kv.NewMemoryStore()
		cfg := testConfig()
		cfg.Scope = "other"

		_, err := NewSessionService(context.Background(), store, cfg)
		require.NoError(t, err)

		_, found := rawValue(t, store, "other_users")
		assert.True(t, found)
		_, found = rawValue(t, store, "booksy_users")
		assert.False(t, found)
	})

	t.Run("rejects empty scope", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.Scope = ""

		_, err := NewSessionService(context.Background(), kv.NewMemoryStore(), cfg)
		require.ErrorIs(t, err, domain.ErrEmptyField)
	})
}

func TestSessionService_Example(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemoryStore()
	svc := newTestService(t, store)

	registered, profile, err := svc.Register(ctx, "a@x.com", "pw123", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", registered.Email)
	assert.Equal(t, "Ada", registered.DisplayName)
	assert.NotEmpty(t, registered.UID)

	assert.Equal(t, 0, profile.BooksRead)
	assert.Equal(t, 0, profile.BooksReading)
	assert.Equal(t, []string{}, profile.FavoriteGenres)
	assert.Equal(t, testJoined, profile.Joined)
	assert.Equal(t, registered.UID, profile.UID)
	assert.Empty(t, profile.Bio)
	assert.Empty(t, profile.ProfilePicture)

	assert.Equal(t, domain.StateAuthenticated, svc.State())

	_, _, err = svc.Login(ctx, "a@x.com", "wrong")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	loggedIn, _, err := svc.Login(ctx, "a@x.com", "pw123")
	require.NoError(t, err)
	assert.Equal(t, registered, loggedIn)
}

func TestSessionService_PersistenceLayout(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemoryStore()
	svc := newTestService(t, store)

	_, _, err := svc.Register(ctx, "a@x.com", "pw123", "Ada")
	require.NoError(t, err)

	raw, found := rawValue(t, store, "booksy_auth")
	require.True(t, found)
	assert.JSONEq(t, `{"uid":"uid-1","email":"a@x.com","displayName":"Ada"}`, raw)

	accounts := storedAccounts(t, store)
	require.Len(t, accounts, 1)
	require.NotNil(t, accounts[0].Profile)
	assert.Equal(t, "uid-1", accounts[0].UID)
	assert.NotEqual(t, "pw123", accounts[0].Password)
	assert.True(t, password.IsHash(accounts[0].Password))
	assert.Equal(t, "uid-1", accounts[0].Profile.UID)
	assert.Equal(t, "Ada", accounts[0].Profile.DisplayName)
	assert.Equal(t, "a@x.com", accounts[0].Profile.Email)
}

func TestSessionService_Uniqueness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemoryStore()
	svc := newTestService(t, store)

	emails := []string{"a@x.com", "b@x.com", "a@x.com", "A@x.com", "b@x.com", "c@x.com"}

	for _, email := range emails {
		_, _, err := svc.Register(ctx, email, "pw", "name")
		if err != nil {
			require.ErrorIs(t, err, domain.ErrDuplicateEmail)
		}
	}

	seen := map[string]bool{}
	for _, acc := range storedAccounts(t, store) {
		assert.False(t, seen[acc.Email], "duplicate %s", acc.Email)
		seen[acc.Email] = true
	}

	// Emails compare case-sensitively.
	assert.Len(t, seen, 4)
}

func TestSessionService_DuplicateRejection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemoryStore()
	svc := newTestService(t, store)

	first, _, err := svc.Register(ctx, "a@x.com", "pw1", "Ada")
	require.NoError(t, err)

	before, _ := rawValue(t, store, "booksy_users")

	_, _, err = svc.Register(ctx, "a@x.com", "pw2", "Other")
	require.ErrorIs(t, err, domain.ErrDuplicateEmail)

	after, _ := rawValue(t, store, "booksy_users")
	assert.Equal(t, before, after)

	current, ok := svc.CurrentSession()
	require.True(t, ok)
	assert.Equal(t, first, current)
}

func TestSessionService_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		email       string
		password    string
		displayName string
	}{
		{email: "a@x.com", password: "pw123", displayName: "Ada"},
		{email: "unicode@x.com", password: "pässwörd ✓", displayName: "Zoë"},
		{email: "spaces@x.com", password: "  padded  ", displayName: "Space Reader"},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			svc := newTestService(t, kv.NewMemoryStore())

			registered, _, err := svc.Register(ctx, tt.email, tt.password, tt.displayName)
			require.NoError(t, err)

			require.NoError(t, svc.Logout(ctx))
			assert.Equal(t, domain.StateAnonymous, svc.State())

			loggedIn, profile, err := svc.Login(ctx, tt.email, tt.password)
			require.NoError(t, err)
			assert.Equal(t, registered, loggedIn)
			assert.Equal(t, registered.UID, profile.UID)
		})
	}
}

func TestSessionService_Rejection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemoryStore()
	svc := newTestService(t, store)

	_, _, err := svc.Register(ctx, "a@x.com", "pw123", "Ada")
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx))

	sessionBefore, _ := rawValue(t, store, "booksy_auth")

	_, _, unknownErr := svc.Login(ctx, "nobody@x.com", "pw123")
	_, _, wrongErr := svc.Login(ctx, "a@x.com", "wrong")
	_, _, caseErr := svc.Login(ctx, "A@X.COM", "pw123")

	for _, err := range []error{unknownErr, wrongErr, caseErr} {
		require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	}

	assert.Equal(t, unknownErr.Error(), wrongErr.Error())
	assert.Equal(t, domain.StateAnonymous, svc.State())

	sessionAfter, found := rawValue(t, store, "booksy_auth")
	assert.False(t, found)
	assert.Equal(t, sessionBefore, sessionAfter)
}

func TestSessionService_EmptyFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newTestService(t, kv.NewMemoryStore())

	_, _, err := svc.Register(ctx, "", "pw", "Ada")
	require.ErrorIs(t, err, domain.ErrEmptyField)

	_, _, err = svc.Register(ctx, "a@x.com", "", "Ada")
	require.ErrorIs(t, err, domain.ErrEmptyField)

	_, _, err = svc.Register(ctx, "a@x.com", "pw", "")
	require.ErrorIs(t, err, domain.ErrEmptyField)

	_, _, err = svc.Login(ctx, "a@x.com", "")
	require.ErrorIs(t, err, domain.ErrEmptyField)
}

func TestSessionService_RestoreSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("empty storage stays anonymous", func(t *testing.T) {
		t.Parallel()

		svc := newTestService(t, kv.NewMemoryStore())

		require.NoError(t, svc.RestoreSession(ctx))
		assert.Equal(t, domain.StateAnonymous, svc.State())
		assert.False(t, svc.Loading())
	})

	t.Run("restores persisted session", func(t *testing.T) {
		t.Parallel()

		store := kv.NewMemoryStore()
		registered, profile, err := newTestService(t, store).Register(ctx, "a@x.com", "pw123", "Ada")
		require.NoError(t, err)

		svc := newTestService(t, store)
		require.NoError(t, svc.RestoreSession(ctx))

		current, ok := svc.CurrentSession()
		require.True(t, ok)
		assert.Equal(t, registered, current)

		currentProfile, ok := svc.CurrentProfile()
		require.True(t, ok)
		assert.Equal(t, profile, currentProfile)
		assert.False(t, svc.Loading())
	})

	t.Run("malformed session is ignored", func(t *testing.T) {
		t.Parallel()

		for _, raw := range []string{`not json`, `{"email":"a@x.com"}`, `[1,2]`} {
			store := kv.NewMemoryStore()
			require.NoError(t, store.Set(ctx, "booksy_auth", []byte(raw)))

			svc := newTestService(t, store)
			require.NoError(t, svc.RestoreSession(ctx), raw)
			assert.Equal(t, domain.StateAnonymous, svc.State(), raw)
			assert.False(t, svc.Loading(), raw)

			stored, found := rawValue(t, store, "booksy_auth")
			assert.True(t, found, raw)
			assert.Equal(t, raw, stored)
		}
	})

	t.Run("missing account keeps session without profile", func(t *testing.T) {
		t.Parallel()

		store := kv.NewMemoryStore()
		require.NoError(t, store.Set(ctx, "booksy_auth", []byte(`{"uid":"gone","email":"g@x.com","displayName":"Gone"}`)))

		svc := newTestService(t, store)
		require.NoError(t, svc.RestoreSession(ctx))

		current, ok := svc.CurrentSession()
		require.True(t, ok)
		assert.Equal(t, domain.Session{UID: "gone", Email: "g@x.com", DisplayName: "Gone"}, current)

		_, ok = svc.CurrentProfile()
		assert.False(t, ok)
		assert.Equal(t, domain.StateAuthenticated, svc.State())
	})

	t.Run("account without profile keeps session without profile", func(t *testing.T) {
		t.Parallel()

		store := kv.NewMemoryStore()
		require.NoError(t, store.Set(ctx, "booksy_users", []byte(`[{"uid":"u1","email":"a@x.com","password":"pw","displayName":"Ada"}]`)))
		require.NoError(t, store.Set(ctx, "booksy_auth", []byte(`{"uid":"u1","email":"a@x.com","displayName":"Ada"}`)))

		svc := newTestService(t, store)
		require.NoError(t, svc.RestoreSession(ctx))

		current, ok := svc.CurrentSession()
		require.True(t, ok)
		assert.Equal(t, "u1", current.UID)

		_, ok = svc.CurrentProfile()
		assert.False(t, ok)
		assert.Nil(t, svc.Snapshot().Profile)
	})

	t.Run("malformed accounts keep session without profile", func(t *testing.T) {
		t.Parallel()

		store := kv.NewMemoryStore()
		require.NoError(t, store.Set(ctx, "booksy_users", []byte(`{not json`)))
		require.NoError(t, store.Set(ctx, "booksy_auth", []byte(`{"uid":"u1","email":"a@x.com","displayName":"Ada"}`)))

		svc := newTestService(t, store)
		require.NoError(t, svc.RestoreSession(ctx))

		current, ok := svc.CurrentSession()
		require.True(t, ok)
		assert.Equal(t, domain.Session{UID: "u1", Email: "a@x.com", DisplayName: "Ada"}, current)
		assert.Equal(t, domain.StateAuthenticated, svc.State())
		assert.False(t, svc.Loading())

		_, ok = svc.CurrentProfile()
		assert.False(t, ok)

		raw, _ := rawValue(t, store, "booksy_users")
		assert.Equal(t, `{not json`, raw)
	})
}

func TestSessionService_AccountWithoutProfile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, "booksy_users", []byte(`[{"uid":"u1","email":"a@x.com","password":"pw123","displayName":"Ada"}]`)))

	svc := newTestService(t, store)

	sess, profile, err := svc.Login(ctx, "a@x.com", "pw123")
	require.NoError(t, err)
	assert.Equal(t, domain.Session{UID: "u1", Email: "a@x.com", DisplayName: "Ada"}, sess)
	assert.Equal(t, domain.Profile{}, profile)
	assert.Equal(t, domain.StateAuthenticated, svc.State())

	_, ok := svc.CurrentProfile()
	assert.False(t, ok)

	// The password upgrade rewrites the record without inventing a profile.
	stored := storedAccounts(t, store)[0]
	assert.True(t, password.IsHash(stored.Password))
	assert.Nil(t, stored.Profile)

	bio := "hi"
	_, err = svc.UpdateProfile(ctx, domain.ProfileUpdate{Bio: &bio})
	require.ErrorIs(t, err, domain.ErrProfileNotFound)

	_, err = svc.SetProfilePicture(ctx, "avatar_u1.png")
	require.ErrorIs(t, err, domain.ErrProfileNotFound)
}

func TestSessionService_LogoutIdempotence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemoryStore()
	svc := newTestService(t, store)

	_, _, err := svc.Register(ctx, "a@x.com", "pw123", "Ada")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx))
	require.NoError(t, svc.Logout(ctx))

	assert.Equal(t, domain.StateAnonymous, svc.State())

	_, found := rawValue(t, store, "booksy_auth")
	assert.False(t, found)

	_, ok := svc.CurrentProfile()
	assert.False(t, ok)

	// Accounts survive logout.
	assert.Len(t, storedAccounts(t, store), 1)
}

func TestSessionService_LoginUpgradesLegacyPassword(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemoryStore()
	legacy := `[{"uid":"u1","email":"a@x.com","password":"pw123","displayName":"Ada",` +
		`"profile":{"uid":"u1","displayName":"Ada","email":"a@x.com","booksRead":3,"booksReading":1,` +
		`"bio":"","favoriteGenres":["Fantasy"],"joined":"2023-01-01T00:00:00Z"}}]`
	require.NoError(t, store.Set(ctx, "booksy_users", []byte(legacy)))

	svc := newTestService(t, store)

	_, _, err := svc.Login(ctx, "a@x.com", "wrong")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.Equal(t, "pw123", storedAccounts(t, store)[0].Password)

	sess, profile, err := svc.Login(ctx, "a@x.com", "pw123")
	require.NoError(t, err)
	assert.Equal(t, domain.Session{UID: "u1", Email: "a@x.com", DisplayName: "Ada"}, sess)
	assert.Equal(t, 3, profile.BooksRead)
	assert.Equal(t, []string{"Fantasy"}, profile.FavoriteGenres)

	stored := storedAccounts(t, store)[0]
	assert.True(t, password.IsHash(stored.Password))

	require.NoError(t, svc.Logout(ctx))

	_, _, err = svc.Login(ctx, "a@x.com", "pw123")
	require.NoError(t, err)
}

func TestSessionService_ConcurrentRegister(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemoryStore()

	// Two services on one store model two handles on the same backend.
	first := newTestService(t, store, WithUIDGenerator(prefixedUIDs("first")))
	second := newTestService(t, store, WithUIDGenerator(prefixedUIDs("second")))

	const perService = 5

	var wg sync.WaitGroup

	for i := range perService {
		wg.Add(2)

		go func() {
			defer wg.Done()

			_, _, err := first.Register(ctx, fmt.Sprintf("first%d@x.com", i), "pw", "F")
			assert.NoError(t, err)
		}()

		go func() {
			defer wg.Done()

			_, _, err := second.Register(ctx, fmt.Sprintf("second%d@x.com", i), "pw", "S")
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Len(t, storedAccounts(t, store), 2*perService)
}

func TestSessionService_UpdateProfile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemoryStore()
	svc := newTestService(t, store)

	_, err := svc.UpdateProfile(ctx, domain.ProfileUpdate{})
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)

	_, _, err = svc.Register(ctx, "a@x.com", "pw123", "Ada")
	require.NoError(t, err)

	bio := "<b>Reads</b> a lot<script>alert(1)</script>"
	read, reading := 12, 2

	profile, err := svc.UpdateProfile(ctx, domain.ProfileUpdate{
		Bio:            &bio,
		FavoriteGenres: []string{"Sci-Fi", " ", "<i>Mystery</i>"},
		BooksRead:      &read,
		BooksReading:   &reading,
	})
	require.NoError(t, err)
	assert.Equal(t, "Reads a lot", profile.Bio)
	assert.Equal(t, []string{"Sci-Fi", "Mystery"}, profile.FavoriteGenres)
	assert.Equal(t, 12, profile.BooksRead)
	assert.Equal(t, 2, profile.BooksReading)

	current, ok := svc.CurrentProfile()
	require.True(t, ok)
	assert.Equal(t, profile, current)
	assert.Equal(t, profile, *storedAccounts(t, store)[0].Profile)

	negative := -1
	_, err = svc.UpdateProfile(ctx, domain.ProfileUpdate{BooksRead: &negative})
	require.ErrorIs(t, err, domain.ErrNegativeCounter)
	assert.Equal(t, 12, storedAccounts(t, store)[0].Profile.BooksRead)
}

func TestSessionService_SetProfilePicture(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemoryStore()
	svc := newTestService(t, store)

	_, err := svc.SetProfilePicture(ctx, "avatar_uid-1.png")
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)

	_, _, err = svc.Register(ctx, "a@x.com", "pw123", "Ada")
	require.NoError(t, err)

	profile, err := svc.SetProfilePicture(ctx, "avatar_uid-1.png")
	require.NoError(t, err)
	assert.Equal(t, "avatar_uid-1.png", profile.ProfilePicture)
	assert.Equal(t, "avatar_uid-1.png", storedAccounts(t, store)[0].Profile.ProfilePicture)

	profile, err = svc.SetProfilePicture(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, profile.ProfilePicture)
}

func TestSessionService_Snapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := newTestService(t, kv.NewMemoryStore())

	snap := svc.Snapshot()
	assert.True(t, snap.Loading)
	assert.Nil(t, snap.Session)
	assert.Nil(t, snap.Profile)

	require.NoError(t, svc.RestoreSession(ctx))

	_, _, err := svc.Register(ctx, "a@x.com", "pw123", "Ada")
	require.NoError(t, err)

	snap = svc.Snapshot()
	assert.False(t, snap.Loading)
	require.NotNil(t, snap.Session)
	require.NotNil(t, snap.Profile)
	assert.Equal(t, "a@x.com", snap.Session.Email)

	// Snapshots are copies.
	snap.Profile.FavoriteGenres = append(snap.Profile.FavoriteGenres, "Horror")
	profile, _ := svc.CurrentProfile()
	assert.Empty(t, profile.FavoriteGenres)
}

func TestSessionService_Metrics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	recorder := &fakeRecorder{}
	svc := newTestService(t, kv.NewMemoryStore(), WithMetrics(recorder))

	_, _, _ = svc.Register(ctx, "a@x.com", "pw123", "Ada")
	_, _, _ = svc.Register(ctx, "a@x.com", "pw123", "Ada")
	_, _, _ = svc.Login(ctx, "a@x.com", "wrong")
	_ = svc.Logout(ctx)
	_ = svc.RestoreSession(ctx)

	assert.Equal(t, []recordedOp{
		{operation: OpRegister, result: metrics.ResultOK},
		{operation: OpRegister, result: metrics.ResultDuplicateEmail},
		{operation: OpLogin, result: metrics.ResultInvalidCredentials},
		{operation: OpLogout, result: metrics.ResultOK},
		{operation: OpRestoreSession, result: metrics.ResultOK},
	}, recorder.ops)
}
