package sessionclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrupp/booksy/internal/domain"
	"github.com/mkrupp/booksy/internal/repo/kv"
	"github.com/mkrupp/booksy/internal/svc/avatarsvc"
	"github.com/mkrupp/booksy/internal/svc/sessionsvc"
	"github.com/mkrupp/booksy/internal/svc/sessionsvc/sessionclient"
	"github.com/mkrupp/booksy/internal/util/password"
)

func testSessionConfig() sessionsvc.SessionConfig {
	return sessionsvc.SessionConfig{
		Scope: "booksy",
		Password: password.Config{
			MemoryKB:    8 * 1024,
			Time:        1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
	}
}

func newSessionService(t *testing.T, store kv.Store) *sessionsvc.SessionService {
	t.Helper()

	svc, err := sessionsvc.NewSessionService(context.Background(), store, testSessionConfig())
	require.NoError(t, err)

	return svc
}

func newLocalClient(t *testing.T, store kv.Store) sessionclient.SessionClient {
	t.Helper()

	client, err := sessionclient.NewLocalClient(context.Background(), newSessionService(t, store))
	require.NoError(t, err)

	return client
}

func newHTTPClient(t *testing.T, cfg sessionsvc.HTTPTransportConfig) sessionclient.SessionClient {
	t.Helper()

	store := kv.NewMemoryStore()
	sessionSvc := newSessionService(t, store)
	require.NoError(t, sessionSvc.RestoreSession(context.Background()))

	avatarSvc, err := avatarsvc.NewAvatarService(store, avatarsvc.AvatarConfig{Interpolator: "catmullrom", Width: 64, MaxSize: 1 << 20})
	require.NoError(t, err)

	server := httptest.NewServer(sessionsvc.NewHTTPTransport(sessionSvc, avatarSvc, cfg))
	t.Cleanup(server.Close)

	return sessionclient.NewHTTPClient(
		sessionclient.HTTPClientConfig{ServerURL: server.URL + "/"},
		&http.Client{Timeout: 10 * time.Second},
	)
}

// runClientTests exercises the behavior every SessionClient must share.
func runClientTests(t *testing.T, client sessionclient.SessionClient) {
	t.Helper()

	ctx := context.Background()

	current, err := client.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, current.Session)
	assert.False(t, current.Loading)

	_, err = client.UpdateProfile(ctx, domain.ProfileUpdate{})
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)

	registered, err := client.Register(ctx, "a@x.com", "pw123", "Ada")
	require.NoError(t, err)
	require.NotNil(t, registered.Session)
	require.NotNil(t, registered.Profile)
	assert.Equal(t, "a@x.com", registered.Session.Email)
	assert.Equal(t, "Ada", registered.Session.DisplayName)
	assert.Equal(t, 0, registered.Profile.BooksRead)

	_, err = client.Register(ctx, "a@x.com", "pw123", "Ada")
	require.ErrorIs(t, err, domain.ErrDuplicateEmail)

	_, err = client.Register(ctx, "b@x.com", "", "Bob")
	require.ErrorIs(t, err, domain.ErrEmptyField)

	read := 7
	profile, err := client.UpdateProfile(ctx, domain.ProfileUpdate{BooksRead: &read})
	require.NoError(t, err)
	assert.Equal(t, 7, profile.BooksRead)

	require.NoError(t, client.Logout(ctx))
	require.NoError(t, client.Logout(ctx))

	current, err = client.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, current.Session)
	assert.Nil(t, current.Profile)

	_, err = client.Login(ctx, "a@x.com", "wrong")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = client.Login(ctx, "nobody@x.com", "pw123")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	loggedIn, err := client.Login(ctx, "a@x.com", "pw123")
	require.NoError(t, err)
	assert.Equal(t, registered.Session, loggedIn.Session)
	require.NotNil(t, loggedIn.Profile)
	assert.Equal(t, 7, loggedIn.Profile.BooksRead)
}

func TestLocalClient(t *testing.T) {
	t.Parallel()

	runClientTests(t, newLocalClient(t, kv.NewMemoryStore()))
}

func TestLocalClient_RestoresSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemoryStore()

	_, err := newLocalClient(t, store).Register(ctx, "a@x.com", "pw123", "Ada")
	require.NoError(t, err)

	current, err := newLocalClient(t, store).Current(ctx)
	require.NoError(t, err)
	require.NotNil(t, current.Session)
	assert.Equal(t, "a@x.com", current.Session.Email)
	assert.False(t, current.Loading)
}

func TestHTTPClient(t *testing.T) {
	t.Parallel()

	runClientTests(t, newHTTPClient(t, sessionsvc.HTTPTransportConfig{LoginBurst: 100}))
}

func TestHTTPClient_RateLimited(t *testing.T) {
	t.Parallel()

	client := newHTTPClient(t, sessionsvc.HTTPTransportConfig{LoginRate: 0.001, LoginBurst: 1})

	_, err := client.Login(context.Background(), "a@x.com", "pw")
	require.ErrorIs(t, err, domain.ErrInvalidCredentials)

	_, err = client.Login(context.Background(), "a@x.com", "pw")
	require.ErrorIs(t, err, sessionsvc.ErrRateLimited)
}

func TestHTTPClient_UnexpectedStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client := sessionclient.NewHTTPClient(sessionclient.HTTPClientConfig{ServerURL: server.URL}, nil)

	_, err := client.Current(context.Background())
	require.ErrorIs(t, err, sessionclient.ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "502 boom")
}

func TestHTTPClient_Unreachable(t *testing.T) {
	t.Parallel()

	client := sessionclient.NewHTTPClient(
		sessionclient.HTTPClientConfig{ServerURL: "http://127.0.0.1:1"},
		&http.Client{Timeout: 2 * time.Second},
	)

	err := client.Logout(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, sessionclient.ErrUnexpectedStatus)
}
