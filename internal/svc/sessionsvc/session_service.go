package sessionsvc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/mkrupp/booksy/internal/domain"
	"github.com/mkrupp/booksy/internal/infra/logging"
	"github.com/mkrupp/booksy/internal/infra/metrics"
	"github.com/mkrupp/booksy/internal/repo/account"
	"github.com/mkrupp/booksy/internal/repo/kv"
	"github.com/mkrupp/booksy/internal/repo/session"
	"github.com/mkrupp/booksy/internal/util/password"
)

// Operation names used in logs and metrics.
const (
	OpRegister          = "register"
	OpLogin             = "login"
	OpLogout            = "logout"
	OpRestoreSession    = "restore_session"
	OpUpdateProfile     = "update_profile"
	OpSetProfilePicture = "set_profile_picture"
)

// dummyPassword is verified against when the email is unknown, so that unknown
// emails and wrong passwords take the same time.
const dummyPassword = "booksy-dummy-password"

// Option configures optional dependencies of a SessionService.
type Option func(*SessionService)

// WithClock overrides the time source used for profile join dates.
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

// WithUIDGenerator overrides the account uid generator.
func WithUIDGenerator(newUID func() (string, error)) Option {
	return func(s *SessionService) { s.newUID = newUID }
}

// WithMetrics records operation outcomes to recorder.
func WithMetrics(recorder metrics.Recorder) Option {
	return func(s *SessionService) { s.metrics = recorder }
}

// SessionService owns the account collection and the active session of one storage scope.
// Operations are serialized; the read side may be queried concurrently.
type SessionService struct {
	cfg      SessionConfig
	accounts account.Repository
	sessions session.Repository
	hasher   *password.Hasher
	policy   *bluemonday.Policy
	metrics  metrics.Recorder
	now      func() time.Time
	newUID   func() (string, error)
	log      logging.Logger

	dummyHash     string
	dummyHashOnce sync.Once

	opLock sync.Mutex

	stateLock sync.RWMutex
	session   *domain.Session
	profile   *domain.Profile
	loading   bool
}

// NewSessionService creates a SessionService on store and initializes the account collection.
// The service starts Anonymous with the loading flag set until RestoreSession completes.
func NewSessionService(
	ctx context.Context,
	store kv.Store,
	cfg SessionConfig,
	opts ...Option,
) (*SessionService, error) {
	if cfg.Scope == "" {
		return nil, fmt.Errorf("%w: scope", domain.ErrEmptyField)
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, fmt.Errorf("new hasher: %w", err)
	}

	svc := &SessionService{
		cfg:      cfg,
		accounts: account.NewKVRepository(store, cfg.AccountsKey()),
		sessions: session.NewKVRepository(store, cfg.SessionKey()),
		hasher:   hasher,
		policy:   bluemonday.StrictPolicy(),
		metrics:  metrics.NopRecorder{},
		now:      time.Now,
		newUID:   newUID,
		log:      logging.GetLogger("svc.sessionsvc.session_service").With("scope", cfg.Scope),
		loading:  true,
	}

	for _, opt := range opts {
		opt(svc)
	}

	if err := svc.accounts.Init(ctx); err != nil {
		return nil, fmt.Errorf("init accounts: %w", err)
	}

	return svc, nil
}

func newUID() (string, error) {
	uid, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("new uuid: %w", err)
	}

	return uid.String(), nil
}

// Register creates a new account, persists it and makes it the active session.
// Returns domain.ErrDuplicateEmail if an account with exactly this email exists.
func (s *SessionService) Register(
	ctx context.Context,
	email, password, displayName string,
) (sess domain.Session, profile domain.Profile, err error) {
	s.opLock.Lock()
	defer s.opLock.Unlock()

	log := s.log.With(logging.Group("account", "email", email))

	defer s.observe(ctx, OpRegister, time.Now(), &err, log)

	if email == "" || password == "" || displayName == "" {
		return sess, profile, fmt.Errorf("%w: email, password and display name are required", domain.ErrEmptyField)
	}

	unlock, err := s.accounts.Lock(ctx)
	if err != nil {
		return sess, profile, err //nolint:wrapcheck
	}
	defer unlock()

	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return sess, profile, fmt.Errorf("list accounts: %w", err)
	}

	if account.FindByEmail(accounts, email) >= 0 {
		return sess, profile, domain.ErrDuplicateEmail
	}

	uid, err := s.newUID()
	if err != nil {
		return sess, profile, fmt.Errorf("new uid: %w", err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return sess, profile, fmt.Errorf("hash password: %w", err)
	}

	created := domain.NewProfile(uid, displayName, email, s.now())
	acc := domain.Account{
		UID:         uid,
		Email:       email,
		Password:    hash,
		DisplayName: displayName,
		Profile:     &created,
	}

	if err := s.accounts.Save(ctx, append(accounts, acc)); err != nil {
		return sess, profile, fmt.Errorf("save accounts: %w", err)
	}

	sess = acc.Session()
	if err := s.sessions.Save(ctx, sess); err != nil {
		return domain.Session{}, profile, fmt.Errorf("save session: %w", err)
	}

	s.setState(&sess, &created)

	return sess, copyProfile(created), nil
}

// Login authenticates by exact email and password and makes the account the active session.
// Unknown emails and wrong passwords both return domain.ErrInvalidCredentials.
// Legacy or outdated password hashes are upgraded on success.
// An account stored without a profile signs in with a zero Profile and no active profile.
func (s *SessionService) Login(
	ctx context.Context,
	email, password string,
) (sess domain.Session, profile domain.Profile, err error) {
	s.opLock.Lock()
	defer s.opLock.Unlock()

	log := s.log.With(logging.Group("account", "email", email))

	defer s.observe(ctx, OpLogin, time.Now(), &err, log)

	if email == "" || password == "" {
		return sess, profile, fmt.Errorf("%w: email and password are required", domain.ErrEmptyField)
	}

	unlock, err := s.accounts.Lock(ctx)
	if err != nil {
		return sess, profile, err //nolint:wrapcheck
	}
	defer unlock()

	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return sess, profile, fmt.Errorf("list accounts: %w", err)
	}

	idx := account.FindByEmail(accounts, email)
	if idx < 0 {
		_, _ = s.hasher.Verify(password, s.getDummyHash())

		return sess, profile, domain.ErrInvalidCredentials
	}

	acc := accounts[idx]

	ok, err := s.hasher.Verify(password, acc.Password)
	if err != nil {
		log.ErrorContext(ctx, "stored password unreadable", "uid", acc.UID, "error", err)

		return sess, profile, domain.ErrInvalidCredentials
	} else if !ok {
		return sess, profile, domain.ErrInvalidCredentials
	}

	if s.hasher.NeedsUpgrade(acc.Password) {
		s.upgradePassword(ctx, accounts, idx, password, log)
		acc = accounts[idx]
	}

	sess = acc.Session()
	if err := s.sessions.Save(ctx, sess); err != nil {
		return domain.Session{}, profile, fmt.Errorf("save session: %w", err)
	}

	if acc.Profile == nil {
		log.WarnContext(ctx, "signed in without profile", "uid", acc.UID, "error", domain.ErrProfileNotFound)
		s.setState(&sess, nil)

		return sess, profile, nil
	}

	s.setState(&sess, acc.Profile)

	return sess, copyProfile(*acc.Profile), nil
}

// upgradePassword rehashes the password of accounts[idx] and saves the collection.
// Failures are logged and do not fail the login.
func (s *SessionService) upgradePassword(
	ctx context.Context,
	accounts []domain.Account,
	idx int,
	password string,
	log logging.Logger,
) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		log.WarnContext(ctx, "password upgrade failed", "error", err)

		return
	}

	previous := accounts[idx].Password
	accounts[idx].Password = hash

	if err := s.accounts.Save(ctx, accounts); err != nil {
		accounts[idx].Password = previous
		log.WarnContext(ctx, "password upgrade failed", "error", err)

		return
	}

	log.InfoContext(ctx, "password hash upgraded", "uid", accounts[idx].UID)
}

// Logout clears the active session in memory and in storage. It is idempotent.
func (s *SessionService) Logout(ctx context.Context) (err error) {
	s.opLock.Lock()
	defer s.opLock.Unlock()

	defer s.observe(ctx, OpLogout, time.Now(), &err, s.log)

	s.setState(nil, nil)

	if err := s.sessions.Delete(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return nil
}

// RestoreSession loads the persisted session and its profile.
// A malformed persisted session is logged and leaves the service Anonymous.
// A session whose account is missing, has no profile, or sits in an undecodable
// account collection is restored without a profile.
// The loading flag is cleared in every case; only storage errors are returned.
func (s *SessionService) RestoreSession(ctx context.Context) (err error) {
	s.opLock.Lock()
	defer s.opLock.Unlock()

	defer s.observe(ctx, OpRestoreSession, time.Now(), &err, s.log)

	defer func() {
		s.stateLock.Lock()
		s.loading = false
		s.stateLock.Unlock()
	}()

	sess, found, err := s.sessions.Load(ctx)

	switch {
	case errors.Is(err, domain.ErrMalformedSession):
		s.log.WarnContext(ctx, "ignoring malformed session", "key", s.cfg.SessionKey(), "error", err)
		s.setState(nil, nil)

		return nil
	case err != nil:
		return fmt.Errorf("load session: %w", err)
	case !found:
		s.setState(nil, nil)

		return nil
	}

	log := s.log.With(logging.Group("account", "uid", sess.UID, "email", sess.Email))

	s.setState(&sess, nil)

	accounts, err := s.accounts.List(ctx)

	switch {
	case errors.Is(err, domain.ErrMalformedAccounts):
		log.WarnContext(ctx, "session restored without profile", "key", s.cfg.AccountsKey(), "error", err)

		return nil
	case err != nil:
		return fmt.Errorf("list accounts: %w", err)
	}

	idx := account.FindByUID(accounts, sess.UID)
	if idx < 0 || accounts[idx].Profile == nil {
		log.WarnContext(ctx, "session restored without profile", "error", domain.ErrProfileNotFound)

		return nil
	}

	s.setState(&sess, accounts[idx].Profile)

	return nil
}

// UpdateProfile applies upd to the profile of the active account.
// The bio is stripped of any markup. Requires an active session.
func (s *SessionService) UpdateProfile(ctx context.Context, upd domain.ProfileUpdate) (domain.Profile, error) {
	if upd.Bio != nil {
		bio := strings.TrimSpace(s.policy.Sanitize(*upd.Bio))
		upd.Bio = &bio
	}

	if upd.FavoriteGenres != nil {
		genres := make([]string, 0, len(upd.FavoriteGenres))

		for _, genre := range upd.FavoriteGenres {
			if genre = strings.TrimSpace(s.policy.Sanitize(genre)); genre != "" {
				genres = append(genres, genre)
			}
		}

		upd.FavoriteGenres = genres
	}

	return s.editProfile(ctx, OpUpdateProfile, upd.Apply)
}

// SetProfilePicture stores ref as the profile picture of the active account.
// An empty ref removes the picture. Requires an active session.
func (s *SessionService) SetProfilePicture(ctx context.Context, ref string) (domain.Profile, error) {
	return s.editProfile(ctx, OpSetProfilePicture, func(p domain.Profile) (domain.Profile, error) {
		p.ProfilePicture = ref

		return p, nil
	})
}

func (s *SessionService) editProfile(
	ctx context.Context,
	op string,
	edit func(domain.Profile) (domain.Profile, error),
) (profile domain.Profile, err error) {
	s.opLock.Lock()
	defer s.opLock.Unlock()

	defer s.observe(ctx, op, time.Now(), &err, s.log)

	sess, ok := s.CurrentSession()
	if !ok {
		return profile, domain.ErrNotAuthenticated
	}

	unlock, err := s.accounts.Lock(ctx)
	if err != nil {
		return profile, err //nolint:wrapcheck
	}
	defer unlock()

	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return profile, fmt.Errorf("list accounts: %w", err)
	}

	idx := account.FindByUID(accounts, sess.UID)
	if idx < 0 || accounts[idx].Profile == nil {
		return profile, domain.ErrProfileNotFound
	}

	profile, err = edit(copyProfile(*accounts[idx].Profile))
	if err != nil {
		return domain.Profile{}, err
	}

	accounts[idx].Profile = &profile

	if err := s.accounts.Save(ctx, accounts); err != nil {
		return domain.Profile{}, fmt.Errorf("save accounts: %w", err)
	}

	s.setState(&sess, &profile)

	return profile, nil
}

// CurrentSession returns the active session, if any.
func (s *SessionService) CurrentSession() (domain.Session, bool) {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()

	if s.session == nil {
		return domain.Session{}, false
	}

	return *s.session, true
}

// CurrentProfile returns the profile of the active session, if it is known.
func (s *SessionService) CurrentProfile() (domain.Profile, bool) {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()

	if s.profile == nil {
		return domain.Profile{}, false
	}

	return copyProfile(*s.profile), true
}

// Loading reports whether the initial RestoreSession has not completed yet.
func (s *SessionService) Loading() bool {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()

	return s.loading
}

// State returns Authenticated while a session is active, Anonymous otherwise.
func (s *SessionService) State() domain.SessionState {
	if _, ok := s.CurrentSession(); ok {
		return domain.StateAuthenticated
	}

	return domain.StateAnonymous
}

// Snapshot returns a consistent view of session, profile and loading flag.
func (s *SessionService) Snapshot() domain.SessionResponse {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()

	resp := domain.SessionResponse{Loading: s.loading}

	if s.session != nil {
		sess := *s.session
		resp.Session = &sess
	}

	if s.profile != nil {
		profile := copyProfile(*s.profile)
		resp.Profile = &profile
	}

	return resp
}

func (s *SessionService) setState(sess *domain.Session, profile *domain.Profile) {
	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	s.session = nil
	s.profile = nil

	if sess != nil {
		copied := *sess
		s.session = &copied
	}

	if profile != nil {
		copied := copyProfile(*profile)
		s.profile = &copied
	}
}

func (s *SessionService) getDummyHash() string {
	s.dummyHashOnce.Do(func() {
		hash, err := s.hasher.Hash(dummyPassword)
		if err != nil {
			s.log.Error("dummy hash failed", "error", err)

			return
		}

		s.dummyHash = hash
	})

	return s.dummyHash
}

// observe logs the outcome of an operation and records it as a metric.
func (s *SessionService) observe(ctx context.Context, op string, start time.Time, errp *error, log logging.Logger) {
	err := *errp
	result := resultOf(err)

	s.metrics.RecordOperation(op, result, time.Since(start))

	switch result {
	case metrics.ResultOK:
		log.DebugContext(ctx, op+" succeeded")
	case metrics.ResultError:
		log.ErrorContext(ctx, op+" failed", "error", err)
	default:
		log.WarnContext(ctx, op+" rejected", "error", err)
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, domain.ErrDuplicateEmail):
		return metrics.ResultDuplicateEmail
	case errors.Is(err, domain.ErrInvalidCredentials):
		return metrics.ResultInvalidCredentials
	case errors.Is(err, domain.ErrNotAuthenticated):
		return metrics.ResultNotAuthenticated
	case errors.Is(err, domain.ErrEmptyField), errors.Is(err, domain.ErrNegativeCounter):
		return metrics.ResultInvalidInput
	default:
		return metrics.ResultError
	}
}

func copyProfile(p domain.Profile) domain.Profile {
	p.FavoriteGenres = append([]string{}, p.FavoriteGenres...)

	return p
}
