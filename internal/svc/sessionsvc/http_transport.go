package sessionsvc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/mkrupp/booksy/internal/domain"
	context_ "github.com/mkrupp/booksy/internal/infra/context"
	"github.com/mkrupp/booksy/internal/infra/logging"
	"github.com/mkrupp/booksy/internal/infra/metrics"
	http_ "github.com/mkrupp/booksy/internal/infra/transport/http"
	"github.com/mkrupp/booksy/internal/svc/avatarsvc"
)

var (
	// ErrRateLimited is returned when login attempts exceed the configured rate.
	ErrRateLimited = errors.New("too many login attempts")
	// ErrNoMultipartFile is returned when an upload request carries no file.
	ErrNoMultipartFile = errors.New("no multipart file")
	// ErrNoProfilePicture is returned when the active profile has no picture.
	ErrNoProfilePicture = errors.New("no profile picture")
	// ErrBadRequest is returned when a request body or form cannot be decoded.
	ErrBadRequest = errors.New("bad request")
)

const maxJSONBodySize = 64 << 10

// HTTPTransportConfig contains configuration parameters for the HTTP transport layer.
type HTTPTransportConfig struct {
	http_.HTTPTransportConfig

	// LoginRate is the sustained number of login attempts allowed per second
	LoginRate float64 `env:"LOGIN_RATE" default:"1"`
	// LoginBurst is the number of login attempts allowed at once
	LoginBurst int `env:"LOGIN_BURST" default:"5"`

	// MultipartFileName is the form field name for picture uploads.
	MultipartFileName string `env:"MULTIPART_FILE_NAME" default:"upload"`
	// MultipartFormMaxMemory is the maximum allowed memory for multipart form uploads.
	MultipartFormMaxMemory int64 `env:"MULTIPART_FORM_MAX_SIZE" default:"10485760"`
}

// HTTPTransportOption configures optional parts of an HTTPTransport.
type HTTPTransportOption func(*HTTPTransport)

// WithHTTPMetrics records response codes to recorder and serves gatherer on GET /metrics.
func WithHTTPMetrics(recorder metrics.Recorder, gatherer prometheus.Gatherer) HTTPTransportOption {
	return func(ht *HTTPTransport) {
		ht.metrics = recorder
		ht.gatherer = gatherer
	}
}

// HTTPTransport exposes a SessionService over HTTP.
type HTTPTransport struct {
	sessionSvc *SessionService
	avatarSvc  *avatarsvc.AvatarService
	limiter    *rate.Limiter
	metrics    metrics.Recorder
	gatherer   prometheus.Gatherer
	router     chi.Router
	log        logging.Logger
	cfg        HTTPTransportConfig
}

var _ http_.HTTPTransport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a new HTTPTransport serving sessionSvc and storing pictures with avatarSvc.
func NewHTTPTransport(
	sessionSvc *SessionService,
	avatarSvc *avatarsvc.AvatarService,
	cfg HTTPTransportConfig,
	opts ...HTTPTransportOption,
) *HTTPTransport {
	limit := rate.Inf
	if cfg.LoginRate > 0 {
		limit = rate.Limit(cfg.LoginRate)
	}

	ht := &HTTPTransport{
		sessionSvc: sessionSvc,
		avatarSvc:  avatarSvc,
		limiter:    rate.NewLimiter(limit, max(1, cfg.LoginBurst)),
		metrics:    metrics.NopRecorder{},
		log:        logging.GetLogger("svc.sessionsvc.http_transport"),
		cfg:        cfg,
	}

	for _, opt := range opts {
		opt(ht)
	}

	ht.router = ht.routes()

	return ht
}

// ServeHTTP implements http.Handler. Routes:
//   - POST /auth/register: create an account and sign in
//   - POST /auth/login: sign in
//   - POST /auth/logout: sign out
//   - GET /auth/session: active session, profile and loading flag
//   - POST /auth/session/restore: reload the session from storage
//   - GET, PATCH /profile: read or edit the active profile
//   - GET, PUT, DELETE /profile/picture: manage the profile picture
//   - GET /metrics: Prometheus metrics, if enabled
func (ht *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ht.router.ServeHTTP(w, r)
}

func (ht *HTTPTransport) routes() chi.Router {
	router := chi.NewRouter()
	router.Use(ht.recordStatus)
	router.Use(func(next http.Handler) http.Handler {
		return http_.SessionMiddleware(next, ht.sessionSvc)
	})

	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", ht.HandleRegister)
		r.Post("/login", ht.HandleLogin)
		r.Post("/logout", ht.HandleLogout)
		r.Get("/session", ht.HandleSession)
		r.Post("/session/restore", ht.HandleRestore)
	})

	router.Route("/profile", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return http_.RequireSessionMiddleware(next, ht.log)
		})
		r.Get("/", ht.HandleGetProfile)
		r.Patch("/", ht.HandleUpdateProfile)
		r.Get("/picture", ht.HandleGetPicture)
		r.Put("/picture", ht.HandlePutPicture)
		r.Delete("/picture", ht.HandleDeletePicture)
	})

	if ht.gatherer != nil {
		router.Method(http.MethodGet, "/metrics", metrics.Handler(ht.gatherer))
	}

	return router
}

func (ht *HTTPTransport) recordStatus(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := http_.NewResponseRecorder(w)

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		ht.metrics.RecordHTTPStatus(route, rec.StatusCode)
	})
}

type credentialsRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

// decodeCredentials reads a JSON body or, for any other content type, form values.
func decodeCredentials(r *http.Request) (credentialsRequest, error) {
	var req credentialsRequest

	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/json" {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodySize)).Decode(&req); err != nil {
			return req, fmt.Errorf("decode body: %w", errors.Join(ErrBadRequest, err))
		}

		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, fmt.Errorf("parse form: %w", errors.Join(ErrBadRequest, err))
	}

	req.Email = r.FormValue("email")
	req.Password = r.FormValue("password")
	req.DisplayName = r.FormValue("displayName")

	return req, nil
}

// HandleRegister processes registration requests.
// Expects email, password and displayName as JSON or form values.
func (ht *HTTPTransport) HandleRegister(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleRegister(w, r)
}

func (ht *HTTPTransport) handleRegister(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer ht.logResult(r, log, "register", &err)

	req, err := decodeCredentials(r)
	if err != nil {
		ht.writeError(w, err)

		return err
	}

	if _, _, err := ht.sessionSvc.Register(r.Context(), req.Email, req.Password, req.DisplayName); err != nil {
		ht.writeError(w, err)

		return fmt.Errorf("register: %w", err)
	}

	return ht.writeJSON(w, http.StatusCreated, ht.sessionSvc.Snapshot())
}

// HandleLogin processes login requests.
// Expects email and password as JSON or form values. Attempts are rate limited.
func (ht *HTTPTransport) HandleLogin(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleLogin(w, r)
}

func (ht *HTTPTransport) handleLogin(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer ht.logResult(r, log, "login", &err)

	if !ht.limiter.Allow() {
		retryAfter := 1
		if limit := ht.limiter.Limit(); limit > 0 && limit != rate.Inf {
			retryAfter = max(1, int(math.Ceil(1/float64(limit))))
		}

		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		ht.writeError(w, ErrRateLimited)

		return ErrRateLimited
	}

	req, err := decodeCredentials(r)
	if err != nil {
		ht.writeError(w, err)

		return err
	}

	if _, _, err := ht.sessionSvc.Login(r.Context(), req.Email, req.Password); err != nil {
		ht.writeError(w, err)

		return fmt.Errorf("login: %w", err)
	}

	return ht.writeJSON(w, http.StatusOK, ht.sessionSvc.Snapshot())
}

// HandleLogout ends the active session. It succeeds when no session is active.
func (ht *HTTPTransport) HandleLogout(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleLogout(w, r)
}

func (ht *HTTPTransport) handleLogout(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer ht.logResult(r, log, "logout", &err)

	if err := ht.sessionSvc.Logout(r.Context()); err != nil {
		ht.writeError(w, err)

		return fmt.Errorf("logout: %w", err)
	}

	w.WriteHeader(http.StatusNoContent)

	return nil
}

// HandleSession returns the active session, its profile and the loading flag.
func (ht *HTTPTransport) HandleSession(w http.ResponseWriter, r *http.Request) {
	_ = ht.writeJSON(w, http.StatusOK, ht.sessionSvc.Snapshot())
}

// HandleRestore reloads the session from storage and returns the result.
func (ht *HTTPTransport) HandleRestore(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleRestore(w, r)
}

func (ht *HTTPTransport) handleRestore(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer ht.logResult(r, log, "restore session", &err)

	if err := ht.sessionSvc.RestoreSession(r.Context()); err != nil {
		ht.writeError(w, err)

		return fmt.Errorf("restore session: %w", err)
	}

	return ht.writeJSON(w, http.StatusOK, ht.sessionSvc.Snapshot())
}

// HandleGetProfile returns the profile of the active session.
func (ht *HTTPTransport) HandleGetProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := ht.sessionSvc.CurrentProfile()
	if !ok {
		ht.writeError(w, domain.ErrProfileNotFound)

		return
	}

	_ = ht.writeJSON(w, http.StatusOK, profile)
}

// HandleUpdateProfile applies a JSON-encoded domain.ProfileUpdate to the active profile.
func (ht *HTTPTransport) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleUpdateProfile(w, r)
}

func (ht *HTTPTransport) handleUpdateProfile(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer ht.logResult(r, log, "update profile", &err)

	var upd domain.ProfileUpdate
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBodySize)).Decode(&upd); err != nil {
		err = errors.Join(ErrBadRequest, err)
		ht.writeError(w, err)

		return fmt.Errorf("decode body: %w", err)
	}

	profile, err := ht.sessionSvc.UpdateProfile(r.Context(), upd)
	if err != nil {
		ht.writeError(w, err)

		return fmt.Errorf("update profile: %w", err)
	}

	return ht.writeJSON(w, http.StatusOK, profile)
}

// HandlePutPicture stores an uploaded picture and sets it on the active profile.
// Expects a multipart form with a file field matching MultipartFileName config.
func (ht *HTTPTransport) HandlePutPicture(w http.ResponseWriter, r *http.Request) {
	_ = ht.handlePutPicture(w, r)
}

func (ht *HTTPTransport) handlePutPicture(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer ht.logResult(r, log, "put picture", &err)

	uid, _ := context_.AccountIDFromContext(r.Context())

	if err := r.ParseMultipartForm(ht.cfg.MultipartFormMaxMemory); err != nil {
		err = errors.Join(ErrNoMultipartFile, err)
		ht.writeError(w, err)

		return fmt.Errorf("parse multipart form: %w", err)
	}

	file, header, err := r.FormFile(ht.cfg.MultipartFileName)
	if err != nil {
		err = errors.Join(ErrNoMultipartFile, err)
		ht.writeError(w, err)

		return fmt.Errorf("form file: %w", err)
	}
	defer file.Close()

	// Check upload constraints before reading the picture to buffer
	if _, err := ht.avatarSvc.CheckUploadConstraints(header.Filename, header.Size, nil); err != nil {
		ht.writeError(w, err)

		return fmt.Errorf("upload not allowed: %s: %w", header.Filename, err)
	}

	data, err := io.ReadAll(io.LimitReader(file, ht.avatarSvc.MaxSize()+1))
	if err != nil {
		ht.writeError(w, err)

		return fmt.Errorf("read %s: %w", header.Filename, err)
	}

	ref, err := ht.avatarSvc.Store(r.Context(), uid, header.Filename, data)
	if err != nil {
		ht.writeError(w, err)

		return fmt.Errorf("store picture: %w", err)
	}

	profile, err := ht.sessionSvc.SetProfilePicture(r.Context(), ref)
	if err != nil {
		if err := ht.avatarSvc.Delete(r.Context(), ref); err != nil {
			log.WarnContext(r.Context(), "orphaned picture not removed", "ref", ref, "error", err)
		}

		ht.writeError(w, err)

		return fmt.Errorf("set profile picture: %w", err)
	}

	return ht.writeJSON(w, http.StatusOK, profile)
}

// HandleGetPicture serves the picture of the active profile.
func (ht *HTTPTransport) HandleGetPicture(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleGetPicture(w, r)
}

func (ht *HTTPTransport) handleGetPicture(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer ht.logResult(r, log, "get picture", &err)

	profile, ok := ht.sessionSvc.CurrentProfile()
	if !ok || profile.ProfilePicture == "" {
		ht.writeError(w, ErrNoProfilePicture)

		return ErrNoProfilePicture
	}

	avatar, err := ht.avatarSvc.Fetch(r.Context(), profile.ProfilePicture)
	if err != nil {
		ht.writeError(w, err)

		return fmt.Errorf("fetch picture: %w", err)
	}

	w.Header().Set("Content-Type", avatar.MIMEType)
	w.Header().Set("Content-Length", strconv.Itoa(len(avatar.Data)))

	if _, err := w.Write(avatar.Data); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	return nil
}

// HandleDeletePicture removes the picture of the active profile.
func (ht *HTTPTransport) HandleDeletePicture(w http.ResponseWriter, r *http.Request) {
	_ = ht.handleDeletePicture(w, r)
}

func (ht *HTTPTransport) handleDeletePicture(w http.ResponseWriter, r *http.Request) (err error) {
	log := ht.log.With(logging.Group("http", "method", r.Method, "url", r.URL.String()))

	defer ht.logResult(r, log, "delete picture", &err)

	previous, _ := ht.sessionSvc.CurrentProfile()

	if _, err := ht.sessionSvc.SetProfilePicture(r.Context(), ""); err != nil {
		ht.writeError(w, err)

		return fmt.Errorf("clear profile picture: %w", err)
	}

	if previous.ProfilePicture != "" {
		if err := ht.avatarSvc.Delete(r.Context(), previous.ProfilePicture); err != nil {
			log.WarnContext(r.Context(), "picture not removed", "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)

	return nil
}

func (ht *HTTPTransport) logResult(r *http.Request, log logging.Logger, action string, errp *error) {
	if err := *errp; err != nil {
		if statusOf(err) >= http.StatusInternalServerError {
			log.ErrorContext(r.Context(), action+" failed", "error", err)
		} else {
			log.WarnContext(r.Context(), action+" rejected", "error", err)
		}
	} else {
		log.DebugContext(r.Context(), action+" done")
	}
}

func (ht *HTTPTransport) writeJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	return nil
}

func (ht *HTTPTransport) writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	http.Error(w, http.StatusText(status), status)
}

//nolint:cyclop
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrDuplicateEmail):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, domain.ErrEmptyField),
		errors.Is(err, domain.ErrNegativeCounter),
		errors.Is(err, domain.ErrImageInvalid),
		errors.Is(err, ErrNoMultipartFile):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrImageTypeNotSupported), errors.Is(err, domain.ErrImageTypeMismatch):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, domain.ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrProfileNotFound),
		errors.Is(err, domain.ErrAvatarNotFound),
		errors.Is(err, ErrNoProfilePicture):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
