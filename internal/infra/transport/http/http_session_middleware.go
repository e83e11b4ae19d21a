package http

import (
	"net/http"

	"github.com/mkrupp/booksy/internal/domain"
	context_ "github.com/mkrupp/booksy/internal/infra/context"
	"github.com/mkrupp/booksy/internal/infra/logging"
)

// SessionSource exposes the active session of a storage scope.
type SessionSource interface {
	CurrentSession() (domain.Session, bool)
}

// SessionMiddleware adds the uid of the active session, if any, to the request context.
// Anonymous requests pass through unchanged.
func SessionMiddleware(next http.Handler, sessions SessionSource) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session, ok := sessions.CurrentSession(); ok {
			r = r.WithContext(context_.WithAccountID(r.Context(), session.UID))
		}

		next.ServeHTTP(w, r)
	})
}

// RequireSessionMiddleware rejects requests without an account uid in the context
// with 401 Unauthorized. It must run after SessionMiddleware.
func RequireSessionMiddleware(next http.Handler, log logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := context_.AccountIDFromContext(r.Context()); !ok {
			log.WarnContext(r.Context(), "no active session", "uri", r.RequestURI)
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}
