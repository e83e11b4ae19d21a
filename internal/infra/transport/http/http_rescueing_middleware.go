package http

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/mkrupp/booksy/internal/infra/logging"
)

// RescueingMiddleware recovers panics in next, logs them with the stack and answers
// 500 Internal Server Error unless a response has already been started.
// http.ErrAbortHandler is passed on to the server.
func RescueingMiddleware(next http.Handler, log logging.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := NewResponseRecorder(w)

		defer func() {
			p := recover()
			if p == nil {
				return
			}

			if err, ok := p.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(p)
			}

			log.ErrorContext(r.Context(), "request panic", slog.Group("http",
				"uri", r.RequestURI,
				"method", r.Method,
			), slog.Group("error",
				"panic", p,
				"stack", string(debug.Stack()),
			))

			if !rec.WroteHeader() {
				http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(rec, r)
	})
}
