package domain

import "errors"

var (
	// ErrMalformedSession is returned when the persisted session cannot be decoded.
	ErrMalformedSession = errors.New("malformed session")
	// ErrNotAuthenticated is returned when an operation requires an active session.
	ErrNotAuthenticated = errors.New("not authenticated")
)

// Session is the reduced, persisted representation of the currently authenticated account.
type Session struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// SessionState describes whether a storage scope currently has an active session.
type SessionState string

const (
	StateAnonymous     SessionState = "anonymous"
	StateAuthenticated SessionState = "authenticated"
)

// SessionResponse is the read-side view exposed to callers of the session store.
type SessionResponse struct {
	Session *Session `json:"session"`
	Profile *Profile `json:"profile"`
	Loading bool     `json:"loading"`
}
