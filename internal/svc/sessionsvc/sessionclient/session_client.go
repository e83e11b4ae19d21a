package sessionclient

import (
	"context"

	"github.com/mkrupp/booksy/internal/domain"
)

// SessionClient is the caller-side view of a session store, local or remote.
type SessionClient interface {
	// Register creates an account and makes it the active session.
	Register(ctx context.Context, email, password, displayName string) (domain.SessionResponse, error)

	// Login makes the account matching email and password the active session.
	Login(ctx context.Context, email, password string) (domain.SessionResponse, error)

	// Logout ends the active session. It succeeds when no session is active.
	Logout(ctx context.Context) error

	// Current returns the active session, its profile and the loading flag.
	Current(ctx context.Context) (domain.SessionResponse, error)

	// UpdateProfile edits the profile of the active session.
	UpdateProfile(ctx context.Context, upd domain.ProfileUpdate) (domain.Profile, error)
}
