package sessionsvc

import "github.com/mkrupp/booksy/internal/util/password"

// SessionConfig contains configuration parameters for the session service.
type SessionConfig struct {
	// Scope prefixes the storage keys, so one backend can hold several independent scopes.
	Scope string `env:"SCOPE" default:"booksy"`

	// Password holds the argon2id parameters for new password hashes
	Password password.Config `envPrefix:"PASSWORD_"`
}

// DefaultSessionConfig returns the configuration used when none is given.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Scope:    "booksy",
		Password: password.DefaultConfig(),
	}
}

// AccountsKey is the storage key of the account collection.
func (c SessionConfig) AccountsKey() string {
	return c.Scope + "_users"
}

// SessionKey is the storage key of the active session.
func (c SessionConfig) SessionKey() string {
	return c.Scope + "_auth"
}
