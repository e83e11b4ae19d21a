package domain

import "errors"

var (
	// ErrDuplicateEmail is returned when registering an email that already belongs to an account.
	ErrDuplicateEmail = errors.New("email already in use")
	// ErrInvalidCredentials is returned when the email/password combination does not match any account.
	// Unknown emails and wrong passwords yield the same error.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmptyField is returned when a required input is empty.
	ErrEmptyField = errors.New("empty field")
	// ErrMalformedAccounts is returned when the persisted account collection cannot be decoded.
	ErrMalformedAccounts = errors.New("malformed account collection")
)

// Account represents a registered user together with the embedded public profile.
type Account struct {
	UID         string   `json:"uid"`               // Unique identifier
	Email       string   `json:"email"`             // Login email, unique across accounts
	Password    string   `json:"password"`          // Encoded password hash (legacy records may hold plaintext)
	DisplayName string   `json:"displayName"`       // Name shown to other readers
	Profile     *Profile `json:"profile,omitempty"` // Public reading identity, nil for records written without one
}

// Session returns the reduced view of the account that is persisted as the active session.
func (a Account) Session() Session {
	return Session{
		UID:         a.UID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
	}
}
