package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrProfileNotFound is returned when no account matches the uid of a session.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrNegativeCounter is returned when a profile counter update is below zero.
	ErrNegativeCounter = errors.New("counter must not be negative")
)

// Profile is the public reading identity of an account.
type Profile struct {
	UID            string    `json:"uid"`
	DisplayName    string    `json:"displayName"`
	Email          string    `json:"email"`
	BooksRead      int       `json:"booksRead"`
	BooksReading   int       `json:"booksReading"`
	Bio            string    `json:"bio"`
	FavoriteGenres []string  `json:"favoriteGenres"`
	Joined         time.Time `json:"joined"`
	ProfilePicture string    `json:"profilePicture,omitempty"`
}

// NewProfile creates the zero-valued profile that accompanies a freshly registered account.
func NewProfile(uid, displayName, email string, joined time.Time) Profile {
	return Profile{
		UID:            uid,
		DisplayName:    displayName,
		Email:          email,
		FavoriteGenres: []string{},
		Joined:         joined.UTC(),
	}
}

// UnmarshalJSON decodes a profile and normalizes a missing genre list to an empty one,
// so that re-encoding always yields `[]` rather than `null`.
func (p *Profile) UnmarshalJSON(data []byte) error {
	type plain Profile

	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err //nolint:wrapcheck
	}

	if decoded.FavoriteGenres == nil {
		decoded.FavoriteGenres = []string{}
	}

	*p = Profile(decoded)

	return nil
}

// ProfileUpdate carries the editable parts of a profile. Nil fields are left unchanged.
type ProfileUpdate struct {
	Bio            *string  `json:"bio,omitempty"`
	FavoriteGenres []string `json:"favoriteGenres,omitempty"`
	BooksRead      *int     `json:"booksRead,omitempty"`
	BooksReading   *int     `json:"booksReading,omitempty"`
}

// Apply returns a copy of the profile with the update applied.
func (u ProfileUpdate) Apply(p Profile) (Profile, error) {
	if u.BooksRead != nil && *u.BooksRead < 0 {
		return p, ErrNegativeCounter
	}

	if u.BooksReading != nil && *u.BooksReading < 0 {
		return p, ErrNegativeCounter
	}

	if u.Bio != nil {
		p.Bio = *u.Bio
	}

	if u.FavoriteGenres != nil {
		p.FavoriteGenres = append([]string{}, u.FavoriteGenres...)
	}

	if u.BooksRead != nil {
		p.BooksRead = *u.BooksRead
	}

	if u.BooksReading != nil {
		p.BooksReading = *u.BooksReading
	}

	return p, nil
}
