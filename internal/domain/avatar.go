package domain

import "errors"

var (
	ErrImageTypeNotSupported = errors.New("image type not supported")
	ErrImageTypeMismatch     = errors.New("image ext does not match content type")
	ErrImageTooLarge         = errors.New("image too large")
	ErrImageInvalid          = errors.New("invalid image data")
	ErrAvatarNotFound        = errors.New("avatar not found")
)

// Avatar is a stored profile picture.
type Avatar struct {
	Ref      string // Storage reference kept in Profile.ProfilePicture
	MIMEType string
	Data     []byte
}
