package avatarsvc

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"github.com/mkrupp/booksy/internal/domain"
)

const (
	MIMETypeJPEG = "image/jpeg"
	MIMETypePNG  = "image/png"
	MIMETypeTIFF = "image/tiff"
)

//nolint:gochecknoglobals
var (
	imageExtTypes = map[string]string{
		".jpg":  MIMETypeJPEG,
		".jpeg": MIMETypeJPEG,
		".png":  MIMETypePNG,
		".tiff": MIMETypeTIFF,
		".tif":  MIMETypeTIFF,
	}

	// imageTypeExts is the canonical extension used in stored references.
	imageTypeExts = map[string]string{
		MIMETypeJPEG: ".jpg",
		MIMETypePNG:  ".png",
		MIMETypeTIFF: ".tiff",
	}

	imageTypeHeaders = map[string][]string{
		MIMETypeJPEG: {"\xFF\xD8"},
		MIMETypePNG:  {"\x89\x50\x4E\x47\x0D\x0A\x1A\x0A"},
		MIMETypeTIFF: {"\x49\x49\x2A\x00", "\x4D\x4D\x00\x2A"},
	}

	imageDecoders = map[string]func(io.Reader) (image.Image, error){
		MIMETypeJPEG: jpeg.Decode,
		MIMETypeTIFF: tiff.Decode,
		MIMETypePNG:  png.Decode,
	}

	imageEncoders = map[string]func(io.Writer, image.Image) error{
		MIMETypeJPEG: func(w io.Writer, i image.Image) error { return jpeg.Encode(w, i, &jpeg.Options{Quality: 90}) },
		MIMETypeTIFF: func(w io.Writer, i image.Image) error {
			return tiff.Encode(w, i, &tiff.Options{Compression: tiff.Deflate})
		},
		MIMETypePNG: png.Encode,
	}
)

// mimeTypeByFilename returns the MIME type implied by the filename extension.
func mimeTypeByFilename(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	mimeType, ok := imageExtTypes[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrImageTypeNotSupported, ext)
	}

	return mimeType, nil
}

// checkHeader verifies that data starts with a magic header of mimeType.
func checkHeader(data []byte, mimeType string) error {
	for _, header := range imageTypeHeaders[mimeType] {
		if bytes.HasPrefix(data, []byte(header)) {
			return nil
		}
	}

	return fmt.Errorf("%w: %q", domain.ErrImageTypeMismatch, mimeType)
}

func getDecoderByType(mimeType string) (func(io.Reader) (image.Image, error), error) {
	decoder, ok := imageDecoders[mimeType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrImageTypeNotSupported, mimeType)
	}

	return decoder, nil
}

func getEncoderByType(mimeType string) (func(io.Writer, image.Image) error, error) {
	encoder, ok := imageEncoders[mimeType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrImageTypeNotSupported, mimeType)
	}

	return encoder, nil
}
