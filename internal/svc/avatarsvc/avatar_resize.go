package avatarsvc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	"golang.org/x/image/draw"

	"github.com/mkrupp/booksy/internal/domain"
)

// ErrUnknownInterpolator is returned when an unsupported interpolation method is specified.
var ErrUnknownInterpolator = errors.New("unknown interpolator")

//nolint:gochecknoglobals
var interpolMap = map[string]draw.Interpolator{
	"nearestneighbor": draw.NearestNeighbor,
	"catmullrom":      draw.CatmullRom,
	"bilinear":        draw.BiLinear,
	"approxbilinear":  draw.ApproxBiLinear,
}

func getInterpolatorByName(name string) (draw.Interpolator, error) {
	interpol, ok := interpolMap[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInterpolator, name)
	}

	return interpol, nil
}

// normalizeImage decodes data and re-encodes it in the same format, scaling it down
// to maxWidth while keeping the aspect ratio. Narrower images keep their size.
// Re-encoding drops metadata such as EXIF blocks.
func normalizeImage(data []byte, mimeType string, maxWidth int, interpol draw.Interpolator) ([]byte, error) {
	decoder, err := getDecoderByType(mimeType)
	if err != nil {
		return nil, err
	}

	original, err := decoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", errors.Join(domain.ErrImageInvalid, err))
	}

	bounds := original.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("decode image: %w: empty %dx%d image", domain.ErrImageInvalid, bounds.Dx(), bounds.Dy())
	}

	target := original

	if maxWidth > 0 && bounds.Dx() > maxWidth {
		height := max(1, bounds.Dy()*maxWidth/bounds.Dx())
		bitmap := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
		interpol.Scale(bitmap, bitmap.Bounds(), original, bounds, draw.Over, nil)
		target = bitmap
	}

	encoder, err := getEncoderByType(mimeType)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := encoder(&buf, target); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}

	return buf.Bytes(), nil
}
