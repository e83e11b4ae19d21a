package avatarsvc

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"github.com/mkrupp/booksy/internal/domain"
	"github.com/mkrupp/booksy/internal/infra/logging"
	"github.com/mkrupp/booksy/internal/repo/kv"
)

const refPrefix = "avatar_"

// AvatarService validates, normalizes and stores profile pictures in a kv.Store.
// Each account has at most one picture, stored under "avatar_<uid>.<ext>".
type AvatarService struct {
	store    kv.Store
	cfg      AvatarConfig
	interpol draw.Interpolator
	log      logging.Logger
}

// NewAvatarService creates an AvatarService storing pictures in store.
// Returns ErrUnknownInterpolator if cfg names an unsupported interpolator.
func NewAvatarService(store kv.Store, cfg AvatarConfig) (*AvatarService, error) {
	interpol, err := getInterpolatorByName(cfg.Interpolator)
	if err != nil {
		return nil, err
	}

	return &AvatarService{
		store:    store,
		cfg:      cfg,
		interpol: interpol,
		log:      logging.GetLogger("svc.avatarsvc.avatar_service"),
	}, nil
}

// MaxSize returns the maximum allowed upload size in bytes.
func (s *AvatarService) MaxSize() int64 {
	return s.cfg.MaxSize
}

// CheckUploadConstraints validates size, extension and, if data is not nil, the magic header.
// It returns the MIME type implied by the filename.
func (s *AvatarService) CheckUploadConstraints(filename string, size int64, data []byte) (string, error) {
	if s.cfg.MaxSize > 0 && size > s.cfg.MaxSize {
		return "", fmt.Errorf("%w: %d > %d bytes", domain.ErrImageTooLarge, size, s.cfg.MaxSize)
	}

	mimeType, err := mimeTypeByFilename(filename)
	if err != nil {
		return "", err
	}

	if data == nil {
		return mimeType, nil
	}

	if err := checkHeader(data, mimeType); err != nil {
		return "", err
	}

	return mimeType, nil
}

// Store validates and normalizes the uploaded picture of uid and returns its reference.
// A previous picture of uid in another format is removed.
func (s *AvatarService) Store(ctx context.Context, uid, filename string, data []byte) (ref string, err error) {
	log := s.log.With(logging.Group("avatar", "uid", uid, "filename", filename, "size", len(data)))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "avatar store failed", "error", err)
		} else {
			log.DebugContext(ctx, "avatar stored", "ref", ref)
		}
	}()

	if uid == "" {
		return "", fmt.Errorf("%w: uid", domain.ErrEmptyField)
	}

	mimeType, err := s.CheckUploadConstraints(filename, int64(len(data)), data)
	if err != nil {
		return "", fmt.Errorf("check upload constraints: %w", err)
	}

	normalized, err := normalizeImage(data, mimeType, s.cfg.Width, s.interpol)
	if err != nil {
		return "", fmt.Errorf("normalize image: %w", err)
	}

	ref = Ref(uid, mimeType)

	if err := s.store.Set(ctx, ref, normalized); err != nil {
		return "", fmt.Errorf("store avatar: %w", err)
	}

	for otherType := range imageTypeExts {
		if otherType == mimeType {
			continue
		}

		if err := s.store.Delete(ctx, Ref(uid, otherType)); err != nil {
			log.WarnContext(ctx, "stale avatar not removed", "error", err)
		}
	}

	return ref, nil
}

// Fetch returns the stored picture for ref.
func (s *AvatarService) Fetch(ctx context.Context, ref string) (avatar domain.Avatar, err error) {
	mimeType, err := parseRef(ref)
	if err != nil {
		return domain.Avatar{}, err
	}

	data, found, err := s.store.Get(ctx, ref)
	if err != nil {
		return domain.Avatar{}, fmt.Errorf("fetch avatar: %w", err)
	} else if !found {
		return domain.Avatar{}, fmt.Errorf("%w: %q", domain.ErrAvatarNotFound, ref)
	}

	return domain.Avatar{
		Ref:      ref,
		MIMEType: mimeType,
		Data:     data,
	}, nil
}

// Delete removes the picture stored under ref. Missing pictures are not an error.
func (s *AvatarService) Delete(ctx context.Context, ref string) error {
	if _, err := parseRef(ref); err != nil {
		return err
	}

	if err := s.store.Delete(ctx, ref); err != nil {
		return fmt.Errorf("delete avatar: %w", err)
	}

	return nil
}

// Ref returns the storage reference of the picture of uid with mimeType.
func Ref(uid, mimeType string) string {
	return refPrefix + uid + imageTypeExts[mimeType]
}

func parseRef(ref string) (string, error) {
	if !strings.HasPrefix(ref, refPrefix) || kv.ValidateKey(ref) != nil {
		return "", fmt.Errorf("%w: %q", domain.ErrAvatarNotFound, ref)
	}

	mimeType, err := mimeTypeByFilename(ref)
	if err != nil || strings.TrimSuffix(ref, filepath.Ext(ref)) == refPrefix {
		return "", fmt.Errorf("%w: %q", domain.ErrAvatarNotFound, ref)
	}

	return mimeType, nil
}
