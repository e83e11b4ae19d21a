package sessionclient

import (
	"context"
	"fmt"

	"github.com/mkrupp/booksy/internal/domain"
	"github.com/mkrupp/booksy/internal/svc/sessionsvc"
)

// LocalClient implements SessionClient directly on a SessionService.
type LocalClient struct {
	svc *sessionsvc.SessionService
}

var _ SessionClient = (*LocalClient)(nil)

// NewLocalClient returns a client for svc. The persisted session is restored first.
func NewLocalClient(ctx context.Context, svc *sessionsvc.SessionService) (*LocalClient, error) {
	if err := svc.RestoreSession(ctx); err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}

	return &LocalClient{svc: svc}, nil
}

func (c *LocalClient) Register(ctx context.Context, email, password, displayName string) (domain.SessionResponse, error) {
	if _, _, err := c.svc.Register(ctx, email, password, displayName); err != nil {
		return domain.SessionResponse{}, err //nolint:wrapcheck
	}

	return c.svc.Snapshot(), nil
}

func (c *LocalClient) Login(ctx context.Context, email, password string) (domain.SessionResponse, error) {
	if _, _, err := c.svc.Login(ctx, email, password); err != nil {
		return domain.SessionResponse{}, err //nolint:wrapcheck
	}

	return c.svc.Snapshot(), nil
}

func (c *LocalClient) Logout(ctx context.Context) error {
	return c.svc.Logout(ctx) //nolint:wrapcheck
}

func (c *LocalClient) Current(context.Context) (domain.SessionResponse, error) {
	return c.svc.Snapshot(), nil
}

func (c *LocalClient) UpdateProfile(ctx context.Context, upd domain.ProfileUpdate) (domain.Profile, error) {
	return c.svc.UpdateProfile(ctx, upd) //nolint:wrapcheck
}
