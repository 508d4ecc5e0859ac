// Package rbac authenticates local directory users and flattens their
// role graph into an authority set.
package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/customsops/customs/internal/authority"
	"github.com/customsops/customs/internal/config"
	"github.com/customsops/customs/internal/model"
)

var (
	// ErrInvalidCredential covers both an unknown username and a wrong
	// password so callers cannot tell them apart.
	ErrInvalidCredential = errors.New("invalid credential")
	ErrAccountDisabled   = errors.New("account disabled")
)

// MinPasswordLength is enforced when passwords are set, not when they are
// checked.
const MinPasswordLength = 8

// UserDirectory looks users up with their roles and role authorities
// loaded. A missing user is reported as config.ErrNotFound.
type UserDirectory interface {
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
}

// Service is the local-login side of authentication.
type Service struct {
	dir    UserDirectory
	logger *slog.Logger

	dummyOnce sync.Once
	dummyHash []byte
}

// NewService creates a Service over dir.
func NewService(dir UserDirectory, logger *slog.Logger) *Service {
	return &Service{dir: dir, logger: logger}
}

// Authenticate checks username and password. A disabled account is only
// reported once the password has matched.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	user, err := s.dir.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			// Spend the same time as a real comparison.
			_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
			s.logger.InfoContext(ctx, "login rejected", "username", username, "reason", "unknown_user")
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.logger.InfoContext(ctx, "login rejected", "username", username, "reason", "bad_password")
		return nil, ErrInvalidCredential
	}
	if !user.Enabled {
		s.logger.InfoContext(ctx, "login rejected", "username", username, "reason", "disabled")
		return nil, ErrAccountDisabled
	}
	return user, nil
}

// Lookup reloads a user for an already authenticated session. It fails with
// ErrAccountDisabled once the account has been disabled.
func (s *Service) Lookup(ctx context.Context, username string) (*model.User, error) {
	user, err := s.dir.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if !user.Enabled {
		return nil, ErrAccountDisabled
	}
	return user, nil
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("customs-dummy-password"), bcrypt.DefaultCost)
	})
	return s.dummyHash
}

// EffectiveAuthorities flattens the user's roles into one set. Every role
// also contributes ROLE_<NAME>.
func EffectiveAuthorities(user *model.User) authority.Set {
	names := make([]string, 0, len(user.Roles)*8)
	for _, r := range user.Roles {
		names = append(names, authority.RoleAuthority(r.Name))
		names = append(names, r.Authorities...)
	}
	return authority.NewSet(names...)
}

// HashPassword returns a bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
