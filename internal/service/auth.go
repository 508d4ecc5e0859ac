package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/customsops/customs/internal/authority"
	"github.com/customsops/customs/internal/principal"
	"github.com/customsops/customs/internal/rbac"
	"github.com/customsops/customs/internal/token"
)

// ErrUntrustedIssuer is returned for a token whose issuer is not the local
// one while external authentication is disabled.
var ErrUntrustedIssuer = errors.New("untrusted issuer")

// localAlgorithm signs and verifies locally issued tokens.
const localAlgorithm = "HS256"

// Directory is the part of the directory store the auth service needs.
type Directory interface {
	rbac.UserDirectory
	UpdateUserLastLogin(ctx context.Context, id int64) error
}

// LocalConfig controls tokens issued at password login.
type LocalConfig struct {
	Issuer   string
	Secret   []byte
	TokenTTL time.Duration
}

// External bundles the verifier and mapper for identity-provider tokens.
type External struct {
	Verifier *token.Verifier
	Mapper   *authority.Mapper
}

// Session is a token handed to a client plus the principal it stands for.
type Session struct {
	Token     string
	ExpiresAt time.Time
	Principal *principal.Principal
}

// AuthService authenticates bearer tokens from either trust source and
// issues local tokens at password login.
type AuthService struct {
	dir      Directory
	users    *rbac.Service
	cfg      LocalConfig
	local    *token.Verifier
	external *External
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthService creates an AuthService. external may be nil, in which case
// only locally issued tokens are accepted.
func NewAuthService(dir Directory, cfg LocalConfig, external *External, logger *slog.Logger) *AuthService {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &AuthService{
		dir:      dir,
		users:    rbac.NewService(dir, logger),
		cfg:      cfg,
		local:    token.NewVerifier(token.Config{Algorithms: []string{localAlgorithm}}, token.StaticKey{Key: cfg.Secret}, logger),
		external: external,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source for issuance and local verification,
// for tests.
func (s *AuthService) SetClock(now func() time.Time) {
	s.now = now
	s.local.SetClock(now)
}

// Issuer returns the issuer stamped on local tokens.
func (s *AuthService) Issuer() string {
	return s.cfg.Issuer
}

// ExternalEnabled reports whether identity-provider tokens are accepted.
func (s *AuthService) ExternalEnabled() bool {
	return s.external != nil
}

// Login checks a username and password and returns a fresh local token.
func (s *AuthService) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.users.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}
	if err := s.dir.UpdateUserLastLogin(ctx, user.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to record last login", "username", user.Username, "error", err)
	}

	raw, exp, err := s.IssueLocalToken(user.Username, user.FullName)
	if err != nil {
		return nil, err
	}
	p := principal.Build(principal.LocalUser{User: user}, rbac.EffectiveAuthorities(user))
	p.Issuer = s.cfg.Issuer
	p.IssuedAt = s.now().UTC().Truncate(time.Second)
	p.ExpiresAt = exp
	s.logger.InfoContext(ctx, "login succeeded", "username", user.Username)
	return &Session{Token: raw, ExpiresAt: exp, Principal: p}, nil
}

// IssueLocalToken signs a local token for username.
func (s *AuthService) IssueLocalToken(username, fullName string) (string, time.Time, error) {
	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(s.cfg.TokenTTL)
	claims := localClaims{
		Name: fullName,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Authenticate verifies a bearer token and builds its principal. The
// unverified issuer only selects which verifier runs.
func (s *AuthService) Authenticate(ctx context.Context, rawToken string) (*principal.Principal, error) {
	iss, err := unverifiedIssuer(rawToken)
	if err != nil {
		return nil, err
	}
	if iss == s.cfg.Issuer {
		return s.authenticateLocal(ctx, rawToken)
	}
	if s.external == nil {
		return nil, fmt.Errorf("%w: %q", ErrUntrustedIssuer, iss)
	}
	return s.authenticateExternal(ctx, rawToken)
}

func (s *AuthService) authenticateLocal(ctx context.Context, rawToken string) (*principal.Principal, error) {
	verified, err := s.local.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	user, err := s.users.Lookup(ctx, verified.Subject)
	if err != nil {
		return nil, err
	}
	return principal.Build(principal.LocalUser{User: user, Token: verified}, rbac.EffectiveAuthorities(user)), nil
}

func (s *AuthService) authenticateExternal(ctx context.Context, rawToken string) (*principal.Principal, error) {
	verified, err := s.external.Verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	set := s.external.Mapper.Map(ctx, verified)
	return principal.Build(principal.ExternalToken{Token: verified}, set), nil
}

// Refresh re-authenticates rawToken. A local token is reissued with a new
// expiry; an external token is returned unchanged once it still verifies.
func (s *AuthService) Refresh(ctx context.Context, rawToken string) (*Session, error) {
	p, err := s.Authenticate(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	if p.Source != principal.KindLocal {
		return &Session{Token: rawToken, ExpiresAt: p.ExpiresAt, Principal: p}, nil
	}

	raw, exp, err := s.IssueLocalToken(p.Username, p.DisplayName)
	if err != nil {
		return nil, err
	}
	p.IssuedAt = s.now().UTC().Truncate(time.Second)
	p.ExpiresAt = exp
	return &Session{Token: raw, ExpiresAt: exp, Principal: p}, nil
}

// FailureReason returns a short label for an authentication error, used in
// logs and never in responses.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrUntrustedIssuer):
		return "untrusted_issuer"
	case errors.Is(err, rbac.ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, rbac.ErrAccountDisabled):
		return "account_disabled"
	default:
		return token.Reason(err)
	}
}

type localClaims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// unverifiedIssuer reads iss without checking the signature.
func unverifiedIssuer(rawToken string) (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser(jwt.WithJSONNumber()).ParseUnverified(rawToken, claims); err != nil {
		return "", token.Classify(err)
	}
	iss, _ := claims["iss"].(string)
	return iss, nil
}
