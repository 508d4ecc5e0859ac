// Package token verifies signed bearer tokens and exposes their claims
// without applying any claim-content policy.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/customsops/customs/internal/jwks"
)

var (
	// ErrMalformed means the token is not three segments of encoded JSON
	// objects, or a registered time claim has the wrong type.
	ErrMalformed = errors.New("malformed token")

	// ErrSignatureInvalid means the signature does not verify with the
	// resolved key.
	ErrSignatureInvalid = errors.New("token signature invalid")

	// ErrExpired means the token is outside its validity window.
	ErrExpired = errors.New("token expired")

	// ErrUnsupportedType means the declared signing algorithm is not one the
	// verifier was configured to accept.
	ErrUnsupportedType = errors.New("unsupported token type")
)

// Accepted values of the "typ" header. The comparison is case-insensitive.
const (
	TypeJWT         = "JWT"
	TypeAccessToken = "at+jwt"
)

// KeyResolver returns the verification key for a key identifier. Keys are
// *rsa.PublicKey, *ecdsa.PublicKey, ed25519.PublicKey or []byte for HMAC.
type KeyResolver interface {
	ResolveKey(ctx context.Context, keyID string) (any, error)
}

// StaticKey resolves every key identifier to the same key. It backs the
// locally issued HMAC tokens.
type StaticKey struct {
	Key any
}

// ResolveKey implements KeyResolver.
func (s StaticKey) ResolveKey(_ context.Context, _ string) (any, error) {
	if s.Key == nil {
		return nil, jwks.ErrKeyNotFound
	}
	return s.Key, nil
}

// Verified is a token whose signature and validity window have been
// checked. It is request scoped and never persisted.
type Verified struct {
	Raw       string
	Header    map[string]any
	Claims    map[string]any
	Issuer    string
	Subject   string
	IssuedAt  time.Time // zero when the token has no iat
	ExpiresAt time.Time
}

// Type returns the declared "typ" header, or an empty string.
func (v *Verified) Type() string {
	s, _ := v.Header["typ"].(string)
	return s
}

// StringClaim returns a claim as a string when it is one.
func (v *Verified) StringClaim(name string) string {
	s, _ := v.Claims[name].(string)
	return s
}

// Config controls which tokens a Verifier accepts.
type Config struct {
	// Algorithms lists the accepted "alg" header values, e.g. RS256.
	Algorithms []string
	// ClockSkew tolerates an iat slightly in the future. It does not
	// extend expiry.
	ClockSkew time.Duration
}

// Verifier checks structure, signature and time validity of bearer tokens.
// It is safe for concurrent use.
type Verifier struct {
	cfg      Config
	resolver KeyResolver
	logger   *slog.Logger
	now      func() time.Time
	parser   *jwt.Parser
}

// NewVerifier creates a Verifier that resolves keys through resolver.
func NewVerifier(cfg Config, resolver KeyResolver, logger *slog.Logger) *Verifier {
	return &Verifier{
		cfg:      cfg,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
		// Time claims are checked below so expiry and iat skew follow our
		// rules rather than the parser's shared leeway. Numbers decode as
		// json.Number so integer claims keep every digit.
		parser: jwt.NewParser(jwt.WithoutClaimsValidation(), jwt.WithJSONNumber()),
	}
}

// SetClock replaces the time source, for tests.
func (v *Verifier) SetClock(now func() time.Time) {
	v.now = now
}

// Verify parses rawToken, checks its signature with the key named by the
// "kid" header and validates exp and iat. The returned claims are the
// decoded payload, unmodified.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Verified, error) {
	rawToken = strings.TrimSpace(rawToken)
	if strings.Count(rawToken, ".") != 2 {
		return nil, fmt.Errorf("%w: expected three segments", ErrMalformed)
	}

	claims := jwt.MapClaims{}
	tok, err := v.parser.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		alg, _ := t.Header["alg"].(string)
		if !v.algorithmAllowed(alg) {
			return nil, fmt.Errorf("%w: alg %q", ErrUnsupportedType, alg)
		}
		kid, _ := t.Header["kid"].(string)
		return v.resolver.ResolveKey(ctx, kid)
	})
	if err != nil {
		return nil, Classify(err)
	}

	v.checkType(ctx, tok.Header)

	verified := &Verified{
		Raw:    rawToken,
		Header: tok.Header,
		Claims: map[string]any(claims),
	}
	if err := v.validateTimes(claims, verified); err != nil {
		return nil, err
	}
	verified.Issuer, _ = claims.GetIssuer()
	verified.Subject, _ = claims.GetSubject()
	return verified, nil
}

// checkType logs a declared type other than the generic or access-token
// profile value. Signature and expiry are the trust anchor; the type is
// advisory and never rejects a token.
func (v *Verifier) checkType(ctx context.Context, header map[string]any) {
	typ, present := header["typ"]
	if !present {
		return
	}
	s, _ := typ.(string)
	if strings.EqualFold(s, TypeJWT) || strings.EqualFold(s, TypeAccessToken) {
		return
	}
	v.logger.WarnContext(ctx, "unexpected token type, proceeding", "typ", typ)
}

func (v *Verifier) validateTimes(claims jwt.MapClaims, out *Verified) error {
	now := v.now()

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("%w: exp: %v", ErrMalformed, err)
	}
	if exp == nil {
		return fmt.Errorf("%w: no exp claim", ErrExpired)
	}
	out.ExpiresAt = exp.Time
	if !exp.Time.After(now) {
		return fmt.Errorf("%w: at %s", ErrExpired, exp.Time.UTC().Format(time.RFC3339))
	}

	iat, err := claims.GetIssuedAt()
	if err != nil {
		return fmt.Errorf("%w: iat: %v", ErrMalformed, err)
	}
	if iat != nil {
		out.IssuedAt = iat.Time
		if iat.Time.After(now.Add(v.cfg.ClockSkew)) {
			return fmt.Errorf("%w: issued in the future", ErrExpired)
		}
	}
	return nil
}

func (v *Verifier) algorithmAllowed(alg string) bool {
	if alg == "" || strings.EqualFold(alg, "none") {
		return false
	}
	for _, a := range v.cfg.Algorithms {
		if a == alg {
			return true
		}
	}
	return false
}

// Classify maps parser and key resolution errors onto the package's error
// kinds. Key errors are passed through so callers can log them.
func Classify(err error) error {
	switch {
	case errors.Is(err, jwks.ErrKeyUnavailable), errors.Is(err, jwks.ErrKeyNotFound):
		return err
	case errors.Is(err, ErrUnsupportedType):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		// The parser reports an unregistered alg this way before any key
		// is looked up.
		return fmt.Errorf("%w: %v", ErrUnsupportedType, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

// Reason returns a short label for a verification error, used in logs.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrSignatureInvalid):
		return "signature_invalid"
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, jwks.ErrKeyUnavailable):
		return "key_unavailable"
	case errors.Is(err, jwks.ErrKeyNotFound):
		return "key_not_found"
	default:
		return "unknown"
	}
}
