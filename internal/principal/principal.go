// Package principal builds the request-scoped identity every access check
// runs against, whichever path authenticated the request.
package principal

import (
	"strings"
	"time"

	"github.com/customsops/customs/internal/authority"
	"github.com/customsops/customs/internal/model"
	"github.com/customsops/customs/internal/token"
)

// Source kinds.
const (
	KindLocal    = "local"
	KindExternal = "external"
)

// Source is where an identity came from: LocalUser or ExternalToken.
type Source interface {
	Kind() string
	isSource()
}

// LocalUser is a directory account authenticated by password or by a
// locally issued token.
type LocalUser struct {
	User *model.User
	// Token is the local token presented with the request, nil at login.
	Token *token.Verified
}

// ExternalToken is a token issued by the external identity provider.
type ExternalToken struct {
	Token *token.Verified
}

func (LocalUser) Kind() string     { return KindLocal }
func (ExternalToken) Kind() string { return KindExternal }
func (LocalUser) isSource()        {}
func (ExternalToken) isSource()    {}

// Principal is the authenticated identity plus its authorities. It is built
// per request and must be treated as read-only.
type Principal struct {
	Subject        string        `json:"subject"`
	Username       string        `json:"username"`
	DisplayName    string        `json:"display_name"`
	Email          string        `json:"email,omitempty"`
	Tenant         string        `json:"tenant,omitempty"`
	OrganizationID string        `json:"organization_id,omitempty"`
	UserID         int64         `json:"user_id,omitempty"`
	Source         string        `json:"source"`
	Issuer         string        `json:"issuer,omitempty"`
	IssuedAt       time.Time     `json:"issued_at,omitzero"`
	ExpiresAt      time.Time     `json:"expires_at,omitzero"`
	Authorities    authority.Set `json:"authorities"`
}

// Build produces a Principal from either identity source.
func Build(src Source, authorities authority.Set) *Principal {
	var p *Principal
	switch s := src.(type) {
	case LocalUser:
		p = fromLocal(s)
	case ExternalToken:
		p = fromExternal(s.Token)
	default:
		p = &Principal{}
	}
	p.Authorities = authorities
	return p
}

func fromLocal(s LocalUser) *Principal {
	u := s.User
	p := &Principal{
		Subject:     u.Username,
		Username:    u.Username,
		DisplayName: u.FullName,
		Email:       u.Email,
		UserID:      u.ID,
		Source:      KindLocal,
	}
	if p.DisplayName == "" {
		p.DisplayName = u.Username
	}
	if s.Token != nil {
		p.Issuer = s.Token.Issuer
		p.IssuedAt = s.Token.IssuedAt
		p.ExpiresAt = s.Token.ExpiresAt
	}
	return p
}

func fromExternal(tok *token.Verified) *Principal {
	username := firstNonEmpty(
		tok.StringClaim("preferred_username"),
		tok.StringClaim("username"),
		tok.Subject,
		tok.StringClaim("email"),
	)
	return &Principal{
		Subject:        tok.Subject,
		Username:       username,
		DisplayName:    displayName(tok.StringClaim("given_name"), tok.StringClaim("family_name"), username),
		Email:          tok.StringClaim("email"),
		Tenant:         tok.StringClaim("tenant"),
		OrganizationID: tok.StringClaim("organization_id"),
		Source:         KindExternal,
		Issuer:         tok.Issuer,
		IssuedAt:       tok.IssuedAt,
		ExpiresAt:      tok.ExpiresAt,
	}
}

func displayName(given, family, fallback string) string {
	given, family = strings.TrimSpace(given), strings.TrimSpace(family)
	switch {
	case given != "" && family != "":
		return given + " " + family
	case given != "":
		return given
	case family != "":
		return family
	default:
		return fallback
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// HasAuthority reports whether the principal holds name.
func (p *Principal) HasAuthority(name string) bool {
	return p.Authorities.Contains(name)
}

// HasAnyAuthority reports whether the principal holds at least one of names.
func (p *Principal) HasAnyAuthority(names ...string) bool {
	return p.Authorities.ContainsAny(names...)
}

// HasRole reports whether the principal holds ROLE_<role>.
func (p *Principal) HasRole(role string) bool {
	return p.Authorities.Contains(authority.RoleAuthority(role))
}

// Roles returns the role names, without prefix, sorted.
func (p *Principal) Roles() []string {
	var roles []string
	for _, n := range p.Authorities.Names() {
		if authority.IsRoleAuthority(n) {
			roles = append(roles, strings.TrimPrefix(n, authority.RolePrefix))
		}
	}
	return roles
}

// Permissions returns every non-role authority, sorted.
func (p *Principal) Permissions() []string {
	var perms []string
	for _, n := range p.Authorities.Names() {
		if !authority.IsRoleAuthority(n) {
			perms = append(perms, n)
		}
	}
	return perms
}
