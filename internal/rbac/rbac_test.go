package rbac

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/customsops/customs/internal/authority"
	"github.com/customsops/customs/internal/config"
	"github.com/customsops/customs/internal/model"
)

type memDirectory map[string]*model.User

func (m memDirectory) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	u, ok := m[username]
	if !ok {
		return nil, config.ErrNotFound
	}
	return u, nil
}

type brokenDirectory struct{}

func (brokenDirectory) GetUserByUsername(context.Context, string) (*model.User, error) {
	return nil, errors.New("connection refused")
}

func hash(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(h)
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := memDirectory{
		"jane.doe": {
			ID: 1, Username: "jane.doe", Enabled: true,
			PasswordHash: hash(t, "cargo123"),
		},
		"former.officer": {
			ID: 2, Username: "former.officer", Enabled: false,
			PasswordHash: hash(t, "customs123"),
		},
	}
	return NewService(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// ---------------------------------------------------------------------------
// Authenticate
// ---------------------------------------------------------------------------

func TestAuthenticate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, err := svc.Authenticate(ctx, "jane.doe", "cargo123")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if u.ID != 1 {
		t.Errorf("ID = %d, want 1", u.ID)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{"unknown user", "nobody", "cargo123", ErrInvalidCredential},
		{"wrong password", "jane.doe", "wrong-password", ErrInvalidCredential},
		{"empty password", "jane.doe", "", ErrInvalidCredential},
		{"disabled with good password", "former.officer", "customs123", ErrAccountDisabled},
		{"disabled with bad password", "former.officer", "nope", ErrInvalidCredential},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Authenticate(ctx, tc.username, tc.password)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestAuthenticateStoreError(t *testing.T) {
	svc := NewService(brokenDirectory{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := svc.Authenticate(context.Background(), "jane.doe", "cargo123")
	if err == nil || errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("store failure must not look like a bad credential, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Lookup(ctx, "jane.doe"); err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, err := svc.Lookup(ctx, "former.officer"); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
	if _, err := svc.Lookup(ctx, "nobody"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// EffectiveAuthorities
// ---------------------------------------------------------------------------

func TestEffectiveAuthoritiesDeduplicates(t *testing.T) {
	u := &model.User{Roles: []model.Role{
		{Name: "CARGO_INSPECTOR", Authorities: []string{authority.ReadCargo, authority.InspectCargo}},
		{Name: "SUPERVISOR", Authorities: []string{authority.ReadCargo, authority.ViewAuditLog}},
	}}

	got := EffectiveAuthorities(u)
	want := authority.NewSet(
		"ROLE_CARGO_INSPECTOR", "ROLE_SUPERVISOR",
		authority.ReadCargo, authority.InspectCargo, authority.ViewAuditLog,
	)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got.Names(), want.Names())
	}

	count := 0
	for _, n := range got.Names() {
		if n == authority.ReadCargo {
			count++
		}
	}
	if count != 1 {
		t.Errorf("READ_CARGO appears %d times", count)
	}
}

func TestEffectiveAuthoritiesOrderIndependent(t *testing.T) {
	a := model.Role{Name: "DUTY_OFFICER", Authorities: []string{authority.CalculateDuty}}
	b := model.Role{Name: "ADMIN", Authorities: []string{authority.ManageRoles, authority.CalculateDuty}}

	x := EffectiveAuthorities(&model.User{Roles: []model.Role{a, b}})
	y := EffectiveAuthorities(&model.User{Roles: []model.Role{b, a}})
	if !x.Equal(y) {
		t.Fatalf("role order changed the result: %v vs %v", x.Names(), y.Names())
	}
}

func TestEffectiveAuthoritiesEmptyRole(t *testing.T) {
	got := EffectiveAuthorities(&model.User{Roles: []model.Role{{Name: "GUEST"}}})
	if !got.Equal(authority.NewSet("ROLE_GUEST")) {
		t.Fatalf("got %v", got.Names())
	}
	if !EffectiveAuthorities(&model.User{}).IsEmpty() {
		t.Fatal("user without roles should have no authorities")
	}
}

func TestHashPassword(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Fatal("expected error for short password")
	}
	h, err := HashPassword("long-enough")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(h), []byte("long-enough")); err != nil {
		t.Fatalf("hash does not verify: %v", err)
	}
}
