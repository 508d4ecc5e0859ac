package authority

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"testing"

	"github.com/customsops/customs/internal/token"
)

func newTestMapper(t *testing.T) (*Mapper, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	cfg := DefaultMapperConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	return NewMapper(cfg, logger), &buf
}

func verified(claims map[string]any) *token.Verified {
	return &token.Verified{Claims: claims}
}

// ---------------------------------------------------------------------------
// Map
// ---------------------------------------------------------------------------

func TestMapScenarioCargoInspector(t *testing.T) {
	m, _ := newTestMapper(t)
	got := m.Map(context.Background(), verified(map[string]any{
		"groups": []any{"cargo_inspector"},
		"exp":    float64(1893456000),
	}))

	want := NewSet(ReadCargo, CreateCargo, InspectCargo)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got.Names(), want.Names())
	}
}

func TestMapIsOrderIndependent(t *testing.T) {
	m, _ := newTestMapper(t)
	ctx := context.Background()

	a := m.Map(ctx, verified(map[string]any{"groups": []any{"admin", "cargo_inspector"}}))
	b := m.Map(ctx, verified(map[string]any{"groups": []any{"cargo_inspector", "admin"}}))
	if !a.Equal(b) {
		t.Fatalf("order changed result:\n %v\n %v", a.Names(), b.Names())
	}

	// Mapping the same token again gives the same set.
	again := m.Map(ctx, verified(map[string]any{"groups": []any{"admin", "cargo_inspector"}}))
	if !a.Equal(again) {
		t.Fatal("mapping is not idempotent")
	}
	if a.Len() != len(Names()) {
		t.Errorf("admin should hold the whole catalog once, got %d names", a.Len())
	}
}

func TestMapDropsUnknownGroups(t *testing.T) {
	m, buf := newTestMapper(t)
	got := m.Map(context.Background(), verified(map[string]any{
		"groups": []any{"not_a_real_group"},
	}))

	if got.Contains("not_a_real_group") {
		t.Fatal("unknown group passed through as an authority")
	}
	if !got.Equal(NewSet(ViewDashboard)) {
		t.Fatalf("expected human fallback, got %v", got.Names())
	}
	if !strings.Contains(buf.String(), "tier=human") {
		t.Errorf("fallback was not logged: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "level=WARN") {
		t.Errorf("fallback should log at WARN: %q", buf.String())
	}
}

func TestMapUnknownGroupAlongsideKnown(t *testing.T) {
	m, buf := newTestMapper(t)
	got := m.Map(context.Background(), verified(map[string]any{
		"groups": []any{"not_a_real_group", "vehicle_inspector"},
	}))
	want := NewSet(ReadVehicle, CreateVehicle, InspectVehicle)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got.Names(), want.Names())
	}
	if buf.Len() != 0 {
		t.Errorf("no fallback expected, logged %q", buf.String())
	}
}

func TestMapFallbackTiers(t *testing.T) {
	m, _ := newTestMapper(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		claims map[string]any
		want   Set
	}{
		{
			name:   "no claims",
			claims: map[string]any{},
			want:   NewSet(ViewDashboard),
		},
		{
			name:   "human token",
			claims: map[string]any{"aut": "APPLICATION_USER"},
			want:   NewSet(ViewDashboard),
		},
		{
			name:   "machine token",
			claims: map[string]any{"aut": "APPLICATION"},
			want:   NewSet(ReadCargo, ReadVehicle, ViewReports, ViewDashboard),
		},
		{
			name:   "machine token lower case",
			claims: map[string]any{"aut": "application", "groups": []any{}},
			want:   NewSet(ReadCargo, ReadVehicle, ViewReports, ViewDashboard),
		},
		{
			name:   "machine token with mapped group uses the group",
			claims: map[string]any{"aut": "APPLICATION", "groups": "cargo_inspector"},
			want:   NewSet(ReadCargo, CreateCargo, InspectCargo),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := m.Map(ctx, verified(tc.claims))
			if !got.Equal(tc.want) {
				t.Fatalf("got %v, want %v", got.Names(), tc.want.Names())
			}
		})
	}
}

func TestMapReadsAllGroupClaims(t *testing.T) {
	m, _ := newTestMapper(t)
	got := m.Map(context.Background(), verified(map[string]any{
		"roles": []string{"Cargo_Inspector"},
		"scope": "openid vehicle_inspector",
	}))
	want := NewSet(ReadCargo, CreateCargo, InspectCargo, ReadVehicle, CreateVehicle, InspectVehicle)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got.Names(), want.Names())
	}
}

func TestMapConfiguredRoleAuthority(t *testing.T) {
	cfg := DefaultMapperConfig()
	cfg.Groups = map[string][]string{"Auditors": {"ROLE_SUPERVISOR", ViewAuditLog}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	m := NewMapper(cfg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	got := m.Map(context.Background(), verified(map[string]any{"groups": "auditors"}))
	if !got.Equal(NewSet("ROLE_SUPERVISOR", ViewAuditLog)) {
		t.Fatalf("got %v", got.Names())
	}
}

// ---------------------------------------------------------------------------
// ClaimValues
// ---------------------------------------------------------------------------

func TestClaimValues(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"space delimited", "admin cargo_inspector", []string{"admin", "cargo_inspector"}},
		{"comma delimited", "admin,cargo_inspector", []string{"admin", "cargo_inspector"}},
		{"mixed delimiters", " admin, cargo_inspector  duty_officer ", []string{"admin", "cargo_inspector", "duty_officer"}},
		{"native list", []any{"admin", 7, " cargo_inspector "}, []string{"admin", "cargo_inspector"}},
		{"string list", []string{"admin", ""}, []string{"admin"}},
		{"empty string", "", []string{}},
		{"number", 42.0, nil},
		{"missing", nil, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ClaimValues(tc.in)
			if len(got) == 0 && len(tc.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func TestMapperConfigValidate(t *testing.T) {
	cfg := DefaultMapperConfig()
	cfg.Groups["custom"] = []string{"FLY_PLANES"}
	if err := cfg.Validate(); !errors.Is(err, ErrUnknownAuthority) {
		t.Fatalf("expected ErrUnknownAuthority, got %v", err)
	}

	cfg = DefaultMapperConfig()
	cfg.Fallback.Machine = []string{"not_real"}
	if err := cfg.Validate(); !errors.Is(err, ErrUnknownAuthority) {
		t.Fatalf("expected ErrUnknownAuthority for machine bundle, got %v", err)
	}

	cfg = DefaultMapperConfig()
	cfg.Fallback.Human = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty human bundle")
	}

	cfg = DefaultMapperConfig()
	cfg.ClaimNames = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for no claim names")
	}
}
