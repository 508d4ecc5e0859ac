package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/customsops/customs/internal/token"
)

// ErrUnknownAuthority is returned by MapperConfig.Validate when the table or
// a fallback bundle names an authority outside the catalog.
var ErrUnknownAuthority = errors.New("unknown authority")

// Fallback tiers.
const (
	TierMachine = "machine"
	TierHuman   = "human"
)

// FallbackConfig holds the bundles granted when no group claim maps to any
// authority.
type FallbackConfig struct {
	// MachineClaim names the claim that marks a service token, e.g. "aut".
	MachineClaim string `yaml:"machine_claim"`
	// MachineValues are the claim values, compared case-insensitively, that
	// select the machine tier.
	MachineValues []string `yaml:"machine_values"`
	Machine       []string `yaml:"machine"`
	Human         []string `yaml:"human"`
}

// MapperConfig is the operator-curated mapping from external group names to
// authorities.
type MapperConfig struct {
	// ClaimNames lists the claims read for group values, in order.
	ClaimNames []string            `yaml:"claims"`
	Groups     map[string][]string `yaml:"groups"`
	Fallback   FallbackConfig      `yaml:"fallback"`
}

// DefaultMapperConfig returns the mapping used when configuration leaves it
// out.
func DefaultMapperConfig() MapperConfig {
	return MapperConfig{
		ClaimNames: []string{"groups", "roles", "scope"},
		Groups: map[string][]string{
			"admin": Names(),
			"customs_officer": {
				ReadCargo, UpdateCargo, InspectCargo,
				ReadVehicle, UpdateVehicle, InspectVehicle,
				CalculateDuty, ProcessPayment, ViewReports,
			},
			"cargo_inspector":   {ReadCargo, CreateCargo, InspectCargo},
			"vehicle_inspector": {ReadVehicle, CreateVehicle, InspectVehicle},
			"duty_officer": {
				CalculateDuty, ApproveDuty, ProcessPayment, RefundDuty, ViewReports,
			},
			"supervisor": {
				ReadCargo, ReadVehicle, ViewReports, GenerateReports, ViewAuditLog,
			},
		},
		Fallback: FallbackConfig{
			MachineClaim:  "aut",
			MachineValues: []string{"APPLICATION"},
			Machine:       []string{ReadCargo, ReadVehicle, ViewReports, ViewDashboard},
			Human:         []string{ViewDashboard},
		},
	}
}

// Validate checks that every authority the configuration grants is a
// catalog authority or a role authority.
func (c MapperConfig) Validate() error {
	if len(c.ClaimNames) == 0 {
		return errors.New("mapping: at least one group claim name is required")
	}
	check := func(where string, names []string) error {
		for _, n := range names {
			if !Known(n) && !IsRoleAuthority(n) {
				return fmt.Errorf("%w: %q in %s", ErrUnknownAuthority, n, where)
			}
		}
		return nil
	}
	for group, names := range c.Groups {
		if strings.TrimSpace(group) == "" {
			return errors.New("mapping: empty group name")
		}
		if err := check("group "+group, names); err != nil {
			return err
		}
	}
	if err := check("machine fallback", c.Fallback.Machine); err != nil {
		return err
	}
	if len(c.Fallback.Human) == 0 {
		return errors.New("mapping: the human fallback bundle must not be empty")
	}
	return check("human fallback", c.Fallback.Human)
}

// Mapper derives an authority Set from token claims. Built once at startup
// and read-only afterwards, so it is safe for concurrent use.
type Mapper struct {
	claimNames    []string
	groups        map[string]Set
	machineClaim  string
	machineValues []string
	machine       Set
	human         Set
	logger        *slog.Logger
}

// NewMapper builds a Mapper. Group names are lower-cased.
func NewMapper(cfg MapperConfig, logger *slog.Logger) *Mapper {
	groups := make(map[string]Set, len(cfg.Groups))
	for g, names := range cfg.Groups {
		key := strings.ToLower(strings.TrimSpace(g))
		groups[key] = groups[key].Union(NewSet(names...))
	}
	return &Mapper{
		claimNames:    append([]string(nil), cfg.ClaimNames...),
		groups:        groups,
		machineClaim:  cfg.Fallback.MachineClaim,
		machineValues: append([]string(nil), cfg.Fallback.MachineValues...),
		machine:       NewSet(cfg.Fallback.Machine...),
		human:         NewSet(cfg.Fallback.Human...),
		logger:        logger,
	}
}

// Map returns the authorities granted to a verified token. It never fails:
// a token whose groups map to nothing receives a fallback bundle.
func (m *Mapper) Map(ctx context.Context, tok *token.Verified) Set {
	return m.MapClaims(ctx, tok.Claims)
}

// MapClaims is Map over a raw claim map.
func (m *Mapper) MapClaims(ctx context.Context, claims map[string]any) Set {
	var result Set
	var groups []string
	for _, name := range m.claimNames {
		groups = append(groups, ClaimValues(claims[name])...)
	}
	for _, g := range groups {
		if mapped, ok := m.groups[strings.ToLower(g)]; ok {
			result = result.Union(mapped)
		}
	}
	if !result.IsEmpty() {
		return result
	}

	tier, bundle := TierHuman, m.human
	if m.isMachine(claims) {
		tier, bundle = TierMachine, m.machine
	}
	sub, _ := claims["sub"].(string)
	m.logger.WarnContext(ctx, "no mapped groups, applying fallback authorities",
		"tier", tier,
		"subject", sub,
		"groups", len(groups),
		"authorities", bundle.Names(),
	)
	return bundle
}

func (m *Mapper) isMachine(claims map[string]any) bool {
	if m.machineClaim == "" {
		return false
	}
	for _, v := range ClaimValues(claims[m.machineClaim]) {
		for _, want := range m.machineValues {
			if strings.EqualFold(v, want) {
				return true
			}
		}
	}
	return false
}

// ClaimValues normalizes a claim to a list of strings. A string is split on
// spaces and commas; a list keeps its string elements. Anything else yields
// nothing.
func ClaimValues(v any) []string {
	switch val := v.(type) {
	case string:
		return strings.FieldsFunc(val, func(r rune) bool {
			return r == ' ' || r == ',' || r == '\t' || r == '\n'
		})
	case []string:
		return trimmed(val)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return trimmed(out)
	default:
		return nil
	}
}

func trimmed(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
