// Package menu filters the static navigation menu by an authority set.
package menu

import (
	"errors"
	"fmt"

	"github.com/customsops/customs/internal/authority"
)

// Item is one navigation entry. An empty RequiredAuthority means the item is
// always visible.
type Item struct {
	ID                string `json:"id" yaml:"id"`
	Label             string `json:"label" yaml:"label"`
	Path              string `json:"path" yaml:"path"`
	Icon              string `json:"icon,omitempty" yaml:"icon"`
	RequiredAuthority string `json:"required_authority,omitempty" yaml:"required_authority"`
}

// DefaultItems returns the built-in menu in display order.
func DefaultItems() []Item {
	return []Item{
		{"dashboard", "Dashboard", "/dashboard", "dashboard", ""},
		{"cargo", "Cargo Management", "/cargo", "cargo", authority.ReadCargo},
		{"cargo-create", "New Cargo Entry", "/cargo/new", "plus", authority.CreateCargo},
		{"cargo-inspect", "Cargo Inspection", "/cargo/inspect", "inspect", authority.InspectCargo},
		{"vehicle", "Vehicle Import", "/vehicles", "vehicle", authority.ReadVehicle},
		{"vehicle-create", "New Vehicle Import", "/vehicles/new", "plus", authority.CreateVehicle},
		{"vehicle-inspect", "Vehicle Inspection", "/vehicles/inspect", "inspect", authority.InspectVehicle},
		{"duty", "Duty Management", "/duty", "payment", authority.CalculateDuty},
		{"reports", "Reports", "/reports", "reports", authority.ViewReports},
		{"admin", "Administration", "/admin", "admin", authority.ManageRoles},
		{"admin-users", "User Management", "/admin/users", "users", authority.ReadUser},
		{"admin-roles", "Role Management", "/admin/roles", "roles", authority.ManageRoles},
		{"settings", "Settings", "/settings", "settings", authority.SystemConfig},
	}
}

// Validate checks item ids are present and unique and that every required
// authority exists.
func Validate(items []Item) error {
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		if it.ID == "" {
			return fmt.Errorf("menu item %d: id is required", i)
		}
		if seen[it.ID] {
			return fmt.Errorf("menu item %q: duplicate id", it.ID)
		}
		seen[it.ID] = true
		if it.RequiredAuthority != "" && !authority.Known(it.RequiredAuthority) && !authority.IsRoleAuthority(it.RequiredAuthority) {
			return fmt.Errorf("menu item %q: %w %q", it.ID, authority.ErrUnknownAuthority, it.RequiredAuthority)
		}
	}
	if len(items) == 0 {
		return errors.New("menu: no items")
	}
	return nil
}

// Engine holds the menu definition. It never changes after construction.
type Engine struct {
	items []Item
}

// NewEngine copies items into a new Engine.
func NewEngine(items []Item) *Engine {
	return &Engine{items: append([]Item(nil), items...)}
}

// VisibleItems returns, in definition order, the items the set may see.
func (e *Engine) VisibleItems(set authority.Set) []Item {
	out := make([]Item, 0, len(e.items))
	for _, it := range e.items {
		if it.RequiredAuthority == "" || set.Contains(it.RequiredAuthority) {
			out = append(out, it)
		}
	}
	return out
}

// All returns every item in definition order.
func (e *Engine) All() []Item {
	return append([]Item(nil), e.items...)
}

// ByAuthority returns the items gated by exactly name.
func (e *Engine) ByAuthority(name string) []Item {
	var out []Item
	for _, it := range e.items {
		if it.RequiredAuthority == name {
			out = append(out, it)
		}
	}
	return out
}
