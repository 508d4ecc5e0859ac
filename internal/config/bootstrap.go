package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/customsops/customs/internal/authority"
	"github.com/customsops/customs/internal/model"
)

// settingBootstrappedAt records when the catalog was last reconciled.
const settingBootstrappedAt = "bootstrapped_at"

// BootstrapResult counts the rows Bootstrap created.
type BootstrapResult struct {
	Authorities int
	Roles       int
}

// Bootstrap creates missing catalog authorities and missing roles. Existing
// rows are left untouched, so it is safe to run on every start.
func (s *Store) Bootstrap(ctx context.Context, defs []authority.Definition, roles []authority.RoleDefinition) (BootstrapResult, error) {
	var res BootstrapResult

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var existing []string
	if err := tx.SelectContext(ctx, &existing, "SELECT name FROM authorities"); err != nil {
		return res, fmt.Errorf("list authorities: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, n := range existing {
		have[n] = true
	}
	for _, d := range defs {
		if have[d.Name] {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind("INSERT INTO authorities (name, description, category) VALUES (?, ?, ?)"),
			d.Name, d.Description, d.Category); err != nil {
			return res, fmt.Errorf("insert authority %s: %w", d.Name, err)
		}
		have[d.Name] = true
		res.Authorities++
	}

	var roleNames []string
	if err := tx.SelectContext(ctx, &roleNames, "SELECT name FROM roles"); err != nil {
		return res, fmt.Errorf("list roles: %w", err)
	}
	haveRole := make(map[string]bool, len(roleNames))
	for _, n := range roleNames {
		haveRole[n] = true
	}
	for _, rd := range roles {
		if haveRole[rd.Name] {
			continue
		}
		role := &model.Role{Name: rd.Name, Description: rd.Description, Authorities: rd.Authorities}
		if err := s.createRole(ctx, tx, role); err != nil {
			return res, fmt.Errorf("create role %s: %w", rd.Name, err)
		}
		res.Roles++
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM settings WHERE name = ?"), settingBootstrappedAt); err != nil {
		return res, fmt.Errorf("clear bootstrap marker: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("INSERT INTO settings (name, value) VALUES (?, ?)"),
		settingBootstrappedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return res, fmt.Errorf("write bootstrap marker: %w", err)
	}
	return res, tx.Commit()
}

// SeedUser is a user created by SeedUsers.
type SeedUser struct {
	Username string
	Email    string
	Password string
	FullName string
	Roles    []string
}

// DemoUsers returns the demonstration accounts created by serve --seed-demo.
func DemoUsers() []SeedUser {
	return []SeedUser{
		{"admin.customs", "admin@customs.gov", "admin123", "Admin User", []string{authority.RoleAdmin}},
		{"john.smith", "john.smith@customs.gov", "customs123", "John Smith", []string{authority.RoleCustomsOfficer}},
		{"jane.doe", "jane.doe@customs.gov", "cargo123", "Jane Doe", []string{authority.RoleCargoInspector}},
		{"mike.wilson", "mike.wilson@customs.gov", "vehicle123", "Mike Wilson", []string{authority.RoleVehicleInspector}},
	}
}

// SeedUsers creates each user that does not exist yet. hash turns a plain
// password into the stored hash. It returns the number of users created.
func (s *Store) SeedUsers(ctx context.Context, users []SeedUser, hash func(string) (string, error)) (int, error) {
	created := 0
	for _, su := range users {
		if _, err := s.GetUserByUsername(ctx, su.Username); err == nil {
			continue
		} else if !errors.Is(err, ErrNotFound) {
			return created, err
		}

		h, err := hash(su.Password)
		if err != nil {
			return created, fmt.Errorf("hash password for %s: %w", su.Username, err)
		}
		u := &model.User{
			Username:     su.Username,
			Email:        su.Email,
			PasswordHash: h,
			FullName:     su.FullName,
			Enabled:      true,
		}
		if err := s.CreateUser(ctx, u, su.Roles); err != nil {
			return created, fmt.Errorf("create user %s: %w", su.Username, err)
		}
		created++
	}
	return created, nil
}
