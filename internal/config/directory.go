package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/customsops/customs/internal/model"
)

// ---------------------------------------------------------------------------
// Authorities
// ---------------------------------------------------------------------------

// ListAuthorities returns every stored authority ordered by category and
// name.
func (s *Store) ListAuthorities(ctx context.Context) ([]model.Authority, error) {
	var out []model.Authority
	if err := s.db.SelectContext(ctx, &out,
		"SELECT id, name, description, category FROM authorities ORDER BY category, name"); err != nil {
		return nil, fmt.Errorf("list authorities: %w", err)
	}
	return out, nil
}

// authorityIDs resolves names to ids. Any unknown name fails with
// ErrUnknownAuthority.
func authorityIDs(ctx context.Context, q sqlx.ExtContext, names []string) ([]int64, error) {
	names = dedupe(names)
	if len(names) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In("SELECT id, name FROM authorities WHERE name IN (?)", names)
	if err != nil {
		return nil, fmt.Errorf("build authority query: %w", err)
	}
	var rows []struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("resolve authorities: %w", err)
	}
	found := make(map[string]int64, len(rows))
	for _, r := range rows {
		found[r.Name] = r.ID
	}
	ids := make([]int64, 0, len(names))
	for _, n := range names {
		id, ok := found[n]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAuthority, n)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ---------------------------------------------------------------------------
// Roles
// ---------------------------------------------------------------------------

type roleRow struct {
	ID          int64     `db:"id"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r roleRow) toModel(authorities []string) model.Role {
	if authorities == nil {
		authorities = []string{}
	}
	return model.Role{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Authorities: authorities,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// CreateRole inserts a role with its authorities. The ID, CreatedAt, and
// UpdatedAt fields are populated after a successful insert.
func (s *Store) CreateRole(ctx context.Context, role *model.Role) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.createRole(ctx, tx, role); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) createRole(ctx context.Context, tx *sqlx.Tx, role *model.Role) error {
	ids, err := authorityIDs(ctx, tx, role.Authorities)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	id, err := s.insertReturningID(ctx, tx,
		"INSERT INTO roles (name, description, created_at, updated_at) VALUES (?, ?, ?, ?)",
		role.Name, role.Description, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("role %q: %w", role.Name, ErrDuplicate)
		}
		return fmt.Errorf("insert role: %w", err)
	}

	if err := insertRoleAuthorities(ctx, tx, id, ids); err != nil {
		return err
	}
	role.ID = id
	role.CreatedAt = now
	role.UpdatedAt = now
	role.Authorities = dedupe(role.Authorities)
	return nil
}

func insertRoleAuthorities(ctx context.Context, tx *sqlx.Tx, roleID int64, authorityIDs []int64) error {
	q := tx.Rebind("INSERT INTO role_authorities (role_id, authority_id) VALUES (?, ?)")
	for _, aid := range authorityIDs {
		if _, err := tx.ExecContext(ctx, q, roleID, aid); err != nil {
			return fmt.Errorf("insert role authority: %w", err)
		}
	}
	return nil
}

// GetRoleByName returns a role with its authorities.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*model.Role, error) {
	var row roleRow
	err := s.db.GetContext(ctx, &row,
		s.db.Rebind("SELECT id, name, description, created_at, updated_at FROM roles WHERE name = ?"), name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get role by name: %w", err)
	}
	auths, err := s.roleAuthorities(ctx, []int64{row.ID})
	if err != nil {
		return nil, err
	}
	role := row.toModel(auths[row.ID])
	return &role, nil
}

// ListRoles returns all roles with their authorities, ordered by name.
func (s *Store) ListRoles(ctx context.Context) ([]model.Role, error) {
	var rows []roleRow
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name"); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	auths, err := s.roleAuthorities(ctx, ids)
	if err != nil {
		return nil, err
	}
	roles := make([]model.Role, len(rows))
	for i, r := range rows {
		roles[i] = r.toModel(auths[r.ID])
	}
	return roles, nil
}

// SetRoleAuthorities replaces a role's authorities within a transaction.
func (s *Store) SetRoleAuthorities(ctx context.Context, roleName string, names []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var roleID int64
	if err := tx.GetContext(ctx, &roleID, tx.Rebind("SELECT id FROM roles WHERE name = ?"), roleName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("get role: %w", err)
	}
	ids, err := authorityIDs(ctx, tx, names)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM role_authorities WHERE role_id = ?"), roleID); err != nil {
		return fmt.Errorf("delete existing role authorities: %w", err)
	}
	if err := insertRoleAuthorities(ctx, tx, roleID, ids); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("UPDATE roles SET updated_at = ? WHERE id = ?"),
		time.Now().UTC(), roleID); err != nil {
		return fmt.Errorf("touch role: %w", err)
	}
	return tx.Commit()
}

// roleAuthorities loads authority names for the given roles, keyed by role
// id and sorted by name.
func (s *Store) roleAuthorities(ctx context.Context, roleIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string, len(roleIDs))
	if len(roleIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT ra.role_id, a.name
		FROM role_authorities ra
		JOIN authorities a ON a.id = ra.authority_id
		WHERE ra.role_id IN (?)
		ORDER BY a.name`, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("build role authority query: %w", err)
	}
	var rows []struct {
		RoleID int64  `db:"role_id"`
		Name   string `db:"name"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load role authorities: %w", err)
	}
	for _, r := range rows {
		out[r.RoleID] = append(out[r.RoleID], r.Name)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

const userColumns = "id, username, email, password_hash, full_name, enabled, last_login_at, created_at, updated_at"

// CreateUser inserts a user and grants roleNames. Username and email must be
// unique; a clash fails with ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, u *model.User, roleNames []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var taken int
	if err := tx.GetContext(ctx, &taken,
		tx.Rebind("SELECT COUNT(*) FROM users WHERE username = ? OR email = ?"), u.Username, u.Email); err != nil {
		return fmt.Errorf("check user uniqueness: %w", err)
	}
	if taken > 0 {
		return fmt.Errorf("user %q: %w", u.Username, ErrDuplicate)
	}

	roleIDs, err := roleIDs(ctx, tx, roleNames)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	id, err := s.insertReturningID(ctx, tx,
		`INSERT INTO users (username, email, password_hash, full_name, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, u.FullName, u.Enabled, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %q: %w", u.Username, ErrDuplicate)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	if err := insertUserRoles(ctx, tx, id, roleIDs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit user: %w", err)
	}

	u.ID = id
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

// GetUserByUsername returns a user with roles and role authorities loaded.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u,
		s.db.Rebind("SELECT "+userColumns+" FROM users WHERE username = ?"), username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	roles, err := s.userRoles(ctx, []int64{u.ID})
	if err != nil {
		return nil, err
	}
	u.Roles = roles[u.ID]
	if u.Roles == nil {
		u.Roles = []model.Role{}
	}
	return &u, nil
}

// ListUsers returns all users with their roles, ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users,
		"SELECT "+userColumns+" FROM users ORDER BY username"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	ids := make([]int64, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	roles, err := s.userRoles(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].Roles = roles[users[i].ID]
		if users[i].Roles == nil {
			users[i].Roles = []model.Role{}
		}
	}
	return users, nil
}

// HasAnyUser reports whether at least one user exists.
func (s *Store) HasAnyUser(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users"); err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// SetUserEnabled enables or disables a user.
func (s *Store) SetUserEnabled(ctx context.Context, username string, enabled bool) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE users SET enabled = ?, updated_at = ? WHERE username = ?"),
		enabled, time.Now().UTC(), username)
	if err != nil {
		return fmt.Errorf("update user enabled: %w", err)
	}
	return rowsAffected(result, "update user enabled")
}

// SetUserPassword replaces a user's password hash.
func (s *Store) SetUserPassword(ctx context.Context, username, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE users SET password_hash = ?, updated_at = ? WHERE username = ?"),
		passwordHash, time.Now().UTC(), username)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return rowsAffected(result, "update user password")
}

// SetUserRoles replaces a user's roles within a transaction.
func (s *Store) SetUserRoles(ctx context.Context, username string, roleNames []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var userID int64
	if err := tx.GetContext(ctx, &userID, tx.Rebind("SELECT id FROM users WHERE username = ?"), username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("get user: %w", err)
	}
	ids, err := roleIDs(ctx, tx, roleNames)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM user_roles WHERE user_id = ?"), userID); err != nil {
		return fmt.Errorf("delete existing user roles: %w", err)
	}
	if err := insertUserRoles(ctx, tx, userID, ids); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind("UPDATE users SET updated_at = ? WHERE id = ?"),
		time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return tx.Commit()
}

// UpdateUserLastLogin sets the last_login_at timestamp for a user.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		s.db.Rebind("UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?"), now, now, id)
	if err != nil {
		return fmt.Errorf("update user last login: %w", err)
	}
	return rowsAffected(result, "update user last login")
}

func roleIDs(ctx context.Context, q sqlx.ExtContext, names []string) ([]int64, error) {
	names = dedupe(names)
	if len(names) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In("SELECT id, name FROM roles WHERE name IN (?)", names)
	if err != nil {
		return nil, fmt.Errorf("build role query: %w", err)
	}
	var rows []struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}
	if err := sqlx.SelectContext(ctx, q, &rows, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("resolve roles: %w", err)
	}
	found := make(map[string]int64, len(rows))
	for _, r := range rows {
		found[r.Name] = r.ID
	}
	ids := make([]int64, 0, len(names))
	for _, n := range names {
		id, ok := found[n]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, n)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func insertUserRoles(ctx context.Context, tx *sqlx.Tx, userID int64, roleIDs []int64) error {
	q := tx.Rebind("INSERT INTO user_roles (user_id, role_id) VALUES (?, ?)")
	for _, rid := range roleIDs {
		if _, err := tx.ExecContext(ctx, q, userID, rid); err != nil {
			return fmt.Errorf("insert user role: %w", err)
		}
	}
	return nil
}

// userRoles loads the roles, with authorities, of the given users. Roles
// and authorities are fetched once each and joined in memory.
func (s *Store) userRoles(ctx context.Context, userIDs []int64) (map[int64][]model.Role, error) {
	out := make(map[int64][]model.Role, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT ur.user_id, r.id, r.name, r.description, r.created_at, r.updated_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id IN (?)
		ORDER BY r.name`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("build user role query: %w", err)
	}
	var rows []struct {
		UserID      int64     `db:"user_id"`
		ID          int64     `db:"id"`
		Name        string    `db:"name"`
		Description string    `db:"description"`
		CreatedAt   time.Time `db:"created_at"`
		UpdatedAt   time.Time `db:"updated_at"`
	}
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("load user roles: %w", err)
	}

	seen := make(map[int64]bool)
	var ids []int64
	for _, r := range rows {
		if !seen[r.ID] {
			seen[r.ID] = true
			ids = append(ids, r.ID)
		}
	}
	auths, err := s.roleAuthorities(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		role := roleRow{ID: r.ID, Name: r.Name, Description: r.Description, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
		out[r.UserID] = append(out[r.UserID], role.toModel(auths[r.ID]))
	}
	return out, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
