package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/customsops/customs/internal/config"
	"github.com/customsops/customs/internal/model"
	"github.com/customsops/customs/internal/rbac"
	"github.com/customsops/customs/internal/server/middleware"
)

// AdminHandler manages the local directory: users, roles and the authority
// catalog.
type AdminHandler struct {
	store  *config.Store
	logger *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(store *config.Store, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{store: store, logger: logger}
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// ListUsers returns every user with roles loaded.
// GET /api/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeStoreError(w, r, h.logger, err, "list users")
		return
	}
	writeList(w, users)
}

type createUserRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	FullName string   `json:"full_name"`
	Roles    []string `json:"roles"`
	Enabled  *bool    `json:"enabled"`
}

// CreateUser adds a local account.
// POST /api/admin/users
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if req.Username == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "Username and email are required")
		return
	}

	hash, err := rbac.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	u := &model.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		Enabled:      req.Enabled == nil || *req.Enabled,
	}
	if err := h.store.CreateUser(r.Context(), u, upperAll(req.Roles)); err != nil {
		writeStoreError(w, r, h.logger, err, "create user")
		return
	}

	created, err := h.store.GetUserByUsername(r.Context(), u.Username)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "load user")
		return
	}
	h.audit(r, "user created", "username", u.Username, "roles", created.RoleNames())
	writeJSON(w, http.StatusCreated, created)
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// SetUserEnabled enables or disables an account.
// PUT /api/admin/users/{username}/enabled
func (h *AdminHandler) SetUserEnabled(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	var req setEnabledRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.store.SetUserEnabled(r.Context(), username, req.Enabled); err != nil {
		writeStoreError(w, r, h.logger, err, "update user")
		return
	}
	h.audit(r, "user enabled changed", "username", username, "enabled", req.Enabled)
	h.writeUser(w, r, username)
}

type setRolesRequest struct {
	Roles []string `json:"roles"`
}

// SetUserRoles replaces a user's roles.
// PUT /api/admin/users/{username}/roles
func (h *AdminHandler) SetUserRoles(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	var req setRolesRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.store.SetUserRoles(r.Context(), username, upperAll(req.Roles)); err != nil {
		writeStoreError(w, r, h.logger, err, "update user roles")
		return
	}
	h.audit(r, "user roles changed", "username", username, "roles", req.Roles)
	h.writeUser(w, r, username)
}

func (h *AdminHandler) writeUser(w http.ResponseWriter, r *http.Request, username string) {
	u, err := h.store.GetUserByUsername(r.Context(), username)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "load user")
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ---------------------------------------------------------------------------
// Roles and authorities
// ---------------------------------------------------------------------------

// ListRoles returns every role with its authorities.
// GET /api/admin/roles
func (h *AdminHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		writeStoreError(w, r, h.logger, err, "list roles")
		return
	}
	writeList(w, roles)
}

type setAuthoritiesRequest struct {
	Authorities []string `json:"authorities"`
}

// SetRoleAuthorities replaces a role's authorities.
// PUT /api/admin/roles/{role}/authorities
func (h *AdminHandler) SetRoleAuthorities(w http.ResponseWriter, r *http.Request) {
	name := strings.ToUpper(chi.URLParam(r, "role"))
	var req setAuthoritiesRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if err := h.store.SetRoleAuthorities(r.Context(), name, upperAll(req.Authorities)); err != nil {
		writeStoreError(w, r, h.logger, err, "update role")
		return
	}
	role, err := h.store.GetRoleByName(r.Context(), name)
	if err != nil {
		writeStoreError(w, r, h.logger, err, "load role")
		return
	}
	h.audit(r, "role authorities changed", "role", name, "authorities", role.Authorities)
	writeJSON(w, http.StatusOK, role)
}

// authorityGroup is one category of the catalog.
type authorityGroup struct {
	Category    string            `json:"category"`
	Authorities []model.Authority `json:"authorities"`
}

// ListAuthorities returns the catalog grouped by category.
// GET /api/admin/authorities
func (h *AdminHandler) ListAuthorities(w http.ResponseWriter, r *http.Request) {
	auths, err := h.store.ListAuthorities(r.Context())
	if err != nil {
		writeStoreError(w, r, h.logger, err, "list authorities")
		return
	}
	var groups []authorityGroup
	index := make(map[string]int)
	for _, a := range auths {
		i, ok := index[a.Category]
		if !ok {
			i = len(groups)
			index[a.Category] = i
			groups = append(groups, authorityGroup{Category: a.Category})
		}
		groups[i].Authorities = append(groups[i].Authorities, a)
	}
	writeList(w, groups)
}

// audit logs an administrative change with the acting subject.
func (h *AdminHandler) audit(r *http.Request, msg string, args ...any) {
	if p := middleware.GetPrincipal(r.Context()); p != nil {
		args = append(args, "actor", p.Subject)
	}
	h.logger.InfoContext(r.Context(), msg, args...)
}

func upperAll(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.ToUpper(strings.TrimSpace(n)); n != "" {
			out = append(out, n)
		}
	}
	return out
}
