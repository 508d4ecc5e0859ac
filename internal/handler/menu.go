package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/customsops/customs/internal/authority"
	"github.com/customsops/customs/internal/menu"
	"github.com/customsops/customs/internal/server/middleware"
)

// MenuHandler serves the navigation menu filtered by the caller's
// authorities.
type MenuHandler struct {
	engine *menu.Engine
}

// NewMenuHandler creates a new MenuHandler.
func NewMenuHandler(engine *menu.Engine) *MenuHandler {
	return &MenuHandler{engine: engine}
}

type userMenuResponse struct {
	MenuItems   []menu.Item `json:"menu_items"`
	Authorities []string    `json:"authorities"`
}

// UserMenu returns the items visible to the caller.
// GET /api/menu/user
func (h *MenuHandler) UserMenu(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, userMenuResponse{
		MenuItems:   h.engine.VisibleItems(p.Authorities),
		Authorities: nonNil(p.Authorities.Names()),
	})
}

// AllItems returns the full menu definition.
// GET /api/menu/all
func (h *MenuHandler) AllItems(w http.ResponseWriter, r *http.Request) {
	writeList(w, h.engine.All())
}

// ByAuthority returns the items gated by one authority.
// GET /api/menu/by-authority/{authority}
func (h *MenuHandler) ByAuthority(w http.ResponseWriter, r *http.Request) {
	name := strings.ToUpper(chi.URLParam(r, "authority"))
	if !authority.Known(name) && !authority.IsRoleAuthority(name) {
		writeError(w, http.StatusBadRequest, "Unknown authority: "+name)
		return
	}
	writeList(w, h.engine.ByAuthority(name))
}
