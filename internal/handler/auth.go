package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/customsops/customs/internal/principal"
	"github.com/customsops/customs/internal/rbac"
	"github.com/customsops/customs/internal/server/middleware"
	"github.com/customsops/customs/internal/service"
)

// AuthHandler serves login and session introspection.
type AuthHandler struct {
	authSvc *service.AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authSvc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{authSvc: authSvc, logger: logger}
}

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// tokenResponse is returned by Login and Refresh.
type tokenResponse struct {
	Token       string    `json:"token"`
	Type        string    `json:"type"`
	ExpiresAt   time.Time `json:"expires_at"`
	ExpiresIn   int       `json:"expires_in"`
	Username    string    `json:"username"`
	Email       string    `json:"email,omitempty"`
	DisplayName string    `json:"display_name"`
	Roles       []string  `json:"roles"`
	Authorities []string  `json:"authorities"`
}

// principalSummary is the short identity view returned by Validate.
type principalSummary struct {
	Authenticated bool     `json:"authenticated"`
	Subject       string   `json:"subject"`
	Username      string   `json:"username"`
	Email         string   `json:"email,omitempty"`
	DisplayName   string   `json:"display_name"`
	Source        string   `json:"source"`
	Roles         []string `json:"roles"`
	Authorities   []string `json:"authorities"`
}

func summarize(p *principal.Principal) principalSummary {
	return principalSummary{
		Authenticated: true,
		Subject:       p.Subject,
		Username:      p.Username,
		Email:         p.Email,
		DisplayName:   p.DisplayName,
		Source:        p.Source,
		Roles:         nonNil(p.Roles()),
		Authorities:   nonNil(p.Permissions()),
	}
}

func (h *AuthHandler) tokenResponse(sess *service.Session) tokenResponse {
	p := sess.Principal
	return tokenResponse{
		Token:       sess.Token,
		Type:        "Bearer",
		ExpiresAt:   sess.ExpiresAt,
		ExpiresIn:   int(time.Until(sess.ExpiresAt).Seconds()),
		Username:    p.Username,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Roles:       nonNil(p.Roles()),
		Authorities: nonNil(p.Permissions()),
	}
}

// Login authenticates a local user and returns a signed token.
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	sess, err := h.authSvc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, rbac.ErrInvalidCredential) || errors.Is(err, rbac.ErrAccountDisabled) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.logger.ErrorContext(r.Context(), "login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Authentication error")
		return
	}
	writeJSON(w, http.StatusOK, h.tokenResponse(sess))
}

// Validate confirms the bearer token and returns a principal summary.
// POST /api/auth/validate
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, summarize(p))
}

// UserInfo returns the full principal including token metadata.
// GET /api/auth/user-info
func (h *AuthHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	p := middleware.GetPrincipal(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"principal":   p,
		"roles":       nonNil(p.Roles()),
		"permissions": nonNil(p.Permissions()),
	})
}

// refreshResponse reports whether a new token was issued.
type refreshResponse struct {
	Refreshed bool             `json:"refreshed"`
	Message   string           `json:"message"`
	Session   *tokenResponse   `json:"session,omitempty"`
	User      principalSummary `json:"user"`
}

// Refresh reissues a local token, or confirms an external token is still
// valid.
// POST /api/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := middleware.BearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	sess, err := h.authSvc.Refresh(r.Context(), raw)
	if err != nil {
		h.logger.WarnContext(r.Context(), "refresh rejected", "reason", service.FailureReason(err))
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	resp := refreshResponse{User: summarize(sess.Principal)}
	if sess.Principal.Source == principal.KindLocal {
		tr := h.tokenResponse(sess)
		resp.Refreshed = true
		resp.Message = "Token refreshed"
		resp.Session = &tr
	} else {
		resp.Message = "Token is still valid"
	}
	writeJSON(w, http.StatusOK, resp)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
