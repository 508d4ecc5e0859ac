package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/customsops/customs/internal/authority"
	"github.com/customsops/customs/internal/config"
	"github.com/customsops/customs/internal/menu"
	"github.com/customsops/customs/internal/model"
	"github.com/customsops/customs/internal/principal"
	"github.com/customsops/customs/internal/server/middleware"
	"github.com/customsops/customs/internal/service"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store   *config.Store
	authSvc *service.AuthService
	router  chi.Router
}

// newTestEnv creates a fresh test environment with a bootstrapped in-memory
// store, two users and a Chi router with routes mounted (no auth
// middleware). Requests carry their principal in the context.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := config.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("config.NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if _, err := store.Bootstrap(ctx, authority.Catalog(), authority.DefaultRoles()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	for _, u := range []struct {
		user  model.User
		roles []string
	}{
		{model.User{Username: "jane.doe", Email: "jane.doe@customs.gov", FullName: "Jane Doe", Enabled: true}, []string{authority.RoleCargoInspector}},
		{model.User{Username: "gone.user", Email: "gone@customs.gov", Enabled: false}, []string{authority.RoleCustomsOfficer}},
	} {
		user := u.user
		user.PasswordHash = string(hash)
		if err := store.CreateUser(ctx, &user, u.roles); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}

	authSvc := service.NewAuthService(store, service.LocalConfig{
		Issuer:   "customs",
		Secret:   []byte(testJWTSecret),
		TokenTTL: time.Hour,
	}, nil, logger)

	authH := NewAuthHandler(authSvc, logger)
	menuH := NewMenuHandler(menu.NewEngine(menu.DefaultItems()))
	adminH := NewAdminHandler(store, logger)

	r := chi.NewRouter()
	r.Get("/openapi.json", NewOpenAPIHandler("test").ServeSpec)
	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", authH.Login)
		r.Post("/auth/validate", authH.Validate)
		r.Get("/auth/user-info", authH.UserInfo)
		r.Post("/auth/refresh", authH.Refresh)

		r.Get("/menu/user", menuH.UserMenu)
		r.Get("/menu/all", menuH.AllItems)
		r.Get("/menu/by-authority/{authority}", menuH.ByAuthority)

		r.Get("/admin/users", adminH.ListUsers)
		r.Post("/admin/users", adminH.CreateUser)
		r.Put("/admin/users/{username}/enabled", adminH.SetUserEnabled)
		r.Put("/admin/users/{username}/roles", adminH.SetUserRoles)
		r.Get("/admin/roles", adminH.ListRoles)
		r.Put("/admin/roles/{role}/authorities", adminH.SetRoleAuthorities)
		r.Get("/admin/authorities", adminH.ListAuthorities)
	})

	return &testEnv{store: store, authSvc: authSvc, router: r}
}

// do sends a request through the router. p, when non-nil, is attached as the
// authenticated principal.
func (e *testEnv) do(t *testing.T, method, path string, body any, p *principal.Principal, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
		rdr = http.NoBody
	case string:
		rdr = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	if p != nil {
		req = req.WithContext(middleware.WithPrincipal(req.Context(), p))
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func adminPrincipal() *principal.Principal {
	names := append(authority.Names(), authority.RoleAuthority(authority.RoleAdmin))
	return &principal.Principal{
		Subject:     "admin.customs",
		Username:    "admin.customs",
		Source:      principal.KindLocal,
		Authorities: authority.NewSet(names...),
	}
}

func cargoPrincipal() *principal.Principal {
	return &principal.Principal{
		Subject:  "cargo.bot",
		Username: "cargo.bot",
		Source:   principal.KindExternal,
		Authorities: authority.NewSet(
			authority.ReadCargo, authority.CreateCargo, authority.InspectCargo),
	}
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/auth/login", loginRequest{Username: "jane.doe", Password: testPassword}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode[tokenResponse](t, rr)
	if resp.Token == "" || resp.Type != "Bearer" {
		t.Errorf("token response = %+v", resp)
	}
	if len(resp.Roles) != 1 || resp.Roles[0] != authority.RoleCargoInspector {
		t.Errorf("roles = %v", resp.Roles)
	}
	if resp.DisplayName != "Jane Doe" {
		t.Errorf("display name = %q", resp.DisplayName)
	}

	p, err := env.authSvc.Authenticate(context.Background(), resp.Token)
	if err != nil {
		t.Fatalf("issued token does not authenticate: %v", err)
	}
	if p.Username != "jane.doe" {
		t.Errorf("principal = %+v", p)
	}
}

func TestLoginFailuresShareOneResponse(t *testing.T) {
	env := newTestEnv(t)

	wrong := env.do(t, "POST", "/api/auth/login", loginRequest{Username: "jane.doe", Password: "nope-nope"}, nil)
	unknown := env.do(t, "POST", "/api/auth/login", loginRequest{Username: "ghost", Password: testPassword}, nil)
	disabled := env.do(t, "POST", "/api/auth/login", loginRequest{Username: "gone.user", Password: testPassword}, nil)

	for name, rr := range map[string]*httptest.ResponseRecorder{"wrong": wrong, "unknown": unknown, "disabled": disabled} {
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", name, rr.Code)
		}
		if rr.Body.String() != wrong.Body.String() {
			t.Errorf("%s: body %q differs from %q", name, rr.Body.String(), wrong.Body.String())
		}
	}
}

func TestLoginBadRequest(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"empty body", nil},
		{"missing password", loginRequest{Username: "jane.doe"}},
		{"unknown field", `{"username":"jane.doe","password":"x","remember":true}`},
		{"not json", "username=jane"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/auth/login", tc.body, nil)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestValidateAndUserInfo(t *testing.T) {
	env := newTestEnv(t)

	if rr := env.do(t, "POST", "/api/auth/validate", nil, nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("validate without principal: expected 401, got %d", rr.Code)
	}

	rr := env.do(t, "POST", "/api/auth/validate", nil, cargoPrincipal())
	if rr.Code != http.StatusOK {
		t.Fatalf("validate: expected 200, got %d", rr.Code)
	}
	sum := decode[principalSummary](t, rr)
	if !sum.Authenticated || sum.Source != principal.KindExternal || len(sum.Authorities) != 3 || len(sum.Roles) != 0 {
		t.Errorf("summary = %+v", sum)
	}

	rr = env.do(t, "GET", "/api/auth/user-info", nil, cargoPrincipal())
	if rr.Code != http.StatusOK {
		t.Fatalf("user-info: expected 200, got %d", rr.Code)
	}
	info := decode[struct {
		Principal struct {
			Subject     string   `json:"subject"`
			Authorities []string `json:"authorities"`
		} `json:"principal"`
		Permissions []string `json:"permissions"`
	}](t, rr)
	if info.Principal.Subject != "cargo.bot" || len(info.Principal.Authorities) != 3 || len(info.Permissions) != 3 {
		t.Errorf("user-info = %+v", info)
	}
}

func TestRefreshLocalToken(t *testing.T) {
	env := newTestEnv(t)

	raw, _, err := env.authSvc.IssueLocalToken("jane.doe", "Jane Doe")
	if err != nil {
		t.Fatalf("IssueLocalToken: %v", err)
	}
	rr := env.do(t, "POST", "/api/auth/refresh", nil, nil, "Authorization", "Bearer "+raw)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decode[refreshResponse](t, rr)
	if !resp.Refreshed || resp.Session == nil || resp.Session.Token == "" {
		t.Errorf("refresh = %+v", resp)
	}

	rr = env.do(t, "POST", "/api/auth/refresh", nil, nil, "Authorization", "Bearer not.a.token")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("bad token: expected 401, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Menu
// ---------------------------------------------------------------------------

func TestUserMenu(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/menu/user", nil, cargoPrincipal())
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	resp := decode[userMenuResponse](t, rr)
	ids := make(map[string]bool)
	for _, it := range resp.MenuItems {
		ids[it.ID] = true
	}
	if !ids["dashboard"] || !ids["cargo"] || !ids["cargo-inspect"] {
		t.Errorf("missing expected items: %v", resp.MenuItems)
	}
	if ids["admin"] || ids["vehicle"] {
		t.Errorf("unexpected items: %v", resp.MenuItems)
	}
	if len(resp.Authorities) != 3 {
		t.Errorf("authorities = %v", resp.Authorities)
	}
}

func TestMenuAllAndByAuthority(t *testing.T) {
	env := newTestEnv(t)

	all := decode[struct {
		Resource []menu.Item `json:"resource"`
	}](t, env.do(t, "GET", "/api/menu/all", nil, adminPrincipal()))
	if len(all.Resource) != len(menu.DefaultItems()) {
		t.Errorf("all = %d items", len(all.Resource))
	}

	rr := env.do(t, "GET", "/api/menu/by-authority/manage_roles", nil, adminPrincipal())
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	by := decode[struct {
		Resource []menu.Item `json:"resource"`
	}](t, rr)
	if len(by.Resource) != 2 {
		t.Errorf("MANAGE_ROLES items = %v", by.Resource)
	}

	if rr := env.do(t, "GET", "/api/menu/by-authority/FLY_PLANES", nil, adminPrincipal()); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown authority: expected 400, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Admin
// ---------------------------------------------------------------------------

func TestCreateUser(t *testing.T) {
	env := newTestEnv(t)
	admin := adminPrincipal()

	req := createUserRequest{
		Username: "mike.wilson",
		Email:    "mike.wilson@customs.gov",
		Password: "vehicle123",
		FullName: "Mike Wilson",
		Roles:    []string{"vehicle_inspector"},
	}
	rr := env.do(t, "POST", "/api/admin/users", req, admin)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	u := decode[model.User](t, rr)
	if u.Username != "mike.wilson" || !u.Enabled || len(u.Roles) != 1 || u.Roles[0].Name != authority.RoleVehicleInspector {
		t.Errorf("created user = %+v", u)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte("password")) {
		t.Error("response leaks the password hash")
	}

	tests := []struct {
		name string
		mut  func(*createUserRequest)
		want int
	}{
		{"duplicate username", func(r *createUserRequest) { r.Email = "other@customs.gov" }, http.StatusConflict},
		{"duplicate email", func(r *createUserRequest) { r.Username = "mike.w" }, http.StatusConflict},
		{"unknown role", func(r *createUserRequest) { r.Username, r.Email, r.Roles = "x1", "x1@customs.gov", []string{"PILOT"} }, http.StatusBadRequest},
		{"short password", func(r *createUserRequest) { r.Username, r.Email, r.Password = "x2", "x2@customs.gov", "short" }, http.StatusBadRequest},
		{"missing email", func(r *createUserRequest) { r.Username, r.Email = "x3", "" }, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := req
			tc.mut(&r)
			if rr := env.do(t, "POST", "/api/admin/users", r, admin); rr.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rr.Code, rr.Body.String())
			}
		})
	}

	list := decode[struct {
		Resource []model.User       `json:"resource"`
		Meta     model.ResponseMeta `json:"meta"`
	}](t, env.do(t, "GET", "/api/admin/users", nil, admin))
	if list.Meta.Count != 3 || len(list.Resource) != 3 {
		t.Errorf("list = %d users (meta %d)", len(list.Resource), list.Meta.Count)
	}
}

func TestSetUserEnabledAndRoles(t *testing.T) {
	env := newTestEnv(t)
	admin := adminPrincipal()

	rr := env.do(t, "PUT", "/api/admin/users/jane.doe/enabled", setEnabledRequest{Enabled: false}, admin)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if u := decode[model.User](t, rr); u.Enabled {
		t.Error("user still enabled")
	}

	rr = env.do(t, "PUT", "/api/admin/users/jane.doe/roles", setRolesRequest{Roles: []string{"DUTY_OFFICER", "supervisor"}}, admin)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	u := decode[model.User](t, rr)
	if got := u.RoleNames(); len(got) != 2 || got[0] != authority.RoleDutyOfficer || got[1] != authority.RoleSupervisor {
		t.Errorf("roles = %v", got)
	}

	if rr := env.do(t, "PUT", "/api/admin/users/nobody/enabled", setEnabledRequest{Enabled: true}, admin); rr.Code != http.StatusNotFound {
		t.Errorf("unknown user: expected 404, got %d", rr.Code)
	}
	if rr := env.do(t, "PUT", "/api/admin/users/jane.doe/roles", setRolesRequest{Roles: []string{"PILOT"}}, admin); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown role: expected 400, got %d", rr.Code)
	}
}

func TestSetRoleAuthorities(t *testing.T) {
	env := newTestEnv(t)
	admin := adminPrincipal()

	body := setAuthoritiesRequest{Authorities: []string{"read_cargo", authority.ViewReports}}
	rr := env.do(t, "PUT", "/api/admin/roles/cargo_inspector/authorities", body, admin)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	role := decode[model.Role](t, rr)
	if len(role.Authorities) != 2 || role.Authorities[0] != authority.ReadCargo || role.Authorities[1] != authority.ViewReports {
		t.Errorf("authorities = %v", role.Authorities)
	}

	if rr := env.do(t, "PUT", "/api/admin/roles/cargo_inspector/authorities", setAuthoritiesRequest{Authorities: []string{"FLY_PLANES"}}, admin); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown authority: expected 400, got %d", rr.Code)
	}
	if rr := env.do(t, "PUT", "/api/admin/roles/PILOT/authorities", body, admin); rr.Code != http.StatusNotFound {
		t.Errorf("unknown role: expected 404, got %d", rr.Code)
	}

	roles := decode[struct {
		Resource []model.Role `json:"resource"`
	}](t, env.do(t, "GET", "/api/admin/roles", nil, admin))
	if len(roles.Resource) != len(authority.DefaultRoles()) {
		t.Errorf("roles = %d", len(roles.Resource))
	}
}

func TestListAuthoritiesGroupedByCategory(t *testing.T) {
	env := newTestEnv(t)

	resp := decode[struct {
		Resource []authorityGroup `json:"resource"`
	}](t, env.do(t, "GET", "/api/admin/authorities", nil, adminPrincipal()))

	categories := make(map[string]bool)
	for _, d := range authority.Catalog() {
		categories[d.Category] = true
	}
	if len(resp.Resource) != len(categories) {
		t.Fatalf("groups = %d, want %d", len(resp.Resource), len(categories))
	}
	total := 0
	for _, g := range resp.Resource {
		for _, a := range g.Authorities {
			if a.Category != g.Category {
				t.Errorf("%s filed under %s", a.Name, g.Category)
			}
		}
		total += len(g.Authorities)
	}
	if total != len(authority.Catalog()) {
		t.Errorf("total authorities = %d", total)
	}
}

func TestServeOpenAPI(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	doc := decode[struct {
		OpenAPI string         `json:"openapi"`
		Paths   map[string]any `json:"paths"`
	}](t, rr)
	if doc.OpenAPI != "3.1.0" || doc.Paths["/api/auth/login"] == nil {
		t.Errorf("unexpected document: %s", rr.Body.String()[:min(200, rr.Body.Len())])
	}
}
