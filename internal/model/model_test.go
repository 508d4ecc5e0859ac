package model

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestUserJSONHidesPasswordHash(t *testing.T) {
	now := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	u := User{
		ID:           1,
		Username:     "john.smith",
		Email:        "john.smith@customs.gov",
		PasswordHash: "$2a$10$abcdefghijklmnopqrstuv",
		FullName:     "John Smith",
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
		Roles:        []Role{{ID: 2, Name: "CUSTOMS_OFFICER", Authorities: []string{"READ_CARGO"}}},
	}

	b, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if strings.Contains(string(b), "$2a$") {
		t.Errorf("password hash leaked: %s", b)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if _, ok := m["last_login_at"]; ok {
		t.Error("expected 'last_login_at' to be omitted when nil")
	}
	if m["username"] != "john.smith" {
		t.Errorf("username = %v", m["username"])
	}
}

func TestUserRoleNames(t *testing.T) {
	u := User{Roles: []Role{{Name: "ADMIN"}, {Name: "SUPERVISOR"}}}
	if got := u.RoleNames(); !reflect.DeepEqual(got, []string{"ADMIN", "SUPERVISOR"}) {
		t.Errorf("RoleNames() = %v", got)
	}
	if got := (&User{}).RoleNames(); len(got) != 0 {
		t.Errorf("RoleNames() on empty user = %v", got)
	}
}

func TestErrorResponseJSON(t *testing.T) {
	b, err := json.Marshal(ErrorResponse{Error: ErrorDetail{Code: 401, Message: "Invalid credentials"}})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	want := `{"error":{"code":401,"message":"Invalid credentials"}}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}
