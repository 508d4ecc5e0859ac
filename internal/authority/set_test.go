package authority

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestSetDeduplicates(t *testing.T) {
	s := NewSet(ReadCargo, ReadCargo, "", InspectCargo)
	if s.Len() != 2 {
		t.Fatalf("expected 2 members, got %d (%v)", s.Len(), s.Names())
	}
	if !s.Contains(ReadCargo) || !s.Contains(InspectCargo) {
		t.Fatalf("missing members: %v", s.Names())
	}
	if s.Contains("") {
		t.Fatal("empty name should be dropped")
	}
}

func TestSetZeroValue(t *testing.T) {
	var s Set
	if !s.IsEmpty() || s.Contains(ReadCargo) {
		t.Fatal("zero Set should be empty")
	}
	u := s.Union(NewSet(ReadCargo))
	if !u.Equal(NewSet(ReadCargo)) {
		t.Fatalf("union with zero set: %v", u.Names())
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != "[]" {
		t.Errorf("expected [], got %s", data)
	}
}

func TestSetUnionLeavesOperandsUntouched(t *testing.T) {
	a := NewSet(ReadCargo)
	b := NewSet(ReadVehicle)
	u := a.Union(b)
	if a.Len() != 1 || b.Len() != 1 {
		t.Fatal("Union mutated an operand")
	}
	if !u.Equal(NewSet(ReadCargo, ReadVehicle)) {
		t.Fatalf("got %v", u.Names())
	}
}

func TestSetNamesSorted(t *testing.T) {
	s := NewSet(ViewReports, CalculateDuty, ReadCargo)
	want := []string{CalculateDuty, ReadCargo, ViewReports}
	if got := s.Names(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestSetJSONRoundTrip(t *testing.T) {
	in := NewSet(ReadCargo, "ROLE_ADMIN")
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `["READ_CARGO","ROLE_ADMIN"]` {
		t.Errorf("unexpected encoding %s", data)
	}
	var out Set
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !out.Equal(in) {
		t.Fatalf("got %v", out.Names())
	}
}

func TestSetFilter(t *testing.T) {
	s := NewSet(ReadCargo, "ROLE_ADMIN", "ROLE_SUPERVISOR")
	roles := s.Filter(IsRoleAuthority)
	if !roles.Equal(NewSet("ROLE_ADMIN", "ROLE_SUPERVISOR")) {
		t.Fatalf("got %v", roles.Names())
	}
}

func TestCatalog(t *testing.T) {
	defs := Catalog()
	if len(defs) != 30 || len(defs) != len(Names()) {
		t.Fatalf("expected 30 authorities, got %d (Names: %d)", len(defs), len(Names()))
	}
	if !Known(ViewDashboard) {
		t.Errorf("%s missing from catalog", ViewDashboard)
	}
	seen := map[string]bool{}
	for _, d := range defs {
		if seen[d.Name] {
			t.Errorf("duplicate authority %s", d.Name)
		}
		seen[d.Name] = true
		if d.Description == "" || d.Category == "" {
			t.Errorf("%s lacks description or category", d.Name)
		}
	}
	if d, ok := Lookup(ViewDashboard); !ok || d.Category != "Dashboard" {
		t.Errorf("Lookup(VIEW_DASHBOARD) = %+v, %v", d, ok)
	}
}

func TestDefaultRolesReferenceCatalog(t *testing.T) {
	for _, r := range DefaultRoles() {
		for _, a := range r.Authorities {
			if !Known(a) {
				t.Errorf("role %s references unknown authority %s", r.Name, a)
			}
		}
	}
}

func TestRoleAuthority(t *testing.T) {
	if got := RoleAuthority("cargo_inspector"); got != "ROLE_CARGO_INSPECTOR" {
		t.Errorf("got %q", got)
	}
	if IsRoleAuthority("ROLE_") {
		t.Error("bare prefix is not a role authority")
	}
	if IsRoleAuthority(ReadCargo) {
		t.Error("READ_CARGO is not a role authority")
	}
}
