package openapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

// ─── Generate Tests ─────────────────────────────────────────────────────────

func TestGenerateCoversEveryRoute(t *testing.T) {
	routes := Routes()
	doc := Generate("1.2.3", "https://customs.example.test", routes)

	if doc.OpenAPI != "3.1.0" || doc.Info.Version != "1.2.3" {
		t.Errorf("header = %s / %s", doc.OpenAPI, doc.Info.Version)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "https://customs.example.test" {
		t.Errorf("servers = %+v", doc.Servers)
	}

	seen := make(map[string]bool)
	for _, rt := range routes {
		if seen[rt.OperationID] {
			t.Errorf("duplicate operation id %q", rt.OperationID)
		}
		seen[rt.OperationID] = true

		item := doc.Paths.Value(rt.Path)
		if item == nil {
			t.Errorf("path %s missing", rt.Path)
			continue
		}
		op := item.GetOperation(rt.Method)
		if op == nil {
			t.Errorf("%s %s missing", rt.Method, rt.Path)
			continue
		}
		if op.OperationID != rt.OperationID {
			t.Errorf("%s %s: operation id %q", rt.Method, rt.Path, op.OperationID)
		}

		status := rt.Status
		if status == 0 {
			status = http.StatusOK
		}
		if op.Responses.Status(status) == nil {
			t.Errorf("%s: no %d response", rt.OperationID, status)
		}
		if op.Responses.Value("default") != nil {
			t.Errorf("%s: unexpected default response", rt.OperationID)
		}
		if rt.Authority != "" && op.Responses.Status(http.StatusForbidden) == nil {
			t.Errorf("%s: guarded route lacks 403", rt.OperationID)
		}
	}
}

func TestPublicRoutesHaveNoSecurity(t *testing.T) {
	doc := Generate("dev", "", Routes())

	login := doc.Paths.Value("/api/auth/login").Post
	if login.Security == nil || len(*login.Security) != 0 {
		t.Errorf("login security = %v, want empty override", login.Security)
	}
	menu := doc.Paths.Value("/api/menu/user").Get
	if menu.Security != nil {
		t.Errorf("protected route should inherit the global requirement, got %v", menu.Security)
	}
	if len(doc.Security) != 1 {
		t.Errorf("global security = %v", doc.Security)
	}
}

func TestPathParameters(t *testing.T) {
	doc := Generate("dev", "", Routes())

	op := doc.Paths.Value("/api/admin/users/{username}/roles").Put
	if len(op.Parameters) != 1 || op.Parameters[0].Value.Name != "username" || op.Parameters[0].Value.In != "path" {
		t.Fatalf("parameters = %+v", op.Parameters)
	}
	if got := pathParams("/a/{x}/b/{y}"); len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Errorf("pathParams = %v", got)
	}
}

func TestSchemaReferencesResolve(t *testing.T) {
	doc := Generate("dev", "", Routes())
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	const prefix = `"$ref":"#/components/schemas/`
	body := string(data)
	for {
		i := strings.Index(body, prefix)
		if i < 0 {
			break
		}
		body = body[i+len(prefix):]
		name := body[:strings.IndexByte(body, '"')]
		if doc.Components.Schemas[name] == nil {
			t.Errorf("dangling reference to %q", name)
		}
	}
}
