package app

import (
	"net/http"
	"testing"
)

func TestMembersListAndRoleChange(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedUser("ada@example.com", "Ada", "Ada's Workspace")
	member := env.seedMember(owner.TenantID, "lin@example.com", "Lin", "viewer")

	rr := env.do(http.MethodGet, "/api/members", owner.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 listing members, got %d body=%s", rr.Code, rr.Body.String())
	}
	members, _ := decodeResponse(t, rr)["members"].([]any)
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	rr = env.do(http.MethodPut, "/api/members/"+member.UserID+"/role", owner.Token, map[string]any{"role": "editor"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 changing role, got %d body=%s", rr.Code, rr.Body.String())
	}

	// The promoted member can write on the very next request.
	rr = env.do(http.MethodPost, "/api/notes", member.Token, map[string]any{"title": "now an editor"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected promoted member to create notes, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(http.MethodPut, "/api/members/"+member.UserID+"/role", owner.Token, map[string]any{"role": "superuser"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 for unknown role, got %d", rr.Code)
	}
}

func TestMembersRequireManagePermission(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedUser("ada@example.com", "Ada", "Ada's Workspace")
	editor := env.seedMember(owner.TenantID, "lin@example.com", "Lin", "editor")

	rr := env.do(http.MethodGet, "/api/members", editor.Token, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for editor listing members, got %d", rr.Code)
	}
}

func TestLastOwnerCannotBeDemotedOrRemoved(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedUser("ada@example.com", "Ada", "Ada's Workspace")

	rr := env.do(http.MethodPut, "/api/members/"+owner.UserID+"/role", owner.Token, map[string]any{"role": "editor"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409 demoting last owner, got %d body=%s", rr.Code, rr.Body.String())
	}
	if decodeResponse(t, rr)["code"] != "LAST_OWNER" {
		t.Fatalf("expected code LAST_OWNER")
	}

	// Self-removal is blocked outright.
	rr = env.do(http.MethodDelete, "/api/members/"+owner.UserID, owner.Token, nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 for self-removal, got %d", rr.Code)
	}

	// With a second owner in place the demotion goes through.
	second := env.seedMember(owner.TenantID, "bo@example.com", "Bo", "owner")
	rr = env.do(http.MethodPut, "/api/members/"+owner.UserID+"/role", second.Token, map[string]any{"role": "editor"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 demoting with another owner present, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestMembersAreTenantScoped(t *testing.T) {
	env := newTestEnv(t)
	ada := env.seedUser("ada@example.com", "Ada", "Ada's Workspace")
	lin := env.seedUser("lin@example.com", "Lin", "Lin's Workspace")

	// Each owner sees only their own workspace.
	rr := env.do(http.MethodGet, "/api/members", ada.Token, nil)
	members, _ := decodeResponse(t, rr)["members"].([]any)
	if len(members) != 1 {
		t.Fatalf("expected 1 member in first workspace, got %d", len(members))
	}

	// And cannot touch users in the other one.
	rr = env.do(http.MethodPut, "/api/members/"+lin.UserID+"/role", ada.Token, map[string]any{"role": "viewer"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for cross-tenant role change, got %d", rr.Code)
	}
}
