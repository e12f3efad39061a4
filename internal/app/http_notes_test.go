package app

import (
	"net/http"
	"testing"
)

func TestNoteLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	sess := env.seedUser("ada@example.com", "Ada", "Ada's Workspace")

	// Folder and tag to attach the note to.
	rr := env.do(http.MethodPost, "/api/folders", sess.Token, map[string]any{"name": "Projects"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201 creating folder, got %d body=%s", rr.Code, rr.Body.String())
	}
	folderID := decodeResponse(t, rr)["id"].(string)

	rr = env.do(http.MethodPost, "/api/tags", sess.Token, map[string]any{"name": "golang", "color": "#00add8"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201 creating tag, got %d body=%s", rr.Code, rr.Body.String())
	}
	tagID := decodeResponse(t, rr)["id"].(string)

	rr = env.do(http.MethodPost, "/api/notes", sess.Token, map[string]any{
		"title":    "Interceptor chains",
		"body":     "Policy as middleware.",
		"folderId": folderID,
		"tagIds":   []string{tagID},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201 creating note, got %d body=%s", rr.Code, rr.Body.String())
	}
	note := decodeResponse(t, rr)
	noteID := note["id"].(string)
	if note["folderId"] != folderID {
		t.Fatalf("expected note filed under %s, got %v", folderID, note["folderId"])
	}
	tags, _ := note["tags"].([]any)
	if len(tags) != 1 {
		t.Fatalf("expected 1 tag on note, got %v", note["tags"])
	}

	// Update via PATCH.
	rr = env.do(http.MethodPatch, "/api/notes/"+noteID, sess.Token, map[string]any{
		"title":  "Interceptor chains, revisited",
		"pinned": true,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 updating note, got %d body=%s", rr.Code, rr.Body.String())
	}
	updated := decodeResponse(t, rr)
	if updated["title"] != "Interceptor chains, revisited" || updated["pinned"] != true {
		t.Fatalf("expected updated title and pin, got %v", updated)
	}

	// Listing filters by folder.
	rr = env.do(http.MethodGet, "/api/notes?folderId="+folderID, sess.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 listing notes, got %d", rr.Code)
	}
	listed, _ := decodeResponse(t, rr)["notes"].([]any)
	if len(listed) != 1 {
		t.Fatalf("expected 1 note in folder, got %d", len(listed))
	}

	// Delete, find it in trash, restore.
	rr = env.do(http.MethodDelete, "/api/notes/"+noteID, sess.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 deleting note, got %d", rr.Code)
	}

	rr = env.do(http.MethodGet, "/api/notes/"+noteID, sess.Token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 reading trashed note, got %d", rr.Code)
	}

	rr = env.do(http.MethodGet, "/api/trash", sess.Token, nil)
	trashed, _ := decodeResponse(t, rr)["notes"].([]any)
	if len(trashed) != 1 {
		t.Fatalf("expected 1 note in trash, got %d", len(trashed))
	}

	rr = env.do(http.MethodPost, "/api/notes/"+noteID+"/restore", sess.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 restoring note, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(http.MethodGet, "/api/notes/"+noteID, sess.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected restored note readable, got %d", rr.Code)
	}

	// The whole lifecycle is on the audit trail.
	rr = env.do(http.MethodGet, "/api/audit-logs?entityType=notes&entityId="+noteID, sess.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 listing audit log, got %d body=%s", rr.Code, rr.Body.String())
	}
	entries, _ := decodeResponse(t, rr)["entries"].([]any)
	actions := map[string]int{}
	for _, raw := range entries {
		entry, _ := raw.(map[string]any)
		action, _ := entry["action"].(string)
		actions[action]++
	}
	if actions["create"] != 1 {
		t.Fatalf("expected 1 create audit entry, got %v", actions)
	}
	if actions["delete"] != 1 {
		t.Fatalf("expected 1 delete audit entry, got %v", actions)
	}
	if actions["update"] < 2 {
		t.Fatalf("expected update entries for edit and restore, got %v", actions)
	}
}

func TestViewerCannotWrite(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedUser("ada@example.com", "Ada", "Ada's Workspace")
	viewer := env.seedMember(owner.TenantID, "vee@example.com", "Vee", "viewer")

	rr := env.do(http.MethodPost, "/api/notes", viewer.Token, map[string]any{"title": "nope"})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for viewer create, got %d", rr.Code)
	}
	if decodeResponse(t, rr)["code"] != "FORBIDDEN" {
		t.Fatalf("expected code FORBIDDEN")
	}

	// Reads are fine.
	rr = env.do(http.MethodGet, "/api/notes", viewer.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for viewer list, got %d", rr.Code)
	}

	// Audit log needs manage.
	rr = env.do(http.MethodGet, "/api/audit-logs", viewer.Token, nil)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for viewer audit log, got %d", rr.Code)
	}
}

func TestFolderRenameAndValidation(t *testing.T) {
	env := newTestEnv(t)
	sess := env.seedUser("ada@example.com", "Ada", "Ada's Workspace")

	rr := env.do(http.MethodPost, "/api/folders", sess.Token, map[string]any{"name": "Inbox"})
	folderID := decodeResponse(t, rr)["id"].(string)

	rr = env.do(http.MethodPut, "/api/folders/"+folderID, sess.Token, map[string]any{"name": "Archive"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 renaming folder, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(http.MethodPut, "/api/folders/"+folderID, sess.Token, map[string]any{"name": "  "})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 for blank name, got %d", rr.Code)
	}

	rr = env.do(http.MethodPut, "/api/folders/fld_missing", sess.Token, map[string]any{"name": "x"})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown folder, got %d", rr.Code)
	}

	rr = env.do(http.MethodGet, "/api/folders", sess.Token, nil)
	folders, _ := decodeResponse(t, rr)["folders"].([]any)
	if len(folders) != 1 {
		t.Fatalf("expected 1 folder, got %d", len(folders))
	}
	first, _ := folders[0].(map[string]any)
	if first["name"] != "Archive" {
		t.Fatalf("expected renamed folder, got %v", first["name"])
	}
}

func TestSearchWithoutBackendReturnsEmptyResults(t *testing.T) {
	env := newTestEnv(t)
	sess := env.seedUser("ada@example.com", "Ada", "Ada's Workspace")

	rr := env.do(http.MethodGet, "/api/search?q=anything", sess.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	results, ok := payload["results"].([]any)
	if !ok || len(results) != 0 {
		t.Fatalf("expected empty results array, got %v", payload["results"])
	}
}
