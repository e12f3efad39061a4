package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"jotlog/api/internal/engine"
)

func (e *testEnv) tenantSlug(tenantID string) string {
	e.t.Helper()
	res, err := e.mem.Do(context.Background(), engine.Invocation{
		Model: "tenants",
		Op:    engine.OpFind,
		Args:  engine.Args{Where: engine.Filter{"id": tenantID}},
	})
	if err != nil || res.First() == nil {
		e.t.Fatalf("read tenant %s: %v", tenantID, err)
	}
	slug, _ := res.First()["slug"].(string)
	return slug
}

func TestIngestRequiresSharedToken(t *testing.T) {
	env := newTestEnv(t)
	sess := env.seedUser("ada@example.com", "Ada", "Ada's Workspace")
	slug := env.tenantSlug(sess.TenantID)

	body := `{"tenant":"` + slug + `","channel":"slack","title":"From the channel"}`

	// No token.
	req := httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(body))
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 without ingest token, got %d", rr.Code)
	}

	// Wrong token.
	req = httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(body))
	req.Header.Set("x-jotlog-ingest-token", "wrong")
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 with wrong ingest token, got %d", rr.Code)
	}

	// Right token.
	req = httptest.NewRequest(http.MethodPost, "/api/ingest", strings.NewReader(body))
	req.Header.Set("x-jotlog-ingest-token", env.cfg.IngestToken)
	rr = httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	noteID, _ := payload["noteId"].(string)
	if noteID == "" {
		t.Fatalf("expected noteId in response, got %v", payload)
	}

	// The captured note shows up for the workspace with the channel as its
	// source and the system user as author.
	rr2 := env.do(http.MethodGet, "/api/notes/"+noteID, sess.Token, nil)
	if rr2.Code != http.StatusOK {
		t.Fatalf("expected captured note readable, got %d", rr2.Code)
	}
	note := decodeResponse(t, rr2)
	if note["source"] != "slack" {
		t.Fatalf("expected source slack, got %v", note["source"])
	}
	if note["createdBy"] != "system" {
		t.Fatalf("expected system author, got %v", note["createdBy"])
	}
}

func TestIngestValidatesChannel(t *testing.T) {
	env := newTestEnv(t)
	sess := env.seedUser("ada@example.com", "Ada", "Ada's Workspace")
	slug := env.tenantSlug(sess.TenantID)

	req := httptest.NewRequest(http.MethodPost, "/api/ingest",
		strings.NewReader(`{"tenant":"`+slug+`","channel":"fax"}`))
	req.Header.Set("x-jotlog-ingest-token", env.cfg.IngestToken)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422 for unknown channel, got %d body=%s", rr.Code, rr.Body.String())
	}
}
