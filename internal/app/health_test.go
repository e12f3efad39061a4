package app

import (
	"net/http"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/api/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["ok"] != true {
		t.Fatalf("expected ok true, got %v", payload["ok"])
	}
}

func TestReadyReportsChecks(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/api/ready", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeResponse(t, rr)
	if payload["status"] != "ready" {
		t.Fatalf("expected status ready, got %v", payload["status"])
	}
	checks, ok := payload["checks"].(map[string]any)
	if !ok {
		t.Fatalf("expected checks map, got %v", payload["checks"])
	}
	for _, name := range []string{"database", "sessions"} {
		check, ok := checks[name].(map[string]any)
		if !ok || check["status"] != "ok" {
			t.Fatalf("expected %s check ok, got %v", name, checks[name])
		}
	}
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	env := newTestEnv(t)
	sess := env.seedUser("ada@example.com", "Ada", "Ada's Workspace")

	rr := env.do(http.MethodGet, "/api/nope", sess.Token, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected code NOT_FOUND, got %v", payload["code"])
	}
}
