package app

import (
	"net/http"
	"testing"
	"time"

	"jotlog/api/internal/auth"
)

func TestSignUpVerifySignInFlow(t *testing.T) {
	env := newTestEnv(t)

	// Sign up a fresh workspace. With no SMTP configured the verification
	// token comes back in the response.
	rr := env.do(http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       "ada@example.com",
		"password":    "password123",
		"displayName": "Ada",
		"workspace":   "Ada's Workspace",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	signup := decodeResponse(t, rr)
	verifyToken, _ := signup["devVerificationToken"].(string)
	if verifyToken == "" {
		t.Fatalf("expected dev verification token in response, got %v", signup)
	}
	if signup["tenantId"] == "" || signup["tenantId"] == nil {
		t.Fatalf("expected tenantId in signup response")
	}

	// Signing in before verification is rejected.
	rr = env.do(http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "ada@example.com",
		"password": "password123",
	})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 before verification, got %d", rr.Code)
	}
	if decodeResponse(t, rr)["code"] != "EMAIL_NOT_VERIFIED" {
		t.Fatalf("expected EMAIL_NOT_VERIFIED")
	}

	// Verify, then sign in.
	rr = env.do(http.MethodPost, "/api/auth/verify-email", "", map[string]any{"token": verifyToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 verifying email, got %d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "ada@example.com",
		"password": "password123",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 signing in, got %d body=%s", rr.Code, rr.Body.String())
	}
	signin := decodeResponse(t, rr)
	accessToken, _ := signin["accessToken"].(string)
	refreshToken, _ := signin["refreshToken"].(string)
	if accessToken == "" || refreshToken == "" {
		t.Fatalf("expected tokens in signin response, got %v", signin)
	}
	if signin["role"] != "owner" {
		t.Fatalf("expected fresh workspace user to be owner, got %v", signin["role"])
	}

	// The session endpoint reflects the authenticated user.
	rr = env.do(http.MethodGet, "/api/session", accessToken, nil)
	session := decodeResponse(t, rr)
	if session["authenticated"] != true || session["userName"] != "Ada" {
		t.Fatalf("expected authenticated session for Ada, got %v", session)
	}

	// Refresh rotates both tokens.
	rr = env.do(http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": refreshToken})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 refreshing, got %d body=%s", rr.Code, rr.Body.String())
	}
	refreshed := decodeResponse(t, rr)
	newRefresh, _ := refreshed["refreshToken"].(string)
	if newRefresh == "" || newRefresh == refreshToken {
		t.Fatalf("expected rotated refresh token")
	}

	// The old refresh token is spent.
	rr = env.do(http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": refreshToken})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 reusing refresh token, got %d", rr.Code)
	}

	// Logout revokes the new one too.
	rr = env.do(http.MethodPost, "/api/session/logout", "", map[string]any{"refreshToken": newRefresh})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 logging out, got %d", rr.Code)
	}
	rr = env.do(http.MethodPost, "/api/session/refresh", "", map[string]any{"refreshToken": newRefresh})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 after logout, got %d", rr.Code)
	}
}

func TestSignUpDuplicateEmailConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("ada@example.com", "Ada", "Ada's Workspace")

	rr := env.do(http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":       "ada@example.com",
		"password":    "password123",
		"displayName": "Also Ada",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d body=%s", rr.Code, rr.Body.String())
	}
	if decodeResponse(t, rr)["code"] != "EMAIL_EXISTS" {
		t.Fatalf("expected code EMAIL_EXISTS")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser("ada@example.com", "Ada", "Ada's Workspace")

	rr := env.do(http.MethodPost, "/api/auth/reset-password/request", "", map[string]any{
		"email": "ada@example.com",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	resetToken, _ := decodeResponse(t, rr)["devResetToken"].(string)
	if resetToken == "" {
		t.Fatalf("expected dev reset token without SMTP")
	}

	rr = env.do(http.MethodPost, "/api/auth/reset-password", "", map[string]any{
		"token":       resetToken,
		"newPassword": "brand-new-pass",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 resetting password, got %d body=%s", rr.Code, rr.Body.String())
	}

	// Old password no longer works, new one does.
	rr = env.do(http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "ada@example.com",
		"password": "password123",
	})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected old password rejected, got %d", rr.Code)
	}
	rr = env.do(http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "ada@example.com",
		"password": "brand-new-pass",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected new password to work, got %d body=%s", rr.Code, rr.Body.String())
	}
}

func TestPasswordResetRequestForUnknownEmailStaysQuiet(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/api/auth/reset-password/request", "", map[string]any{
		"email": "ghost@example.com",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for unknown email, got %d", rr.Code)
	}
	if _, ok := decodeResponse(t, rr)["devResetToken"]; ok {
		t.Fatalf("expected no reset token for unknown email")
	}
}

func TestProtectedRouteWithoutBearerReturnsUnauthorized(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/api/notes", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if decodeResponse(t, rr)["code"] != "UNAUTHORIZED" {
		t.Fatalf("expected code UNAUTHORIZED")
	}
}

func TestProtectedRouteWithExpiredBearerReturnsUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	sess := env.seedUser("ada@example.com", "Ada", "Ada's Workspace")

	expired, err := auth.IssueToken([]byte(env.cfg.JWTSecret), auth.Claims{
		Sub:    sess.UserID,
		Tenant: sess.TenantID,
		Name:   "Ada",
		Role:   "owner",
		JTI:    "jti-expired",
		Exp:    time.Now().Add(-1 * time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	rr := env.do(http.MethodGet, "/api/notes", expired, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestRemovedUserTokenStopsWorking(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedUser("ada@example.com", "Ada", "Ada's Workspace")
	member := env.seedMember(owner.TenantID, "lin@example.com", "Lin", "editor")

	rr := env.do(http.MethodGet, "/api/notes", member.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected member to read notes, got %d", rr.Code)
	}

	rr = env.do(http.MethodDelete, "/api/members/"+member.UserID, owner.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected member removal to succeed, got %d body=%s", rr.Code, rr.Body.String())
	}

	// Bearer tokens bind to the live user row, so removal invalidates them.
	rr = env.do(http.MethodGet, "/api/notes", member.Token, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected removed member token to be rejected, got %d", rr.Code)
	}
}
