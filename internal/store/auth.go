package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jotlog/api/internal/engine"
)

const (
	tokenPurposeVerify = "verify"
	tokenPurposeReset  = "reset"
)

// AuthStore serves the credential paths: user lookup by email, tenant
// provisioning at signup, and the verification/reset token lifecycle.
// Tenant and user writes go through the policy engine under a system actor
// so signup, verification and password changes land in the audit trail like
// every other mutation. Only the token lifecycle runs on the raw client;
// auth_tokens is exempt from every policy stage.
type AuthStore struct {
	eng *engine.Engine
	raw engine.RawClient
	now func() time.Time
}

func NewAuthStore(eng *engine.Engine) *AuthStore {
	return &AuthStore{eng: eng, raw: eng.Raw(), now: time.Now}
}

func (s *AuthStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row, err := s.eng.Find(ctx, engine.SystemActor(""), "users", engine.Args{
		Where: engine.Filter{"email": email},
	})
	if err != nil {
		return User{}, err
	}
	if row == nil {
		return User{}, sql.ErrNoRows
	}
	return UserFromRow(row), nil
}

func (s *AuthStore) GetUserByID(ctx context.Context, id string) (User, error) {
	row, err := s.eng.Find(ctx, engine.SystemActor(""), "users", engine.Args{
		Where: engine.Filter{"id": id},
	})
	if err != nil {
		return User{}, err
	}
	if row == nil {
		return User{}, sql.ErrNoRows
	}
	return UserFromRow(row), nil
}

// CreateTenantWithOwner provisions a workspace and its owning user in one
// transaction. Both creates run through the engine; the audit appends join
// the outer transaction, so a half-provisioned workspace never survives.
func (s *AuthStore) CreateTenantWithOwner(ctx context.Context, tenant Tenant, owner User) error {
	actor := engine.SystemActor(tenant.ID)
	return s.raw.InTx(ctx, func(txCtx context.Context) error {
		if _, err := s.eng.Create(txCtx, actor, "tenants", &engine.Create{Fields: map[string]any{
			"id":   tenant.ID,
			"name": tenant.Name,
			"slug": tenant.Slug,
		}}); err != nil {
			return fmt.Errorf("create tenant: %w", err)
		}
		if _, err := s.eng.Create(txCtx, actor, "users", &engine.Create{Fields: map[string]any{
			"id":            owner.ID,
			"email":         owner.Email,
			"display_name":  owner.DisplayName,
			"password_hash": owner.PasswordHash,
			"role":          owner.Role,
			"is_verified":   owner.IsVerified,
		}}); err != nil {
			return fmt.Errorf("create owner: %w", err)
		}
		return nil
	})
}

func (s *AuthStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return s.insertToken(ctx, userID, tokenPurposeVerify, token, expiresAt)
}

func (s *AuthStore) VerifyUserEmail(ctx context.Context, token string) error {
	rec, err := s.liveToken(ctx, token, tokenPurposeVerify)
	if err != nil {
		return err
	}
	userID, _ := rec["user_id"].(string)
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	actor := engine.SystemActor(user.TenantID)
	return s.raw.InTx(ctx, func(txCtx context.Context) error {
		if _, err := s.eng.Update(txCtx, actor, "users",
			engine.Filter{"id": userID},
			&engine.Update{Set: map[string]any{"is_verified": true}},
		); err != nil {
			return err
		}
		return s.consumeToken(txCtx, token)
	})
}

func (s *AuthStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	res, err := s.eng.Update(ctx, engine.SystemActor(user.TenantID), "users",
		engine.Filter{"id": userID},
		&engine.Update{Set: map[string]any{"password_hash": passwordHash}},
	)
	if err != nil {
		return err
	}
	if res.Count == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *AuthStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return s.insertToken(ctx, userID, tokenPurposeReset, token, expiresAt)
}

func (s *AuthStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	rec, err := s.liveToken(ctx, token, tokenPurposeReset)
	if err != nil {
		return "", err
	}
	userID, _ := rec["user_id"].(string)
	return userID, nil
}

func (s *AuthStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	return s.consumeToken(ctx, token)
}

func (s *AuthStore) insertToken(ctx context.Context, userID, purpose, token string, expiresAt time.Time) error {
	_, err := s.raw.Do(ctx, engine.Invocation{
		Model: "auth_tokens",
		Op:    engine.OpCreate,
		Args: engine.Args{Data: &engine.Create{Fields: map[string]any{
			"user_id":    userID,
			"purpose":    purpose,
			"token":      token,
			"expires_at": expiresAt.UTC(),
		}}},
	})
	if err != nil {
		return fmt.Errorf("store %s token: %w", purpose, err)
	}
	return nil
}

// liveToken returns the token row if it exists, matches the purpose, is
// unused and has not expired.
func (s *AuthStore) liveToken(ctx context.Context, token, purpose string) (engine.Row, error) {
	res, err := s.raw.Do(ctx, engine.Invocation{
		Model: "auth_tokens",
		Op:    engine.OpFind,
		Args: engine.Args{Where: engine.Filter{
			"token":   token,
			"purpose": purpose,
			"used_at": nil,
		}},
	})
	if err != nil {
		return nil, err
	}
	row := res.First()
	if row == nil {
		return nil, errors.New("token not found")
	}
	expiresAt, _ := row["expires_at"].(time.Time)
	if !expiresAt.IsZero() && s.now().After(expiresAt) {
		return nil, errors.New("token expired")
	}
	return row, nil
}

func (s *AuthStore) consumeToken(ctx context.Context, token string) error {
	_, err := s.raw.Do(ctx, engine.Invocation{
		Model: "auth_tokens",
		Op:    engine.OpUpdate,
		Args: engine.Args{
			Where: engine.Filter{"token": token},
			Data:  &engine.Update{Set: map[string]any{"used_at": s.now().UTC()}},
		},
	})
	return err
}
