package app

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"jotlog/api/internal/engine"
	"jotlog/api/internal/rbac"
	"jotlog/api/internal/store"
)

// Tenant membership management. Only owners reach these paths; the HTTP
// layer gates them on rbac.ActionManage.

func (s *Service) ListMembers(ctx context.Context, sess Session) ([]map[string]any, error) {
	rows, err := s.engine.FindMany(ctx, sess.Actor(), "users", engine.Args{OrderBy: "display_name"})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		user := store.UserFromRow(row)
		items = append(items, map[string]any{
			"id":          user.ID,
			"email":       user.Email,
			"displayName": user.DisplayName,
			"role":        user.Role,
			"isVerified":  user.IsVerified,
			"createdAt":   user.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return items, nil
}

func (s *Service) UpdateMemberRole(ctx context.Context, sess Session, userID, role string) error {
	role = strings.TrimSpace(role)
	if rbac.Role(role) != rbac.RoleViewer && rbac.Role(role) != rbac.RoleEditor && rbac.Role(role) != rbac.RoleOwner {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be one of viewer, editor, owner", nil)
	}
	actor := sess.Actor()
	target, err := s.findMember(ctx, actor, userID)
	if err != nil {
		return err
	}
	if target.Role == string(rbac.RoleOwner) && role != string(rbac.RoleOwner) {
		if err := s.requireAnotherOwner(ctx, actor, userID); err != nil {
			return err
		}
	}
	_, err = s.engine.Update(ctx, actor, "users", engine.Filter{"id": userID}, &engine.Update{Set: map[string]any{"role": role}})
	return err
}

func (s *Service) RemoveMember(ctx context.Context, sess Session, userID string) error {
	if userID == sess.UserID {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "you cannot remove your own account", nil)
	}
	actor := sess.Actor()
	target, err := s.findMember(ctx, actor, userID)
	if err != nil {
		return err
	}
	if target.Role == string(rbac.RoleOwner) {
		if err := s.requireAnotherOwner(ctx, actor, userID); err != nil {
			return err
		}
	}
	_, err = s.engine.Delete(ctx, actor, "users", engine.Filter{"id": userID})
	return err
}

func (s *Service) findMember(ctx context.Context, actor engine.Actor, userID string) (store.User, error) {
	row, err := s.engine.Find(ctx, actor, "users", engine.Args{Where: engine.Filter{"id": userID}})
	if err != nil {
		return store.User{}, err
	}
	if row == nil {
		return store.User{}, sql.ErrNoRows
	}
	return store.UserFromRow(row), nil
}

// requireAnotherOwner blocks the change that would leave a tenant without
// any owner able to manage it.
func (s *Service) requireAnotherOwner(ctx context.Context, actor engine.Actor, excludeUserID string) error {
	rows, err := s.engine.FindMany(ctx, actor, "users", engine.Args{Where: engine.Filter{"role": string(rbac.RoleOwner)}})
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.ID() != excludeUserID {
			return nil
		}
	}
	return domainError(http.StatusConflict, "LAST_OWNER", "A workspace must keep at least one owner", nil)
}
