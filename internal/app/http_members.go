package app

import (
	"net/http"

	"jotlog/api/internal/rbac"
)

// Member management routes. All of them require the manage permission,
// which only workspace owners hold.
func (s *HTTPServer) handleMembers(w http.ResponseWriter, r *http.Request, session Session, rest []string) {
	if !s.service.Can(session.Role, rbac.ActionManage) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
		return
	}

	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListMembers(r.Context(), session)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"members": items})
		return

	case len(rest) == 2 && rest[1] == "role" && r.Method == http.MethodPut:
		var body struct {
			Role string `json:"role"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateMemberRole(r.Context(), session, rest[0], body.Role); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return

	case len(rest) == 1 && r.Method == http.MethodDelete:
		if err := s.service.RemoveMember(r.Context(), session, rest[0]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}
