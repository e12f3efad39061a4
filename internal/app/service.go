package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"jotlog/api/internal/auth"
	"jotlog/api/internal/authpw"
	"jotlog/api/internal/blob"
	"jotlog/api/internal/config"
	"jotlog/api/internal/email"
	"jotlog/api/internal/engine"
	"jotlog/api/internal/export"
	"jotlog/api/internal/notemirror"
	"jotlog/api/internal/rbac"
	"jotlog/api/internal/search"
	"jotlog/api/internal/session"
	"jotlog/api/internal/store"
	"jotlog/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	TenantID     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

// Actor is the identity the policy engine sees for this session.
func (s Session) Actor() engine.Actor {
	return engine.UserActor(s.UserID, s.TenantID)
}

type CreateNoteInput struct {
	Title    string   `json:"title"`
	Body     string   `json:"body"`
	FolderID string   `json:"folderId"`
	Pinned   bool     `json:"pinned"`
	Source   string   `json:"source"`
	TagIDs   []string `json:"tagIds"`
}

type UpdateNoteInput struct {
	Title    *string   `json:"title"`
	Body     *string   `json:"body"`
	FolderID *string   `json:"folderId"`
	Pinned   *bool     `json:"pinned"`
	TagIDs   *[]string `json:"tagIds"`
}

type ListNotesInput struct {
	FolderID string
	TagID    string
	Limit    int
	Offset   int
}

type AuditFilterInput struct {
	EntityType string
	EntityID   string
	Action     string
	Limit      int
}

type IngestInput struct {
	TenantSlug string         `json:"tenant"`
	Channel    string         `json:"channel"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Payload    map[string]any `json:"payload"`
}

var allowedIngestChannels = map[string]struct{}{
	"email":    {},
	"slack":    {},
	"telegram": {},
	"api":      {},
}

type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	Ping(ctx context.Context) error
}

type userDirectory interface {
	GetUserByID(ctx context.Context, id string) (store.User, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexNote(n search.NoteRecord)
	IndexTag(t search.TagRecord)
	DeleteNote(id string)
	DeleteTag(id string)
}

type blobStore interface {
	Put(ctx context.Context, key, contentType string, size int64, body io.Reader) error
	Remove(ctx context.Context, key string) error
	PresignDownload(ctx context.Context, key, filename string, expiry time.Duration) (string, error)
}

type noteMirror interface {
	EnsureTenantMirror(tenantID string) error
	CommitNote(tenantID string, note notemirror.Note, author, message string) (notemirror.CommitInfo, error)
	RemoveNote(tenantID, noteID, author string) (notemirror.CommitInfo, error)
	NoteAtCommit(tenantID, noteID, hash string) (string, error)
	History(tenantID, noteID string, limit int) ([]notemirror.CommitInfo, error)
}

type noteExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type Service struct {
	cfg      config.Config
	engine   *engine.Engine
	sessions sessionStore
	users    userDirectory
	search   searchIndex
	blob     blobStore
	mirror   noteMirror
	exporter noteExporter
	email    *email.Service
	authpw   *authpw.Service
}

// New wires the service. blobSvc, mirrorSvc, searchSvc and exportSvc may be
// nil; the matching endpoints then report themselves unavailable.
func New(
	cfg config.Config,
	eng *engine.Engine,
	sessions *session.RedisStore,
	users *store.AuthStore,
	searchSvc *search.Service,
	blobSvc *blob.Service,
	mirrorSvc *notemirror.Service,
	exportSvc *export.Service,
	emailSvc *email.Service,
	passwordSvc *authpw.Service,
) *Service {
	svc := &Service{
		cfg:    cfg,
		engine: eng,
		email:  emailSvc,
		authpw: passwordSvc,
	}
	if sessions != nil {
		svc.sessions = sessions
	}
	if users != nil {
		svc.users = users
	}
	if searchSvc != nil {
		svc.search = searchSvc
	}
	if blobSvc != nil {
		svc.blob = blobSvc
	}
	if mirrorSvc != nil {
		svc.mirror = mirrorSvc
	}
	if exportSvc != nil {
		svc.exporter = exportSvc
	}
	return svc
}

// Sessions and auth

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:    user.ID,
		Tenant: user.TenantID,
		Name:   user.DisplayName,
		Role:   user.Role,
		JTI:    jti,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		TenantID:     user.TenantID,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken validates a bearer token and rebinds it to the live user
// row, so a role change or removal takes effect on the next request.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.users.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if user.TenantID != claims.Tenant {
		return Session{}, auth.ErrInvalidToken
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		TenantID:  user.TenantID,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) SendVerificationEmail(to, userName, token string) error {
	if !s.SMTPConfigured() {
		return nil
	}
	url := fmt.Sprintf("%s/verify-email?token=%s", strings.TrimSuffix(s.cfg.AppBaseURL, "/"), token)
	return s.email.SendVerificationEmail(to, userName, url)
}

func (s *Service) SendPasswordResetEmail(to, userName, token string) error {
	if !s.SMTPConfigured() {
		return nil
	}
	url := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimSuffix(s.cfg.AppBaseURL, "/"), token)
	return s.email.SendPasswordResetEmail(to, userName, url)
}

// Ping exercises the full storage path the way application reads do.
func (s *Service) Ping(ctx context.Context) error {
	_, err := s.engine.Count(ctx, engine.SystemActor(""), "tenants", nil)
	return err
}

func (s *Service) PingSessions(ctx context.Context) error {
	if s.sessions == nil {
		return errors.New("session store not configured")
	}
	return s.sessions.Ping(ctx)
}

// Notes

func (s *Service) ListNotes(ctx context.Context, sess Session, in ListNotesInput) ([]map[string]any, error) {
	actor := sess.Actor()
	where := engine.Filter{}
	if in.FolderID != "" {
		where["folder_id"] = in.FolderID
	}
	if in.TagID != "" {
		links, err := s.engine.FindMany(ctx, actor, "note_tags", engine.Args{Where: engine.Filter{"tag_id": in.TagID}})
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(links))
		for _, link := range links {
			id, _ := link["note_id"].(string)
			ids = append(ids, id)
		}
		where["id"] = ids
	}
	limit := in.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.engine.FindMany(ctx, actor, "notes", engine.Args{
		Where: where,
		Include: []engine.Include{
			{Relation: "note_tags"},
			{Relation: "attachments"},
		},
		OrderBy: "updated_at",
		Desc:    true,
		Limit:   limit,
		Offset:  in.Offset,
	})
	if err != nil {
		return nil, err
	}

	notes := make([]store.Note, 0, len(rows))
	for _, row := range rows {
		notes = append(notes, store.NoteFromRow(row))
	}
	tagNames, err := s.tagNamesFor(ctx, actor, notes)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notes))
	for _, note := range notes {
		items = append(items, noteJSON(note, tagNames))
	}
	return items, nil
}

func (s *Service) GetNote(ctx context.Context, sess Session, noteID string) (map[string]any, error) {
	actor := sess.Actor()
	note, err := s.findNote(ctx, actor, noteID)
	if err != nil {
		return nil, err
	}
	tagNames, err := s.tagNamesFor(ctx, actor, []store.Note{note})
	if err != nil {
		return nil, err
	}
	return noteJSON(note, tagNames), nil
}

func (s *Service) CreateNote(ctx context.Context, sess Session, in CreateNoteInput) (map[string]any, error) {
	actor := sess.Actor()
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Untitled note"
	}
	source := strings.TrimSpace(in.Source)
	if source == "" {
		source = "web"
	}

	fields := map[string]any{
		"id":     util.NewID("note"),
		"title":  title,
		"body":   in.Body,
		"pinned": in.Pinned,
		"source": source,
	}
	if in.FolderID != "" {
		if err := s.requireFolder(ctx, actor, in.FolderID); err != nil {
			return nil, err
		}
		fields["folder_id"] = in.FolderID
	}
	data := &engine.Create{Fields: fields}
	if len(in.TagIDs) > 0 {
		if err := s.requireTags(ctx, actor, in.TagIDs); err != nil {
			return nil, err
		}
		data.Nested = map[string]engine.Mutation{
			"note_tags": tagLinks(in.TagIDs),
		}
	}

	row, err := s.engine.Create(ctx, actor, "notes", data)
	if err != nil {
		return nil, err
	}
	note := store.NoteFromRow(row)
	s.mirrorNote(sess.TenantID, note, sess.UserName, "Create note "+note.ID)
	s.indexNote(note)
	return s.GetNote(ctx, sess, note.ID)
}

func (s *Service) UpdateNote(ctx context.Context, sess Session, noteID string, in UpdateNoteInput) (map[string]any, error) {
	actor := sess.Actor()
	if _, err := s.findNote(ctx, actor, noteID); err != nil {
		return nil, err
	}

	set := map[string]any{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title cannot be empty", nil)
		}
		set["title"] = title
	}
	if in.Body != nil {
		set["body"] = *in.Body
	}
	if in.Pinned != nil {
		set["pinned"] = *in.Pinned
	}
	if in.FolderID != nil {
		if *in.FolderID == "" {
			set["folder_id"] = nil
		} else {
			if err := s.requireFolder(ctx, actor, *in.FolderID); err != nil {
				return nil, err
			}
			set["folder_id"] = *in.FolderID
		}
	}
	if len(set) > 0 {
		if _, err := s.engine.Update(ctx, actor, "notes", engine.Filter{"id": noteID}, &engine.Update{Set: set}); err != nil {
			return nil, err
		}
	}
	if in.TagIDs != nil {
		if err := s.replaceTags(ctx, actor, noteID, *in.TagIDs); err != nil {
			return nil, err
		}
	}

	note, err := s.findNote(ctx, actor, noteID)
	if err != nil {
		return nil, err
	}
	s.mirrorNote(sess.TenantID, note, sess.UserName, "Update note "+note.ID)
	s.indexNote(note)
	tagNames, err := s.tagNamesFor(ctx, actor, []store.Note{note})
	if err != nil {
		return nil, err
	}
	return noteJSON(note, tagNames), nil
}

func (s *Service) DeleteNote(ctx context.Context, sess Session, noteID string) error {
	actor := sess.Actor()
	if _, err := s.findNote(ctx, actor, noteID); err != nil {
		return err
	}
	if _, err := s.engine.Delete(ctx, actor, "notes", engine.Filter{"id": noteID}); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteNote(noteID)
	}
	if s.mirror != nil {
		if _, err := s.mirror.RemoveNote(sess.TenantID, noteID, sess.UserName); err != nil {
			log.Printf("app: mirror remove note %s: %v", noteID, err)
		}
	}
	return nil
}

// RestoreNote brings a note back from the trash. The explicit deleted_at
// condition is what lets the call reach rows the read path hides.
func (s *Service) RestoreNote(ctx context.Context, sess Session, noteID string) (map[string]any, error) {
	actor := sess.Actor()
	res, err := s.engine.Update(ctx, actor, "notes",
		engine.Filter{"id": noteID, "deleted_at": engine.NotNull},
		&engine.Update{Set: map[string]any{"deleted_at": nil}},
	)
	if err != nil {
		return nil, err
	}
	if res.Count == 0 {
		return nil, sql.ErrNoRows
	}
	note, err := s.findNote(ctx, actor, noteID)
	if err != nil {
		return nil, err
	}
	s.mirrorNote(sess.TenantID, note, sess.UserName, "Restore note "+note.ID)
	s.indexNote(note)
	tagNames, err := s.tagNamesFor(ctx, actor, []store.Note{note})
	if err != nil {
		return nil, err
	}
	return noteJSON(note, tagNames), nil
}

func (s *Service) ListTrash(ctx context.Context, sess Session) ([]map[string]any, error) {
	actor := sess.Actor()
	rows, err := s.engine.FindMany(ctx, actor, "notes", engine.Args{
		Where:   engine.Filter{"deleted_at": engine.NotNull},
		OrderBy: "updated_at",
		Desc:    true,
		Limit:   200,
	})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		note := store.NoteFromRow(row)
		item := noteJSON(note, nil)
		if note.DeletedAt != nil {
			item["deletedAt"] = note.DeletedAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) findNote(ctx context.Context, actor engine.Actor, noteID string) (store.Note, error) {
	row, err := s.engine.Find(ctx, actor, "notes", engine.Args{
		Where: engine.Filter{"id": noteID},
		Include: []engine.Include{
			{Relation: "note_tags"},
			{Relation: "attachments"},
		},
	})
	if err != nil {
		return store.Note{}, err
	}
	if row == nil {
		return store.Note{}, sql.ErrNoRows
	}
	return store.NoteFromRow(row), nil
}

func (s *Service) requireFolder(ctx context.Context, actor engine.Actor, folderID string) error {
	row, err := s.engine.Find(ctx, actor, "folders", engine.Args{Where: engine.Filter{"id": folderID}})
	if err != nil {
		return err
	}
	if row == nil {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "folder does not exist", nil)
	}
	return nil
}

func (s *Service) requireTags(ctx context.Context, actor engine.Actor, tagIDs []string) error {
	count, err := s.engine.Count(ctx, actor, "tags", engine.Filter{"id": tagIDs})
	if err != nil {
		return err
	}
	if count != int64(len(tagIDs)) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "one or more tags do not exist", nil)
	}
	return nil
}

func (s *Service) replaceTags(ctx context.Context, actor engine.Actor, noteID string, tagIDs []string) error {
	if err := s.requireTags(ctx, actor, tagIDs); err != nil {
		return err
	}
	if _, err := s.engine.DeleteMany(ctx, actor, "note_tags", engine.Filter{"note_id": noteID}); err != nil {
		return err
	}
	if len(tagIDs) == 0 {
		return nil
	}
	links := tagLinks(tagIDs)
	for _, row := range links.Rows {
		row.Fields["note_id"] = noteID
	}
	_, err := s.engine.CreateMany(ctx, actor, "note_tags", links)
	return err
}

func tagLinks(tagIDs []string) *engine.CreateMany {
	rows := make([]*engine.Create, 0, len(tagIDs))
	for _, tagID := range tagIDs {
		rows = append(rows, &engine.Create{Fields: map[string]any{
			"id":     util.NewID("ntag"),
			"tag_id": tagID,
		}})
	}
	return &engine.CreateMany{Rows: rows}
}

func (s *Service) tagNamesFor(ctx context.Context, actor engine.Actor, notes []store.Note) (map[string]string, error) {
	seen := map[string]struct{}{}
	var ids []string
	for _, note := range notes {
		for _, link := range note.Tags {
			if _, ok := seen[link.TagID]; ok {
				continue
			}
			seen[link.TagID] = struct{}{}
			ids = append(ids, link.TagID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.engine.FindMany(ctx, actor, "tags", engine.Args{Where: engine.Filter{"id": ids}})
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(rows))
	for _, row := range rows {
		tag := store.TagFromRow(row)
		names[tag.ID] = tag.Name
	}
	return names, nil
}

func noteJSON(note store.Note, tagNames map[string]string) map[string]any {
	tags := make([]map[string]any, 0, len(note.Tags))
	for _, link := range note.Tags {
		tags = append(tags, map[string]any{
			"id":   link.TagID,
			"name": tagNames[link.TagID],
		})
	}
	attachments := make([]map[string]any, 0, len(note.Attachments))
	for _, att := range note.Attachments {
		attachments = append(attachments, map[string]any{
			"id":          att.ID,
			"filename":    att.Filename,
			"contentType": att.ContentType,
			"sizeBytes":   att.SizeBytes,
		})
	}
	var folderID any
	if note.FolderID != nil {
		folderID = *note.FolderID
	}
	return map[string]any{
		"id":          note.ID,
		"title":       note.Title,
		"body":        note.Body,
		"folderId":    folderID,
		"pinned":      note.Pinned,
		"source":      note.Source,
		"tags":        tags,
		"attachments": attachments,
		"createdBy":   note.CreatedBy,
		"createdAt":   note.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":   note.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Service) mirrorNote(tenantID string, note store.Note, author, message string) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.EnsureTenantMirror(tenantID); err != nil {
		log.Printf("app: mirror init for %s: %v", tenantID, err)
		return
	}
	mirrored := notemirror.Note{ID: note.ID, Title: note.Title, Body: note.Body}
	if _, err := s.mirror.CommitNote(tenantID, mirrored, author, message); err != nil {
		log.Printf("app: mirror commit note %s: %v", note.ID, err)
	}
}

func (s *Service) indexNote(note store.Note) {
	if s.search == nil {
		return
	}
	folderID := ""
	if note.FolderID != nil {
		folderID = *note.FolderID
	}
	s.search.IndexNote(search.NoteRecord{
		ID:       note.ID,
		Title:    note.Title,
		Body:     note.Body,
		FolderID: folderID,
		TenantID: note.TenantID,
		Source:   note.Source,
	})
}

// Folders

func (s *Service) ListFolders(ctx context.Context, sess Session) ([]map[string]any, error) {
	actor := sess.Actor()
	rows, err := s.engine.FindMany(ctx, actor, "folders", engine.Args{OrderBy: "name"})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		folder := store.FolderFromRow(row)
		noteCount, err := s.engine.Count(ctx, actor, "notes", engine.Filter{"folder_id": folder.ID})
		if err != nil {
			return nil, err
		}
		var parentID any
		if folder.ParentID != nil {
			parentID = *folder.ParentID
		}
		items = append(items, map[string]any{
			"id":        folder.ID,
			"name":      folder.Name,
			"parentId":  parentID,
			"noteCount": noteCount,
		})
	}
	return items, nil
}

func (s *Service) CreateFolder(ctx context.Context, sess Session, name, parentID string) (map[string]any, error) {
	actor := sess.Actor()
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	fields := map[string]any{
		"id":   util.NewID("fld"),
		"name": name,
	}
	if parentID != "" {
		if err := s.requireFolder(ctx, actor, parentID); err != nil {
			return nil, err
		}
		fields["parent_id"] = parentID
	}
	row, err := s.engine.Create(ctx, actor, "folders", &engine.Create{Fields: fields})
	if err != nil {
		return nil, err
	}
	folder := store.FolderFromRow(row)
	var parent any
	if folder.ParentID != nil {
		parent = *folder.ParentID
	}
	return map[string]any{"id": folder.ID, "name": folder.Name, "parentId": parent}, nil
}

func (s *Service) RenameFolder(ctx context.Context, sess Session, folderID, name string) error {
	actor := sess.Actor()
	name = strings.TrimSpace(name)
	if name == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	res, err := s.engine.Update(ctx, actor, "folders", engine.Filter{"id": folderID}, &engine.Update{Set: map[string]any{"name": name}})
	if err != nil {
		return err
	}
	if res.Count == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteFolder soft-deletes the folder and detaches its notes so they fall
// back to the tenant root instead of dangling under a deleted parent.
func (s *Service) DeleteFolder(ctx context.Context, sess Session, folderID string) error {
	actor := sess.Actor()
	row, err := s.engine.Find(ctx, actor, "folders", engine.Args{Where: engine.Filter{"id": folderID}})
	if err != nil {
		return err
	}
	if row == nil {
		return sql.ErrNoRows
	}
	if _, err := s.engine.UpdateMany(ctx, actor, "notes", engine.Filter{"folder_id": folderID}, &engine.Update{Set: map[string]any{"folder_id": nil}}); err != nil {
		return err
	}
	if _, err := s.engine.UpdateMany(ctx, actor, "folders", engine.Filter{"parent_id": folderID}, &engine.Update{Set: map[string]any{"parent_id": nil}}); err != nil {
		return err
	}
	_, err = s.engine.Delete(ctx, actor, "folders", engine.Filter{"id": folderID})
	return err
}

// Tags

func (s *Service) ListTags(ctx context.Context, sess Session) ([]map[string]any, error) {
	actor := sess.Actor()
	rows, err := s.engine.FindMany(ctx, actor, "tags", engine.Args{OrderBy: "name"})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		tag := store.TagFromRow(row)
		usage, err := s.engine.Count(ctx, actor, "note_tags", engine.Filter{"tag_id": tag.ID})
		if err != nil {
			return nil, err
		}
		items = append(items, map[string]any{
			"id":        tag.ID,
			"name":      tag.Name,
			"color":     tag.Color,
			"noteCount": usage,
		})
	}
	return items, nil
}

func (s *Service) CreateTag(ctx context.Context, sess Session, name, color string) (map[string]any, error) {
	actor := sess.Actor()
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	existing, err := s.engine.Find(ctx, actor, "tags", engine.Args{Where: engine.Filter{"name": name}})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, domainError(http.StatusConflict, "TAG_EXISTS", "A tag with that name already exists", nil)
	}
	if color == "" {
		color = "#6b7280"
	}
	row, err := s.engine.Create(ctx, actor, "tags", &engine.Create{Fields: map[string]any{
		"id":    util.NewID("tag"),
		"name":  name,
		"color": color,
	}})
	if err != nil {
		return nil, err
	}
	tag := store.TagFromRow(row)
	if s.search != nil {
		s.search.IndexTag(search.TagRecord{ID: tag.ID, Name: tag.Name, TenantID: tag.TenantID})
	}
	return map[string]any{"id": tag.ID, "name": tag.Name, "color": tag.Color}, nil
}

func (s *Service) DeleteTag(ctx context.Context, sess Session, tagID string) error {
	actor := sess.Actor()
	row, err := s.engine.Find(ctx, actor, "tags", engine.Args{Where: engine.Filter{"id": tagID}})
	if err != nil {
		return err
	}
	if row == nil {
		return sql.ErrNoRows
	}
	if _, err := s.engine.DeleteMany(ctx, actor, "note_tags", engine.Filter{"tag_id": tagID}); err != nil {
		return err
	}
	if _, err := s.engine.Delete(ctx, actor, "tags", engine.Filter{"id": tagID}); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteTag(tagID)
	}
	return nil
}

// Attachments

func (s *Service) AddAttachment(ctx context.Context, sess Session, noteID, filename, contentType string, size int64, body io.Reader) (map[string]any, error) {
	if s.blob == nil {
		return nil, domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	actor := sess.Actor()
	if _, err := s.findNote(ctx, actor, noteID); err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	attachmentID := util.NewID("att")
	key := blob.ObjectKey(sess.TenantID, attachmentID, filename)
	if err := s.blob.Put(ctx, key, contentType, size, body); err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}
	row, err := s.engine.Create(ctx, actor, "attachments", &engine.Create{Fields: map[string]any{
		"id":           attachmentID,
		"note_id":      noteID,
		"object_key":   key,
		"filename":     filename,
		"content_type": contentType,
		"size_bytes":   size,
	}})
	if err != nil {
		return nil, err
	}
	att := store.AttachmentFromRow(row)
	return map[string]any{
		"id":          att.ID,
		"noteId":      att.NoteID,
		"filename":    att.Filename,
		"contentType": att.ContentType,
		"sizeBytes":   att.SizeBytes,
	}, nil
}

func (s *Service) AttachmentDownloadURL(ctx context.Context, sess Session, attachmentID string) (string, error) {
	if s.blob == nil {
		return "", domainError(http.StatusServiceUnavailable, "ATTACHMENTS_UNAVAILABLE", "Attachment storage not configured", nil)
	}
	actor := sess.Actor()
	row, err := s.engine.Find(ctx, actor, "attachments", engine.Args{Where: engine.Filter{"id": attachmentID}})
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", sql.ErrNoRows
	}
	att := store.AttachmentFromRow(row)
	return s.blob.PresignDownload(ctx, att.ObjectKey, att.Filename, 15*time.Minute)
}

func (s *Service) DeleteAttachment(ctx context.Context, sess Session, attachmentID string) error {
	actor := sess.Actor()
	row, err := s.engine.Find(ctx, actor, "attachments", engine.Args{Where: engine.Filter{"id": attachmentID}})
	if err != nil {
		return err
	}
	if row == nil {
		return sql.ErrNoRows
	}
	// The object stays in blob storage so the row can be restored; a
	// retention sweep is the place to reap orphans.
	_, err = s.engine.Delete(ctx, actor, "attachments", engine.Filter{"id": attachmentID})
	return err
}

// Search

func (s *Service) Search(ctx context.Context, sess Session, text, filterType, folderID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.search.Search(search.Query{
		Text:           text,
		TenantID:       sess.TenantID,
		FilterType:     search.ResultType(filterType),
		FilterFolderID: folderID,
		Limit:          limit,
		Offset:         offset,
	}), nil
}

// History

func (s *Service) NoteHistory(ctx context.Context, sess Session, noteID string, limit int) ([]map[string]any, error) {
	if s.mirror == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MIRROR_UNAVAILABLE", "Note history not configured", nil)
	}
	actor := sess.Actor()
	if _, err := s.findNote(ctx, actor, noteID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	commits, err := s.mirror.History(sess.TenantID, noteID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return items, nil
}

func (s *Service) NoteAtCommit(ctx context.Context, sess Session, noteID, hash string) (map[string]any, error) {
	if s.mirror == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MIRROR_UNAVAILABLE", "Note history not configured", nil)
	}
	actor := sess.Actor()
	if _, err := s.findNote(ctx, actor, noteID); err != nil {
		return nil, err
	}
	content, err := s.mirror.NoteAtCommit(sess.TenantID, noteID, hash)
	if err != nil {
		return nil, sql.ErrNoRows
	}
	return map[string]any{"hash": hash, "content": content}, nil
}

// Export

func (s *Service) ExportNote(ctx context.Context, sess Session, noteID, format string) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export not configured", nil)
	}
	ctx = engine.WithActor(ctx, sess.Actor())
	res, err := s.exporter.Export(ctx, export.Request{NoteID: noteID, Format: export.Format(format)})
	if err != nil {
		switch {
		case errors.Is(err, export.ErrContentUnavailable):
			return nil, sql.ErrNoRows
		case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export backend unavailable", nil)
		}
		return nil, err
	}
	return res, nil
}

// Audit trail

func (s *Service) ListAuditLog(ctx context.Context, sess Session, in AuditFilterInput) ([]map[string]any, error) {
	// audit_logs sits outside tenant scoping, so the tenant condition is
	// spelled out here instead of injected.
	where := engine.Filter{"tenant_id": sess.TenantID}
	if in.EntityType != "" {
		where["entity_type"] = in.EntityType
	}
	if in.EntityID != "" {
		where["entity_id"] = in.EntityID
	}
	if in.Action != "" {
		where["action"] = in.Action
	}
	limit := in.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.engine.FindMany(ctx, sess.Actor(), "audit_logs", engine.Args{
		Where:   where,
		OrderBy: "created_at",
		Desc:    true,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		record := store.AuditRecordFromRow(row)
		items = append(items, map[string]any{
			"id":         record.ID,
			"entityType": record.EntityType,
			"entityId":   record.EntityID,
			"action":     record.Action,
			"status":     record.EventStatus,
			"payload":    record.Payload,
			"createdBy":  record.CreatedBy,
			"createdAt":  record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return items, nil
}

// Stats

func (s *Service) Stats(ctx context.Context, sess Session) (map[string]any, error) {
	actor := sess.Actor()
	notes, err := s.engine.Count(ctx, actor, "notes", nil)
	if err != nil {
		return nil, err
	}
	folders, err := s.engine.Count(ctx, actor, "folders", nil)
	if err != nil {
		return nil, err
	}
	tags, err := s.engine.Count(ctx, actor, "tags", nil)
	if err != nil {
		return nil, err
	}
	trashed, err := s.engine.Count(ctx, actor, "notes", engine.Filter{"deleted_at": engine.NotNull})
	if err != nil {
		return nil, err
	}
	grouped, err := s.engine.GroupBy(ctx, actor, "notes", []string{"source"}, nil)
	if err != nil {
		return nil, err
	}
	bySource := make([]map[string]any, 0, len(grouped))
	for _, row := range grouped {
		bySource = append(bySource, map[string]any{
			"source": row["source"],
			"count":  row["count"],
		})
	}
	sort.Slice(bySource, func(i, j int) bool {
		a, _ := bySource[i]["source"].(string)
		b, _ := bySource[j]["source"].(string)
		return a < b
	})
	return map[string]any{
		"notes":         notes,
		"folders":       folders,
		"tags":          tags,
		"trashedNotes":  trashed,
		"notesBySource": bySource,
	}, nil
}

// Ingestion

// Ingest records a channel event and captures it as a note. It runs as a
// system actor carrying the target tenant, which is the one path allowed to
// pick a tenant per payload.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (map[string]any, error) {
	slug := strings.TrimSpace(in.TenantSlug)
	if slug == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "tenant is required", nil)
	}
	channel := strings.TrimSpace(in.Channel)
	if _, ok := allowedIngestChannels[channel]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "channel must be one of email, slack, telegram, api", nil)
	}

	lookup := engine.SystemActor("")
	tenantRow, err := s.engine.Find(ctx, lookup, "tenants", engine.Args{Where: engine.Filter{"slug": slug}})
	if err != nil {
		return nil, err
	}
	if tenantRow == nil {
		return nil, sql.ErrNoRows
	}
	tenant := store.TenantFromRow(tenantRow)
	sys := engine.SystemActor(tenant.ID)

	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	eventRow, err := s.engine.Create(ctx, sys, "ingest_events", &engine.Create{Fields: map[string]any{
		"id":      util.NewID("ing"),
		"channel": channel,
		"payload": payload,
	}})
	if err != nil {
		return nil, err
	}
	eventID := eventRow.ID()

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = "Captured via " + channel
	}
	noteRow, err := s.engine.Create(ctx, sys, "notes", &engine.Create{Fields: map[string]any{
		"id":     util.NewID("note"),
		"title":  title,
		"body":   in.Body,
		"pinned": false,
		"source": channel,
	}})
	if err != nil {
		return nil, err
	}
	note := store.NoteFromRow(noteRow)

	if _, err := s.engine.Update(ctx, sys, "ingest_events", engine.Filter{"id": eventID}, &engine.Update{Set: map[string]any{"note_id": note.ID}}); err != nil {
		return nil, err
	}

	s.mirrorNote(tenant.ID, note, "system", "Capture note "+note.ID+" from "+channel)
	s.indexNote(note)

	return map[string]any{
		"eventId": eventID,
		"noteId":  note.ID,
		"tenant":  tenant.Slug,
	}, nil
}

// NoteSourceFromEngine adapts the engine to the export service's loader.
// The acting identity travels on the context, so exports render exactly
// what the requesting user may read.
func NoteSourceFromEngine(eng *engine.Engine) export.NoteSource {
	return engineNoteSource{eng: eng, resolve: engine.ActorFromContext}
}

type engineNoteSource struct {
	eng     *engine.Engine
	resolve engine.ResolverFunc
}

func (src engineNoteSource) GetNote(ctx context.Context, noteID string) (export.Note, error) {
	actor := src.resolve(ctx)
	if actor.IsZero() {
		return export.Note{}, sql.ErrNoRows
	}
	row, err := src.eng.Find(ctx, actor, "notes", engine.Args{
		Where:   engine.Filter{"id": noteID},
		Include: []engine.Include{{Relation: "note_tags"}},
	})
	if err != nil {
		return export.Note{}, err
	}
	if row == nil {
		return export.Note{}, sql.ErrNoRows
	}
	note := store.NoteFromRow(row)

	out := export.Note{
		ID:        note.ID,
		Title:     note.Title,
		Body:      note.Body,
		Source:    note.Source,
		Author:    note.CreatedBy,
		UpdatedAt: note.UpdatedAt,
	}
	if note.FolderID != nil {
		if folderRow, err := src.eng.Find(ctx, actor, "folders", engine.Args{Where: engine.Filter{"id": *note.FolderID}}); err == nil && folderRow != nil {
			out.FolderName = store.FolderFromRow(folderRow).Name
		}
	}
	if userRow, err := src.eng.Find(ctx, actor, "users", engine.Args{Where: engine.Filter{"id": note.CreatedBy}}); err == nil && userRow != nil {
		out.Author = store.UserFromRow(userRow).DisplayName
	}
	if len(note.Tags) > 0 {
		ids := make([]string, 0, len(note.Tags))
		for _, link := range note.Tags {
			ids = append(ids, link.TagID)
		}
		if tagRows, err := src.eng.FindMany(ctx, actor, "tags", engine.Args{Where: engine.Filter{"id": ids}, OrderBy: "name"}); err == nil {
			for _, tagRow := range tagRows {
				out.Tags = append(out.Tags, store.TagFromRow(tagRow).Name)
			}
		}
	}
	return out, nil
}
