// Package notemirror maintains a git repository per tenant mirroring note
// content as markdown files. The mirror gives every tenant a pullable,
// diffable history of their notes independent of the audit trail.
package notemirror

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// CommitInfo describes one mirror commit.
type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// Note is the slice of a note the mirror persists.
type Note struct {
	ID    string
	Title string
	Body  string
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// EnsureTenantMirror initializes the mirror repository for a tenant if it
// does not exist yet.
func (s *Service) EnsureTenantMirror(tenantID string) error {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(tenantID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	readme := fmt.Sprintf("# Note mirror for %s\n\nManaged by jotlog; do not push.\n", tenantID)
	if err := os.WriteFile(filepath.Join(path, "README.md"), []byte(readme), 0o644); err != nil {
		return fmt.Errorf("write readme: %w", err)
	}
	if _, err := worktree.Add("README.md"); err != nil {
		return fmt.Errorf("git add readme: %w", err)
	}
	hash, err := worktree.Commit("Initialize note mirror", &git.CommitOptions{
		Author: mirrorSignature("jotlog"),
	})
	if err != nil {
		return fmt.Errorf("commit readme: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return fmt.Errorf("set HEAD to main: %w", err)
	}
	return nil
}

// CommitNote writes the note's markdown file and commits it.
func (s *Service) CommitNote(tenantID string, note Note, author, message string) (CommitInfo, error) {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(tenantID))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	rel := noteFile(note.ID)
	abs := filepath.Join(worktree.Filesystem.Root(), rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return CommitInfo{}, fmt.Errorf("create notes dir: %w", err)
	}
	if err := os.WriteFile(abs, []byte(renderNote(note)), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write note file: %w", err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return CommitInfo{}, fmt.Errorf("git add note: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: mirrorSignature(author),
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit note: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// RemoveNote deletes the note's file from the mirror and commits the
// removal. Removing a note that was never mirrored is a no-op.
func (s *Service) RemoveNote(tenantID, noteID, author string) (CommitInfo, error) {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(tenantID))
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open repo: %w", err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	rel := noteFile(noteID)
	if _, err := os.Stat(filepath.Join(worktree.Filesystem.Root(), rel)); errors.Is(err, os.ErrNotExist) {
		return CommitInfo{}, nil
	}
	if _, err := worktree.Remove(rel); err != nil {
		return CommitInfo{}, fmt.Errorf("git rm note: %w", err)
	}

	hash, err := worktree.Commit(fmt.Sprintf("Remove note %s", noteID), &git.CommitOptions{
		Author: mirrorSignature(author),
	})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit removal: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// NoteAtCommit reads the mirrored markdown of a note as of a given commit.
func (s *Service) NoteAtCommit(tenantID, noteID, hash string) (string, error) {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(tenantID))
	if err != nil {
		return "", fmt.Errorf("open repo: %w", err)
	}
	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return "", err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return "", fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(noteFile(noteID))
	if err != nil {
		return "", fmt.Errorf("load note from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return "", fmt.Errorf("open note reader: %w", err)
	}
	defer reader.Close()
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read note bytes: %w", err)
	}
	return string(content), nil
}

// History lists mirror commits, newest first. When noteID is non-empty only
// commits touching that note's file are returned.
func (s *Service) History(tenantID, noteID string, limit int) ([]CommitInfo, error) {
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(tenantID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	opts := &git.LogOptions{From: ref.Hash()}
	if noteID != "" {
		target := noteFile(noteID)
		opts.PathFilter = func(path string) bool { return path == target }
	}
	iter, err := repo.Log(opts)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

func (s *Service) repoPath(tenantID string) string {
	return filepath.Join(s.baseDir, tenantID)
}

func (s *Service) tenantLock(tenantID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[tenantID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[tenantID] = lock
	return lock
}

func noteFile(noteID string) string {
	return filepath.ToSlash(filepath.Join("notes", noteID+".md"))
}

func renderNote(note Note) string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(note.Title)
	b.WriteString("\n\n")
	b.WriteString(note.Body)
	if !strings.HasSuffix(note.Body, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

func mirrorSignature(author string) *object.Signature {
	if strings.TrimSpace(author) == "" {
		author = "jotlog"
	}
	return &object.Signature{
		Name:  author,
		Email: fmt.Sprintf("%s@mirror.jotlog.dev", sanitizeEmail(author)),
		When:  time.Now(),
	}
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	return *resolved, nil
}
