// Package scratch owns the per-session directories that hold intermediate audio files.
//
// Cleanup is advisory: every delete failure is logged and swallowed, and a crash can leave
// files behind. Manager.Sweep removes session directories that outlived their request.
package scratch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"ai-things/audio-go/internal/apierr"
	"ai-things/audio-go/internal/utils"
)

// DirName is the folder under the scratch root that holds all sessions.
const DirName = "wellsaid-audio"

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

type Manager struct {
	Root string
}

// NewManager roots sessions at <root>/wellsaid-audio. An empty root means os.TempDir().
func NewManager(root string) *Manager {
	if strings.TrimSpace(root) == "" {
		root = os.TempDir()
	}
	return &Manager{Root: filepath.Join(root, DirName)}
}

// ValidateSessionID rejects ids that could escape the scratch root.
func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) || id == "." || id == ".." {
		return apierr.Validation(fmt.Sprintf("Invalid session ID %q", id))
	}
	return nil
}

// Dir returns the directory for a session without creating it.
func (m *Manager) Dir(sessionID string) string {
	return filepath.Join(m.Root, sessionID)
}

// Open creates (or reuses) the session directory.
func (m *Manager) Open(sessionID string) (*Session, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	dir := m.Dir(sessionID)
	if err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Session{ID: sessionID, Dir: dir, files: map[string]struct{}{}}, nil
}

// Sweep removes session directories whose last modification is older than maxAge.
// It returns the number of directories removed.
func (m *Manager) Sweep(maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(m.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		path := filepath.Join(m.Root, e.Name())
		if err := os.RemoveAll(path); err != nil {
			utils.Warn("scratch sweep remove failed", "dir", path, "err", err)
			continue
		}
		utils.Info("scratch sweep removed orphan session", "dir", path, "age", now.Sub(info.ModTime()).Truncate(time.Second).String())
		removed++
	}
	return removed, nil
}

// Session tracks the files a request wrote so they can be removed on every exit path.
type Session struct {
	ID  string
	Dir string

	mu    sync.Mutex
	files map[string]struct{}
}

// File returns a tracked path inside the session directory.
func (s *Session) File(name string) string {
	path := filepath.Join(s.Dir, filepath.Base(name))
	s.Track(path)
	return path
}

// Track registers an existing path for cleanup.
func (s *Session) Track(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = struct{}{}
}

// Forget stops tracking path, handing ownership to the caller.
func (s *Session) Forget(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
}

// Contains reports whether path resolves to a file inside the session directory.
func (s *Session) Contains(path string) bool {
	rel, err := filepath.Rel(s.Dir, filepath.Clean(path))
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Remove deletes one tracked file now.
func (s *Session) Remove(path string) {
	utils.RemoveQuiet(path)
	s.Forget(path)
}

// Cleanup removes every tracked file, then the directory if it is empty. Safe to call more than once.
// Only the request that owns the whole session may call it; see CleanupFiles.
func (s *Session) Cleanup() {
	s.CleanupFiles()
	s.removeDirIfEmpty()
}

// CleanupFiles removes every tracked file and leaves the directory in place. Requests that share
// a session with concurrent requests (one chunk of many) use this so an empty directory is never
// pulled out from under a sibling that is about to write into it.
func (s *Session) CleanupFiles() {
	s.mu.Lock()
	files := make([]string, 0, len(s.files))
	for f := range s.files {
		files = append(files, f)
	}
	s.files = map[string]struct{}{}
	s.mu.Unlock()

	for _, f := range files {
		utils.RemoveQuiet(f)
	}
}

func (s *Session) removeDirIfEmpty() {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			utils.Warn("scratch read dir failed", "dir", s.Dir, "err", err)
		}
		return
	}
	if len(entries) > 0 {
		utils.Debug("scratch dir not empty; keeping", "dir", s.Dir, "entries", len(entries))
		return
	}
	if err := os.Remove(s.Dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		utils.Warn("scratch remove dir failed", "dir", s.Dir, "err", err)
		return
	}
	utils.Debug("scratch dir removed", "dir", s.Dir)
}
