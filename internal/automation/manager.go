//go:build !no_automation

package automation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ErrScriptNotFound is returned when no file exists for a script ID.
var ErrScriptNotFound = errors.New("script not found")

const (
	scriptExt    = ".lua"
	headerPrefix = "-- {"
	maxIDLength  = 40
)

// validScriptID checks that a script ID is safe to use as a filename stem.
func validScriptID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.Contains(id, "..")
}

// Manager loads, saves and lists scripts in one directory.
//
// A script file starts with an optional metadata line
//
//	-- {"name":"Night light","enabled":true}
//
// followed by Lua code. Files without the line are enabled and named after
// their ID, so hand-written scripts dropped into the directory just run.
type Manager struct {
	dir string
	mu  sync.RWMutex
}

// NewManager creates a manager rooted at dir, creating dir if needed.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Manager{dir: dir}, nil
}

// Dir returns the scripts directory.
func (m *Manager) Dir() string {
	return m.dir
}

// List returns all scripts in the directory sorted by ID. Unreadable files
// are skipped.
func (m *Manager) List() ([]*Script, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}

	var scripts []*Script
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != scriptExt {
			continue
		}
		s, err := m.load(strings.TrimSuffix(e.Name(), scriptExt))
		if err != nil {
			slog.Warn("skip script", "file", e.Name(), "err", err)
			continue
		}
		scripts = append(scripts, s)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
	return scripts, nil
}

// Get returns a single script by ID.
func (m *Manager) Get(id string) (*Script, error) {
	if !validScriptID(id) {
		return nil, fmt.Errorf("invalid script id: %q", id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.load(id)
}

// Save writes s to disk. A script without an ID gets one derived from its
// name, made unique within the directory.
func (m *Manager) Save(s *Script) (*Script, error) {
	if s.ID != "" && !validScriptID(s.ID) {
		return nil, fmt.Errorf("invalid script id: %q", s.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s.ID == "" {
		s.ID = m.uniqueID(slugify(s.Meta.Name))
	}
	s.FilePath = m.path(s.ID)

	if err := os.WriteFile(s.FilePath, []byte(serializeScript(s)), 0o644); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	return s, nil
}

// Delete removes a script file by ID.
func (m *Manager) Delete(id string) error {
	if !validScriptID(id) {
		return fmt.Errorf("invalid script id: %q", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(m.path(id)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", id, ErrScriptNotFound)
		}
		return fmt.Errorf("delete script: %w", err)
	}
	return nil
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.dir, id+scriptExt)
}

func (m *Manager) uniqueID(base string) string {
	if base == "" {
		base = "script"
	}
	id := base
	for i := 1; ; i++ {
		if _, err := os.Stat(m.path(id)); errors.Is(err, fs.ErrNotExist) {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, i)
	}
}

func (m *Manager) load(id string) (*Script, error) {
	path := m.path(id)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", id, ErrScriptNotFound)
		}
		return nil, err
	}
	s, err := parseScript(id, string(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.FilePath = path
	return s, nil
}

// parseScript splits file content into metadata and code.
func parseScript(id, content string) (*Script, error) {
	s := &Script{
		ID:   id,
		Meta: ScriptMeta{Name: id, Enabled: true},
	}

	first, rest, _ := strings.Cut(content, "\n")
	if !strings.HasPrefix(first, headerPrefix) {
		s.LuaCode = content
		return s, nil
	}

	var meta ScriptMeta
	if err := json.Unmarshal([]byte(strings.TrimPrefix(first, "-- ")), &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if meta.Name == "" {
		meta.Name = id
	}
	s.Meta = meta
	s.LuaCode = strings.TrimLeft(rest, "\n")
	return s, nil
}

// serializeScript writes the metadata line followed by the code.
func serializeScript(s *Script) string {
	var b strings.Builder
	meta, _ := json.Marshal(s.Meta)
	b.WriteString("-- ")
	b.Write(meta)
	b.WriteString("\n")

	if s.LuaCode != "" {
		b.WriteString("\n")
		b.WriteString(s.LuaCode)
		if !strings.HasSuffix(s.LuaCode, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugRe.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if len(s) > maxIDLength {
		s = strings.TrimRight(s[:maxIDLength], "_")
	}
	return s
}
