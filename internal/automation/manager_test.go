//go:build !no_automation

package automation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "scripts"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestManagerListEmpty(t *testing.T) {
	m := newTestManager(t)
	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 0 {
		t.Errorf("list count = %d, want 0", len(scripts))
	}
}

func TestManagerSaveAndGet(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{
		Meta:    ScriptMeta{Name: "Night Light", Description: "dim after 22h", Enabled: true},
		LuaCode: `lamp.log("hello")`,
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID != "night_light" {
		t.Errorf("id = %q, want night_light", saved.ID)
	}
	if saved.FilePath != filepath.Join(m.Dir(), "night_light.lua") {
		t.Errorf("path = %q", saved.FilePath)
	}

	got, err := m.Get(saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta.Name != "Night Light" || got.Meta.Description != "dim after 22h" || !got.Meta.Enabled {
		t.Errorf("meta = %+v", got.Meta)
	}
	if got.LuaCode != "lamp.log(\"hello\")\n" {
		t.Errorf("lua_code = %q", got.LuaCode)
	}
}

func TestManagerSaveExistingID(t *testing.T) {
	m := newTestManager(t)

	s, err := m.Save(&Script{ID: "mine", Meta: ScriptMeta{Name: "Mine", Enabled: true}, LuaCode: `lamp.log("v1")`})
	if err != nil {
		t.Fatal(err)
	}
	s.LuaCode = `lamp.log("v2")`
	if _, err := m.Save(s); err != nil {
		t.Fatal(err)
	}

	got, err := m.Get("mine")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got.LuaCode, `"v2"`) {
		t.Errorf("lua_code after update = %q", got.LuaCode)
	}
}

func TestManagerRejectsBadID(t *testing.T) {
	m := newTestManager(t)
	for _, id := range []string{"../x", "a/b", `a\b`, "..", "."} {
		if _, err := m.Get(id); err == nil {
			t.Errorf("Get(%q) should fail", id)
		}
		if err := m.Delete(id); err == nil {
			t.Errorf("Delete(%q) should fail", id)
		}
		if _, err := m.Save(&Script{ID: id}); err == nil {
			t.Errorf("Save(%q) should fail", id)
		}
	}
}

func TestManagerListSorted(t *testing.T) {
	m := newTestManager(t)
	for _, name := range []string{"Gamma", "Alpha", "Beta"} {
		if _, err := m.Save(&Script{Meta: ScriptMeta{Name: name, Enabled: true}}); err != nil {
			t.Fatal(err)
		}
	}
	// Non-script files are ignored.
	if err := os.WriteFile(filepath.Join(m.Dir(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, s := range scripts {
		ids = append(ids, s.ID)
	}
	if strings.Join(ids, ",") != "alpha,beta,gamma" {
		t.Errorf("ids = %v", ids)
	}
}

func TestManagerListSkipsBadHeader(t *testing.T) {
	m := newTestManager(t)
	if err := os.WriteFile(filepath.Join(m.Dir(), "bad.lua"), []byte("-- {not json\nlamp.log(1)\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Save(&Script{Meta: ScriptMeta{Name: "good", Enabled: true}}); err != nil {
		t.Fatal(err)
	}

	scripts, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(scripts) != 1 || scripts[0].ID != "good" {
		t.Errorf("scripts = %v", scripts)
	}
}

func TestManagerDelete(t *testing.T) {
	m := newTestManager(t)

	saved, err := m.Save(&Script{Meta: ScriptMeta{Name: "ToDelete"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(saved.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(saved.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("Get after delete = %v, want ErrScriptNotFound", err)
	}
	if err := m.Delete(saved.ID); !errors.Is(err, ErrScriptNotFound) {
		t.Errorf("second Delete = %v, want ErrScriptNotFound", err)
	}
}

func TestManagerUniqueID(t *testing.T) {
	m := newTestManager(t)

	var ids []string
	for i := 0; i < 3; i++ {
		s, err := m.Save(&Script{Meta: ScriptMeta{Name: "Dup"}})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, s.ID)
	}
	if strings.Join(ids, ",") != "dup,dup_1,dup_2" {
		t.Errorf("ids = %v", ids)
	}

	s, err := m.Save(&Script{Meta: ScriptMeta{Name: "!!!"}})
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "script" {
		t.Errorf("id for unsluggable name = %q, want script", s.ID)
	}
}

func TestParseScript(t *testing.T) {
	tests := []struct {
		name    string
		content string
		meta    ScriptMeta
		code    string
	}{
		{
			name:    "header",
			content: "-- {\"name\":\"Bind alert\",\"description\":\"log failures\",\"enabled\":false}\n\nlamp.on(\"bind_error\", function(ev) end)\n",
			meta:    ScriptMeta{Name: "Bind alert", Description: "log failures", Enabled: false},
			code:    "lamp.on(\"bind_error\", function(ev) end)\n",
		},
		{
			name:    "no header",
			content: "-- plain comment\nlamp.log(\"x\")\n",
			meta:    ScriptMeta{Name: "hand", Enabled: true},
			code:    "-- plain comment\nlamp.log(\"x\")\n",
		},
		{
			name:    "header without name",
			content: "-- {\"enabled\":true}\nlamp.log(\"x\")",
			meta:    ScriptMeta{Name: "hand", Enabled: true},
			code:    "lamp.log(\"x\")",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := parseScript("hand", tt.content)
			if err != nil {
				t.Fatal(err)
			}
			if s.ID != "hand" {
				t.Errorf("id = %q", s.ID)
			}
			if s.Meta != tt.meta {
				t.Errorf("meta = %+v, want %+v", s.Meta, tt.meta)
			}
			if s.LuaCode != tt.code {
				t.Errorf("code = %q, want %q", s.LuaCode, tt.code)
			}
		})
	}

	if _, err := parseScript("x", "-- {broken\n"); err == nil {
		t.Error("malformed header should fail")
	}
}

func TestSerializeScriptRoundTrip(t *testing.T) {
	s := &Script{
		ID:      "test",
		Meta:    ScriptMeta{Name: "Test", Description: "desc", Enabled: true},
		LuaCode: `lamp.log("hi")`,
	}
	content := serializeScript(s)
	if !strings.HasPrefix(content, "-- {") {
		t.Errorf("content = %q, want metadata line first", content)
	}

	got, err := parseScript("test", content)
	if err != nil {
		t.Fatal(err)
	}
	if got.Meta != s.Meta {
		t.Errorf("meta = %+v, want %+v", got.Meta, s.Meta)
	}
	if got.LuaCode != s.LuaCode+"\n" {
		t.Errorf("code = %q", got.LuaCode)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Night Light", "night_light"},
		{"hello world!", "hello_world"},
		{"", ""},
		{"  spaces  ", "spaces"},
		{"UPPER", "upper"},
		{strings.Repeat("abcd ", 10), strings.Repeat("abcd_", 7) + "abcd"},
	}
	for _, tt := range tests {
		if got := slugify(tt.input); got != tt.want {
			t.Errorf("slugify(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
