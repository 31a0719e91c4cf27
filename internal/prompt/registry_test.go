// File path: internal/prompt/registry_test.go
package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderBakedDefault(t *testing.T) {
	reg := NewRegistry("")
	out, err := reg.Render("economy", TaskTag, map[string]any{"text": "markets rallied"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "markets rallied") {
		t.Fatalf("variable not substituted: %q", out)
	}
}

func TestTopicOverrideWinsOverDefaultDir(t *testing.T) {
	dir := t.TempDir()
	for sub, body := range map[string]string{
		"default": "default template {{.text}}",
		"economy": "economy template {{.text}}",
	} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, sub, "tag.tmpl"), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	reg := NewRegistry(dir)
	out, err := reg.Render("economy", TaskTag, map[string]any{"text": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "economy template") {
		t.Fatalf("expected topic override, got %q", out)
	}
	out, err = reg.Render("health", TaskTag, map[string]any{"text": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "default template") {
		t.Fatalf("expected default-dir fallback, got %q", out)
	}
}

func TestUnknownTaskFailsOnlyThatTask(t *testing.T) {
	reg := NewRegistry("")
	if _, err := reg.Render("economy", Task("nonexistent"), nil); err == nil {
		t.Fatal("expected error for unknown task")
	}
	if _, err := reg.Render("economy", TaskQueryExpand, map[string]any{"query": "q"}); err != nil {
		t.Fatalf("other tasks must keep working: %v", err)
	}
}
