package lazyjson

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type testSettings struct {
	RootsDir string   `json:"roots_dir"`
	Hostname string   `json:"hostname"`
	Binds    []string `json:"binds"`
}

func defaults() *testSettings {
	return &testSettings{RootsDir: "/var/lib/test", Hostname: "box", Binds: []string{"/dev/shm"}}
}

func TestGet_MissingFileUsesDefault(t *testing.T) {
	mgr := New(filepath.Join(t.TempDir(), "config.json"), WithDefaultValue(defaults))

	cfg, err := mgr.Get()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Hostname != "box" {
		t.Errorf("expected default hostname, got %q", cfg.Hostname)
	}
}

func TestGet_MissingFileWithoutDefault(t *testing.T) {
	mgr := New[testSettings](filepath.Join(t.TempDir(), "config.json"))
	cfg, err := mgr.Get()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg == nil || cfg.Hostname != "" {
		t.Errorf("expected zero value, got %+v", cfg)
	}
}

func TestGet_FileOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"hostname":"custom"}`), 0644); err != nil {
		t.Fatal(err)
	}

	mgr := New(path, WithDefaultValue(defaults))
	cfg, err := mgr.Get()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Hostname != "custom" {
		t.Errorf("expected hostname from file, got %q", cfg.Hostname)
	}
	if cfg.RootsDir != "/var/lib/test" {
		t.Errorf("expected default roots dir to survive, got %q", cfg.RootsDir)
	}
}

func TestGet_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := New[testSettings](path).Get(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSave_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	mgr := New(path, WithDefaultValue(defaults))
	if _, err := mgr.Get(); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved file: %v", err)
	}
	if !strings.Contains(string(data), `"/dev/shm"`) || !strings.HasSuffix(string(data), "}\n") {
		t.Errorf("unexpected saved file: %s", data)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestSave_LoadedFileNoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"hostname":"custom"}`), 0644); err != nil {
		t.Fatal(err)
	}
	mgr := New(path, WithDefaultValue(defaults))
	if _, err := mgr.Get(); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Save(); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != `{"hostname":"custom"}` {
		t.Errorf("unchanged file must not be rewritten, got %s", data)
	}
}

func TestSave_NotLoaded_NoOp(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	mgr := New[testSettings](path)
	if err := mgr.Save(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("save of an untouched manager must not create the file")
	}
}
