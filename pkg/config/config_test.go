package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := Init(path)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if cfg.GetRootsDir() != DefaultRootsDir {
		t.Errorf("expected roots dir %s, got %s", DefaultRootsDir, cfg.GetRootsDir())
	}
	if cfg.GetHostname() != "xbenv" {
		t.Errorf("expected default hostname, got %s", cfg.GetHostname())
	}
	if len(cfg.GetBasePkgs()) != len(DefaultBasePkgs) {
		t.Errorf("expected %d base packages, got %d", len(DefaultBasePkgs), len(cfg.GetBasePkgs()))
	}
	if cfg.GetConfigFile() != path {
		t.Errorf("expected config file %s, got %s", path, cfg.GetConfigFile())
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Init must not write the config file")
	}
}

func TestInitReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"roots_dir":"/srv/roots","base_pkgs":["base-minimal"],"binds":["/dev/shm"]}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Init(path)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if cfg.GetRootsDir() != "/srv/roots" {
		t.Errorf("expected /srv/roots, got %s", cfg.GetRootsDir())
	}
	if got := cfg.GetBasePkgs(); len(got) != 1 || got[0] != "base-minimal" {
		t.Errorf("expected [base-minimal], got %v", got)
	}
	if got := cfg.GetBinds(); len(got) != 1 || got[0] != "/dev/shm" {
		t.Errorf("expected [/dev/shm], got %v", got)
	}
	// Unset fields keep their defaults.
	if cfg.GetShell() != "/bin/sh" {
		t.Errorf("expected default shell, got %s", cfg.GetShell())
	}
}

func TestInitRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"relative roots": `{"roots_dir":"roots"}`,
		"zero jobs":      `{"jobs":0}`,
		"empty hostname": `{"hostname":""}`,
		"relative bind":  `{"binds":["dev/shm"]}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(data), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Init(path); err == nil {
				t.Errorf("expected error for %s", data)
			}
		})
	}
}

func TestCheckoutAndFreeze(t *testing.T) {
	cfg, err := Init(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	w := cfg.Checkout()
	w.SetHostname("box")
	w.AddBinds("/dev/shm")
	cfg.Freeze()

	if cfg.GetHostname() != "box" {
		t.Errorf("expected hostname box, got %s", cfg.GetHostname())
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic when modifying frozen config")
		}
	}()
	w.SetRootsDir("/tmp")
}

func TestWriteDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xbenv", "config.json")
	if err := WriteDefaults(path); err != nil {
		t.Fatalf("WriteDefaults failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"roots_dir": "/var/lib/xbenv"`) {
		t.Errorf("unexpected config file content: %s", data)
	}
	if err := WriteDefaults(path); err == nil {
		t.Error("expected error when config file already exists")
	}
}
