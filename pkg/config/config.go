// Package config manages xbenv settings. Settings come from a JSON file under
// the XDG config directory layered on top of built-in defaults, and may be
// overridden from the command line before the config is frozen.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"xbenv/pkg/common"
	"xbenv/pkg/lazyjson"

	"github.com/adrg/xdg"
)

// DefaultRootsDir is the parent directory of generated sandbox roots. It must
// live on the same filesystem as the host root for hard links to work.
const DefaultRootsDir = "/var/lib/xbenv"

// DefaultBasePkgs stands in for base-minimal without requiring the
// base-minimal meta package itself to be installed on the host.
var DefaultBasePkgs = []common.PkgRef{
	"base-files", "coreutils", "findutils", "diffutils", "dash", "grep",
	"gzip", "sed", "gawk", "util-linux", "which", "tar", "shadow",
	"procps-ng", "iana-etc", "xbps", "nvi", "tzdata", "runit-void",
	"removed-packages", "glibc-locales",
}

// File is the on-disk representation of the config file.
type File struct {
	RootsDir string          `json:"roots_dir"`
	HostRoot string          `json:"host_root"`
	Hostname string          `json:"hostname"`
	BasePkgs []common.PkgRef `json:"base_pkgs"`
	Shell    string          `json:"shell"`
	Binds    []string        `json:"binds,omitempty"`
	Jobs     int             `json:"jobs"`
}

// Defaults returns the built-in settings.
func Defaults() *File {
	return &File{
		RootsDir: DefaultRootsDir,
		HostRoot: "/",
		Hostname: "xbenv",
		BasePkgs: append([]common.PkgRef(nil), DefaultBasePkgs...),
		Shell:    "/bin/sh",
		Jobs:     8,
	}
}

// ReadOnly defines the read-only interface for Config.
// Immutable
type ReadOnly interface {
	GetConfigFile() string
	GetRootsDir() string
	GetHostRoot() string
	GetHostname() string
	GetBasePkgs() []common.PkgRef
	GetShell() string
	GetBinds() []string
	GetJobs() int
	Freeze()
	Checkout() Writable
}

// Writable defines the writable interface for Config.
// Mutable
type Writable interface {
	ReadOnly
	SetRootsDir(string)
	SetHostname(string)
	SetBasePkgs([]common.PkgRef)
	AddBinds(...string)
}

// Config holds the effective settings.
// Mutable until frozen
type Config struct {
	configFile string

	rootsDir string
	hostRoot string
	hostname string
	basePkgs []common.PkgRef
	shell    string
	binds    []string
	jobs     int

	frozen bool
	edited bool
}

var _ ReadOnly = (*Config)(nil)
var _ Writable = (*Config)(nil)

func (c *Config) GetConfigFile() string        { return c.configFile }
func (c *Config) GetRootsDir() string          { return c.rootsDir }
func (c *Config) GetHostRoot() string          { return c.hostRoot }
func (c *Config) GetHostname() string          { return c.hostname }
func (c *Config) GetBasePkgs() []common.PkgRef { return c.basePkgs }
func (c *Config) GetShell() string             { return c.shell }
func (c *Config) GetBinds() []string           { return c.binds }
func (c *Config) GetJobs() int                 { return c.jobs }

func (c *Config) SetRootsDir(s string) {
	c.mustBeEditable()
	c.rootsDir = s
}

func (c *Config) SetHostname(s string) {
	c.mustBeEditable()
	c.hostname = s
}

func (c *Config) SetBasePkgs(pkgs []common.PkgRef) {
	c.mustBeEditable()
	c.basePkgs = pkgs
}

func (c *Config) AddBinds(paths ...string) {
	c.mustBeEditable()
	c.binds = append(c.binds, paths...)
}

func (c *Config) mustBeEditable() {
	if c.frozen {
		panic("cannot modify frozen config")
	}
}

func (c *Config) Freeze() {
	c.frozen = true
}

func (c *Config) Checkout() Writable {
	if c.frozen {
		panic("cannot checkout from frozen config")
	}
	if c.edited {
		panic("config already checked out")
	}
	c.edited = true
	return c
}

// DefaultPath returns $XDG_CONFIG_HOME/xbenv/config.json.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "xbenv", "config.json")
}

// Init loads the config file at path (DefaultPath when empty). A missing
// file is not an error; the defaults are used.
func Init(path string) (ReadOnly, error) {
	if path == "" {
		path = DefaultPath()
	}

	f, err := lazyjson.New(path, lazyjson.WithDefaultValue(Defaults)).Get()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &Config{
		configFile: path,
		rootsDir:   f.RootsDir,
		hostRoot:   f.HostRoot,
		hostname:   f.Hostname,
		basePkgs:   f.BasePkgs,
		shell:      f.Shell,
		binds:      f.Binds,
		jobs:       f.Jobs,
	}, nil
}

// WriteDefaults creates a config file at path containing the defaults. It
// refuses to overwrite an existing file.
func WriteDefaults(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}
	mgr := lazyjson.New(path, lazyjson.WithDefaultValue(Defaults))
	if _, err := mgr.Get(); err != nil {
		return err
	}
	return mgr.Save()
}

// Validate checks the settings for values xbenv cannot work with.
func (f *File) Validate() error {
	if !filepath.IsAbs(f.RootsDir) {
		return fmt.Errorf("roots_dir must be an absolute path, got %q", f.RootsDir)
	}
	if !filepath.IsAbs(f.HostRoot) {
		return fmt.Errorf("host_root must be an absolute path, got %q", f.HostRoot)
	}
	if f.Hostname == "" {
		return errors.New("missing 'hostname'")
	}
	if f.Shell == "" {
		return errors.New("missing 'shell'")
	}
	if f.Jobs < 1 {
		return fmt.Errorf("jobs must be at least 1, got %d", f.Jobs)
	}
	for _, b := range f.Binds {
		if !filepath.IsAbs(b) {
			return fmt.Errorf("bind %q must be an absolute path", b)
		}
	}
	return nil
}
