package bubblewrap

import (
	"errors"
	"os"
	"os/exec"
	"strings"
)

// ErrNotFound is returned by BwrapPath when bubblewrap is not installed.
var ErrNotFound = errors.New("bwrap not found in $PATH or standard locations")

// ErrUnavailable is returned when bwrap is installed but cannot create a
// sandbox on this host.
var ErrUnavailable = errors.New("sandboxing unavailable")

// BwrapPath returns the path of the bwrap binary, looking in $PATH first and
// then in the usual install locations.
func BwrapPath() (string, error) {
	if path, err := exec.LookPath("bwrap"); err == nil {
		return path, nil
	}
	for _, path := range []string{"/usr/bin/bwrap", "/usr/local/bin/bwrap", "/bin/bwrap"} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrNotFound
}

// Capabilities describes what sandbox features are available on this system.
type Capabilities struct {
	// BwrapAvailable is true if bubblewrap is installed.
	BwrapAvailable bool

	// BwrapPath is the path to bwrap if available.
	BwrapPath string

	// UserNamespacesEnabled is true if unprivileged user namespaces work.
	UserNamespacesEnabled bool
}

// DetectCapabilities checks what sandbox features are available.
func DetectCapabilities() *Capabilities {
	caps := &Capabilities{}

	path, err := BwrapPath()
	if err != nil {
		return caps
	}
	caps.BwrapAvailable = true
	caps.BwrapPath = path
	caps.UserNamespacesEnabled = checkUserNamespaces(path)
	return caps
}

// CanRunSandbox returns true if basic sandbox execution is possible.
func (c *Capabilities) CanRunSandbox() bool {
	return c.BwrapAvailable && c.UserNamespacesEnabled
}

// SkipReason returns a human-readable reason why sandboxing isn't available,
// or empty string if it is available.
func (c *Capabilities) SkipReason() string {
	if !c.BwrapAvailable {
		return "bubblewrap not installed"
	}
	if !c.UserNamespacesEnabled {
		return "unprivileged user namespaces not enabled (set kernel.unprivileged_userns_clone=1)"
	}
	return ""
}

func checkUserNamespaces(bwrap string) bool {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err == nil && strings.TrimSpace(string(data)) == "0" {
		return false
	}
	// A missing sysctl usually means userns is allowed; try it.
	cmd := exec.Command(bwrap, "--unshare-user", "--ro-bind", "/", "/", "--", "true")
	return cmd.Run() == nil
}
