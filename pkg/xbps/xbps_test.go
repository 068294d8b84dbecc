package xbps

import (
	"context"
	"errors"
	"os/exec"
	"reflect"
	"strings"
	"testing"
)

type response struct {
	stdout string
	stderr string
	err    error
}

type fakeRunner struct {
	responses map[string]response
	calls     []string
}

func (f *fakeRunner) Run(_ context.Context, args ...string) ([]byte, []byte, error) {
	key := strings.Join(args, " ")
	f.calls = append(f.calls, key)
	r, ok := f.responses[key]
	if !ok {
		return nil, []byte("unexpected query: " + key), nil
	}
	return []byte(r.stdout), []byte(r.stderr), r.err
}

func newTestIndex(t *testing.T, responses map[string]response, opts ...Option) (*Index, *fakeRunner) {
	t.Helper()
	r := &fakeRunner{responses: responses}
	x, err := New("/", append([]Option{WithRunner(r)}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return x, r
}

func TestPkgName(t *testing.T) {
	tests := map[string]string{
		"glibc-2.39_1":         "glibc",
		"base-minimal-0.1_1":   "base-minimal",
		"util-linux-2.40.2_1":  "util-linux",
		"xbps":                 "xbps",
		"removed-packages-0.1": "removed-packages",
	}
	for in, want := range tests {
		if got := PkgName(in); got != want {
			t.Errorf("PkgName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestListInstalled(t *testing.T) {
	x, _ := newTestIndex(t, map[string]response{
		"-r / -l": {stdout: "ii base-files-0.143_1   Void Linux base system files\n" +
			"ii coreutils-9.4_1      GNU core utilities\n\n"},
	})

	got, err := x.ListInstalled(context.Background())
	if err != nil {
		t.Fatalf("ListInstalled failed: %v", err)
	}
	want := []string{"base-files", "coreutils"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestListDependencies(t *testing.T) {
	x, r := newTestIndex(t, map[string]response{
		"-r / --fulldeptree -x bash": {stdout: "glibc-2.39_1\nreadline-8.2.013_1\nncurses-libs-6.5_1\n"},
		"-r / -x bash":               {stdout: "glibc-2.39_1\nreadline-8.2.013_1\n"},
	})

	got, err := x.ListDependencies(context.Background(), "bash", true)
	if err != nil {
		t.Fatalf("ListDependencies failed: %v", err)
	}
	if want := []string{"glibc", "readline", "ncurses-libs"}; !reflect.DeepEqual(got, want) {
		t.Errorf("recursive: got %v, want %v", got, want)
	}

	got, err = x.ListDependencies(context.Background(), "bash", false)
	if err != nil {
		t.Fatalf("ListDependencies failed: %v", err)
	}
	if want := []string{"glibc", "readline"}; !reflect.DeepEqual(got, want) {
		t.Errorf("direct: got %v, want %v", got, want)
	}
	if len(r.calls) != 2 {
		t.Errorf("expected 2 queries, got %d", len(r.calls))
	}
}

func TestListDependenciesRepoMode(t *testing.T) {
	x, _ := newTestIndex(t, map[string]response{
		"-r / -R --fulldeptree -x bash": {stdout: "glibc-2.39_1\n"},
	}, WithRepoMode(true))

	got, err := x.ListDependencies(context.Background(), "bash", true)
	if err != nil {
		t.Fatalf("ListDependencies failed: %v", err)
	}
	if want := []string{"glibc"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestListFiles(t *testing.T) {
	x, _ := newTestIndex(t, map[string]response{
		"-r / -f dash": {stdout: "/usr/bin/dash\n/usr/bin/sh -> /usr/bin/dash\n/usr/share/man/man1/dash.1\n"},
	})

	got, err := x.ListFiles(context.Background(), "dash")
	if err != nil {
		t.Fatalf("ListFiles failed: %v", err)
	}
	want := []string{"/usr/bin/dash", "/usr/bin/sh", "/usr/share/man/man1/dash.1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDiagnosticsFailQuery(t *testing.T) {
	x, _ := newTestIndex(t, map[string]response{
		"-r / -f nope": {stdout: "/usr/bin/partial\n", stderr: "Package 'nope' not found.\n"},
	})

	files, err := x.ListFiles(context.Background(), "nope")
	if files != nil {
		t.Errorf("expected no partial output, got %v", files)
	}
	var qerr *QueryError
	if !errors.As(err, &qerr) {
		t.Fatalf("expected QueryError, got %v", err)
	}
	if qerr.Kind != KindDiagnostics {
		t.Errorf("expected KindDiagnostics, got %s", qerr.Kind)
	}
	if !strings.Contains(qerr.Error(), "not found") {
		t.Errorf("expected diagnostic text in error, got %q", qerr.Error())
	}
}

func TestExecFailure(t *testing.T) {
	x, _ := newTestIndex(t, map[string]response{
		"-r / -l": {err: errors.New("exit status 2")},
	})
	_, err := x.ListInstalled(context.Background())
	var qerr *QueryError
	if !errors.As(err, &qerr) || qerr.Kind != KindExec {
		t.Fatalf("expected KindExec QueryError, got %v", err)
	}
}

func TestMalformedOutput(t *testing.T) {
	x, _ := newTestIndex(t, map[string]response{
		"-r / -l":      {stdout: "garbage\n"},
		"-r / -f dash": {stdout: "usr/bin/dash\n"},
	})
	if _, err := x.ListInstalled(context.Background()); err == nil {
		t.Error("expected error for malformed installed listing")
	}
	if _, err := x.ListFiles(context.Background(), "dash"); err == nil {
		t.Error("expected error for relative file path")
	}
}

func TestNewWithoutTool(t *testing.T) {
	if _, err := exec.LookPath(QueryTool); err == nil {
		t.Skip("xbps-query is installed")
	}
	_, err := New("/")
	var qerr *QueryError
	if !errors.As(err, &qerr) || qerr.Kind != KindMissingTool {
		t.Fatalf("expected KindMissingTool, got %v", err)
	}
}

func TestHostDatabase(t *testing.T) {
	x, err := New("/")
	if err != nil {
		t.Skip("xbps-query not available, skipping integration test")
	}
	pkgs, err := x.ListInstalled(context.Background())
	if err != nil {
		t.Fatalf("ListInstalled failed: %v", err)
	}
	if len(pkgs) == 0 {
		t.Fatal("expected at least one installed package")
	}
	if _, err := x.ListFiles(context.Background(), pkgs[0]); err != nil {
		t.Errorf("ListFiles(%s) failed: %v", pkgs[0], err)
	}
}
