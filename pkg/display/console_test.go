package display

import (
	"bytes"
	"strings"
	"testing"

	"xbenv/pkg/common"
)

func TestConsoleDisplay(t *testing.T) {
	buf := &bytes.Buffer{}
	d := newConsole(buf, buf, Verbose)
	d.live = true

	task := d.StartTask("TestTask")

	output := buf.String()
	if !strings.Contains(output, "[TestTask]") {
		t.Errorf("Expected output to contain task name, got: %q", output)
	}

	buf.Reset()
	task.SetStage("Link", "/tmp/root")
	task.Progress(50, "Working")
	output = buf.String()
	if !strings.Contains(output, clearPrevLine) {
		t.Errorf("Expected ANSI clear codes, got: %q", output)
	}
	if !strings.Contains(output, "Link") {
		t.Errorf("Expected Link stage, got: %q", output)
	}
	if !strings.Contains(output, "50%") {
		t.Errorf("Expected 50%%, got: %q", output)
	}

	buf.Reset()
	task.Log("Hello")
	output = buf.String()
	if !strings.Contains(output, "Hello") {
		t.Errorf("Expected log message, got: %q", output)
	}
	if !strings.Contains(output, "50%") {
		t.Errorf("Expected task reprint, got: %q", output)
	}

	buf.Reset()
	task.Done()
	output = buf.String()
	if !strings.Contains(output, "Done") {
		t.Errorf("Expected Done message, got: %q", output)
	}

	d.Close()
}

func TestConsoleDisplayNotTerminal(t *testing.T) {
	buf := &bytes.Buffer{}
	d := NewWriterDisplay(buf, Verbose)

	task := d.StartTask("build")
	task.SetStage("Manifest", "1 packages")
	task.Progress(50, "256 files")
	task.Log("Hello")
	task.Done()

	out := buf.String()
	if strings.Contains(out, "\x1b[") {
		t.Errorf("expected no escape sequences when not on a terminal, got %q", out)
	}
	for _, want := range []string{"[build] Manifest 1 packages\n", "Hello\n", "Done"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
	if strings.Contains(out, "50%") {
		t.Errorf("progress should not be printed when not on a terminal, got %q", out)
	}
}

func TestVerbosityLevels(t *testing.T) {
	tests := []struct {
		v    Verbosity
		want []string
		not  []string
	}{
		{Quiet, []string{"error", "primary"}, []string{"stage", "detail", "item"}},
		{Normal, []string{"error", "primary", "stage"}, []string{"detail", "item"}},
		{Verbose, []string{"error", "primary", "stage", "detail"}, []string{"item"}},
		{Trace, []string{"error", "primary", "stage", "detail", "item"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.v.String(), func(t *testing.T) {
			buf := &bytes.Buffer{}
			d := NewWriterDisplay(buf, tt.v)
			d.Error("error")
			d.Print("primary\n")
			d.Log("stage")
			d.Debug("detail")
			d.Trace("item")

			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("expected %q in output %q", w, out)
				}
			}
			for _, n := range tt.not {
				if strings.Contains(out, n) {
					t.Errorf("did not expect %q in output %q", n, out)
				}
			}
		})
	}
}

func TestQuietSuppressesTasks(t *testing.T) {
	buf := &bytes.Buffer{}
	d := NewWriterDisplay(buf, Quiet)
	task := d.StartTask("Build")
	task.Progress(10, "x")
	task.Done()
	if buf.Len() != 0 {
		t.Errorf("expected no output in quiet mode, got %q", buf.String())
	}
}

func TestFromFlags(t *testing.T) {
	if v := FromFlags(true, 2); v != Quiet {
		t.Errorf("quiet must win, got %s", v)
	}
	if v := FromFlags(false, 0); v != Normal {
		t.Errorf("expected normal, got %s", v)
	}
	if v := FromFlags(false, 1); v != Verbose {
		t.Errorf("expected verbose, got %s", v)
	}
	if v := FromFlags(false, 5); v != Trace {
		t.Errorf("expected trace, got %s", v)
	}
}

func TestRenderTable(t *testing.T) {
	buf := &bytes.Buffer{}
	d := NewWriterDisplay(buf, Normal)
	d.RenderOutput(&common.Output{
		Table: &common.Table{
			Header: []string{"ROOT", "PID"},
			Rows:   [][]string{{"/var/lib/xbenv/env-1", "42"}},
		},
		Message: "1 environment",
	})
	out := buf.String()
	for _, want := range []string{"ROOT", "PID", "/var/lib/xbenv/env-1", "42", "1 environment"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}
}
