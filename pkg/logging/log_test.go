package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetLevel(InfoLevel)
	})
	return &buf
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(WarningLevel)

	Debugf("debug %d", 1)
	Infof("info %d", 2)
	Warningf("warning %d", 3)
	Errorf("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("Messages below warning level were written: %q", out)
	}
	if !strings.Contains(out, " WARNING warning 3") {
		t.Errorf("Missing warning message in %q", out)
	}
	if !strings.Contains(out, " ERROR error 4") {
		t.Errorf("Missing error message in %q", out)
	}
}

func TestSilentLevel(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(SilentLevel)
	Errorf("nothing")
	if buf.Len() != 0 {
		t.Errorf("Silent level wrote %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want Level
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{" warn ", WarningLevel},
		{"warning", WarningLevel},
		{"error", ErrorLevel},
		{"silent", SilentLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.name)
		if err != nil {
			t.Errorf("ParseLevel(%q) failed: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %d, expected %d", tt.name, got, tt.want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("Expected an error for an unknown level")
	}
}

func TestTimeLogAppendsElapsed(t *testing.T) {
	buf := captureOutput(t)
	SetLevel(DebugLevel)

	tlog := NewTimeLog()
	tlog.Debugf("wrote %s", "phantom")
	out := buf.String()
	if !strings.Contains(out, " DEBUG wrote phantom: ") {
		t.Errorf("Unexpected time log output %q", out)
	}
}

func TestSetupWritesLogFile(t *testing.T) {
	captureOutput(t)
	path := filepath.Join(t.TempDir(), "ct2egsphant.log")

	cfg := &Config{Level: "debug", Logfile: path, MaxSize: 1, MaxAge: 1}
	if err := cfg.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	Debugf("to file")
	Shutdown()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), " DEBUG to file") {
		t.Errorf("Log file does not contain the message: %q", data)
	}
}

func TestSetupRejectsBadLevel(t *testing.T) {
	cfg := &Config{Level: "chatty"}
	if err := cfg.Setup(); err == nil {
		t.Error("Expected an error for an unknown level")
	}
}
