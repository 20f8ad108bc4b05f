package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon.log")

	out := Open(path, false)
	out.Logger("sync").Println("pulled 3 records")
	out.Logger("daemon").Println("stopped")
	if err := out.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	got := string(data)
	if !strings.Contains(got, "[sync] ") || !strings.Contains(got, "pulled 3 records") {
		t.Errorf("log file missing sync line:\n%s", got)
	}
	if !strings.HasPrefix(strings.Split(got, "\n")[1], "[daemon] ") {
		t.Errorf("log file missing daemon line:\n%s", got)
	}
}

func TestOpen_Stderr(t *testing.T) {
	out := Open("", false)
	if out.Writer() != os.Stderr {
		t.Error("empty file should log to stderr")
	}
	if err := out.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}
