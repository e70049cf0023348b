package logging

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	flags := log.Flags()
	log.SetFlags(0)
	log.SetOutput(&buf)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(flags)
		SetLevel("info")
	})
	return &buf
}

func TestLevelFiltersOutput(t *testing.T) {
	buf := captureLog(t)

	SetLevel("info")
	Debugf("noise")
	Infof("startup")
	if strings.Contains(buf.String(), "noise") {
		t.Fatalf("debug line emitted at info level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "startup") {
		t.Fatalf("info line missing at info level: %q", buf.String())
	}

	buf.Reset()
	SetLevel("warn")
	Infof("startup")
	Warnf("cache get failed")
	if strings.Contains(buf.String(), "startup") {
		t.Fatalf("info line emitted at warn level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "Warning: cache get failed") {
		t.Fatalf("warn line missing at warn level: %q", buf.String())
	}

	buf.Reset()
	SetLevel("debug")
	Debugf("verbose detail")
	if !strings.Contains(buf.String(), "[debug] verbose detail") {
		t.Fatalf("debug line missing at debug level: %q", buf.String())
	}
}

func TestSetLevelUnknownFallsBackToInfo(t *testing.T) {
	buf := captureLog(t)

	SetLevel("chatty")
	Debugf("noise")
	Infof("startup")
	if strings.Contains(buf.String(), "noise") {
		t.Fatalf("unknown level did not fall back to info: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "startup") {
		t.Fatalf("info line missing after fallback: %q", buf.String())
	}
}

func TestRotationKeepsOneBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	rw, err := Setup(path, 64)
	if err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	defer rw.Close()
	defer log.SetOutput(os.Stderr)

	line := []byte(strings.Repeat("x", 40) + "\n")
	for i := 0; i < 3; i++ {
		if _, err := rw.Write(line); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	if _, err := os.Stat(path + ".1"); err != nil {
		t.Fatalf("expected rotated backup: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat current log: %v", err)
	}
	if info.Size() > 64 {
		t.Fatalf("current log not reset after rotation: %d bytes", info.Size())
	}
}
