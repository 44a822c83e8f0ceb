package logfile

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenReadsWholeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modem.log")
	want := "2024-05-01 10:00:00:AT+CESQ\n2024-05-01 10:00:00:OK\n"
	if err := os.WriteFile(path, []byte(want), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(f.Bytes()) != want || f.Len() != len(want) || f.Path() != path {
		t.Fatalf("bytes=%q len=%d", f.Bytes(), f.Len())
	}
	b, err := io.ReadAll(f.Reader())
	if err != nil || string(b) != want {
		t.Fatalf("reader=%q err=%v", b, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if f.Bytes() != nil {
		t.Fatalf("bytes kept after Close")
	}
}

func TestOpenEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.ubx")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	if f.Len() != 0 {
		t.Fatalf("len=%d", f.Len())
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(filepath.Join(dir, "missing")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("missing: err=%v", err)
	}
	_, err := Open(dir)
	if err == nil || !strings.HasSuffix(err.Error(), "is a directory") {
		t.Fatalf("dir: err=%v", err)
	}
}
