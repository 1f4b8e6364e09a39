package filestore

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/user/formforge/pkg/logging"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), logging.NewDefaultLogger())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSaveAndOpen(t *testing.T) {
	s := newStore(t)

	rel, size, err := s.Save("f1", "q_doc", "report.pdf", strings.NewReader("pdf-bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if size != int64(len("pdf-bytes")) {
		t.Errorf("size = %d", size)
	}
	if !strings.HasPrefix(rel, filepath.Join("f1", "q_doc")+string(os.PathSeparator)) {
		t.Errorf("path = %q, want form/question prefix", rel)
	}
	if !strings.HasSuffix(rel, "_report.pdf") {
		t.Errorf("path = %q, want uuid_name suffix", rel)
	}

	r, err := s.Open(rel)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "pdf-bytes" {
		t.Errorf("content = %q", data)
	}
}

func TestFilenameSanitized(t *testing.T) {
	s := newStore(t)
	rel, _, err := s.Save("f1", "q_doc", "../../etc/passwd", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(rel, "..") {
		t.Errorf("path = %q, traversal survived sanitization", rel)
	}
}

func TestOpenRejectsEscape(t *testing.T) {
	s := newStore(t)
	if _, err := s.Open("../outside.txt"); err == nil {
		t.Error("expected path escape rejection")
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s := newStore(t)
	rel, _, _ := s.Save("f1", "q", "a.txt", strings.NewReader("x"))
	if err := s.Delete(rel); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(rel); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestSweepTemp(t *testing.T) {
	s := newStore(t)

	stale := filepath.Join(s.root, tempDir, "upload-stale")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	os.Chtimes(stale, old, old)

	fresh := filepath.Join(s.root, tempDir, "upload-fresh")
	os.WriteFile(fresh, []byte("y"), 0o644)

	n, err := s.SweepTemp(time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh temp file should survive the sweep")
	}
}
