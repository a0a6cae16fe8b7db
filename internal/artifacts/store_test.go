package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFSStoreDelete(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "out.pdf")
	if err := os.WriteFile(path, []byte("pdf"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := NewFSStore(root, nil)
	ok, err := s.Delete(context.Background(), path)
	if err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still exists after delete")
	}
}

func TestFSStoreDeleteMissingIsNotAnError(t *testing.T) {
	s := NewFSStore(t.TempDir(), nil)
	ok, err := s.Delete(context.Background(), filepath.Join(t.TempDir(), "gone.pdf"))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok {
		t.Error("deleting a missing artifact should report false")
	}
}

func TestFSStoreDeleteEmptyRef(t *testing.T) {
	s := NewFSStore(t.TempDir(), nil)
	ok, err := s.Delete(context.Background(), "")
	if err != nil || ok {
		t.Fatalf("Delete(\"\"): ok=%v err=%v, want false,nil", ok, err)
	}
}

func TestFSStoreRefusesOutsideRoot(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(t.TempDir(), "escape.pdf")
	if err := os.WriteFile(outside, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := NewFSStore(root, nil)
	if _, err := s.Delete(context.Background(), outside); err == nil {
		t.Fatal("expected refusal for path outside the artifact root")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Error("file outside root must not be touched")
	}

	if _, err := s.Delete(context.Background(), filepath.Join(root, "..", "escape.pdf")); err == nil {
		t.Fatal("expected refusal for traversal path")
	}
}

func TestFSStoreUnrootedDeletesAnywhere(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anywhere.txt")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	s := NewFSStore("", nil)
	ok, err := s.Delete(context.Background(), path)
	if err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}
}
