package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Store is the boundary to wherever input/output artifacts live. The job
// core only ever deletes through it; upload and serving belong to the
// request layer.
type Store interface {
	// Delete removes the artifact behind ref. Returns false (no error) when
	// the artifact was already gone.
	Delete(ctx context.Context, ref string) (bool, error)
}

// FSStore resolves artifact references as filesystem paths. When root is
// non-empty, deletion is refused outside it.
type FSStore struct {
	root string
	log  *slog.Logger
}

func NewFSStore(root string, logger *slog.Logger) *FSStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSStore{root: root, log: logger}
}

func (s *FSStore) Delete(_ context.Context, ref string) (bool, error) {
	if ref == "" {
		return false, nil
	}
	path := filepath.Clean(ref)
	if s.root != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return false, fmt.Errorf("resolve artifact path: %w", err)
		}
		rootAbs, err := filepath.Abs(s.root)
		if err != nil {
			return false, fmt.Errorf("resolve artifact root: %w", err)
		}
		if abs != rootAbs && !strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
			return false, fmt.Errorf("artifact %q is outside the artifact root", ref)
		}
	}

	err := os.Remove(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete artifact %q: %w", ref, err)
	}
	s.log.Debug("artifact deleted", "ref", ref)
	return true, nil
}
