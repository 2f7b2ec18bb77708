package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/idis-platform/idis/pkg/idiserr"
)

// FSBlobStore keeps blobs under a base directory. Writes go through a
// temp file renamed in place. Every name is resolved and checked to
// still sit under the base directory before any file operation runs,
// even though the Store only hands over names built from validated
// components.
type FSBlobStore struct {
	base string
}

// NewFSBlobStore creates the backend rooted at base, creating the
// directory if needed. The base is resolved to an absolute path once so
// containment checks are stable under working-directory changes.
func NewFSBlobStore(base string) (*FSBlobStore, error) {
	if base == "" {
		return nil, idiserr.New(idiserr.KindInvalidInput, "objectstore: base directory is required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("objectstore: resolve base directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create base directory: %w", err)
	}
	return &FSBlobStore{base: abs}, nil
}

// Base returns the resolved base directory.
func (b *FSBlobStore) Base() string { return b.base }

// resolve maps a slash-separated blob name onto the filesystem and
// fails closed if the cleaned result escapes the base directory.
func (b *FSBlobStore) resolve(name string) (string, error) {
	p := filepath.Join(b.base, filepath.FromSlash(name))
	rel, err := filepath.Rel(b.base, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", idiserr.Newf(idiserr.KindInvalidInput, "objectstore: name %q escapes the base directory", name)
	}
	return p, nil
}

func (b *FSBlobStore) ReadBlob(_ context.Context, name string) ([]byte, error) {
	p, err := b.resolve(name)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, idiserr.Newf(idiserr.KindNotFound, "objectstore: blob %s not found", name)
		}
		return nil, fmt.Errorf("objectstore: read blob %s: %w", name, err)
	}
	return raw, nil
}

func (b *FSBlobStore) WriteBlob(_ context.Context, name string, data []byte) error {
	p, err := b.resolve(name)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("objectstore: create directory for %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(dir, ".blob-*")
	if err != nil {
		return fmt.Errorf("objectstore: create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("objectstore: write temp file for %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("objectstore: sync temp file for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("objectstore: close temp file for %s: %w", name, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("objectstore: commit blob %s: %w", name, err)
	}
	return nil
}

func (b *FSBlobStore) RemoveBlob(_ context.Context, name string) error {
	p, err := b.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return idiserr.Newf(idiserr.KindNotFound, "objectstore: blob %s not found", name)
		}
		return fmt.Errorf("objectstore: remove blob %s: %w", name, err)
	}
	return nil
}

func (b *FSBlobStore) ListBlobs(_ context.Context, prefix string) ([]string, error) {
	root, err := b.resolve(prefix)
	if err != nil {
		return nil, err
	}
	var names []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.base, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: list blobs under %s: %w", prefix, err)
	}
	sort.Strings(names)
	return names, nil
}

func (b *FSBlobStore) RemovePrefix(_ context.Context, prefix string) error {
	root, err := b.resolve(prefix)
	if err != nil {
		return err
	}
	if root == b.base {
		return idiserr.New(idiserr.KindInvalidInput, "objectstore: refusing to remove the base directory")
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("objectstore: remove prefix %s: %w", prefix, err)
	}
	return nil
}
