package locator

import (
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"parcelhub/pkg/errors"
)

// Source is a flat namespace of input files
type Source interface {
	// List returns the base names of the files at the root, sorted
	List(ctx context.Context) ([]string, error)
	// Open returns the named file; a missing file is a PathNotFound error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Location renders name the way it should appear in logs
	Location(name string) string
}

// NewSource returns an S3 source for s3:// roots and a directory source otherwise
func NewSource(ctx context.Context, root string, opts S3Options) (Source, error) {
	if strings.HasPrefix(root, s3Scheme) {
		return NewS3Source(ctx, root, opts)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.ConfigError("data directory does not exist: "+root, "data_dir")
	}
	if !info.IsDir() {
		return nil, errors.ConfigError("data directory is not a directory: "+root, "data_dir")
	}
	return DirSource{Dir: root}, nil
}

// DirSource reads files from a local directory
type DirSource struct {
	Dir string
}

func (s DirSource) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to list data directory").
			WithContext("dir", s.Dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s DirSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	path := s.Location(name)
	f, err := os.Open(path) // #nosec G304 - names come from the fixed dataset catalog
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.PathNotFound(path, err)
		}
		if stderrors.Is(err, fs.ErrPermission) {
			return nil, errors.Wrap(err, errors.ErrCodeFilePermission, "Permission denied reading "+path).
				WithContext("path", path)
		}
		return nil, errors.Wrap(err, errors.ErrCodeFileOperation, "Failed to open "+path).
			WithContext("path", path)
	}
	return f, nil
}

func (s DirSource) Location(name string) string {
	return filepath.Join(s.Dir, name)
}
