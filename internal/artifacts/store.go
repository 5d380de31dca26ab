package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Names of the rendered artifacts of one comparison.
const (
	SSIMDifference     = "ssim_difference"
	BoundedDifferences = "bounded_differences"
	DrawnDifferences   = "drawn_differences"
	MaskDifferences    = "mask_differences"
)

// Extension of every rendered artifact.
const Extension = ".jpg"

// ErrNotFound is returned when a requested artifact does not exist.
var ErrNotFound = errors.New("artifact not found")

// ErrInvalidName is returned for names that would escape the results directory.
var ErrInvalidName = errors.New("invalid artifact name")

// FileName returns the deterministic file name of an artifact.
func FileName(sessionID, artifact string) string {
	return fmt.Sprintf("%s_%s%s", sessionID, artifact, Extension)
}

// URLPath returns the path under which an artifact is served.
func URLPath(sessionID, artifact string) string {
	return "/results/" + FileName(sessionID, artifact)
}

// Store persists rendered artifacts.
type Store interface {
	Save(ctx context.Context, name string, data []byte) error
	Remove(ctx context.Context, names ...string) error
	Path(name string) (string, error)
}

// DirStore keeps artifacts as files in a single directory.
type DirStore struct {
	dir string
}

// NewDirStore creates the directory if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("results directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create results directory %s: %w", dir, err)
	}
	return &DirStore{dir: dir}, nil
}

// Dir returns the backing directory.
func (s *DirStore) Dir() string {
	return s.dir
}

// Save writes data under name. The file appears atomically.
func (s *DirStore) Save(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// Remove deletes the named artifacts, ignoring ones that do not exist.
func (s *DirStore) Remove(ctx context.Context, names ...string) error {
	var errs []error
	for _, name := range names {
		if err := validateName(name); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Path returns the absolute location of an existing artifact.
func (s *DirStore) Path(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	p := filepath.Join(s.dir, name)
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", err
	}
	if info.IsDir() {
		return "", ErrNotFound
	}
	return p, nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") ||
		filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
