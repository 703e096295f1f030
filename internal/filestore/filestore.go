// Package filestore manages image files on disk. Every case gets its own
// directory under <base>/cases/<caseID>/ and images are stored there as
// img_<imageID>.<ext>. Source files handed in by the capture layer are
// copied, never moved or modified.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Permissions for case directories and copied images.
const (
	DirPerms  = 0o700
	FilePerms = 0o600
)

const (
	casesDirName = "cases"
	fileScheme   = "file://"
	defaultExt   = "jpg"
)

// ErrInvalidCaseID is returned for case ids that cannot be used as a single
// directory name.
var ErrInvalidCaseID = errors.New("filestore: invalid case id")

// Store roots all image files under one base directory.
type Store struct {
	casesDir string
}

// New creates the cases directory under base (if needed) and returns a Store.
func New(base string) (*Store, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("filestore: resolving %s: %w", base, err)
	}

	dir := filepath.Join(abs, casesDirName)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return nil, fmt.Errorf("filestore: creating %s: %w", dir, err)
	}

	return &Store{casesDir: dir}, nil
}

// CasesDir returns the directory that holds all case directories.
func (s *Store) CasesDir() string {
	return s.casesDir
}

// cleanCaseID NFC-normalizes the id and rejects anything that would not
// resolve to a direct child of the cases directory.
func cleanCaseID(caseID string) (string, error) {
	id := norm.NFC.String(strings.TrimSpace(caseID))

	switch {
	case id == "", id == ".", id == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidCaseID, caseID)
	case strings.ContainsAny(id, `/\`+"\x00"):
		return "", fmt.Errorf("%w: %q", ErrInvalidCaseID, caseID)
	}

	return id, nil
}

// CaseDir returns the directory for caseID without creating it.
func (s *Store) CaseDir(caseID string) (string, error) {
	id, err := cleanCaseID(caseID)
	if err != nil {
		return "", err
	}

	return filepath.Join(s.casesDir, id), nil
}

// EnsureCaseDirectory creates the case directory if it does not exist and
// returns its path. Calling it again is a no-op.
func (s *Store) EnsureCaseDirectory(caseID string) (string, error) {
	dir, err := s.CaseDir(caseID)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return "", fmt.Errorf("filestore: creating case directory %s: %w", dir, err)
	}

	return dir, nil
}

// SaveImageFile copies the file at sourceURI into the case directory as
// img_<imageID>.<ext> and returns the destination path. The extension comes
// from the source path and defaults to jpg. The copy is written to a temp
// file and renamed into place so a partial copy is never visible.
func (s *Store) SaveImageFile(sourceURI, caseID, imageID string) (string, error) {
	if imageID == "" || strings.ContainsAny(imageID, `/\`) {
		return "", fmt.Errorf("filestore: invalid image id %q", imageID)
	}

	src := StripScheme(sourceURI)
	if src == "" {
		return "", errors.New("filestore: empty source uri")
	}

	dir, err := s.EnsureCaseDirectory(caseID)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(dir, "img_"+imageID+"."+extension(src))

	if err := copyFile(src, dest); err != nil {
		return "", err
	}

	return dest, nil
}

// extension returns the lowercased extension of path without the dot,
// or the default when there is none.
func extension(path string) string {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" || strings.ContainsAny(ext, "?#") {
		return defaultExt
	}

	return strings.ToLower(ext)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("filestore: opening source %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("filestore: stat source %s: %w", src, err)
	}

	if info.IsDir() {
		return fmt.Errorf("filestore: source %s is a directory", src)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".img-*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: setting permissions: %w", err)
	}

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: copying %s: %w", src, err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("filestore: renaming into %s: %w", dest, err)
	}

	success = true

	return nil
}

// DeleteImageFile removes a single image file. A missing file is not an error.
func (s *Store) DeleteImageFile(path string) error {
	err := os.Remove(StripScheme(path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("filestore: deleting %s: %w", path, err)
	}

	return nil
}

// DeleteCaseFiles removes the case directory and everything in it.
func (s *Store) DeleteCaseFiles(caseID string) error {
	dir, err := s.CaseDir(caseID)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("filestore: deleting case directory %s: %w", dir, err)
	}

	return nil
}

// Contains reports whether path lies inside the directory of caseID.
func (s *Store) Contains(caseID, path string) bool {
	dir, err := s.CaseDir(caseID)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(dir, filepath.Clean(StripScheme(path)))
	if err != nil {
		return false
	}

	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) &&
		!filepath.IsAbs(rel)
}

// FileSize returns the size in bytes of the file at path.
func (s *Store) FileSize(path string) (int64, error) {
	info, err := os.Stat(StripScheme(path))
	if err != nil {
		return 0, fmt.Errorf("filestore: stat %s: %w", path, err)
	}

	return info.Size(), nil
}

// Exists reports whether a regular file exists at path.
func (s *Store) Exists(path string) bool {
	info, err := os.Stat(StripScheme(path))
	return err == nil && info.Mode().IsRegular()
}

// ImageURI returns the file:// URI for a stored path.
func ImageURI(path string) string {
	if path == "" || strings.HasPrefix(path, fileScheme) {
		return path
	}

	return fileScheme + filepath.ToSlash(path)
}

// StripScheme removes a leading file:// from uri.
func StripScheme(uri string) string {
	return strings.TrimPrefix(uri, fileScheme)
}
