// Package tokenfile persists the agent's session tokens. The file holds the
// bearer and refresh tokens plus a few identity fields cached at login
// (user id, email) so commands can run without a profile round-trip.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the parent directory.
const DirPerms = 0o700

// Metadata keys cached next to the token.
const (
	MetaUserID = "user_id"
	MetaEmail  = "email"
	MetaName   = "name"
)

// File is the on-disk format.
type File struct {
	Token *oauth2.Token     `json:"token"`
	Meta  map[string]string `json:"meta,omitempty"`
}

// Store reads and writes one token file.
type Store struct {
	path string
}

// New returns a Store for path. The file need not exist.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the token file location.
func (s *Store) Path() string {
	return s.path
}

// Load returns the saved token and metadata, or (nil, nil, nil) when no
// session has been saved.
func (s *Store) Load() (*oauth2.Token, map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil //nolint:nilnil // sentinel for "not logged in"
	}

	if err != nil {
		return nil, nil, fmt.Errorf("tokenfile: reading %s: %w", s.path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, nil, fmt.Errorf("tokenfile: decoding %s: %w", s.path, err)
	}

	if tf.Token == nil || tf.Token.AccessToken == "" {
		return nil, nil, fmt.Errorf("tokenfile: %s has no access token (log in again)", s.path)
	}

	return tf.Token, tf.Meta, nil
}

// Save atomically replaces the token file with tok and meta. Token values
// are never logged.
func (s *Store) Save(tok *oauth2.Token, meta map[string]string) error {
	if tok == nil {
		return errors.New("tokenfile: nil token")
	}

	data, err := json.MarshalIndent(File{Token: tok, Meta: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	return writeAtomic(s.path, data)
}

// UpdateMeta merges meta into the saved file. Keys with empty values are
// removed.
func (s *Store) UpdateMeta(meta map[string]string) error {
	tok, existing, err := s.Load()
	if err != nil {
		return err
	}

	if tok == nil {
		return fmt.Errorf("tokenfile: no session at %s", s.path)
	}

	if existing == nil {
		existing = make(map[string]string, len(meta))
	}

	maps.Copy(existing, meta)
	maps.DeleteFunc(existing, func(_, v string) bool { return v == "" })

	return s.Save(tok, existing)
}

// Clear removes the token file. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("tokenfile: removing %s: %w", s.path, err)
	}

	return nil
}

// writeAtomic writes data to a temp file in the same directory, syncs it,
// and renames it over path.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
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
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}
