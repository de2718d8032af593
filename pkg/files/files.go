package files

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dubu13/webserv/pkg/logging"
	"github.com/dubu13/webserv/pkg/protocol"
)

// Service performs the filesystem operations behind the method handlers.
// Every entry point re-checks path safety before touching the disk.
type Service struct {
	log logging.Logger
}

// NewService creates a file service logging through log.
func NewService(log logging.Logger) *Service {
	return &Service{log: log}
}

// Read returns the content of root+uri. The error, when non-nil, is a
// StatusError: 403 for unsafe or unreadable paths, 404 for missing files,
// 500 for any other read failure.
func (s *Service) Read(root, uri string) ([]byte, error) {
	if !protocol.IsPathSafe(uri) {
		return nil, protocol.NewStatusError(protocol.StatusForbidden, "unsafe path")
	}
	path := protocol.BuildPath(root, uri)
	content, err := os.ReadFile(path)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, protocol.NewStatusError(protocol.StatusNotFound, "")
		case errors.Is(err, fs.ErrPermission):
			return nil, protocol.NewStatusError(protocol.StatusForbidden, "")
		}
		s.log.Errorf("read %s: %v", path, err)
		return nil, protocol.NewStatusError(protocol.StatusInternalServerError, "")
	}
	return content, nil
}

// Write stores content at root+uri, creating parent directories as needed.
// It reports whether the file was newly created.
func (s *Service) Write(root, uri string, content []byte) (created bool, err error) {
	if !protocol.IsPathSafe(uri) {
		return false, protocol.NewStatusError(protocol.StatusForbidden, "unsafe path")
	}
	path := protocol.BuildPath(root, uri)

	_, statErr := os.Stat(path)
	created = errors.Is(statErr, fs.ErrNotExist)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		s.log.Errorf("mkdir for %s: %v", path, err)
		return false, protocol.NewStatusError(protocol.StatusInternalServerError, "")
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return false, protocol.NewStatusError(protocol.StatusForbidden, "")
		}
		s.log.Errorf("write %s: %v", path, err)
		return false, protocol.NewStatusError(protocol.StatusInternalServerError, "")
	}
	return created, nil
}

// Delete removes the file at root+uri. Directories are refused.
func (s *Service) Delete(root, uri string) error {
	if !protocol.IsPathSafe(uri) {
		return protocol.NewStatusError(protocol.StatusForbidden, "unsafe path")
	}
	path := protocol.BuildPath(root, uri)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return protocol.NewStatusError(protocol.StatusNotFound, "")
		}
		return protocol.NewStatusError(protocol.StatusForbidden, "")
	}
	if info.IsDir() {
		return protocol.NewStatusError(protocol.StatusForbidden, "cannot delete a directory")
	}
	if err := os.Remove(path); err != nil {
		s.log.Errorf("delete %s: %v", path, err)
		return protocol.NewStatusError(protocol.StatusInternalServerError, "")
	}
	return nil
}

// Exists reports whether path names an existing file or directory.
func (s *Service) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDirectory reports whether path names a directory.
func (s *Service) IsDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// MkdirAll creates a directory and its parents.
func (s *Service) MkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}
