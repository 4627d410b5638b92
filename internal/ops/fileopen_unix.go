//go:build !windows

package ops

import (
	stderrors "errors"
	"os"
	"syscall"

	"github.com/hpungsan/promptmeta/internal/errors"
)

// openNoFollow opens path without following a symlink in the final
// component. Parent directories are covered by ValidatePath, which only
// admits files directly inside an allowed directory.
func openNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, uint32(perm))
	if err != nil {
		switch {
		case stderrors.Is(err, syscall.ELOOP):
			return nil, errors.NewInvalidRequest("refusing to open symlink: " + path)
		case stderrors.Is(err, syscall.ENOENT):
			return nil, errors.NewFileNotFound(path)
		}
		return nil, errors.NewInternal(err)
	}
	return os.NewFile(uintptr(fd), path), nil
}

// createExportFile creates (or truncates) an owner-only export temp file.
func createExportFile(path string) (*os.File, error) {
	return openNoFollow(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
}

// openImportFile opens an import file for reading.
func openImportFile(path string) (*os.File, error) {
	return openNoFollow(path, os.O_RDONLY, 0)
}
