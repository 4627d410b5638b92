//go:build windows

package ops

import (
	"os"

	"github.com/hpungsan/promptmeta/internal/errors"
)

// openChecked opens path after refusing symlinks with Lstat. Windows has
// no O_NOFOLLOW, so a swap between the check and the open is not covered.
func openChecked(path string, flag int, perm os.FileMode) (*os.File, error) {
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errors.NewInvalidRequest("refusing to open symlink: " + path)
	}
	f, err := os.OpenFile(path, flag, perm)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(path)
		}
		return nil, errors.NewInternal(err)
	}
	return f, nil
}

// createExportFile creates (or truncates) an export temp file.
func createExportFile(path string) (*os.File, error) {
	return openChecked(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
}

// openImportFile opens an import file for reading.
func openImportFile(path string) (*os.File, error) {
	return openChecked(path, os.O_RDONLY, 0)
}
