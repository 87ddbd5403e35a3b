package common

import (
	"fmt"
	"os"
	"runtime"
)

// File modes used when the pipeline or its tests write files
const (
	// FilePermissionSecure is for credentials and key material
	FilePermissionSecure = 0600
	// FilePermissionNormal is for data and SQL files
	FilePermissionNormal = 0644
	// DirPermissionNormal is for data and SQL directories
	DirPermissionNormal = 0755
)

// CheckSecretPermissions returns an error when a secret file is readable by
// group or others. It is a no-op on Windows.
func CheckSecretPermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return fmt.Errorf("%s has mode %04o; expected %04o", path, mode, FilePermissionSecure)
	}
	return nil
}
