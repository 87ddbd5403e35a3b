package common

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinPath(t *testing.T) {
	base := t.TempDir()

	got, err := JoinPath(base, "dim_hub.sql")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "dim_hub.sql"), got)

	_, err = JoinPath(base, "..", "etc", "passwd")
	assert.Error(t, err)

	_, err = JoinPath(base, "../"+filepath.Base(base)+"x/evil.sql")
	assert.Error(t, err, "sibling directory sharing a name prefix is outside base")
}

func TestCleanPath(t *testing.T) {
	_, err := CleanPath("")
	assert.Error(t, err)

	_, err = CleanPath("../secrets")
	assert.Error(t, err)

	got, err := CleanPath("/data/./in//")
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean("/data/in"), got)
}

func TestCheckSecretPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	dir := t.TempDir()

	secure := filepath.Join(dir, "creds.yaml")
	require.NoError(t, os.WriteFile(secure, []byte("user: etl\n"), FilePermissionSecure))
	assert.NoError(t, CheckSecretPermissions(secure))

	open := filepath.Join(dir, "open.yaml")
	require.NoError(t, os.WriteFile(open, []byte("user: etl\n"), FilePermissionSecure))
	require.NoError(t, os.Chmod(open, FilePermissionNormal))
	assert.Error(t, CheckSecretPermissions(open))
}
