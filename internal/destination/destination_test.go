package destination

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck_Empty(t *testing.T) {
	err := Check("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotProvisioned))
	assert.False(t, IsAvailable(""))
}

func TestCheck_WritableDirectory(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, Check(dir))
	assert.True(t, IsAvailable(dir))
	assert.NoError(t, Checker{}.Check(dir))
}

func TestCheck_Missing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unplugged")
	err := Check(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotFound))
	assert.False(t, IsAvailable(path))
}

func TestCheck_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	err := Check(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestCheck_ReadOnly(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses permission bits")
	}
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { os.Chmod(dir, 0o755) })

	assert.Error(t, Check(dir))
	assert.False(t, IsAvailable(dir))
}

func TestIsAvailable_NeverPanics(t *testing.T) {
	for _, p := range []string{"", "\x00", "relative/path", "/", string(make([]byte, 5000))} {
		assert.NotPanics(t, func() { IsAvailable(p) }, "%q", p)
	}
}
