package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/assertions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathExists(t *testing.T) {
	dir := t.TempDir()
	exists, err := PathExists(dir)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = PathExists(filepath.Join(dir, "missing.ibd"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test", "t1.isl")
	require.NoError(t, WriteFileAtomic(path, []byte("/remote/test/t1.ibd")))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, assertions.ShouldEqual(string(content), "/remote/test/t1.ibd"))

	exists, _ := PathExists(path + ".tmp")
	assert.False(t, exists)
}

func TestDeleteFileIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t1.ibd")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	deleted, err := DeleteFileIfExists(path)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = DeleteFileIfExists(path)
	require.NoError(t, err)
	assert.False(t, deleted)
}
