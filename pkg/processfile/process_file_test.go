package processfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T) *ProcessFileManager {
	t.Helper()
	return NewProcessFileManager(ProcessFileConfig{
		BaseDirectory: filepath.Join(t.TempDir(), RunDirectoryName),
	}, logging.NewNopLogger())
}

func TestNewProcessFileManager_WithDefaults(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{}, logging.NewNopLogger())

	assert.Equal(t, DefaultAppName, manager.config.AppName)
	assert.Equal(t, RunDirectoryName, filepath.Base(manager.Directory()))
	assert.Contains(t, manager.Directory(), DefaultAppName)
}

func TestGeneratePaths(t *testing.T) {
	manager := NewProcessFileManager(ProcessFileConfig{BaseDirectory: "/tmp/localagents/run"}, logging.NewNopLogger())

	assert.Equal(t, filepath.Join("/tmp/localagents/run", "agentsrv.pid"), manager.GeneratePIDFilePath("agentsrv"))
	assert.Equal(t, filepath.Join("/tmp/localagents/run", "agentsrv.port"), manager.GeneratePortFilePath("agentsrv"))
}

func TestWriteAndReadFiles(t *testing.T) {
	manager := newManager(t)

	require.NoError(t, manager.WritePIDFile("agentsrv", 4242))
	require.NoError(t, manager.WritePortFile("agentsrv", 50055))

	content, err := os.ReadFile(manager.GeneratePIDFilePath("agentsrv"))
	require.NoError(t, err)
	assert.Equal(t, "4242\n", string(content))

	pid, err := manager.ReadPIDFile("agentsrv")
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	port, err := manager.ReadPortFile("agentsrv")
	require.NoError(t, err)
	assert.Equal(t, 50055, port)

	require.NoError(t, manager.RemoveFiles("agentsrv"))
	_, err = manager.ReadPortFile("agentsrv")
	assert.True(t, errors.IsNotFoundError(err))

	// removing again is fine
	assert.NoError(t, manager.RemoveFiles("agentsrv"))
}

func TestReadPortFile_InvalidContent(t *testing.T) {
	manager := newManager(t)
	require.NoError(t, os.MkdirAll(manager.Directory(), 0o755))

	for _, content := range []string{"not-a-number\n", "0\n", "-3"} {
		require.NoError(t, os.WriteFile(manager.GeneratePortFilePath("agentsrv"), []byte(content), 0o644))
		_, err := manager.ReadPortFile("agentsrv")
		assert.True(t, errors.IsValidationError(err), "content %q", content)
	}
}

func TestValidateProcessFileDirectory(t *testing.T) {
	dir := t.TempDir()

	t.Run("creates_missing_directory", func(t *testing.T) {
		path := filepath.Join(dir, "nested", "deeper", "x.pid")
		require.NoError(t, ValidateProcessFileDirectory(path))
		info, err := os.Stat(filepath.Dir(path))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("parent_is_a_file", func(t *testing.T) {
		file := filepath.Join(dir, "plain")
		require.NoError(t, os.WriteFile(file, nil, 0o644))
		err := ValidateProcessFileDirectory(filepath.Join(file, "x.pid"))
		assert.True(t, errors.IsValidationError(err))
	})
}

func TestDefaultDataDirectory(t *testing.T) {
	assert.Equal(t, "custom", filepath.Base(DefaultDataDirectory("custom")))
	assert.Equal(t, DefaultAppName, filepath.Base(DefaultDataDirectory("")))
}
