package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/WittorioJaro/localAgents/pkg/errors"
	"github.com/WittorioJaro/localAgents/pkg/logging"
)

const DefaultAppName = "localagents"

// RunDirectoryName is the subdirectory of the data directory holding PID and port files
const RunDirectoryName = "run"

// ProcessFileConfig holds configuration for process file generation (PID files, port files)
type ProcessFileConfig struct {
	// Base directory for process files. If empty, uses the per-user default
	BaseDirectory string

	// Application name for the default directory
	AppName string
}

// ProcessFileManager provides process file path generation and management
type ProcessFileManager struct {
	config ProcessFileConfig
	logger logging.Logger
}

func NewProcessFileManager(config ProcessFileConfig, logger logging.Logger) *ProcessFileManager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.BaseDirectory == "" {
		config.BaseDirectory = filepath.Join(DefaultDataDirectory(config.AppName), RunDirectoryName)
	}

	return &ProcessFileManager{
		config: config,
		logger: logger,
	}
}

// Directory is where the manager reads and writes its files
func (m *ProcessFileManager) Directory() string {
	return m.config.BaseDirectory
}

func (m *ProcessFileManager) GeneratePIDFilePath(id string) string {
	return filepath.Join(m.config.BaseDirectory, id+".pid")
}

func (m *ProcessFileManager) GeneratePortFilePath(id string) string {
	return filepath.Join(m.config.BaseDirectory, id+".port")
}

func (m *ProcessFileManager) WritePIDFile(id string, pid int) error {
	return m.writeNumber(id, "PID", m.GeneratePIDFilePath(id), pid)
}

func (m *ProcessFileManager) WritePortFile(id string, port int) error {
	return m.writeNumber(id, "port", m.GeneratePortFilePath(id), port)
}

func (m *ProcessFileManager) ReadPIDFile(id string) (int, error) {
	return m.readNumber(id, "PID", m.GeneratePIDFilePath(id))
}

func (m *ProcessFileManager) ReadPortFile(id string) (int, error) {
	return m.readNumber(id, "port", m.GeneratePortFilePath(id))
}

// RemoveFiles deletes the PID and port files of id; missing files are not an error
func (m *ProcessFileManager) RemoveFiles(id string) error {
	collection := errors.NewErrorCollection()
	for _, path := range []string{m.GeneratePIDFilePath(id), m.GeneratePortFilePath(id)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Warnf("Failed to remove process file, id: %s, path: %s, error: %v", id, path, err)
			collection.Add(errors.NewIOError("failed to remove process file", err).WithContext("path", path))
		}
	}
	return collection.ToError()
}

func (m *ProcessFileManager) writeNumber(id, kind, path string, value int) error {
	m.logger.Debugf("Writing %s file, id: %s, value: %d, path: %s", kind, id, value, path)

	if err := ValidateProcessFileDirectory(path); err != nil {
		m.logger.Errorf("%s file directory validation failed, id: %s, path: %s, error: %v", kind, id, path, err)
		return err
	}

	content := fmt.Sprintf("%d\n", value)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		m.logger.Errorf("Failed to write %s file, id: %s, path: %s, error: %v", kind, id, path, err)
		return errors.NewIOError(fmt.Sprintf("failed to write %s file", kind), err).WithContext("path", path)
	}

	m.logger.Infof("%s file written successfully, id: %s, value: %d, path: %s", kind, id, value, path)
	return nil
}

func (m *ProcessFileManager) readNumber(id, kind, path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewNotFoundError(fmt.Sprintf("%s file not found", kind), err).WithContext("path", path)
		}
		return 0, errors.NewIOError(fmt.Sprintf("failed to read %s file", kind), err).WithContext("path", path)
	}

	text := strings.TrimSpace(string(content))
	value, err := strconv.Atoi(text)
	if err != nil || value <= 0 {
		m.logger.Errorf("Invalid content in %s file, id: %s, path: %s, content: %q", kind, id, path, text)
		return 0, errors.NewValidationError(fmt.Sprintf("invalid %s file content", kind), err).
			WithContext("path", path).
			WithContext("content", text)
	}
	return value, nil
}

// ValidateProcessFileDirectory makes sure the directory of path exists and is writable
func ValidateProcessFileDirectory(path string) error {
	dir := filepath.Dir(path)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access process file directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create process file directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("process file path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return errors.NewIOError("process file directory is not writable", err).WithContext("directory", dir)
	}
	file.Close()
	os.Remove(testFile)
	return nil
}

// DefaultDataDirectory is the per-user directory for the host's data
func DefaultDataDirectory(appName string) string {
	if appName == "" {
		appName = DefaultAppName
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, appName)
	}

	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, appName)
		}
		return filepath.Join(os.TempDir(), appName)
	default:
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, "."+appName)
		}
		return filepath.Join(os.TempDir(), appName)
	}
}
