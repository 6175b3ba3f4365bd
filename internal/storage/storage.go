package storage

import (
	"os"
	"path/filepath"
)

const appDirName = "wgsession"

// AppStorage resolves the directories wgsession keeps its state in.
type AppStorage struct {
	baseDir    string
	configPath string
	logPath    string
}

// NewAppStorage uses baseDir when set, otherwise the user's config dir.
func NewAppStorage(baseDir string) (*AppStorage, error) {
	if baseDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		baseDir = filepath.Join(dir, appDirName)
	}

	configPath := filepath.Join(baseDir, "config")
	logPath := filepath.Join(baseDir, "logs")

	for _, dir := range []string{configPath, logPath} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}

	return &AppStorage{
		baseDir:    baseDir,
		configPath: configPath,
		logPath:    logPath,
	}, nil
}

func (s *AppStorage) BaseDir() string {
	return s.baseDir
}

func (s *AppStorage) ConfigPath() string {
	return s.configPath
}

func (s *AppStorage) LogPath() string {
	return s.logPath
}

// ProfilePath is where `wgsession init` writes and `up` reads by default.
func (s *AppStorage) ProfilePath() string {
	return filepath.Join(s.configPath, "profile.toml")
}

// ConsentPath keeps one approval record per scope.
func (s *AppStorage) ConsentPath(scope string) string {
	return filepath.Join(s.configPath, "consent-"+scope+".toml")
}

// Resolve makes a relative path relative to the config dir.
func (s *AppStorage) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(s.configPath, path)
}

func (s *AppStorage) EnsureFilePermissions(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		file.Close()
	}

	return os.Chmod(path, 0o600)
}

// WriteFile writes data readable only by the owner: profiles may hold key references.
func (s *AppStorage) WriteFile(path string, data []byte) error {
	if err := s.EnsureFilePermissions(path); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (s *AppStorage) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (s *AppStorage) FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s *AppStorage) DeleteFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
