package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend persists the session list as a single JSON document on disk.
// Writes go through a temp file and rename so concurrent readers (and the
// cross-process file watcher) never observe a torn write. Flags live in a
// sidecar file next to the history document.
type FileBackend struct {
	mu        sync.Mutex
	path      string
	flagsPath string
}

// NewFileBackend creates a backend rooted at path, creating parent
// directories as needed.
func NewFileBackend(path string) (*FileBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	return &FileBackend{
		path:      path,
		flagsPath: path + ".flags",
	}, nil
}

// Path returns the history document location, for the file watcher.
func (f *FileBackend) Path() string {
	return f.path
}

func (f *FileBackend) Load() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (f *FileBackend) Save(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return atomicWrite(f.path, data)
}

func (f *FileBackend) LoadFlag(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	flags, err := f.readFlags()
	if err != nil {
		return "", err
	}
	return flags[key], nil
}

func (f *FileBackend) SaveFlag(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	flags, err := f.readFlags()
	if err != nil {
		return err
	}
	if value == "" {
		delete(flags, key)
	} else {
		flags[key] = value
	}
	data, err := json.Marshal(flags)
	if err != nil {
		return err
	}
	return atomicWrite(f.flagsPath, data)
}

func (f *FileBackend) Close() error { return nil }

// readFlags tolerates a missing or corrupt flags file; flags are advisory.
func (f *FileBackend) readFlags() (map[string]string, error) {
	flags := make(map[string]string)
	data, err := os.ReadFile(f.flagsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return flags, nil
		}
		return nil, err
	}
	_ = json.Unmarshal(data, &flags)
	return flags, nil
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".history-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
