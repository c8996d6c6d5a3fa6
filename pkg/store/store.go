// Package store persists readings. JSONStore is the durable log that gets
// uploaded; Archive is an optional SQLite copy for local queries.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ericogr/serial-env-uploader/pkg/sensor"
	"github.com/google/renameio/v2"
)

const filePerm = 0o644

// JSONStore keeps every reading in a single indented JSON array. Each append
// reads the whole file, adds one entry and atomically replaces the file.
type JSONStore struct {
	path string
	log  *slog.Logger
}

// NewJSONStore resolves name against the executable directory when it is
// relative.
func NewJSONStore(name string, log *slog.Logger) (*JSONStore, error) {
	path, err := ResolvePath(name)
	if err != nil {
		return nil, err
	}
	return &JSONStore{path: path, log: log}, nil
}

// ResolvePath returns name unchanged when absolute, otherwise joined to the
// directory holding the running binary.
func ResolvePath(name string) (string, error) {
	if filepath.IsAbs(name) {
		return name, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), name), nil
}

func (s *JSONStore) Path() string { return s.path }

// Load returns all stored readings. A missing or empty file yields none.
func (s *JSONStore) Load() ([]sensor.Reading, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []sensor.Reading{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return []sensor.Reading{}, nil
	}
	var readings []sensor.Reading
	if err := json.Unmarshal(b, &readings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if readings == nil {
		readings = []sensor.Reading{}
	}
	return readings, nil
}

// Append adds r to the end of the log and returns the file path. The file is
// left untouched when its current content cannot be parsed.
func (s *JSONStore) Append(r sensor.Reading) (string, error) {
	readings, err := s.Load()
	if err != nil {
		return "", err
	}
	readings = append(readings, r)

	b, err := json.MarshalIndent(readings, "", "    ")
	if err != nil {
		return "", fmt.Errorf("encode readings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return "", fmt.Errorf("create store dir: %w", err)
	}
	if err := renameio.WriteFile(s.path, b, filePerm); err != nil {
		return "", fmt.Errorf("write %s: %w", s.path, err)
	}
	s.log.Info("reading saved", "path", s.path, "entries", len(readings))
	return s.path, nil
}
