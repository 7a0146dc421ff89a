package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// WritePortFile publishes the bound port for external hook scripts,
// creating parent directories as needed.
func WritePortFile(path string, port int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("server: port file dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(port)), 0o644); err != nil {
		return fmt.Errorf("server: write port file: %w", err)
	}
	return nil
}

// RemovePortFile deletes the port file. A file that is already gone is
// not an error.
func RemovePortFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadPortFile parses a previously published port. Used by tooling that
// needs to reach a running instance.
func ReadPortFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("server: malformed port file %s: %w", path, err)
	}
	return port, nil
}
