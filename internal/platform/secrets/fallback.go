package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// fallbackFile holds the values of a local REF=VALUE file. REF is secret://name, answering every
// version, or secret://name#version to pin one.
type fallbackFile struct {
	exact map[string]string
	any   map[string]string
}

func readFallbackFile(path string) (fallbackFile, error) {
	file := fallbackFile{exact: map[string]string{}, any: map[string]string{}}
	if path == "" {
		return file, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return file, nil
	}
	if err != nil {
		return file, fmt.Errorf("secrets: open fallback file %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		raw, value, ok := strings.Cut(text, "=")
		if !ok {
			return file, fmt.Errorf("secrets: %s:%d: expected reference=value", path, line)
		}
		uri, version, pinned := strings.Cut(strings.TrimSpace(raw), "#")
		ref, err := ParseReference(uri)
		if err != nil {
			return file, fmt.Errorf("secrets: %s:%d: %w", path, line, err)
		}
		value = strings.TrimSpace(value)
		if pinned {
			ref.Version = strings.TrimSpace(version)
			file.exact[ref.key()] = value
		} else {
			file.any[ref.URI()] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return file, fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
	return file, nil
}

func (f fallbackFile) lookup(ref Reference) (string, bool) {
	if value, ok := f.exact[ref.key()]; ok {
		return value, true
	}
	value, ok := f.any[ref.URI()]
	return value, ok
}
