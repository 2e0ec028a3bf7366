package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// environ is the layered key/value view Load reads from. Values that fail to parse are remembered
// in invalid and reported by validation instead of silently falling back.
type environ struct {
	layers  []map[string]string
	invalid []string
}

func newEnviron(options loaderOptions) (*environ, error) {
	dotenv, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	env := &environ{}
	if options.envMap != nil {
		env.layers = append(env.layers, options.envMap)
	}
	if options.useSystemEnv {
		env.layers = append(env.layers, processEnv())
	}
	if dotenv != nil {
		env.layers = append(env.layers, dotenv)
	}
	return env, nil
}

func processEnv() map[string]string {
	out := make(map[string]string)
	for _, entry := range os.Environ() {
		key, value, ok := strings.Cut(entry, "=")
		if key = strings.TrimSpace(key); ok && key != "" {
			out[key] = value
		}
	}
	return out
}

// values flattens the layers with the highest precedence winning.
func (e *environ) values() map[string]string {
	out := make(map[string]string)
	for i := len(e.layers) - 1; i >= 0; i-- {
		for key, value := range e.layers[i] {
			out[key] = value
		}
	}
	return out
}

func (e *environ) get(key string) string {
	for _, layer := range e.layers {
		if value, ok := layer[key]; ok {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func (e *environ) str(key, fallback string) string {
	if value := e.get(key); value != "" {
		return value
	}
	return fallback
}

func (e *environ) lower(key, fallback string) string {
	return strings.ToLower(e.str(key, fallback))
}

func (e *environ) duration(key string, fallback time.Duration) time.Duration {
	raw := e.get(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		e.invalid = append(e.invalid, key)
		return fallback
	}
	return d
}

func (e *environ) integer(key string, fallback int) int {
	raw := e.get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.invalid = append(e.invalid, key)
		return fallback
	}
	return n
}

func (e *environ) boolean(key string, fallback bool) bool {
	switch strings.ToLower(e.get(key)) {
	case "":
		return fallback
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		e.invalid = append(e.invalid, key)
		return fallback
	}
}

// list splits a comma separated value, dropping blanks.
func (e *environ) list(key string) []string {
	var out []string
	for _, part := range strings.Split(e.get(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pairs parses "name=value,name=value". Names are lower-cased and entries missing either side are
// skipped.
func (e *environ) pairs(key string) map[string]string {
	out := make(map[string]string)
	for _, entry := range e.list(key) {
		name, value, ok := strings.Cut(entry, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if ok && name != "" && value != "" {
			out[name] = value
		}
	}
	return out
}

// readDotEnv parses a .env file with godotenv. A missing file is not an error; a malformed one is.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer file.Close()

	values, err := godotenv.Parse(file)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}
