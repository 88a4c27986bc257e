// Package configutil loads bot configuration from json5 files and
// credentials from the process environment.
package configutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// "everysale.json5" -> "everysale.local.json5"
func localPath(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

// ReadConfig loads `name` and then a sibling ".local" override file
// whose values win on conflict. Local files hold per-machine settings
// and stay out of version control. When neither file exists (or both
// are empty) the error satisfies os.IsNotExist so callers can carry on
// with defaults.
func ReadConfig[T any](name string) (T, error) {
	var out T
	found := false

	raw, err := os.ReadFile(name)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(raw) > 0 {
		if err := json5.Unmarshal(raw, &out); err != nil {
			return out, err
		}
		found = true
	}

	local := localPath(name)
	raw, err = os.ReadFile(local)
	if err != nil && !os.IsNotExist(err) {
		return out, err
	}
	if len(raw) > 0 {
		var overrides T
		if err := json5.Unmarshal(raw, &overrides); err != nil {
			return out, err
		}
		if err := mergo.Merge(&out, overrides, mergo.WithOverride); err != nil {
			return out, err
		}
		slog.Info("applying local config overrides", "path", local)
		found = true
	}

	if !found {
		return out, os.ErrNotExist
	}
	return out, nil
}

// ReadRecursively tries ReadConfig in the working directory, then in
// each parent up to the filesystem root.
func ReadRecursively[T any](name string) (T, error) {
	var zero T

	dir, err := os.Getwd()
	if err != nil {
		return zero, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(dir, name))
		if err == nil {
			return config, nil
		}
		if !os.IsNotExist(err) {
			return zero, err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return zero, os.ErrNotExist
		}
		dir = parent
	}
}
