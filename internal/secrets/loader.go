// Package secrets resolves credentials from files, environment variables or
// inline configuration values.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrNotConfigured = errors.New("secret is not configured")

// Source describes where a secret may come from. The first non-empty of
// File, Env and Value wins.
type Source struct {
	// Name is used in error messages.
	Name  string `mapstructure:"-"`
	Value string `mapstructure:"value"`
	File  string `mapstructure:"file"`
	// Env names an environment variable holding the secret.
	Env string `mapstructure:"env"`
}

// Configured reports whether any location is set.
func (s Source) Configured() bool {
	return strings.TrimSpace(s.Value) != "" || strings.TrimSpace(s.File) != "" || strings.TrimSpace(s.Env) != ""
}

// Load returns the trimmed secret.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	if file := strings.TrimSpace(src.File); file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}
		secret := strings.TrimSpace(string(data))
		if secret == "" {
			return "", fmt.Errorf("%s file %q is empty", name, file)
		}
		return secret, nil
	}

	if env := strings.TrimSpace(src.Env); env != "" {
		secret := strings.TrimSpace(os.Getenv(env))
		if secret == "" {
			return "", fmt.Errorf("%w: %s variable %s is empty", ErrNotConfigured, name, env)
		}
		return secret, nil
	}

	secret := strings.TrimSpace(src.Value)
	if secret == "" {
		return "", fmt.Errorf("%w: %s", ErrNotConfigured, name)
	}
	return secret, nil
}
