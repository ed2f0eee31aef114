// Package config provides YAML-based configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

type loadOptions struct {
	optional bool
	lookup   func(string) (string, bool)
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// Optional lets Load run without the file: target keeps its defaults and
// is still validated.
func Optional() LoadOption {
	return func(o *loadOptions) { o.optional = true }
}

// WithLookup replaces os.LookupEnv for variable expansion.
func WithLookup(fn func(string) (string, bool)) LoadOption {
	return func(o *loadOptions) { o.lookup = fn }
}

// Load loads configuration from a YAML file into target, which should hold
// the defaults. ${VAR} and ${VAR:-fallback} are expanded before parsing and
// unknown keys are rejected.
func Load[T any](filename string, target *T, opts ...LoadOption) error {
	o := loadOptions{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := os.ReadFile(filename)
	switch {
	case errors.Is(err, os.ErrNotExist) && o.optional:
		data = nil
	case err != nil:
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	if len(data) > 0 {
		dec := yaml.NewDecoder(strings.NewReader(Expand(string(data), o.lookup)))
		dec.KnownFields(true)
		if err := dec.Decode(target); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	}

	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	return nil
}

// Expand replaces ${VAR} and $VAR using lookup. ${VAR:-fallback} yields
// fallback when VAR is unset or empty.
func Expand(s string, lookup func(string) (string, bool)) string {
	return os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		v, ok := lookup(name)
		if hasFallback && (!ok || v == "") {
			return fallback
		}
		return v
	})
}
