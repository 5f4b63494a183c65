// Package config carries toolkit-wide settings with YAML loading.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Settings struct {
	// BaseURL prefixes self and related links. Empty disables link building.
	BaseURL string `yaml:"base_url"`

	DefaultPageSize int `yaml:"default_page_size"`
	MaxPageSize     int `yaml:"max_page_size"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// UnmarshalYAML overlays the decoded members on the current values, so
// partial files keep the defaults for everything they omit. Timeouts are
// written as Go duration strings ("30s", "1m").
func (s *Settings) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		BaseURL         *string `yaml:"base_url"`
		DefaultPageSize *int    `yaml:"default_page_size"`
		MaxPageSize     *int    `yaml:"max_page_size"`
		ReadTimeout     *string `yaml:"read_timeout"`
		WriteTimeout    *string `yaml:"write_timeout"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	if raw.BaseURL != nil {
		s.BaseURL = *raw.BaseURL
	}
	if raw.DefaultPageSize != nil {
		s.DefaultPageSize = *raw.DefaultPageSize
	}
	if raw.MaxPageSize != nil {
		s.MaxPageSize = *raw.MaxPageSize
	}
	if raw.ReadTimeout != nil {
		d, err := time.ParseDuration(*raw.ReadTimeout)
		if err != nil {
			return fmt.Errorf("config: read_timeout: %w", err)
		}
		s.ReadTimeout = d
	}
	if raw.WriteTimeout != nil {
		d, err := time.ParseDuration(*raw.WriteTimeout)
		if err != nil {
			return fmt.Errorf("config: write_timeout: %w", err)
		}
		s.WriteTimeout = d
	}
	return nil
}

func Default() Settings {
	return Settings{
		DefaultPageSize: 10,
		MaxPageSize:     100,
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    5 * time.Second,
	}
}

// Load reads YAML settings over the defaults, so partial files work.
func Load(r io.Reader) (Settings, error) {
	s := Default()
	if err := yaml.NewDecoder(r).Decode(&s); err != nil {
		return Settings{}, fmt.Errorf("config: decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func LoadFile(path string) (Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

func (s Settings) Validate() error {
	if s.DefaultPageSize < 1 {
		return fmt.Errorf("config: default_page_size must be positive, got %d", s.DefaultPageSize)
	}
	if s.MaxPageSize > 0 && s.DefaultPageSize > s.MaxPageSize {
		return fmt.Errorf("config: default_page_size %d exceeds max_page_size %d", s.DefaultPageSize, s.MaxPageSize)
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}
	return nil
}
