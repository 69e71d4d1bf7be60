// Package config loads the service configuration.
//
// Values are layered, later layers overriding earlier ones:
//
//  1. built-in defaults (Default)
//  2. an optional TOML file with profile tables: [default], then the table
//     named by APP_PROFILE, then [global]
//  3. environment variables prefixed with APP_, e.g. APP_STORE
//
// Command-line flags are applied on top by the binaries.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
	"github.com/ruteri/social-image/interfaces"
)

const (
	// DefaultFile is read if present when no file is named explicitly.
	DefaultFile = "App.toml"

	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "APP_"

	// ProfileEnv selects the profile table of the TOML file.
	ProfileEnv = EnvPrefix + "PROFILE"

	DefaultProfile = "default"
	globalProfile  = "global"
)

// AppConfig is the service configuration.
type AppConfig struct {
	// Key is the shared secret required in X-API-KEY by mutating routes.
	Key string `toml:"key" env:"KEY"`

	// Store is the root directory of the render cache.
	Store string `toml:"store" env:"STORE"`

	// WorkspaceDir holds render workspaces. Defaults to <store>/.workspaces.
	WorkspaceDir string `toml:"workspace_dir" env:"WORKSPACE_DIR"`

	ListenAddr  string `toml:"listen_addr" env:"LISTEN_ADDR"`
	MetricsAddr string `toml:"metrics_addr" env:"METRICS_ADDR"`

	// ExpirePNGSecs is the age after which cached renders are evicted.
	ExpirePNGSecs     int64 `toml:"expire_png_secs" env:"EXPIRE_PNG_SECS"`
	SweepIntervalSecs int64 `toml:"sweep_interval_secs" env:"SWEEP_INTERVAL_SECS"`
	RenderTimeoutSecs int64 `toml:"render_timeout_secs" env:"RENDER_TIMEOUT_SECS"`

	// DefaultWidth and DefaultHeight size documents that declare neither
	// dimensions nor a viewBox.
	DefaultWidth  int `toml:"default_width" env:"DEFAULT_WIDTH"`
	DefaultHeight int `toml:"default_height" env:"DEFAULT_HEIGHT"`

	MaxUploadBytes int64 `toml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
}

// Default returns the built-in defaults.
func Default() *AppConfig {
	return &AppConfig{
		Key:               "default",
		Store:             "/tmp/data",
		ListenAddr:        "127.0.0.1:8080",
		MetricsAddr:       "127.0.0.1:8090",
		ExpirePNGSecs:     259200,
		SweepIntervalSecs: 720,
		RenderTimeoutSecs: 30,
		DefaultWidth:      1080,
		DefaultHeight:     566,
		MaxUploadBytes:    32 << 20,
	}
}

// Load layers the defaults, the TOML file at path and the environment. An
// empty path reads DefaultFile if it exists.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	optional := path == ""
	if optional {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	if optional && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	profile := os.Getenv(ProfileEnv)
	if profile == "" {
		profile = DefaultProfile
	}

	return c.applyProfiles(data, profile)
}

// applyProfiles overlays the [default], [<profile>] and [global] tables of a
// TOML document, in that order. Keys missing from a table keep their value.
func (c *AppConfig) applyProfiles(data []byte, profile string) error {
	var tables map[string]map[string]any
	if err := toml.Unmarshal(data, &tables); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	names := []string{DefaultProfile}
	if profile != DefaultProfile && profile != globalProfile {
		names = append(names, profile)
	}
	names = append(names, globalProfile)

	for _, name := range names {
		table, ok := tables[name]
		if !ok {
			continue
		}

		raw, err := toml.Marshal(table)
		if err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}

		dec := toml.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(c); err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
	}
	return nil
}

// Validate checks that every value is usable.
func (c *AppConfig) Validate() error {
	switch {
	case c.Key == "":
		return errors.New("key must not be empty")
	case c.Store == "":
		return errors.New("store must not be empty")
	case c.ExpirePNGSecs <= 0:
		return fmt.Errorf("expire_png_secs must be positive, got %d", c.ExpirePNGSecs)
	case c.SweepIntervalSecs <= 0:
		return fmt.Errorf("sweep_interval_secs must be positive, got %d", c.SweepIntervalSecs)
	case c.RenderTimeoutSecs <= 0:
		return fmt.Errorf("render_timeout_secs must be positive, got %d", c.RenderTimeoutSecs)
	case c.DefaultWidth <= 0 || c.DefaultHeight <= 0:
		return fmt.Errorf("default canvas must be positive, got %dx%d", c.DefaultWidth, c.DefaultHeight)
	case c.MaxUploadBytes <= 0:
		return fmt.Errorf("max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	return nil
}

func (c *AppConfig) ExpirePNG() time.Duration {
	return time.Duration(c.ExpirePNGSecs) * time.Second
}

func (c *AppConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

func (c *AppConfig) RenderTimeout() time.Duration {
	return time.Duration(c.RenderTimeoutSecs) * time.Second
}

// Workspaces returns the render workspace directory.
func (c *AppConfig) Workspaces() string {
	if c.WorkspaceDir != "" {
		return c.WorkspaceDir
	}
	return filepath.Join(c.Store, ".workspaces")
}

func (c *AppConfig) DefaultCanvas() interfaces.CanvasSize {
	return interfaces.CanvasSize{Width: c.DefaultWidth, Height: c.DefaultHeight}
}
