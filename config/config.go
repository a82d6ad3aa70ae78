// Package config reads the gpuscan YAML configuration file
// (~/.config/gpuscan/config.yaml).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/logger"
	"github.com/openfluke/gpuscan/substrate"
)

var ErrInvalidConfig = errors.New("invalid config")

// Backends.
const (
	BackendAuto     = "auto"
	BackendGPU      = "gpu"
	BackendSoftware = "software"
)

type Workgroup struct {
	Mode string `yaml:"workgroup_mode"`
	Size int    `yaml:"workgroup_size"`
}

type Config struct {
	Backend    string `yaml:"backend"`
	Adapter    string `yaml:"adapter"`
	KernelsDir string `yaml:"kernels_dir"`
	Operator   string `yaml:"operator"`

	Scan        Workgroup `yaml:"scan"`
	Convolution Workgroup `yaml:"convolution"`

	// BenchSize, when positive, scans that many 1.0 values instead of reading input.
	BenchSize int `yaml:"bench_size"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Backend:       BackendAuto,
		Operator:      "add",
		Scan:          Workgroup{Mode: "fixed", Size: 256},
		Convolution:   Workgroup{Mode: "device"},
		LogLevel:      "info",
		LogFormat:     "text",
		ServerAddress: "127.0.0.1:8080",
	}
}

// Path is the default config file location, or "" when the user config
// directory is unknown.
func Path() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "gpuscan", "config.yaml")
}

// Load reads path over Default. A missing file is not an error; a malformed
// one is. Load does not Validate, so flags can still override bad values.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendAuto, BackendGPU, BackendSoftware:
	default:
		errs = append(errs, fmt.Errorf("backend %q", c.Backend))
	}
	if _, err := substrate.ParseOperator(c.Operator); err != nil {
		errs = append(errs, err)
	}
	if err := c.Scan.validate("scan", true); err != nil {
		errs = append(errs, err)
	}
	if err := c.Convolution.validate("convolution", false); err != nil {
		errs = append(errs, err)
	}
	if c.BenchSize < 0 {
		errs = append(errs, fmt.Errorf("bench_size %d", c.BenchSize))
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (w Workgroup) validate(section string, pow2 bool) error {
	switch w.Mode {
	case "", "device":
		return nil
	case "fixed":
		if w.Size < 0 || (w.Size > 0 && pow2 && !buffer.IsPow2(w.Size)) {
			return fmt.Errorf("%s.workgroup_size %d is not a power of two", section, w.Size)
		}
		return nil
	default:
		return fmt.Errorf("%s.workgroup_mode %q", section, w.Mode)
	}
}

// Logger opens the logger the config describes.
func (c Config) Logger() logger.Logger {
	return logger.Open(os.Stderr, c.LogLevel, c.LogFormat)
}
