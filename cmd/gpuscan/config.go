package main

import (
	"github.com/urfave/cli/v3"

	"github.com/openfluke/gpuscan/config"
)

// loadConfig reads the config file and lets explicitly set flags win over it.
func loadConfig(c *cli.Command) (config.Config, error) {
	path := configPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	applyGlobalFlags(c, &cfg)
	return cfg, cfg.Validate()
}

func applyGlobalFlags(c *cli.Command, cfg *config.Config) {
	if c.IsSet("backend") {
		cfg.Backend = backend
	}
	if c.IsSet("adapter") {
		cfg.Adapter = adapter
	}
	if c.IsSet("kernels-dir") {
		cfg.KernelsDir = kernelsDir
	}
	if c.IsSet("operator") {
		cfg.Operator = operator
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = logLevel
	}
	if c.IsSet("log-format") {
		cfg.LogFormat = logFormat
	}
}
