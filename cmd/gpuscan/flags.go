package main

import "github.com/urfave/cli/v3"

var (
	configPath string
	backend    string
	adapter    string
	kernelsDir string
	operator   string
	logLevel   string
	logFormat  string
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml",
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "compute backend (auto, gpu, software)",
			Value:       "auto",
			Destination: &backend,
		},
		&cli.StringFlag{
			Name:        "adapter",
			Usage:       "prefer the GPU adapter whose name or vendor contains this",
			Destination: &adapter,
		},
		&cli.StringFlag{
			Name:        "kernels-dir",
			Usage:       "load kernel sources from this directory instead of the built-in copies",
			Destination: &kernelsDir,
		},
		&cli.StringFlag{
			Name:        "operator",
			Aliases:     []string{"op"},
			Usage:       "scan combining operator (add, mul, max, min)",
			Value:       "add",
			Destination: &operator,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (text, json)",
			Value:       "text",
			Destination: &logFormat,
		},
	}
}

func ioFlags(input, output *string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "input file, - for stdin",
			Value:       "input.txt",
			Destination: input,
		},
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "output file, - for stdout",
			Value:       "output.txt",
			Destination: output,
		},
	}
}
