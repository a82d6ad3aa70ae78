package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/openfluke/gpuscan/logger"
	"github.com/openfluke/gpuscan/server"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		maxBody     int64
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve scan and convolution over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
			&cli.Int64Flag{
				Name:        "max-body",
				Usage:       "largest request body in bytes",
				Value:       server.DefaultMaxBodyBytes,
				Destination: &maxBody,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if settings.ServerAddress != "" && !cmd.IsSet("addr") {
				addr = settings.ServerAddress
			}
			pod, err := scanPod(settings)
			if err != nil {
				return err
			}
			sub, release, err := openSubstrate(ctx, settings)
			if err != nil {
				return err
			}
			defer release()

			srv, err := server.New(ctx, sub, server.Options{
				Scan:         pod,
				Convolution:  convolutionPod(settings),
				Report:       deviceReport(sub),
				MaxBodyBytes: maxBody,
				Log:          log,
			})
			if err != nil {
				return err
			}
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			srv.Register(e)
			log.Info("starting server", "address", addr, "device", sub.Info().Name)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(s *http.Server) error {
					s.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
