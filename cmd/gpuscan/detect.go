package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/openfluke/gpuscan/config"
	"github.com/openfluke/gpuscan/detector"
	"github.com/openfluke/gpuscan/substrate"
)

func detectCmd() *cli.Command {
	var asJSON bool

	return &cli.Command{
		Name:  "detect",
		Usage: "Report the compute device and recommended work-group size",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the full report as JSON",
				Destination: &asJSON,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rep, err := probe()
			if err != nil {
				return err
			}
			if asJSON {
				out, err := detector.JSON(rep)
				if err != nil {
					return err
				}
				fmt.Println(out)
				return nil
			}
			fmt.Printf("name:        %s\n", rep.Name)
			fmt.Printf("backend:     %s (%s)\n", rep.Backend, rep.AdapterType)
			fmt.Printf("workgroup:   %d (max %d)\n", rep.Recommended.Workgroup, rep.Limits.MaxComputeWorkgroupSizeX)
			fmt.Printf("max scan:    %d values\n", rep.Recommended.MaxScanCapacity)
			return nil
		},
	}
}

func probe() (*detector.Report, error) {
	if settings.Backend != config.BackendSoftware {
		rep, err := detector.Detect()
		if err == nil || settings.Backend == config.BackendGPU {
			return rep, err
		}
	}
	return detector.FromInfo(substrate.NewSoftware(substrate.SoftwareOptions{}).Info()), nil
}
