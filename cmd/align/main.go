// Package main is a standalone utility that registers one or more moving
// point clouds against a stationary reference cloud.
package main

import (
	"context"
	"os"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/cloudalign/align"
	"go.viam.com/cloudalign/pointcloud"
)

var logger = golog.NewDevelopmentLogger("align")

func main() {
	app := &cli.App{
		Name:            "align",
		Usage:           "register a moving point cloud to a stationary reference point cloud",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:     "moving",
				Aliases:  []string{"m"},
				Usage:    "load a moving point cloud from `FILE`; may be given more than once",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "stationary",
				Aliases:  []string{"s"},
				Usage:    "load the stationary point cloud from `FILE`",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "type",
				Aliases: []string{"t"},
				Value:   "rigid",
				Usage:   "which algorithm to use; options are com, pca, rigid",
			},
			&cli.IntFlag{
				Name:    "iterations",
				Aliases: []string{"d"},
				Value:   align.DefaultCPDParams().MaxIterations,
				Usage:   "max number of iterations to perform (rigid only)",
			},
			&cli.Float64Flag{
				Name:    "tune",
				Aliases: []string{"u"},
				Value:   align.DefaultCPDParams().Tune,
				Usage:   "numerical factor that scales the initial variance estimate (rigid only)",
			},
			&cli.Float64Flag{
				Name:  "tolerance",
				Value: align.DefaultCPDParams().Tolerance,
				Usage: "relative variance change at which iteration stops (rigid only)",
			},
			&cli.Float64Flag{
				Name:    "outlier-weight",
				Aliases: []string{"w"},
				Value:   align.DefaultCPDParams().OutlierWeight,
				Usage:   "prior probability mass assigned to outlier correspondences (rigid only)",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "write the transformed moving point cloud to `FILE` (single moving cloud only)",
			},
			&cli.StringFlag{
				Name:  "transform-out",
				Usage: "write the identified transform to `FILE` (single moving cloud only)",
			},
		},
		Action: registerAction,
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func registerAction(c *cli.Context) error {
	ctx := context.Background()

	method, err := align.ParseMethod(c.String("type"))
	if err != nil {
		return err
	}

	movingPaths := c.StringSlice("moving")
	if len(movingPaths) > 1 && (c.String("out") != "" || c.String("transform-out") != "") {
		return errors.New("--out and --transform-out require a single --moving cloud")
	}

	stationary, err := pointcloud.NewFromFile(c.String("stationary"), logger)
	if err != nil {
		return errors.Wrap(err, "unable to parse stationary point cloud file")
	}
	if stationary.Size() == 0 {
		return errors.New("stationary point cloud contains no points; unable to continue")
	}

	params := align.CPDParams{
		OutlierWeight: c.Float64("outlier-weight"),
		MaxIterations: c.Int("iterations"),
		Tolerance:     c.Float64("tolerance"),
		Tune:          c.Float64("tune"),
	}
	if method == align.MethodRigidCPD {
		if err := params.Validate(); err != nil {
			return err
		}
	}

	for _, movingPath := range movingPaths {
		moving, err := pointcloud.NewFromFile(movingPath, logger)
		if err != nil {
			return errors.Wrapf(err, "unable to parse moving point cloud file %q", movingPath)
		}
		if moving.Size() == 0 {
			return errors.Errorf("moving point cloud %q contains no points; unable to continue", movingPath)
		}
		logger.Infow("loaded moving point cloud", "file", movingPath, "points", moving.Size())

		start := time.Now()
		var t *align.AffineTransform
		switch method {
		case align.MethodCOM:
			t, err = align.AlignViaCOM(moving, stationary)
		case align.MethodPCA:
			t, err = align.AlignViaPCA(moving, stationary, logger)
		case align.MethodRigidCPD:
			var rt *align.RigidCPDTransform
			rt, err = align.AlignViaRigidCPD(ctx, params, moving, stationary, logger)
			if err == nil {
				logger.Infow("rigid CPD finished",
					"iterations", rt.Iterations,
					"converged", rt.Converged,
					"sigmaSquared", rt.SigmaSquared,
					"scale", rt.Scale)
				t, err = rt.Transform()
			}
		}
		if err != nil {
			return errors.Wrapf(err, "registering %q", movingPath)
		}
		logger.Infow("registration finished", "file", movingPath, "elapsed", time.Since(start))

		if err := t.ApplyTo(moving); err != nil {
			return errors.Wrapf(err, "transforming %q", movingPath)
		}

		if out := c.String("out"); out != "" {
			if err := pointcloud.WriteToFile(out, moving); err != nil {
				return errors.Wrapf(err, "writing transformed cloud to %q", out)
			}
			logger.Infow("wrote transformed point cloud", "file", out)
		}
		if out := c.String("transform-out"); out != "" {
			if err := t.WriteTo(out); err != nil {
				return errors.Wrapf(err, "writing transform to %q", out)
			}
			logger.Infow("wrote transform", "file", out)
		}
	}
	return nil
}
