// Package cli contains the lpcrender command line application.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"
)

// Flags.
const (
	flagConfig        = "config"
	flagDebug         = "debug"
	flagSubdivisions  = "subdivisions"
	flagDevice        = "device"
	flagFrames        = "frames"
	flagCompression   = "compression"
	flagPrecision     = "precision"
	flagBitmapSize    = "bitmap-size"
	flagBatchSize     = "batch-size"
	flagNormals       = "normals"
	flagPersistent    = "persistent"
	flagBuffers       = "buffers"
	flagSelection     = "selection"
	flagMaxDepth      = "max-depth"
	flagPreferred     = "preferred-vertices"
	flagBoxes         = "boxes"
	flagFenceLatency  = "fence-latency"
	flagPrecisions    = "precisions"
	flagWidth         = "width"
	flagHeight        = "height"
	flagOrbit         = "orbit"
	deviceMem         = "mem"
	deviceGL          = "gl"
	defaultFenceDelay = "0s"
)

// cloudFlags returns fresh flags since slice flags keep their parsed values.
func cloudFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntSliceFlag{
			Name:  flagSubdivisions,
			Usage: "brick splits along x, y and z, e.g. 3,3,1",
		},
	}
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "lpcrender",
		Writer:          out,
		ErrWriter:       errOut,
		Usage:           "inspect and benchmark large point cloud rendering",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "stats",
				Usage:     "print brick and quantization statistics of point cloud files",
				ArgsUsage: "[file...]",
				Flags: append([]cli.Flag{
					&cli.IntSliceFlag{
						Name:  flagPrecisions,
						Usage: "precisions to count quantization collisions at",
						Value: cli.NewIntSlice(1024, 32, 16, 8, 4),
					},
				}, cloudFlags()...),
				Action: StatsAction,
			},
			{
				Name:      "octree",
				Usage:     "print the shape of the octree built over point cloud files",
				ArgsUsage: "[file...]",
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  flagMaxDepth,
						Usage: "octree depth limit",
					},
					&cli.IntFlag{
						Name:  flagPreferred,
						Usage: "points a leaf may hold before it splits",
					},
				}, cloudFlags()...),
				Action: OctreeAction,
			},
			{
				Name:      "bench",
				Usage:     "render point cloud files for a number of frames and print frame statistics",
				ArgsUsage: "[file...]",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  flagDevice,
						Usage: "device to render with: mem or gl",
						Value: deviceMem,
					},
					&cli.IntFlag{
						Name:  flagFrames,
						Usage: "number of frames to render",
					},
					&cli.IntFlag{
						Name:  flagWidth,
						Usage: "viewport width in pixels",
					},
					&cli.IntFlag{
						Name:  flagHeight,
						Usage: "viewport height in pixels",
					},
					&cli.Float64Flag{
						Name:  flagOrbit,
						Usage: "degrees the camera orbits the cloud each frame",
					},
					&cli.StringFlag{
						Name:  flagCompression,
						Usage: "none, brick-geometry-expansion, brick-indirect or bitmap-dedup",
					},
					&cli.IntFlag{
						Name:  flagPrecision,
						Usage: "brick-indirect position precision: 1024 or 32",
					},
					&cli.IntFlag{
						Name:  flagBitmapSize,
						Usage: "bitmap-dedup bitmap resolution: 32, 16, 8 or 4",
					},
					&cli.IntFlag{
						Name:  flagBatchSize,
						Usage: "bitmap-dedup bricks expanded per dispatch",
					},
					&cli.BoolFlag{
						Name:  flagNormals,
						Usage: "upload normals",
					},
					&cli.BoolFlag{
						Name:  flagPersistent,
						Usage: "use persistently mapped buffers",
					},
					&cli.IntFlag{
						Name:  flagBuffers,
						Usage: "device buffers each kind of data rotates through",
					},
					&cli.StringFlag{
						Name:  flagSelection,
						Usage: "whole, octree, frustum or frustum-lod",
					},
					&cli.IntFlag{
						Name:  flagMaxDepth,
						Usage: "octree depth limit",
					},
					&cli.IntFlag{
						Name:  flagPreferred,
						Usage: "points a leaf may hold before it splits",
					},
					&cli.BoolFlag{
						Name:  flagBoxes,
						Usage: "also draw brick or octree leaf boxes",
					},
					&cli.DurationFlag{
						Name:        flagFenceLatency,
						Usage:       "simulated GPU latency of the mem device",
						DefaultText: defaultFenceDelay,
					},
				}, cloudFlags()...),
				Action: BenchAction,
			},
		},
	}
}
