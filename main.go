package main

import (
	"os"

	"github.com/urfave/cli"

	"github.com/tracelight/tracelight/cmd"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "tracelight"
	app.Usage = "build and benchmark two-level ray tracing acceleration structures"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "bench",
			Usage: "benchmark BLAS/TLAS construction and traversal",
			Description: `
Generate a synthetic triangle soup, build a BLAS over it, instance it a
number of times and construct the top-level structure with both the
agglomerative and the quick builder, reporting build and traversal
timings.`,
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "config, c",
					Usage: "yaml benchmark description",
				},
				cli.IntFlag{
					Name:  "triangles",
					Value: 0,
					Usage: "override triangle count",
				},
				cli.IntFlag{
					Name:  "instances",
					Value: 0,
					Usage: "override instance count",
				},
			},
			Action: cmd.Bench,
		},
	}

	app.Run(os.Args)
}
