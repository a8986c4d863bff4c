package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/zeromicro/go-zero/core/logx"

	"cryptodesk/internal/config"
	"cryptodesk/internal/svc"
)

var (
	configPath string
	timeout    time.Duration
	verbose    bool
)

const defaultTimeout = 2 * time.Minute

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "fetch"
	app.Usage = "fetch daily crypto closes from the configured sources"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Value:       os.Getenv("CONFIG_FILE"),
			Usage:       "path to config.yaml",
			Destination: &configPath,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Value:       defaultTimeout,
			Usage:       "overall deadline for the command",
			Destination: &timeout,
		},
		&cli.BoolFlag{
			Name:        "verbose",
			Aliases:     []string{"v"},
			Usage:       "log adapter activity to stderr",
			Destination: &verbose,
		},
	}
	app.Commands = []*cli.Command{
		pricesCommand,
		diagCommand,
	}
	return app
}

// setup loads config and wires services. Logging is muted unless verbose so
// stdout stays machine readable.
func setup(c *cli.Context) (*svc.ServiceContext, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		lc := cfg.Log.LogConf()
		lc.Mode = "console"
		logx.MustSetup(lc)
		logx.SetWriter(logx.NewWriter(os.Stderr))
	} else {
		logx.Disable()
	}
	return svc.NewServiceContext(c.Context, cfg)
}
