package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"cryptodesk/internal/provider"
)

const dateLayout = time.DateOnly

var pricesCommand = &cli.Command{
	Name:      "prices",
	Usage:     "prints the daily close table for a set of tickers",
	ArgsUsage: "[--tickers BTC-USD,ETH-USD] [--start YYYY-MM-DD] [--end YYYY-MM-DD]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "tickers",
			Usage: "comma separated canonical tickers, defaults to the configured universe",
		},
		&cli.StringFlag{
			Name:  "start",
			Usage: "first day, defaults to 30 days before end",
		},
		&cli.StringFlag{
			Name:  "end",
			Usage: "last day, defaults to today (UTC)",
		},
		&cli.StringFlag{
			Name:  "source",
			Value: string(provider.Auto),
			Usage: "auto, binance, coingecko or yahoo",
		},
		&cli.StringFlag{
			Name:  "format",
			Value: "csv",
			Usage: "csv or json",
		},
	},
	Action: getPrices,
}

var diagCommand = &cli.Command{
	Name:   "diag",
	Usage:  "probes upstream hosts and prints the report",
	Action: getDiagnostics,
}

func getPrices(c *cli.Context) error {
	src, err := provider.ParseSourceID(c.String("source"))
	if err != nil {
		return err
	}
	format := strings.ToLower(c.String("format"))
	if format != "csv" && format != "json" {
		return fmt.Errorf("unknown format %q", c.String("format"))
	}
	end := provider.Day(time.Now())
	if v := c.String("end"); v != "" {
		if end, err = time.Parse(dateLayout, v); err != nil {
			return fmt.Errorf("invalid end date: %w", err)
		}
	}
	start := end.AddDate(0, 0, -30)
	if v := c.String("start"); v != "" {
		if start, err = time.Parse(dateLayout, v); err != nil {
			return fmt.Errorf("invalid start date: %w", err)
		}
	}

	sc, err := setup(c)
	if err != nil {
		return err
	}
	defer sc.Close()

	tickers := sc.Config.Universe
	if v := c.String("tickers"); v != "" {
		tickers = strings.Split(v, ",")
	}

	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()
	tbl := sc.Orchestrator.GetPrices(ctx, sc.Session, tickers, start, end, src)

	out := c.App.Writer
	if tbl.Empty() {
		if msg, _ := sc.Session.Errors.Snapshot(); msg != "" {
			fmt.Fprintf(c.App.ErrWriter, "last error: %s\n", msg)
		}
		_, err := fmt.Fprintln(out, "no data")
		return err
	}
	if format == "json" {
		return writeJSON(out, tbl)
	}
	return writeCSV(out, tbl)
}

func getDiagnostics(c *cli.Context) error {
	sc, err := setup(c)
	if err != nil {
		return err
	}
	defer sc.Close()

	ctx, cancel := context.WithTimeout(c.Context, timeout)
	defer cancel()
	rep := sc.Diagnostics.Report(ctx)

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return err
	}
	for _, h := range rep.Hosts {
		if !h.OK {
			return cli.Exit(errors.New("one or more upstream hosts are unreachable"), 2)
		}
	}
	return nil
}
