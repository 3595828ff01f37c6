// Command gadgetzero runs the Gadget Zero function against a pipe-backed
// USB device controller. Bulk data received on the sink endpoint is written
// to standard output as hex dumps.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mkolbe/gadgetzero/config"
	"github.com/mkolbe/gadgetzero/gadget"
	"github.com/mkolbe/gadgetzero/pkg"
	"github.com/mkolbe/gadgetzero/pkg/prof"
	"github.com/mkolbe/gadgetzero/udc/pipe"
)

const defaultConfigPath = "/etc/gadgetzero.conf"

var app = &cli.App{
	Name:    "gadgetzero",
	Usage:   "USB sink/loopback gadget over a pipe bus",
	Version: "1.0.0",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "configuration file `PATH`",
			Value:   defaultConfigPath,
		},
		&cli.StringFlag{
			Name:  "bus-dir",
			Usage: "pipe bus directory shared with the host",
		},
		&cli.StringFlag{
			Name:  "serial",
			Usage: "serial number string override",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "minimum log level (debug, info, warn, error)",
		},
		&cli.BoolFlag{
			Name:  "json-log",
			Usage: "emit logs as JSON",
		},
		&cli.StringFlag{
			Name:  "cpuprofile",
			Usage: "write a CPU profile to `PATH` (needs the profile build tag)",
		},
		&cli.StringFlag{
			Name:  "heapprofile",
			Usage: "write a heap profile to `PATH` at exit (needs the profile build tag)",
		},
	},
	Action: run,
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "gadgetzero:", err)
		os.Exit(1)
	}
}

// loadConfig merges the configuration file with command-line overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	conf, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("bus-dir"); v != "" {
		conf.BusDir = v
	}
	if v := c.String("serial"); v != "" {
		conf.SerialNumber = v
	}
	if v := c.String("log-level"); v != "" {
		switch v {
		case "debug":
			conf.LogLevel = slog.LevelDebug
		case "info":
			conf.LogLevel = slog.LevelInfo
		case "warn":
			conf.LogLevel = slog.LevelWarn
		case "error":
			conf.LogLevel = slog.LevelError
		default:
			return nil, fmt.Errorf("unknown log level %q", v)
		}
	}
	if c.Bool("json-log") {
		conf.LogFormat = pkg.LogFormatJSON
	}
	return conf, nil
}

func run(c *cli.Context) error {
	conf, err := loadConfig(c)
	if err != nil {
		return err
	}
	conf.Apply()

	if path := c.String("cpuprofile"); path != "" {
		if err := prof.StartCPU(path); err != nil {
			return err
		}
		defer prof.StopCPU()
	}
	if path := c.String("heapprofile"); path != "" {
		defer prof.Write(prof.ProfileHeap, path)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctrl := pipe.New(conf.BusDir)
	if err := ctrl.Init(ctx); err != nil {
		return err
	}
	defer ctrl.Stop()

	g := gadget.New()
	g.SetVendorProduct(conf.VendorID, conf.ProductID)
	g.SetSerial(conf.SerialNumber)
	if err := g.Bind(ctrl); err != nil {
		return err
	}
	defer g.Unbind()

	if err := ctrl.Start(); err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, "gadgetzero: device at", ctrl.DeviceDir())

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return g.Run(ctx) })
	grp.Go(func() error { return consume(ctx, g) })

	err = grp.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// consume drains the sink endpoint for the life of the process, dumping
// each received transfer to stdout.
func consume(ctx context.Context, g *gadget.Gadget) error {
	buf := make([]byte, gadget.RecvBufSize)
	for {
		n, err := g.Read(ctx, buf)
		switch {
		case err == nil:
			if n > 0 {
				fmt.Print(hex.Dump(buf[:n]))
			}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return ctx.Err()
		case errors.Is(err, pkg.ErrNotConfigured):
			// Not enumerated yet, or deconfigured; poll until the host
			// selects the configuration.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		default:
			// Completion errors are per-transfer; keep consuming.
			pkg.LogDebug(pkg.ComponentGadget, "receive error", "err", err)
		}
	}
}
