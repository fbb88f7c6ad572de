package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"
)

var gitCommitSHA = ""

func main() {
	// set up a context that is canceled when a command is interrupted
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// set up a signal handler to cancel the context
	go func() {
		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-interrupt:
			fmt.Println()
			klog.Info("received interrupt signal")
			cancel()
		case <-ctx.Done():
		}

		// Allow any further SIGTERM or SIGINT to kill process
		signal.Stop(interrupt)
	}()

	var metricsAddr string

	app := &cli.App{
		Name:        "btdbtool",
		Version:     gitCommitSHA,
		Description: "Operate on BTreeDB databases and packed asset archives.",
		Before: func(c *cli.Context) error {
			serveMetrics(metricsAddr)
			return nil
		},
		Flags: append(NewKlogFlagSet(),
			&cli.StringFlag{
				Name:        "metrics-addr",
				Usage:       "If non-empty, serve Prometheus metrics on this address",
				EnvVars:     []string{"BTDBTOOL_METRICS_ADDR"},
				Destination: &metricsAddr,
			},
		),
		Action: nil,
		Commands: []*cli.Command{
			newCmd_DB(),
			newCmd_Archive(),
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.RunContext(ctx, os.Args); err != nil {
		klog.Fatal(err)
	}
}
