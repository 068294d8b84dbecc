package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"xbenv/pkg/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGHUP)
	app := cli.New()
	res, err := app.Execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		app.ReportError(err)
		os.Exit(cli.ExitSetupFailure)
	}
	os.Exit(res.ExitCode)
}
