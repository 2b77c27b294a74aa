// Package main runs the syncctl operational CLI.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	syncctlcmd "github.com/louisbranch/castsync/internal/cmd/syncctl"
	"github.com/louisbranch/castsync/internal/platform/config"
)

func main() {
	cfg, err := syncctlcmd.ParseConfig()
	if err != nil {
		config.Exitf("parse config: %v", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := syncctlcmd.Run(ctx, cfg, os.Args[1:]); err != nil {
		config.Exitf("syncctl: %v", err)
	}
}
