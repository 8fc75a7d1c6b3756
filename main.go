package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kernel/boardcol/cmd"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx, cmd.Metadata{Version: version, Commit: commit}); err != nil {
		os.Exit(1)
	}
}
