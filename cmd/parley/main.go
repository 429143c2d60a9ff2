package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	rootcmder "github.com/papercomputeco/parley/cmd/parley/root"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootcmder.NewParleyCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
