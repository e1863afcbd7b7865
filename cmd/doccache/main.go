// Command doccache inspects and maintains a doccache store from the shell.
//
// Typical use is a periodic cleanup next to the application:
//
//	doccache clean --backend mongo --uri mongodb://db:27017 --interval 10m
//
// Every flag can also be set as a DOCCACHE_* environment variable or in a .env file.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1) //nolint:gocritic // exitAfterDefer - stop already called
	}
}
