package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	// Timezone resolution must work on hosts without a zoneinfo db.
	_ "time/tzdata"

	"github.com/xkilldash9x/fpwarden/cmd"
	"github.com/xkilldash9x/fpwarden/internal/observability"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	if err != nil {
		os.Exit(1)
	}
}
