// cmd/statline-admin loads reference datasets and inspects a statline
// deployment from the command line: dataset imports, one-off entity
// resolution, tool schema listings and refreshes, and request routing.
//
// Commands that change state (load, tools refresh) leave an event file in
// the data directory so a running statline-web picks the change up.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
