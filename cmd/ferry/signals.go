package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// watchInterrupts turns the first SIGINT or SIGTERM into a cooperative
// cancel and the second into an abort of ctx. The returned function stops
// watching.
func watchInterrupts(errOut io.Writer, cancelRun func(), abort context.CancelFunc) func() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		cancelled := false
		for {
			select {
			case <-sigCh:
				if !cancelled {
					cancelled = true
					fmt.Fprintln(errOut, "Cancelling after the current step; interrupt again to abort")
					cancelRun()
					continue
				}
				fmt.Fprintln(errOut, "Aborting")
				abort()
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
