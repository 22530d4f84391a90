//go:build !unix

package main

import (
	"os"
	"os/signal"
)

// notifySignals routes interrupts to r until the returned stop function is
// called.
func notifySignals(r *runner) (stop func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ch:
				if r.interrupt() {
					os.Exit(exitInterrupted)
				}
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
