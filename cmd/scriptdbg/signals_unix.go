//go:build unix

package main

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// notifySignals routes SIGINT and SIGUSR1 to r until the returned stop
// function is called.
func notifySignals(r *runner) (stop func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, unix.SIGINT, unix.SIGUSR1)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-ch:
				switch sig {
				case unix.SIGUSR1:
					r.implicitPause()
				default:
					if r.interrupt() {
						os.Exit(exitInterrupted)
					}
				}
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
