//go:build unix

package pull

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// notifyWake returns a channel that receives a value on every SIGUSR1.
func notifyWake(ctx context.Context) <-chan struct{} {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGUSR1)

	wake := make(chan struct{}, 1)
	go func() {
		defer signal.Stop(signals)
		for {
			select {
			case <-ctx.Done():
				return
			case <-signals:
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}()
	return wake
}
