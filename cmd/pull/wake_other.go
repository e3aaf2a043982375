//go:build !unix

package pull

import "context"

func notifyWake(context.Context) <-chan struct{} {
	return nil
}
