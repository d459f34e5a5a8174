package faceswap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrTimeout is returned by callWithTimeout when the call loses the race.
var ErrTimeout = errors.New("provider call timed out")

type callResult[T any] struct {
	val T
	err error
}

// callWithTimeout runs fn in its own goroutine and waits for it or for the
// timeout, whichever comes first. A call that loses the race keeps running
// until its HTTP client gives up; its outcome is logged and dropped.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, label string, fn func(context.Context) (T, error)) (T, error) {
	ch := make(chan callResult[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				ch <- callResult[T]{val: zero, err: fmt.Errorf("%s: panic: %v", label, r)}
			}
		}()
		v, err := fn(ctx)
		ch <- callResult[T]{val: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.val, res.err
	case <-timer.C:
		go func() {
			late := <-ch
			log.Debug().Err(late.err).Str("call", label).Msg("Discarded result of timed-out call")
		}()
		var zero T
		return zero, fmt.Errorf("%s after %s: %w", label, timeout, ErrTimeout)
	}
}
