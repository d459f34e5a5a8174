package faceswap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/fpang/storybook-faceswap/internal/provider"
)

// CompositingError is the failure of one composite attempt.
type CompositingError struct {
	Attempt int
	Err     error
}

func (e *CompositingError) Error() string {
	return fmt.Sprintf("composite attempt %d: %v", e.Attempt, e.Err)
}

func (e *CompositingError) Unwrap() error { return e.Err }

// CompositorOptions tunes the timeout and retry wrappers.
type CompositorOptions struct {
	Timeout    time.Duration // per attempt
	MaxRetries int           // additional attempts after the first
	BaseDelay  time.Duration // doubled after every failed attempt
}

func (o CompositorOptions) withDefaults() CompositorOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultCompositeTimeout
	}
	o.MaxRetries = min(max(o.MaxRetries, 0), MaxCompositeRetries)
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultRetryBaseDelay
	}
	return o
}

// CompositeOutcome is what Composite returns instead of an error. When OK is
// false, Err holds the last *CompositingError.
type CompositeOutcome struct {
	Image    provider.Image
	OK       bool
	Attempts int
	Err      error
}

// Compositor blends a face onto an illustration with a timeout per attempt
// and exponential backoff between attempts.
type Compositor struct {
	client provider.FaceCompositor
	opts   CompositorOptions
}

// NewCompositor wraps a provider compositor.
func NewCompositor(client provider.FaceCompositor, opts CompositorOptions) *Compositor {
	return &Compositor{client: client, opts: opts.withDefaults()}
}

// Composite tries up to 1+MaxRetries times. Request validation failures are
// not retried.
func (c *Compositor) Composite(ctx context.Context, req provider.CompositeRequest) CompositeOutcome {
	if err := req.Validate(); err != nil {
		return CompositeOutcome{Attempts: 0, Err: &CompositingError{Attempt: 0, Err: err}}
	}

	var (
		img      provider.Image
		attempts int
		lastErr  error
	)
	op := func() error {
		attempts++
		out, err := callWithTimeout(ctx, c.opts.Timeout, "composite", func(ctx context.Context) (provider.Image, error) {
			return c.client.Composite(ctx, req)
		})
		if err == nil {
			err = out.Validate()
		}
		if err != nil {
			lastErr = &CompositingError{Attempt: attempts, Err: err}
			return lastErr
		}
		img = out
		return nil
	}
	notify := func(err error, wait time.Duration) {
		log.Debug().Err(err).Dur("wait", wait).Str("target", req.TargetImageURL).Msg("Retrying composite")
	}

	if err := backoff.RetryNotify(op, c.backOff(), notify); err != nil {
		var ce *CompositingError
		if !errors.As(err, &ce) {
			lastErr = &CompositingError{Attempt: attempts, Err: err}
		}
		return CompositeOutcome{Attempts: attempts, Err: lastErr}
	}
	return CompositeOutcome{Image: img, OK: true, Attempts: attempts}
}

func (c *Compositor) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = c.opts.BaseDelay << c.opts.MaxRetries
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(c.opts.MaxRetries))
}
