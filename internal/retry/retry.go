// Copyright 2025 StrongDM Inc
// SPDX-License-Identifier: Apache-2.0

// Package retry wraps backend-initialization and other fire-and-retry I/O
// operations in bounded exponential backoff.
//
// Grounded on the original's ossfs.py constructor, which retries bucket
// creation OSSFS.TRIALS (3) times before giving up and exiting; spec.md §9
// generalizes that ad hoc trial loop into a reusable policy rather than
// duplicating the same three-strikes loop in every backend adapter.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultAttempts mirrors the original's OSSFS.TRIALS constant: every
// backend adapter's init-time retry defaults to at most three attempts.
const DefaultAttempts = 3

// Do runs fn, retrying on error with exponential backoff up to attempts
// times total (so attempts-1 retries after the first failure). A
// non-positive attempts falls back to DefaultAttempts.
func Do(ctx context.Context, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(attempts-1))
	return backoff.Retry(fn, backoff.WithContext(policy, ctx))
}

// DoWithResult is Do for operations that produce a value alongside an
// error, such as establishing a client connection.
func DoWithResult[T any](ctx context.Context, attempts int, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, attempts, func() error {
		v, err := fn()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// NewBackoffWithCap returns an exponential backoff policy capped at
// maxElapsed total, for long-running operations where a fixed attempt
// count is the wrong shape. Nothing in this module calls it yet.
func NewBackoffWithCap(maxElapsed time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = maxElapsed
	return b
}
