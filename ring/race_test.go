// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package ring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"
)

func sleeper(d time.Duration, v string, err error, canceled *atomic.Int32) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		select {
		case <-time.After(d):
			return v, err
		case <-ctx.Done():
			canceled.Add(1)
			return "", ctx.Err()
		}
	}
}

func TestFirst(t *testing.T) {
	errBoom := errors.New("boom")

	t.Run("Winner", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			var canceled atomic.Int32
			start := time.Now()
			i, v, errs := first(t.Context(), []func(context.Context) (string, error){
				sleeper(3*time.Second, "a", nil, &canceled),
				sleeper(1*time.Second, "b", nil, &canceled),
				sleeper(2*time.Second, "c", nil, &canceled),
			})
			if i != 1 || v != "b" {
				t.Errorf("first: got (%d, %q), want (1, b)", i, v)
			}
			if got := time.Since(start); got != 1*time.Second {
				t.Errorf("Elapsed: got %v, want 1s", got)
			}
			if n := canceled.Load(); n != 2 {
				t.Errorf("Canceled: got %d, want 2", n)
			}
			if errs[1] != nil {
				t.Errorf("Winner error: got %v, want nil", errs[1])
			}
			for _, j := range []int{0, 2} {
				if !errors.Is(errs[j], context.Canceled) {
					t.Errorf("Loser %d error: got %v, want %v", j, errs[j], context.Canceled)
				}
			}
		})
	})

	t.Run("FailuresDoNotWin", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			var canceled atomic.Int32
			i, v, errs := first(t.Context(), []func(context.Context) (string, error){
				sleeper(1*time.Second, "", errBoom, &canceled),
				sleeper(2*time.Second, "b", nil, &canceled),
			})
			if i != 1 || v != "b" {
				t.Errorf("first: got (%d, %q), want (1, b)", i, v)
			}
			if !errors.Is(errs[0], errBoom) {
				t.Errorf("Error 0: got %v, want %v", errs[0], errBoom)
			}
		})
	})

	t.Run("NoWinner", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
			defer cancel()
			var canceled atomic.Int32
			i, _, errs := first(ctx, []func(context.Context) (string, error){
				sleeper(time.Minute, "a", nil, &canceled),
				sleeper(time.Minute, "b", nil, &canceled),
			})
			if i != -1 {
				t.Errorf("first: got winner %d, want none", i)
			}
			for j, err := range errs {
				if !errors.Is(err, context.DeadlineExceeded) {
					t.Errorf("Error %d: got %v, want %v", j, err, context.DeadlineExceeded)
				}
			}
			if n := canceled.Load(); n != 2 {
				t.Errorf("Canceled: got %d, want 2", n)
			}
		})
	})

	t.Run("Empty", func(t *testing.T) {
		i, _, errs := first[int](context.Background(), nil)
		if i != -1 || len(errs) != 0 {
			t.Errorf("first(nil): got %d, %v", i, errs)
		}
	})
}
