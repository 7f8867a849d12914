// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package ring

import (
	"context"
	"sync"

	"github.com/creachadair/taskgroup"
)

// first runs each task concurrently and reports the index and value of the
// first to succeed, or -1 if none did. As soon as one task succeeds, the
// context passed to the others is canceled, exactly once. The error slice
// holds the error reported by each task that failed, or nil.
//
// first does not return until all the tasks have returned.
func first[T any](ctx context.Context, tasks []func(context.Context) (T, error)) (int, T, []error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var μ sync.Mutex
	win := -1
	var val T
	errs := make([]error, len(tasks))

	g := taskgroup.New(nil)
	for i, task := range tasks {
		g.Go(func() error {
			v, err := task(ctx)
			μ.Lock()
			defer μ.Unlock()
			if err != nil {
				errs[i] = err
			} else if win < 0 {
				win, val = i, v
				cancel()
			}
			return nil
		})
	}
	g.Wait()
	return win, val, errs
}
