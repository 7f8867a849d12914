// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package balance implements load balancers that track the number of active
// calls per destination, for use in ordering ring group attempts.
package balance

import (
	"cmp"
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
)

// A Balancer tracks a count of active calls for each destination.
//
// Increment and Decrement must be atomic with respect to concurrent callers
// computing counts, including callers in other processes for a shared
// backend. Acquire combines choosing the least-loaded destination with
// incrementing its count, as a single atomic step.
type Balancer interface {
	// Increment adds one to the count for dest.
	Increment(ctx context.Context, dest string) error

	// Decrement subtracts one from the count for dest. A count never goes
	// below zero.
	Decrement(ctx context.Context, dest string) error

	// Count reports the current count for dest.
	Count(ctx context.Context, dest string) (int64, error)

	// Acquire chooses the destination in dests with the lowest count,
	// preferring the earliest in case of a tie, increments its count, and
	// returns it.
	Acquire(ctx context.Context, dests []string) (string, error)
}

// ErrNoDestinations is reported by Acquire when it is given no destinations.
var ErrNoDestinations = errors.New("no destinations")

// Rank returns a copy of dests ordered by ascending count according to b.
// Destinations with equal counts keep their original relative order.
func Rank(ctx context.Context, b Balancer, dests []string) ([]string, error) {
	type entry struct {
		dest string
		n    int64
	}
	es := make([]entry, len(dests))
	for i, d := range dests {
		n, err := b.Count(ctx, d)
		if err != nil {
			return nil, err
		}
		es[i] = entry{d, n}
	}
	slices.SortStableFunc(es, func(a, b entry) int { return cmp.Compare(a.n, b.n) })
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.dest
	}
	return out, nil
}

// Memory is an in-process Balancer. The zero value is ready for use.
// A Memory is suitable for a single process; use Redis to share counts.
type Memory struct {
	μ      sync.Mutex
	counts map[string]int64
}

// NewMemory constructs an empty in-memory balancer.
func NewMemory() *Memory { return new(Memory) }

// Increment implements a method of the [Balancer] interface.
func (m *Memory) Increment(_ context.Context, dest string) error {
	m.μ.Lock()
	defer m.μ.Unlock()
	m.incLocked(dest)
	return nil
}

func (m *Memory) incLocked(dest string) {
	if m.counts == nil {
		m.counts = make(map[string]int64)
	}
	m.counts[dest]++
}

// Decrement implements a method of the [Balancer] interface.
func (m *Memory) Decrement(_ context.Context, dest string) error {
	m.μ.Lock()
	defer m.μ.Unlock()
	if n := m.counts[dest]; n > 1 {
		m.counts[dest] = n - 1
	} else {
		delete(m.counts, dest)
	}
	return nil
}

// Count implements a method of the [Balancer] interface.
func (m *Memory) Count(_ context.Context, dest string) (int64, error) {
	m.μ.Lock()
	defer m.μ.Unlock()
	return m.counts[dest], nil
}

// Acquire implements a method of the [Balancer] interface.
func (m *Memory) Acquire(_ context.Context, dests []string) (string, error) {
	if len(dests) == 0 {
		return "", ErrNoDestinations
	}
	m.μ.Lock()
	defer m.μ.Unlock()
	best := 0
	for i, d := range dests[1:] {
		if m.counts[d] < m.counts[dests[best]] {
			best = i + 1
		}
	}
	m.incLocked(dests[best])
	return dests[best], nil
}

// Snapshot returns a copy of the nonzero counts in m.
func (m *Memory) Snapshot() map[string]int64 {
	m.μ.Lock()
	defer m.μ.Unlock()
	if m.counts == nil {
		return map[string]int64{}
	}
	return maps.Clone(m.counts)
}
