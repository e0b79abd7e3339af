// Cmdgate - Multi-tenant Remote Command Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cmdgate

package executor

import (
	"bytes"
	"sync"
)

// outputBudget is a byte allowance shared by the stdout and stderr buffers
// of one execution.
type outputBudget struct {
	mu        sync.Mutex
	remaining int64
}

func newOutputBudget(limit int64) *outputBudget {
	return &outputBudget{remaining: limit}
}

// writer returns a buffer drawing on the budget.
func (b *outputBudget) writer() *cappedBuffer {
	return &cappedBuffer{budget: b}
}

// cappedBuffer keeps bytes while the budget lasts and discards the rest.
// Write always reports len(p) so the copying goroutine keeps draining the
// pipe and the child never blocks on a full pipe.
type cappedBuffer struct {
	budget    *outputBudget
	buf       bytes.Buffer
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.budget.mu.Lock()
	defer c.budget.mu.Unlock()

	n := int64(len(p))
	if n <= c.budget.remaining {
		c.buf.Write(p)
		c.budget.remaining -= n
		return len(p), nil
	}
	if c.budget.remaining > 0 {
		c.buf.Write(p[:c.budget.remaining])
		c.budget.remaining = 0
	}
	c.truncated = true
	return len(p), nil
}

// String returns the kept output. Call only after the writers are done.
func (c *cappedBuffer) String() string {
	c.budget.mu.Lock()
	defer c.budget.mu.Unlock()
	return c.buf.String()
}

// Truncated reports whether any bytes were discarded.
func (c *cappedBuffer) Truncated() bool {
	c.budget.mu.Lock()
	defer c.budget.mu.Unlock()
	return c.truncated
}
