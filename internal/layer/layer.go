// Package layer holds register writes deferred by postprocess rendering
// until they are merged back into the base display list.
package layer

import (
	"fmt"

	"github.com/gogpu/d2/internal/dlist"
	"github.com/gogpu/d2/internal/mem"
)

// DefaultCapacity is the initial capacity in writes.
const DefaultCapacity = 64

const writeBytes = 8

// Layer is a growable write log. Growth doubles the capacity and is
// charged against the memory pool budget.
type Layer struct {
	pool     *mem.Pool
	ws       []dlist.Write
	reserved int64
	grows    int
}

// New creates a layer with room for capacity writes.
func New(pool *mem.Pool, capacity int) (*Layer, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	bytes := int64(capacity) * writeBytes
	if err := pool.Reserve(bytes); err != nil {
		return nil, fmt.Errorf("layer: %w", err)
	}
	return &Layer{
		pool:     pool,
		ws:       make([]dlist.Write, 0, capacity),
		reserved: bytes,
	}, nil
}

// Append adds ws to the log. If the log cannot grow, nothing is appended
// and the pool error is returned.
func (l *Layer) Append(ws []dlist.Write) error {
	need := len(l.ws) + len(ws)
	if need > cap(l.ws) {
		if err := l.grow(need); err != nil {
			return err
		}
	}
	l.ws = append(l.ws, ws...)
	return nil
}

func (l *Layer) grow(need int) error {
	n := max(cap(l.ws), 1)
	for n < need {
		n *= 2
	}
	delta := int64(n-cap(l.ws)) * writeBytes
	if err := l.pool.Reserve(delta); err != nil {
		return fmt.Errorf("layer: grow to %d writes: %w", n, err)
	}
	ws := make([]dlist.Write, len(l.ws), n)
	copy(ws, l.ws)
	l.ws = ws
	l.reserved += delta
	l.grows++
	return nil
}

// Writes returns the logged writes in append order.
func (l *Layer) Writes() []dlist.Write { return l.ws }

// Reset empties the log, keeping its capacity.
func (l *Layer) Reset() { l.ws = l.ws[:0] }

// Len returns the number of logged writes.
func (l *Layer) Len() int { return len(l.ws) }

// Cap returns the capacity in writes.
func (l *Layer) Cap() int { return cap(l.ws) }

// Grows returns how often the log grew.
func (l *Layer) Grows() int { return l.grows }

// Free returns the reserved budget. The layer must not be used afterwards.
func (l *Layer) Free() {
	l.pool.Unreserve(l.reserved)
	l.reserved = 0
	l.ws = nil
}
