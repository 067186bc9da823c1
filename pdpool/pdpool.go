// Package pdpool implements the fixed-capacity message buffer pool shared
// by every goroutine on a USB-PD port.
//
// A fixed pool avoids heap allocation in the protocol hot path and bounds
// memory: the design assumes at most one RX-in-flight buffer, one
// PE-held buffer, one TX-in-flight buffer and one spare are ever needed
// simultaneously, so the default capacity is four.
package pdpool

import (
	"errors"
	"sync"

	"github.com/gousbpd/sinkstack/pdmsg"
)

// ErrExhausted is returned by Alloc when every buffer in the pool is
// currently owned by some layer. Under correct ownership-transfer
// discipline this should never happen; every caller in this module treats
// it as a protocol error rather than a panic (see DESIGN.md's Open
// Question decision on pool exhaustion).
var ErrExhausted = errors.New("pdpool: no free buffers")

// DefaultCapacity is the number of buffers preallocated by New when no
// explicit capacity is requested.
const DefaultCapacity = 4

// Pool is a fixed-count, preallocated set of *pdmsg.Buffer. It is safe for
// concurrent use by multiple goroutines.
type Pool struct {
	mu   sync.Mutex
	free []*pdmsg.Buffer
	all  []*pdmsg.Buffer
}

// New creates a pool with the given capacity, preallocating every buffer
// up front. A capacity <= 0 uses DefaultCapacity.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pool{
		free: make([]*pdmsg.Buffer, 0, capacity),
		all:  make([]*pdmsg.Buffer, 0, capacity),
	}
	for i := 0; i < capacity; i++ {
		b := &pdmsg.Buffer{}
		p.free = append(p.free, b)
		p.all = append(p.all, b)
	}
	return p
}

// Cap returns the pool's fixed capacity.
func (p *Pool) Cap() int {
	return len(p.all)
}

// Alloc removes and returns a free buffer, or ErrExhausted if none remain.
// The returned buffer is zeroed.
func (p *Pool) Alloc() (*pdmsg.Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil, ErrExhausted
	}
	b := p.free[n-1]
	p.free = p.free[:n-1]
	b.Reset()
	return b, nil
}

// Free returns a buffer to the pool. Freeing a buffer not owned by the
// pool, or double-freeing one, is a caller bug; Free panics in that case
// since it indicates a broken ownership invariant rather than a runtime
// condition a caller can recover from.
func (p *Pool) Free(b *pdmsg.Buffer) {
	if b == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	owned := false
	for _, a := range p.all {
		if a == b {
			owned = true
			break
		}
	}
	if !owned {
		panic("pdpool: free of a buffer not owned by this pool")
	}
	for _, f := range p.free {
		if f == b {
			panic("pdpool: double free")
		}
	}
	p.free = append(p.free, b)
}

// InUse returns the number of buffers currently checked out. Intended for
// diagnostics and tests, not for control flow.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all) - len(p.free)
}
