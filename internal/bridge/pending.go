package bridge

import (
	"encoding/json"
	"sync"
)

// outcome is what a waiter receives: a result, the worker's error text, or a
// host-side error from drain.
type outcome struct {
	result  json.RawMessage
	failure *string
	err     error
}

// pendingTable maps request ids to single-use completion slots. It is the
// only place that decides which caller receives a response.
type pendingTable struct {
	mu      sync.Mutex
	nextID  uint64
	waiters map[uint64]chan outcome
	closed  error
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		nextID:  1,
		waiters: make(map[uint64]chan outcome),
	}
}

// register allocates the next id and its slot. It fails once the table has
// been drained.
func (p *pendingTable) register() (uint64, <-chan outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed != nil {
		return 0, nil, p.closed
	}

	id := p.nextID
	p.nextID++
	ch := make(chan outcome, 1)
	p.waiters[id] = ch
	return id, ch, nil
}

// resolve delivers o to the waiter for id and removes it. Unknown ids (late
// or duplicate responses) are dropped and report false.
func (p *pendingTable) resolve(id uint64, o outcome) bool {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- o
	return true
}

// evict removes the entry for id without resolving it.
func (p *pendingTable) evict(id uint64) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// drain fails every pending entry with err and rejects later registrations.
// It returns the number of entries failed.
func (p *pendingTable) drain(err error) int {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = make(map[uint64]chan outcome)
	if p.closed == nil {
		p.closed = err
	}
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- outcome{err: err}
	}
	return len(waiters)
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
