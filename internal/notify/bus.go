// Package notify implements the broker's in-process notification bus,
// adapted from the teacher's pkg/pgnotify.Bus (a Postgres LISTEN/NOTIFY
// event bus). Every Postgres-specific part — the listener connection,
// pg_notify, table-change triggers — is gone: this bus is pure in-memory
// wake-up signaling, per spec §4.2 and §9 ("do not treat the bus as a
// durable log").
package notify

import (
	"context"
	"sync"
	"time"
)

// QueueTopic is re-exported here so callers that only import notify (tests,
// mostly) don't need the domain package too.
const QueueTopic = "__queue__"

type topicState struct {
	version int64
	wake    chan struct{} // closed and replaced on every notify
}

// Bus is a topic-keyed version counter with timeout-capable waiting. The
// zero value is not usable; use New.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topicState
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{topics: make(map[string]*topicState)}
}

func (b *Bus) stateLocked(topic string) *topicState {
	st, ok := b.topics[topic]
	if !ok {
		st = &topicState{wake: make(chan struct{})}
		b.topics[topic] = st
	}
	return st
}

// Notify increments topic's version and wakes every waiter currently
// blocked on it. Non-blocking; safe to call with no waiters registered.
func (b *Bus) Notify(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.stateLocked(topic)
	st.version++
	close(st.wake)
	st.wake = make(chan struct{})
}

// CurrentVersion returns topic's version snapshot (0 for a never-notified
// topic).
func (b *Bus) CurrentVersion(topic string) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.topics[topic]
	if !ok {
		return 0
	}
	return st.version
}

// WaitForChange blocks until topic's version advances past sinceVersion, the
// context is canceled, or timeout elapses — whichever comes first. It
// returns true only on an observed version change. Spurious wakes (a
// close/replace race with no net version movement from the caller's
// perspective) are consumed by re-checking the version in a loop, per
// spec §4.2.
func (b *Bus) WaitForChange(ctx context.Context, topic string, timeout time.Duration, sinceVersion int64) bool {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		st := b.stateLocked(topic)
		version := st.version
		wake := st.wake
		b.mu.Unlock()

		if version != sinceVersion {
			return true
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}

		timer := time.NewTimer(remaining)
		select {
		case <-wake:
			timer.Stop()
			// loop: re-check version, may be a spurious wake from another
			// topic entry replacement.
		case <-timer.C:
			return false
		case <-ctx.Done():
			timer.Stop()
			return false
		}
	}
}

// Cleanup drops topic's bookkeeping entirely. Safe to call for a topic that
// was never notified.
func (b *Bus) Cleanup(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.topics, topic)
}
