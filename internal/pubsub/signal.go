// Package pubsub provides a minimal change-notification primitive. A Signal
// carries no payload: subscribers learn that the subject mutated at least once
// since they last looked, then read the subject's current state directly.
package pubsub

import "sync"

// Signal fans out change notifications to subscribers. Each subscriber owns a
// channel with capacity one; Broadcast performs a non-blocking send, so any
// number of mutations between two receives collapses into a single delivery.
// Subscribers therefore get "at least one notification after one or more
// mutations", never one notification per mutation.
type Signal struct {
	mu   sync.Mutex
	subs map[<-chan struct{}]chan struct{}
}

// NewSignal creates an empty Signal.
func NewSignal() *Signal {
	return &Signal{subs: make(map[<-chan struct{}]chan struct{})}
}

// Subscribe registers a new subscriber and returns its notification channel.
func (s *Signal) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[ch] = ch
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber previously returned by Subscribe.
// Unsubscribing an unknown channel is a no-op.
func (s *Signal) Unsubscribe(ch <-chan struct{}) {
	s.mu.Lock()
	delete(s.subs, ch)
	s.mu.Unlock()
}

// Broadcast notifies all subscribers. A subscriber whose pending notification
// has not been consumed yet is skipped; the pending one already covers this
// mutation.
func (s *Signal) Broadcast() {
	s.mu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
}
