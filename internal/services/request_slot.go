// Package services implements the device-facing PB handlers of spec §4.7:
// device info, resource/watchface management, time/locale/network sync, and
// third-party app messaging. Each request/response pair is correlated
// through a single-flight slot, grounded on the teacher's
// requestCallbacksByRequestID pattern in agent/enclave_client.go, rebuilt
// here on top of hashicorp/golang-lru (the maintained successor of the
// groupcache/lru package the teacher vendored) and Go generics instead of
// the teacher's interface{}-typed channel.
package services

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// RequestSlots correlates a request id to the channel waiting on its
// response. Capacity bounds how many requests can be in flight at once;
// the oldest unanswered one is evicted (and silently forgotten) past that.
type RequestSlots[T any] struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func NewRequestSlots[T any](capacity int) *RequestSlots[T] {
	cache, _ := lru.New(capacity)
	return &RequestSlots[T]{cache: cache}
}

// Register opens a slot for id and returns the channel its response will
// arrive on.
func (s *RequestSlots[T]) Register(id string) <-chan T {
	ch := make(chan T, 1)
	s.mu.Lock()
	s.cache.Add(id, ch)
	s.mu.Unlock()
	return ch
}

// Deliver routes v to the waiter registered under id, if any is still
// pending. Returns false if no slot was found (already delivered, evicted,
// or never registered).
func (s *RequestSlots[T]) Deliver(id string, v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.cache.Get(id)
	if !ok {
		return false
	}
	s.cache.Remove(id)
	cb.(chan T) <- v
	return true
}

// Cancel drops id's slot without delivering anything, e.g. on timeout.
func (s *RequestSlots[T]) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(id)
}
