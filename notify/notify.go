// Package notify provides a small broadcaster used to announce new frozen jar
// generations to interested subscribers.
//
// Subscribers are addressed by explicit tokens issued at registration.
// Removal by token keeps the bookkeeping robust; abandoned subscribers whose
// channels are full are pruned during broadcast rather than compared by
// identity.
package notify

import "sync"

// Token identifies a subscription.
type Token uint64

// Broadcaster fans events out to subscribers. The zero value is not usable;
// call NewBroadcaster.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	next   Token
	subs   map[Token]chan T
	buffer int
	closed bool
}

// NewBroadcaster creates a broadcaster whose subscriber channels buffer up to
// buffer events (minimum 1).
func NewBroadcaster[T any](buffer int) *Broadcaster[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster[T]{
		subs:   make(map[Token]chan T),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber and returns its token and channel.
// The channel is closed on Unsubscribe or Close.
func (b *Broadcaster[T]) Subscribe() (Token, <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan T)
		close(ch)
		return 0, ch
	}

	b.next++
	token := b.next
	ch := make(chan T, b.buffer)
	b.subs[token] = ch
	return token, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown tokens are
// ignored.
func (b *Broadcaster[T]) Unsubscribe(token Token) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[token]; ok {
		delete(b.subs, token)
		close(ch)
	}
}

// Broadcast delivers v to every subscriber. Subscribers whose buffers are full
// are treated as abandoned: their channels are closed and pruned so a stalled
// consumer cannot pin the broadcaster.
func (b *Broadcaster[T]) Broadcast(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for token, ch := range b.subs {
		select {
		case ch <- v:
		default:
			delete(b.subs, token)
			close(ch)
		}
	}
}

// Len returns the number of live subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes all subscriber channels and marks the broadcaster closed.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for token, ch := range b.subs {
		delete(b.subs, token)
		close(ch)
	}
}
