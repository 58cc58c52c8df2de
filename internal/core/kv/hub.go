package kv

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrHubClosed is returned when subscribing to or publishing on a closed hub.
var ErrHubClosed = errors.New("watch hub is closed")

const defaultWatchBuffer = 1024

// Hub fans out change events to in-process subscribers by key prefix.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	bufSize       int
	closed        atomic.Bool
}

type subscription struct {
	prefix string
	ch     chan Event
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewHub creates a hub whose subscriptions buffer bufSize events.
func NewHub(bufSize int) *Hub {
	if bufSize <= 0 {
		bufSize = defaultWatchBuffer
	}
	return &Hub{
		subscriptions: make(map[string]*subscription),
		bufSize:       bufSize,
	}
}

// Publish delivers ev to every subscription whose prefix covers ev.Key, in call
// order. A slow subscriber blocks the publisher until ctx is done.
func (h *Hub) Publish(ctx context.Context, ev Event) error {
	if h.closed.Load() {
		return ErrHubClosed
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !strings.HasPrefix(ev.Key, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- ev:
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.ctx.Done():
			// Subscription cancelled, skip
		}
	}
	return nil
}

// Subscribe registers a subscription for prefix. The returned channel is closed
// when ctx is cancelled or the hub is closed.
func (h *Hub) Subscribe(ctx context.Context, prefix string) (<-chan Event, error) {
	if h.closed.Load() {
		return nil, ErrHubClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		prefix: prefix,
		ch:     make(chan Event, h.bufSize),
		ctx:    subCtx,
		cancel: cancel,
	}
	id := uuid.NewString()

	h.mu.Lock()
	h.subscriptions[id] = sub
	h.mu.Unlock()

	go func() {
		<-subCtx.Done()
		h.mu.Lock()
		delete(h.subscriptions, id)
		h.mu.Unlock()
		sub.close()
	}()

	return sub.ch, nil
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// Close cancels every subscription.
func (h *Hub) Close() {
	if h.closed.Swap(true) {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscriptions {
		sub.cancel()
	}
}

func (s *subscription) close() {
	s.once.Do(func() {
		close(s.ch)
	})
}
