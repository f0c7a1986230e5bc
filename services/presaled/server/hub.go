package server

import (
	"context"
	"sync"

	"tokensale/core/events"
)

const defaultHubHistory = 1024

// Update is one ledger event as delivered to stream subscribers.
type Update struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func cloneUpdate(u Update) Update {
	out := u
	if u.Attributes != nil {
		out.Attributes = make(map[string]string, len(u.Attributes))
		for k, v := range u.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// Hub fans ledger events out to websocket subscribers and keeps a bounded
// history so reconnecting clients can resume from a cursor.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	limit   int
	history []Update
	subs    map[uint64]chan Update
}

// NewHub returns a hub retaining up to historyLimit updates.
func NewHub(historyLimit int) *Hub {
	if historyLimit <= 0 {
		historyLimit = defaultHubHistory
	}
	return &Hub{limit: historyLimit, subs: make(map[uint64]chan Update)}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	h.mu.Lock()
	h.seq++
	update := cloneUpdate(Update{Sequence: h.seq, Type: payload.Type, Attributes: payload.Attributes})
	h.history = append(h.history, update)
	if len(h.history) > h.limit {
		excess := len(h.history) - h.limit
		trimmed := make([]Update, h.limit)
		copy(trimmed, h.history[excess:])
		h.history = trimmed
	}
	// Sends stay under the lock so cancel cannot close a channel mid-send.
	for _, ch := range h.subs {
		select {
		case ch <- cloneUpdate(update):
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe registers a subscriber for updates after cursor. The returned
// backlog holds retained updates the subscriber has not seen yet.
func (h *Hub) Subscribe(ctx context.Context, cursor uint64) (<-chan Update, func(), []Update) {
	updates := make(chan Update, 32)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = updates
	backlog := make([]Update, 0, len(h.history))
	for _, entry := range h.history {
		if entry.Sequence > cursor {
			backlog = append(backlog, cloneUpdate(entry))
		}
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
