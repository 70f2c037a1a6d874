package scan

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
)

// EventKind identifies the acquisition events published to subscribers.
type EventKind string

const (
	EventLineFinished EventKind = "line_finished"
	EventScanFinished EventKind = "scan_finished"
	EventScanError    EventKind = "scan_error"
	EventElapsed      EventKind = "elapsed_updated"
)

// Event is one acquisition notification. Fields beyond Kind and SessionID
// are populated per kind.
type Event struct {
	Kind           EventKind `json:"kind"`
	SessionID      string    `json:"session_id"`
	Line           int       `json:"line,omitempty"`
	Direction      string    `json:"direction,omitempty"`
	Error          string    `json:"error,omitempty"`
	ElapsedSweeps  int       `json:"elapsed_sweeps,omitempty"`
	ElapsedSeconds float64   `json:"elapsed_seconds,omitempty"`
}

// Bus fans acquisition events out to subscribers over buffered channels.
// Delivery is non-blocking: a subscriber that falls behind drops events
// rather than stalling the worker.
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe creates a new channel for receiving acquisition events. The
// returned ID identifies the channel when unsubscribing.
func (b *Bus) Subscribe() (string, <-chan Event) {
	id := randomID()
	ch := make(chan Event, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// Publish delivers an event to every subscriber without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
