// Package events defines the side-effect bus: the fire-and-forget channel
// handlers use to notify downstream reward and challenge logic of entity
// changes. Delivery semantics belong to the consumer.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event is one side-effect notification. Payload values are plain strings so
// consumers can route without schema knowledge.
type Event struct {
	ID          uuid.UUID
	Type        string
	BlockNumber uint64
	BlockTime   time.Time
	UserID      uint64
	Payload     map[string]string
}

// Emitter is what handlers see: a sink for notifications produced while a
// block is being processed.
type Emitter interface {
	Emit(Event)
}

// Sink receives events after the block's mutations are durably committed.
type Sink interface {
	Dispatch(Event)
}

// NoopEmitter satisfies Emitter while discarding all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// NoopSink satisfies Sink while discarding all events.
type NoopSink struct{}

func (NoopSink) Dispatch(Event) {}

// Buffer collects events during block processing and releases them only
// after commit, so consumers never observe a change that did not settle.
type Buffer struct {
	events []Event
}

// NewBuffer returns an empty per-block buffer.
func NewBuffer() *Buffer { return &Buffer{} }

// Emit implements Emitter.
func (b *Buffer) Emit(ev Event) {
	b.events = append(b.events, ev)
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int { return len(b.events) }

// FlushTo forwards every buffered event to the sink in emission order and
// empties the buffer.
func (b *Buffer) FlushTo(sink Sink) int {
	n := len(b.events)
	for _, ev := range b.events {
		sink.Dispatch(ev)
	}
	b.events = nil
	return n
}

// MergeInto moves every buffered event into dst in emission order. Promotes
// a per-event staging buffer once its record clears the pool gate.
func (b *Buffer) MergeInto(dst *Buffer) int {
	n := len(b.events)
	dst.events = append(dst.events, b.events...)
	b.events = nil
	return n
}

func newEvent(typ string, blockNumber uint64, blockTime time.Time, userID uint64, payload map[string]string) Event {
	return Event{
		ID:          uuid.New(),
		Type:        typ,
		BlockNumber: blockNumber,
		BlockTime:   blockTime,
		UserID:      userID,
		Payload:     payload,
	}
}
