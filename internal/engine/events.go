package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"scalpd/internal/logger"
)

type EventType string

const (
	EventPlanned         EventType = "PLANNED"
	EventSubmitted       EventType = "SUBMITTED"
	EventOpened          EventType = "OPENED"
	EventAdjusted        EventType = "ADJUSTED"
	EventPartiallyClosed EventType = "PARTIALLY_CLOSED"
	EventClosing         EventType = "CLOSING"
	EventClosed          EventType = "CLOSED"
	EventFailed          EventType = "FAILED"
	EventCancelled       EventType = "CANCELLED"
	EventOrphaned        EventType = "ORPHANED"

	// Diagnostics: candidate trades that never became positions.
	EventRejected      EventType = "REJECTED"
	EventSignalDropped EventType = "SIGNAL_DROPPED"
)

// TradeEvent is the append-only record emitted on every lifecycle transition.
// Delivery to observers is at-least-once; consumers deduplicate on ID.
type TradeEvent struct {
	ID          string    `json:"id"`
	PositionID  string    `json:"position_id,omitempty"`
	Symbol      string    `json:"symbol"`
	Type        EventType `json:"type"`
	State       string    `json:"state,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Price       float64   `json:"price,omitempty"`
	Quantity    float64   `json:"quantity,omitempty"`
	RealizedPnL float64   `json:"realized_pnl,omitempty"`
	At          time.Time `json:"at"`
}

func newEvent(typ EventType, symbol string) TradeEvent {
	return TradeEvent{
		ID:     uuid.NewString(),
		Symbol: symbol,
		Type:   typ,
		At:     time.Now(),
	}
}

// Bus fans TradeEvents out to observers. Publishing never blocks: a slow
// subscriber loses events rather than stalling the engine.
type Bus struct {
	mu      sync.Mutex
	subs    []chan TradeEvent
	buffer  int
	dropped int
	closed  bool
}

func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{buffer: buffer}
}

func (b *Bus) Subscribe() <-chan TradeEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan TradeEvent, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) Publish(ev TradeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.dropped++
			if b.dropped%100 == 1 {
				logger.Warnf("event bus: slow subscriber, %d events dropped so far", b.dropped)
			}
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
