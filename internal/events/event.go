package events

import "sync"

const (
	TypeListingCreated    = "listing.created"
	TypeListingUpdated    = "listing.updated"
	TypeListingDeleted    = "listing.deleted"
	TypeItemPurchased     = "purchase.created"
	TypeDeliveryConfirmed = "purchase.confirmed"
	TypeTimeoutClaimed    = "purchase.timeout_claimed"
	TypeEarningsWithdrawn = "earnings.withdrawn"
	TypeFeesWithdrawn     = "fees.withdrawn"
	TypePaused            = "engine.paused"
	TypeUnpaused          = "engine.unpaused"
	TypeOwnerTransferred  = "engine.owner_transferred"
)

// Event is a structured state change emitted by the engine for indexers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Emitter broadcasts events to downstream subscribers.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter discards all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(Event) {}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events in emission order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns just the event types, handy for assertions.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Fanout forwards each event to every wrapped emitter.
type Fanout []Emitter

func (f Fanout) Emit(e Event) {
	for _, em := range f {
		if em != nil {
			em.Emit(e)
		}
	}
}
