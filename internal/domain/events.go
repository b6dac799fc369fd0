package domain

import "time"

// EventType enumerates the engine events surfaced to external observers.
// Events carry opaque ciphertext handles, never amounts: no plaintext stake
// or position is emitted before resolution.
type EventType string

const (
	EventMarketCreated       EventType = "market_created"
	EventBetPlaced           EventType = "bet_placed"
	EventMarketLocked        EventType = "market_locked"
	EventResolutionRequested EventType = "resolution_requested"
	EventTotalsRevealed      EventType = "totals_revealed"
	EventOutcomeSet          EventType = "outcome_set"
	EventWinningsClaimed     EventType = "winnings_claimed"
)

// Event is a single engine event. Handles holds the ciphertext handles the
// event refers to (hex form); for resolution_requested these are exactly the
// two pool handles the threshold service must open.
type Event struct {
	ID       string            `json:"id"`
	Type     EventType         `json:"type"`
	MarketID uint64            `json:"market_id"`
	Actor    string            `json:"actor,omitempty"`
	Handles  []string          `json:"handles,omitempty"`
	Detail   map[string]string `json:"detail,omitempty"`
	At       time.Time         `json:"at"`
}

// Channel returns the signal-bus channel this event is published on.
func (e Event) Channel() string {
	return "ch:market:" + string(e.Type)
}

// EventStream is the durable stream every event is appended to.
const EventStream = "stream:market-events"
