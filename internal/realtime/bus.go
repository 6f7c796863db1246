// internal/realtime/bus.go
// Push/subscribe primitive over inserted rows. One subscription per
// (table, filter) pair; events are delivered in arrival order and the
// subscription must be cancelled when the view that owns it goes away.

package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// Event reports a row inserted into one of the watched tables
type Event struct {
	Table   string          `json:"table"`
	RowID   string          `json:"row_id"`
	Payload json.RawMessage `json:"payload"`
}

// Filter is a conjunction of column equality predicates applied to the
// inserted row before delivery
type Filter map[string]string

// Matches reports whether the event payload satisfies every predicate.
// Payload fields are compared as their JSON string form; a payload that
// cannot be decoded matches nothing.
func (f Filter) Matches(e Event) bool {
	if len(f) == 0 {
		return true
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(e.Payload, &fields); err != nil {
		return false
	}

	for column, want := range f {
		value, ok := fields[column]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", value) != want {
			return false
		}
	}
	return true
}

// Subscription is a live event stream for one (table, filter) pair
type Subscription interface {
	// Events is closed after Close returns or the bus shuts down
	Events() <-chan Event
	// ID identifies the subscription in logs
	ID() string
	// Close tears the subscription down; safe to call more than once
	Close() error
}

// Bus delivers inserted-row events to subscribers and accepts them from
// writers. The durable-store adapter publishes after each successful insert.
type Bus interface {
	Subscribe(ctx context.Context, table string, filter Filter) (Subscription, error)
	Publish(ctx context.Context, table, rowID string, payload interface{}) error
}
