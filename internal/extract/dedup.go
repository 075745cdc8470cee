package extract

import "context"

// DedupGate admits an event only if (tenant, event) has not been stored
// and has not already been admitted during this run. A gate belongs to a
// single tenant run and is not safe for concurrent use.
type DedupGate struct {
	events EventStore
	seen   map[string]struct{}
}

// NewDedupGate returns a gate with an empty run-local memory.
func NewDedupGate(events EventStore) *DedupGate {
	return &DedupGate{events: events, seen: make(map[string]struct{})}
}

// Accept reports whether the event is new and safe to insert.
func (g *DedupGate) Accept(ctx context.Context, tenantID, eventID string) (bool, error) {
	key := tenantID + "\x00" + eventID
	if _, dup := g.seen[key]; dup {
		return false, nil
	}
	exists, err := g.events.EventExists(ctx, tenantID, eventID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	g.seen[key] = struct{}{}
	return true, nil
}
