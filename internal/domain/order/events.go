package order

import "time"

const EventCommitted = "order.committed"

// CommittedEvent is emitted after the order, its lines and its payment record
// have been durably written. The cart reconciler consumes it to clear the
// ordered lines from the owner's cart.
type CommittedEvent struct {
	OrderID    string
	Number     string
	UserID     string
	ProductIDs []string
	OccurredAt time.Time
}

func (CommittedEvent) EventName() string { return EventCommitted }

func NewCommittedEvent(o *Order) CommittedEvent {
	return CommittedEvent{
		OrderID:    o.ID,
		Number:     o.Number,
		UserID:     o.UserID,
		ProductIDs: o.ProductIDs(),
		OccurredAt: time.Now().UTC(),
	}
}
