package order

import (
	"errors"
	"time"
)

var (
	ErrNotFound               = errors.New("order: not found")
	ErrConflict               = errors.New("order: already exists")
	ErrNoLines                = errors.New("order: at least one line is required")
	ErrInvalidQuantity        = errors.New("order: quantity must be greater than zero")
	ErrInvalidStateTransition = errors.New("order: invalid state transition")
	ErrTotalsMismatch         = errors.New("order: totals do not add up")
)

type Status string

const (
	StatusValidating        Status = "validating"
	StatusStockReserved     Status = "stock_reserved"
	StatusPriced            Status = "priced"
	StatusPaymentAuthorized Status = "payment_authorized"
	StatusCommitted         Status = "committed"
	StatusRejected          Status = "rejected"
	StatusFailedRolledBack  Status = "failed_rolled_back"
)

// transitions is the full lifecycle graph. Committed, Rejected and
// FailedRolledBack are terminal.
var transitions = map[Status][]Status{
	StatusValidating:        {StatusStockReserved, StatusRejected},
	StatusStockReserved:     {StatusPriced, StatusFailedRolledBack},
	StatusPriced:            {StatusPaymentAuthorized, StatusFailedRolledBack},
	StatusPaymentAuthorized: {StatusCommitted, StatusFailedRolledBack},
}

// Line is an immutable snapshot of one ordered product: the unit price is the
// catalog price at reservation time and is never recomputed afterwards.
type Line struct {
	ProductID string
	Quantity  int
	UnitPrice int64
	Total     int64
}

type PaymentStatus string

const (
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// PaymentRecord ties the order to an external gateway authorization.
// At most one authorized record exists per order; retries may add failed ones.
type PaymentRecord struct {
	ID           string
	Amount       int64
	Currency     string
	GatewayRef   string
	ClientSecret string
	Status       PaymentStatus
	CreatedAt    time.Time
}

// Order is the durable checkout result. Totals are minor-unit amounts,
// computed once by the pricing calculator and frozen at commit.
type Order struct {
	ID                string
	Number            string
	UserID            string
	ShippingAddressID string
	ShippingMethod    string
	IdempotencyKey    string

	Subtotal int64
	Tax      int64
	Shipping int64
	Total    int64

	Status   Status
	Lines    []Line
	Payments []PaymentRecord

	CreatedAt time.Time
	UpdatedAt time.Time
}

// New builds an order in the validating state from already-snapshotted lines.
func New(id, number, userID, shippingAddressID, shippingMethod, idempotencyKey string, lines []Line) (*Order, error) {
	if len(lines) == 0 {
		return nil, ErrNoLines
	}
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
	}

	now := time.Now().UTC()
	return &Order{
		ID:                id,
		Number:            number,
		UserID:            userID,
		ShippingAddressID: shippingAddressID,
		ShippingMethod:    shippingMethod,
		IdempotencyKey:    idempotencyKey,
		Status:            StatusValidating,
		Lines:             append([]Line(nil), lines...),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (o *Order) transitionTo(next Status) error {
	for _, allowed := range transitions[o.Status] {
		if allowed == next {
			o.Status = next
			o.touch()
			return nil
		}
	}
	return ErrInvalidStateTransition
}

// MarkStockReserved records that every line has been reserved as a set.
func (o *Order) MarkStockReserved() error {
	return o.transitionTo(StatusStockReserved)
}

// SetTotals applies the pricing calculator's output. The subtotal must equal
// the sum of line totals and the total must equal subtotal + tax + shipping.
func (o *Order) SetTotals(subtotal, tax, shipping, total int64) error {
	var lineSum int64
	for _, l := range o.Lines {
		lineSum += l.Total
	}
	if subtotal != lineSum || total != subtotal+tax+shipping {
		return ErrTotalsMismatch
	}
	if err := o.transitionTo(StatusPriced); err != nil {
		return err
	}
	o.Subtotal, o.Tax, o.Shipping, o.Total = subtotal, tax, shipping, total
	return nil
}

// AttachAuthorization records a successful gateway authorization.
func (o *Order) AttachAuthorization(rec PaymentRecord) error {
	if err := o.transitionTo(StatusPaymentAuthorized); err != nil {
		return err
	}
	rec.Status = PaymentStatusAuthorized
	o.Payments = append(o.Payments, rec)
	return nil
}

// Commit marks the order durable-ready; only the assembler calls this,
// immediately before the single atomic write.
func (o *Order) Commit() error {
	return o.transitionTo(StatusCommitted)
}

// Reject terminates a checkout that never produced side effects.
func (o *Order) Reject() error {
	return o.transitionTo(StatusRejected)
}

// RollBack terminates a checkout whose reservations have been released.
func (o *Order) RollBack() error {
	return o.transitionTo(StatusFailedRolledBack)
}

// ProductIDs lists the ordered products, in line order.
func (o *Order) ProductIDs() []string {
	ids := make([]string, len(o.Lines))
	for i, l := range o.Lines {
		ids[i] = l.ProductID
	}
	return ids
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Lines = append([]Line(nil), o.Lines...)
	clone.Payments = append([]PaymentRecord(nil), o.Payments...)
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
