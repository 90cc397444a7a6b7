package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/hamzaMissewi/storefront-checkout/internal/domain/order"
)

var ErrNotFound = errors.New("recovery: record not found")

// Record is the durable trace of a checkout whose payment was authorized but
// whose order could not be written. It carries everything a reconciliation
// pass needs to either complete the order or refund the authorization; it is
// keyed by the payment idempotency key so a reconciler can correlate it with
// the gateway's side.
type Record struct {
	IdempotencyKey string       `json:"idempotencyKey"`
	OrderID        string       `json:"orderId"`
	OrderNumber    string       `json:"orderNumber"`
	UserID         string       `json:"userId"`
	Amount         int64        `json:"amount"`
	Currency       string       `json:"currency"`
	GatewayRef     string       `json:"gatewayRef"`
	Lines          []order.Line `json:"lines"`
	RecordedAt     time.Time    `json:"recordedAt"`
	Resolved       bool         `json:"resolved"`
	ResolvedAt     time.Time    `json:"resolvedAt,omitempty"`
}

// Journal persists recovery records. Append must be durable before it
// returns: it is the last line of defence against dropping a charged order.
type Journal interface {
	Append(ctx context.Context, rec Record) error
	Pending(ctx context.Context) ([]Record, error)
	Resolve(ctx context.Context, idempotencyKey string) error
	Close() error
}

// PebbleJournal stores records in an embedded pebble database, one key per
// idempotency key, fsynced on every append.
type PebbleJournal struct {
	db *pebble.DB
}

func OpenPebble(dir string) (*PebbleJournal, error) {
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("recovery: open journal: %w", err)
	}
	return &PebbleJournal{db: db}, nil
}

func (j *PebbleJournal) Append(ctx context.Context, rec Record) error {
	_ = ctx
	if rec.IdempotencyKey == "" {
		return fmt.Errorf("recovery: idempotency key is required")
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("recovery: encode record: %w", err)
	}
	if err := j.db.Set([]byte(rec.IdempotencyKey), b, pebble.Sync); err != nil {
		return fmt.Errorf("recovery: write record: %w", err)
	}
	return nil
}

func (j *PebbleJournal) Pending(ctx context.Context) ([]Record, error) {
	_ = ctx

	iter, err := j.db.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf("recovery: iterate journal: %w", err)
	}
	defer func() { _ = iter.Close() }()

	var out []Record
	for iter.First(); iter.Valid(); iter.Next() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("recovery: decode record %q: %w", iter.Key(), err)
		}
		if !rec.Resolved {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (j *PebbleJournal) Resolve(ctx context.Context, idempotencyKey string) error {
	_ = ctx

	v, closer, err := j.db.Get([]byte(idempotencyKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("recovery: read record: %w", err)
	}

	var rec Record
	decodeErr := json.Unmarshal(v, &rec)
	_ = closer.Close()
	if decodeErr != nil {
		return fmt.Errorf("recovery: decode record: %w", decodeErr)
	}

	rec.Resolved = true
	rec.ResolvedAt = time.Now().UTC()
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("recovery: encode record: %w", err)
	}
	if err := j.db.Set([]byte(idempotencyKey), b, pebble.Sync); err != nil {
		return fmt.Errorf("recovery: update record: %w", err)
	}
	return nil
}

func (j *PebbleJournal) Close() error { return j.db.Close() }

// MemoryJournal backs tests and setups without a data directory.
type MemoryJournal struct {
	mu   sync.Mutex
	recs map[string]Record
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{recs: make(map[string]Record)}
}

func (j *MemoryJournal) Append(ctx context.Context, rec Record) error {
	_ = ctx
	if rec.IdempotencyKey == "" {
		return fmt.Errorf("recovery: idempotency key is required")
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.recs[rec.IdempotencyKey] = rec
	return nil
}

func (j *MemoryJournal) Pending(ctx context.Context) ([]Record, error) {
	_ = ctx

	j.mu.Lock()
	defer j.mu.Unlock()

	var out []Record
	for _, rec := range j.recs {
		if !rec.Resolved {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (j *MemoryJournal) Resolve(ctx context.Context, idempotencyKey string) error {
	_ = ctx

	j.mu.Lock()
	defer j.mu.Unlock()

	rec, ok := j.recs[idempotencyKey]
	if !ok {
		return ErrNotFound
	}
	rec.Resolved = true
	rec.ResolvedAt = time.Now().UTC()
	j.recs[idempotencyKey] = rec
	return nil
}

func (j *MemoryJournal) Close() error { return nil }
