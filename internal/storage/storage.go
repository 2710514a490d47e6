// Package storage defines the persistence boundary for circles and escrow.
package storage

import (
	"context"
	"time"

	"github.com/esusuhq/esusu/internal/circle"
	apperrors "github.com/esusuhq/esusu/internal/platform/errors"
)

// DefaultPageSize is the page size used when a list request does not set one.
const DefaultPageSize = 20

// ErrNotFound indicates a requested persistence record is missing.
// Callers use this to differentiate between legitimate "no such entity"
// states and transport or data corruption failures.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// CircleStore owns circle records and the monotonically increasing id counter.
type CircleStore interface {
	// NextCircleID allocates the next circle id. Ids increase monotonically
	// and saturate at the uint32 bound instead of wrapping.
	NextCircleID(ctx context.Context) (uint32, error)
	// PutCircle persists a circle record keyed by its id.
	PutCircle(ctx context.Context, c circle.Circle) error
	// GetCircle retrieves a circle by id. Returns ErrNotFound for unknown ids.
	GetCircle(ctx context.Context, id uint32) (circle.Circle, error)
	// ListCircles returns a page of circles ordered by id ascending,
	// starting after the page token.
	ListCircles(ctx context.Context, pageSize int, pageToken string) (CirclePage, error)
}

// CirclePage describes a page of circle records.
type CirclePage struct {
	Circles       []circle.Circle
	NextPageToken string
}

// LedgerState is the escrow ledger's administrator record. The timestamp is
// the liveness heartbeat gating emergency withdrawals.
type LedgerState struct {
	Admin        string
	LastActiveAt time.Time
}

// EscrowStore owns per-identity balances and the single ledger state record.
type EscrowStore interface {
	// PutLedgerState stores the administrator identity and heartbeat.
	PutLedgerState(ctx context.Context, state LedgerState) error
	// GetLedgerState retrieves the ledger state. Returns ErrNotFound when
	// the ledger has never been initialized.
	GetLedgerState(ctx context.Context) (LedgerState, error)
	// PutBalance stores the balance for an identity.
	PutBalance(ctx context.Context, identity string, balance int64) error
	// GetBalance returns the balance for an identity, zero when unknown.
	GetBalance(ctx context.Context, identity string) (int64, error)
	// DeleteBalance removes the balance record for an identity.
	DeleteBalance(ctx context.Context, identity string) error
}

// Event is an append-only notification emitted by circle operations.
type Event struct {
	Name        string
	CircleID    uint32
	CycleNumber uint32
	TotalVolume int64
	Timestamp   time.Time
}

// EventStore persists emitted events for audits. Delivery is best effort;
// the state machines never depend on it.
type EventStore interface {
	AppendEvent(ctx context.Context, evt Event) error
	// ListEvents returns events for a circle in append order.
	ListEvents(ctx context.Context, circleID uint32) ([]Event, error)
}

// Store is a composite interface for all persistence concerns.
type Store interface {
	CircleStore
	EscrowStore
	EventStore
	Close() error
}
