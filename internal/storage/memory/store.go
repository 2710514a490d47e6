// Package memory provides an in-memory store for tests and single-process use.
package memory

import (
	"context"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/esusuhq/esusu/internal/circle"
	"github.com/esusuhq/esusu/internal/storage"
)

// Store keeps all records in process memory guarded by one mutex.
type Store struct {
	mu        sync.Mutex
	circles   map[uint32]circle.Circle
	counter   uint32
	ledger    storage.LedgerState
	ledgerSet bool
	balances  map[string]int64
	events    []storage.Event
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		circles:  map[uint32]circle.Circle{},
		balances: map[string]int64{},
	}
}

// NextCircleID allocates the next circle id, saturating at the uint32 bound.
func (s *Store) NextCircleID(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counter < math.MaxUint32 {
		s.counter++
	}
	return s.counter, nil
}

// PutCircle persists a deep copy of the circle record.
func (s *Store) PutCircle(ctx context.Context, c circle.Circle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.circles[c.ID] = cloneCircle(c)
	return nil
}

// GetCircle retrieves a deep copy of a circle by id.
func (s *Store) GetCircle(ctx context.Context, id uint32) (circle.Circle, error) {
	if err := ctx.Err(); err != nil {
		return circle.Circle{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.circles[id]
	if !ok {
		return circle.Circle{}, storage.ErrNotFound
	}
	return cloneCircle(c), nil
}

// ListCircles returns a page of circles ordered by id ascending.
func (s *Store) ListCircles(ctx context.Context, pageSize int, pageToken string) (storage.CirclePage, error) {
	if err := ctx.Err(); err != nil {
		return storage.CirclePage{}, err
	}
	if pageSize <= 0 {
		pageSize = storage.DefaultPageSize
	}
	afterID := uint64(0)
	if pageToken != "" {
		parsed, err := strconv.ParseUint(pageToken, 10, 32)
		if err != nil {
			return storage.CirclePage{}, storage.ErrNotFound
		}
		afterID = parsed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint32, 0, len(s.circles))
	for id := range s.circles {
		if uint64(id) > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	page := storage.CirclePage{}
	for _, id := range ids {
		if len(page.Circles) == pageSize {
			page.NextPageToken = strconv.FormatUint(uint64(page.Circles[len(page.Circles)-1].ID), 10)
			break
		}
		page.Circles = append(page.Circles, cloneCircle(s.circles[id]))
	}
	return page, nil
}

// PutLedgerState stores the escrow ledger state.
func (s *Store) PutLedgerState(ctx context.Context, state storage.LedgerState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger = state
	s.ledgerSet = true
	return nil
}

// GetLedgerState retrieves the escrow ledger state.
func (s *Store) GetLedgerState(ctx context.Context) (storage.LedgerState, error) {
	if err := ctx.Err(); err != nil {
		return storage.LedgerState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ledgerSet {
		return storage.LedgerState{}, storage.ErrNotFound
	}
	return s.ledger, nil
}

// PutBalance stores the balance for an identity.
func (s *Store) PutBalance(ctx context.Context, identity string, balance int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[identity] = balance
	return nil
}

// GetBalance returns the balance for an identity, zero when unknown.
func (s *Store) GetBalance(ctx context.Context, identity string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[identity], nil
}

// DeleteBalance removes the balance record for an identity.
func (s *Store) DeleteBalance(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.balances, identity)
	return nil
}

// AppendEvent records an emitted event.
func (s *Store) AppendEvent(ctx context.Context, evt storage.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

// ListEvents returns events for a circle in append order.
func (s *Store) ListEvents(ctx context.Context, circleID uint32) ([]storage.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []storage.Event
	for _, evt := range s.events {
		if evt.CircleID == circleID {
			events = append(events, evt)
		}
	}
	return events, nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return nil
}

var _ storage.Store = (*Store)(nil)

func cloneCircle(c circle.Circle) circle.Circle {
	cloned := c
	cloned.Members = append([]circle.Member(nil), c.Members...)
	cloned.PayoutQueue = append([]string(nil), c.PayoutQueue...)
	return cloned
}
