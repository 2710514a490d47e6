package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/esusuhq/esusu/internal/circle"
	"github.com/esusuhq/esusu/internal/storage"
)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestNextCircleIDMonotonic(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	first, err := store.NextCircleID(ctx)
	if err != nil {
		t.Fatalf("next circle id: %v", err)
	}
	second, err := store.NextCircleID(ctx)
	if err != nil {
		t.Fatalf("next circle id: %v", err)
	}
	if first != 1 || second != 2 {
		t.Fatalf("ids = %d, %d, want 1, 2", first, second)
	}
}

func TestPutGetCircleRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)

	c, err := circle.New("alice", 100, true, now)
	if err != nil {
		t.Fatalf("new circle: %v", err)
	}
	c.ID = 7
	for _, identity := range []string{"bob", "carol"} {
		if err := c.Join(identity, now); err != nil {
			t.Fatalf("join %s: %v", identity, err)
		}
	}
	perm := func(n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = n - 1 - i
		}
		return out
	}
	if _, err := c.Finalize(perm, now); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if err := store.PutCircle(ctx, c); err != nil {
		t.Fatalf("put circle: %v", err)
	}

	got, err := store.GetCircle(ctx, 7)
	if err != nil {
		t.Fatalf("get circle: %v", err)
	}
	if got.Admin != "alice" {
		t.Fatalf("admin = %q, want %q", got.Admin, "alice")
	}
	if got.Contribution != 100 {
		t.Fatalf("contribution = %d, want 100", got.Contribution)
	}
	if !got.RandomQueue {
		t.Fatal("expected random queue flag")
	}
	if len(got.Members) != 3 {
		t.Fatalf("members = %d, want 3", len(got.Members))
	}
	if len(got.PayoutQueue) != 3 {
		t.Fatalf("payout queue = %d, want 3", len(got.PayoutQueue))
	}
	if got.PayoutQueue[0] != "carol" {
		t.Fatalf("queue head = %q, want %q", got.PayoutQueue[0], "carol")
	}
	if !got.CreatedAt.Equal(now) || !got.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps = %v / %v, want %v", got.CreatedAt, got.UpdatedAt, now)
	}
}

func TestPutCircleUpsertsExisting(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)

	c, err := circle.New("alice", 50, false, now)
	if err != nil {
		t.Fatalf("new circle: %v", err)
	}
	c.ID = 1
	if err := store.PutCircle(ctx, c); err != nil {
		t.Fatalf("put circle: %v", err)
	}

	if err := c.Join("bob", now.Add(time.Hour)); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := store.PutCircle(ctx, c); err != nil {
		t.Fatalf("put updated circle: %v", err)
	}

	got, err := store.GetCircle(ctx, 1)
	if err != nil {
		t.Fatalf("get circle: %v", err)
	}
	if len(got.Members) != 2 {
		t.Fatalf("members = %d, want 2", len(got.Members))
	}
	if !got.UpdatedAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("updated_at = %v, want %v", got.UpdatedAt, now.Add(time.Hour))
	}
}

func TestGetCircleNotFound(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if _, err := store.GetCircle(context.Background(), 99); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestListCirclesPaging(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 14, 11, 0, 0, 0, time.UTC)

	for i := uint32(1); i <= 5; i++ {
		c, err := circle.New("admin", 10, false, now)
		if err != nil {
			t.Fatalf("new circle: %v", err)
		}
		c.ID = i
		if err := store.PutCircle(ctx, c); err != nil {
			t.Fatalf("put circle %d: %v", i, err)
		}
	}

	page, err := store.ListCircles(ctx, 2, "")
	if err != nil {
		t.Fatalf("list circles: %v", err)
	}
	if len(page.Circles) != 2 || page.Circles[0].ID != 1 {
		t.Fatalf("unexpected first page: %+v", page)
	}
	if page.NextPageToken == "" {
		t.Fatal("expected next page token")
	}

	page, err = store.ListCircles(ctx, 2, page.NextPageToken)
	if err != nil {
		t.Fatalf("list circles: %v", err)
	}
	if len(page.Circles) != 2 || page.Circles[0].ID != 3 {
		t.Fatalf("unexpected second page: %+v", page)
	}

	page, err = store.ListCircles(ctx, 2, page.NextPageToken)
	if err != nil {
		t.Fatalf("list circles: %v", err)
	}
	if len(page.Circles) != 1 || page.Circles[0].ID != 5 {
		t.Fatalf("unexpected final page: %+v", page)
	}
	if page.NextPageToken != "" {
		t.Fatalf("token = %q, want empty on final page", page.NextPageToken)
	}
}

func TestLedgerStateRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	if _, err := store.GetLedgerState(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("error before init = %v, want %v", err, storage.ErrNotFound)
	}

	now := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)
	if err := store.PutLedgerState(ctx, storage.LedgerState{Admin: "alice", LastActiveAt: now}); err != nil {
		t.Fatalf("put ledger state: %v", err)
	}

	got, err := store.GetLedgerState(ctx)
	if err != nil {
		t.Fatalf("get ledger state: %v", err)
	}
	if got.Admin != "alice" || !got.LastActiveAt.Equal(now) {
		t.Fatalf("unexpected ledger state: %+v", got)
	}

	later := now.Add(48 * time.Hour)
	if err := store.PutLedgerState(ctx, storage.LedgerState{Admin: "alice", LastActiveAt: later}); err != nil {
		t.Fatalf("put updated ledger state: %v", err)
	}
	got, err = store.GetLedgerState(ctx)
	if err != nil {
		t.Fatalf("get ledger state: %v", err)
	}
	if !got.LastActiveAt.Equal(later) {
		t.Fatalf("last_active_at = %v, want %v", got.LastActiveAt, later)
	}
}

func TestBalanceLifecycle(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()

	balance, err := store.GetBalance(ctx, "bob")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0 for unknown identity", balance)
	}

	if err := store.PutBalance(ctx, "bob", 300); err != nil {
		t.Fatalf("put balance: %v", err)
	}
	if err := store.PutBalance(ctx, "bob", 450); err != nil {
		t.Fatalf("put updated balance: %v", err)
	}
	balance, err = store.GetBalance(ctx, "bob")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 450 {
		t.Fatalf("balance = %d, want 450", balance)
	}

	if err := store.DeleteBalance(ctx, "bob"); err != nil {
		t.Fatalf("delete balance: %v", err)
	}
	balance, err = store.GetBalance(ctx, "bob")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("balance = %d, want 0 after delete", balance)
	}
}

func TestEventsAppendOrder(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 14, 13, 0, 0, 0, time.UTC)

	for _, evt := range []storage.Event{
		{Name: "circle.cycle_completed", CircleID: 3, CycleNumber: 1, TotalVolume: 40, Timestamp: now},
		{Name: "circle.rolled_over", CircleID: 3, CycleNumber: 2, Timestamp: now.Add(time.Minute)},
		{Name: "circle.cycle_completed", CircleID: 8, CycleNumber: 1, TotalVolume: 90, Timestamp: now},
	} {
		if err := store.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	events, err := store.ListEvents(ctx, 3)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Name != "circle.cycle_completed" || events[0].TotalVolume != 40 {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Name != "circle.rolled_over" || events[1].CycleNumber != 2 {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "esusu.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}
