// Package sqlite provides a SQLite-backed storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/esusuhq/esusu/internal/circle"
	sqlitemigrate "github.com/esusuhq/esusu/internal/platform/storage/sqlitemigrate"
	"github.com/esusuhq/esusu/internal/storage"
	"github.com/esusuhq/esusu/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists circle and escrow state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// NextCircleID allocates the next circle id, saturating at the uint32 bound.
func (s *Store) NextCircleID(ctx context.Context) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("next circle id: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE circle_counter SET value = MIN(value + 1, 4294967295) WHERE id = 1`,
	); err != nil {
		return 0, fmt.Errorf("next circle id: %w", err)
	}

	var value int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM circle_counter WHERE id = 1`).Scan(&value); err != nil {
		return 0, fmt.Errorf("next circle id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("next circle id: %w", err)
	}
	return uint32(value), nil
}

// PutCircle inserts or replaces one circle record.
func (s *Store) PutCircle(ctx context.Context, c circle.Circle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	members, err := json.Marshal(c.Members)
	if err != nil {
		return fmt.Errorf("encode members: %w", err)
	}
	queue := c.PayoutQueue
	if queue == nil {
		queue = []string{}
	}
	payoutQueue, err := json.Marshal(queue)
	if err != nil {
		return fmt.Errorf("encode payout queue: %w", err)
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO circles (
		   id,
		   admin,
		   contribution,
		   random_queue,
		   members,
		   payout_queue,
		   cycle_number,
		   current_payout_index,
		   total_volume_distributed,
		   created_at,
		   updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   admin = excluded.admin,
		   contribution = excluded.contribution,
		   random_queue = excluded.random_queue,
		   members = excluded.members,
		   payout_queue = excluded.payout_queue,
		   cycle_number = excluded.cycle_number,
		   current_payout_index = excluded.current_payout_index,
		   total_volume_distributed = excluded.total_volume_distributed,
		   updated_at = excluded.updated_at`,
		int64(c.ID),
		c.Admin,
		c.Contribution,
		boolToInt(c.RandomQueue),
		string(members),
		string(payoutQueue),
		int64(c.CycleNumber),
		int64(c.CurrentPayoutIndex),
		c.TotalVolumeDistributed,
		toMillis(c.CreatedAt),
		toMillis(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put circle: %w", err)
	}
	return nil
}

// GetCircle returns one circle by id.
func (s *Store) GetCircle(ctx context.Context, id uint32) (circle.Circle, error) {
	if err := ctx.Err(); err != nil {
		return circle.Circle{}, err
	}
	if s == nil || s.sqlDB == nil {
		return circle.Circle{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, admin, contribution, random_queue,
		        members, payout_queue,
		        cycle_number, current_payout_index, total_volume_distributed,
		        created_at, updated_at
		   FROM circles
		  WHERE id = ?`,
		int64(id),
	)
	c, err := scanCircle(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return circle.Circle{}, storage.ErrNotFound
		}
		return circle.Circle{}, fmt.Errorf("get circle: %w", err)
	}
	return c, nil
}

// ListCircles returns one page of circles ordered by id ascending.
func (s *Store) ListCircles(ctx context.Context, pageSize int, pageToken string) (storage.CirclePage, error) {
	if err := ctx.Err(); err != nil {
		return storage.CirclePage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.CirclePage{}, fmt.Errorf("storage is not configured")
	}
	if pageSize <= 0 {
		pageSize = storage.DefaultPageSize
	}
	pageToken = strings.TrimSpace(pageToken)
	afterID := int64(0)
	if pageToken != "" {
		parsed, err := strconv.ParseUint(pageToken, 10, 32)
		if err != nil {
			return storage.CirclePage{}, storage.ErrNotFound
		}
		afterID = int64(parsed)
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, admin, contribution, random_queue,
		        members, payout_queue,
		        cycle_number, current_payout_index, total_volume_distributed,
		        created_at, updated_at
		   FROM circles
		  WHERE id > ?
		  ORDER BY id ASC
		  LIMIT ?`,
		afterID,
		pageSize+1,
	)
	if err != nil {
		return storage.CirclePage{}, fmt.Errorf("list circles: %w", err)
	}
	defer rows.Close()

	page := storage.CirclePage{
		Circles: make([]circle.Circle, 0, pageSize),
	}
	for rows.Next() {
		c, err := scanCircle(rows)
		if err != nil {
			return storage.CirclePage{}, fmt.Errorf("list circles: %w", err)
		}
		page.Circles = append(page.Circles, c)
	}
	if err := rows.Err(); err != nil {
		return storage.CirclePage{}, fmt.Errorf("list circles: %w", err)
	}
	if len(page.Circles) > pageSize {
		page.NextPageToken = strconv.FormatUint(uint64(page.Circles[pageSize-1].ID), 10)
		page.Circles = page.Circles[:pageSize]
	}
	return page, nil
}

// PutLedgerState inserts or replaces the escrow ledger state.
func (s *Store) PutLedgerState(ctx context.Context, state storage.LedgerState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO escrow_ledger (id, admin, last_active_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   admin = excluded.admin,
		   last_active_at = excluded.last_active_at`,
		state.Admin,
		toMillis(state.LastActiveAt),
	)
	if err != nil {
		return fmt.Errorf("put ledger state: %w", err)
	}
	return nil
}

// GetLedgerState returns the escrow ledger state.
func (s *Store) GetLedgerState(ctx context.Context) (storage.LedgerState, error) {
	if err := ctx.Err(); err != nil {
		return storage.LedgerState{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.LedgerState{}, fmt.Errorf("storage is not configured")
	}

	var state storage.LedgerState
	var lastActiveAt int64
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT admin, last_active_at FROM escrow_ledger WHERE id = 1`,
	).Scan(&state.Admin, &lastActiveAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.LedgerState{}, storage.ErrNotFound
		}
		return storage.LedgerState{}, fmt.Errorf("get ledger state: %w", err)
	}
	state.LastActiveAt = fromMillis(lastActiveAt)
	return state, nil
}

// PutBalance inserts or replaces the balance for an identity.
func (s *Store) PutBalance(ctx context.Context, identity string, balance int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("identity is required")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO escrow_balances (identity, balance) VALUES (?, ?)
		 ON CONFLICT (identity) DO UPDATE SET balance = excluded.balance`,
		identity,
		balance,
	)
	if err != nil {
		return fmt.Errorf("put balance: %w", err)
	}
	return nil
}

// GetBalance returns the balance for an identity, zero when unknown.
func (s *Store) GetBalance(ctx context.Context, identity string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	var balance int64
	err := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT balance FROM escrow_balances WHERE identity = ?`,
		strings.TrimSpace(identity),
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// DeleteBalance removes the balance record for an identity.
func (s *Store) DeleteBalance(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`DELETE FROM escrow_balances WHERE identity = ?`,
		strings.TrimSpace(identity),
	)
	if err != nil {
		return fmt.Errorf("delete balance: %w", err)
	}
	return nil
}

// AppendEvent inserts one event record.
func (s *Store) AppendEvent(ctx context.Context, evt storage.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	name := strings.TrimSpace(evt.Name)
	if name == "" {
		return fmt.Errorf("event name is required")
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO events (name, circle_id, cycle_number, total_volume, occurred_at)
		 VALUES (?, ?, ?, ?, ?)`,
		name,
		int64(evt.CircleID),
		int64(evt.CycleNumber),
		evt.TotalVolume,
		toMillis(evt.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns events for a circle in append order.
func (s *Store) ListEvents(ctx context.Context, circleID uint32) ([]storage.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT name, circle_id, cycle_number, total_volume, occurred_at
		   FROM events
		  WHERE circle_id = ?
		  ORDER BY id ASC`,
		int64(circleID),
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []storage.Event
	for rows.Next() {
		var evt storage.Event
		var id int64
		var cycle int64
		var occurredAt int64
		if err := rows.Scan(&evt.Name, &id, &cycle, &evt.TotalVolume, &occurredAt); err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		evt.CircleID = uint32(id)
		evt.CycleNumber = uint32(cycle)
		evt.Timestamp = fromMillis(occurredAt)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCircle(row rowScanner) (circle.Circle, error) {
	var c circle.Circle
	var id int64
	var randomQueue int64
	var members string
	var payoutQueue string
	var cycleNumber int64
	var payoutIndex int64
	var createdAt int64
	var updatedAt int64
	if err := row.Scan(
		&id,
		&c.Admin,
		&c.Contribution,
		&randomQueue,
		&members,
		&payoutQueue,
		&cycleNumber,
		&payoutIndex,
		&c.TotalVolumeDistributed,
		&createdAt,
		&updatedAt,
	); err != nil {
		return circle.Circle{}, err
	}
	c.ID = uint32(id)
	c.RandomQueue = randomQueue != 0
	c.CycleNumber = uint32(cycleNumber)
	c.CurrentPayoutIndex = uint32(payoutIndex)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	if err := json.Unmarshal([]byte(members), &c.Members); err != nil {
		return circle.Circle{}, fmt.Errorf("decode members: %w", err)
	}
	if err := json.Unmarshal([]byte(payoutQueue), &c.PayoutQueue); err != nil {
		return circle.Circle{}, fmt.Errorf("decode payout queue: %w", err)
	}
	return c, nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

var _ storage.Store = (*Store)(nil)
