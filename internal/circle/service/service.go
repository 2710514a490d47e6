// Package service coordinates circle operations across storage, authorization,
// and lifecycle telemetry.
package service

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/esusuhq/esusu/internal/auth"
	"github.com/esusuhq/esusu/internal/circle"
	apperrors "github.com/esusuhq/esusu/internal/platform/errors"
	"github.com/esusuhq/esusu/internal/platform/pagination"
	"github.com/esusuhq/esusu/internal/random"
	"github.com/esusuhq/esusu/internal/storage"
	"github.com/esusuhq/esusu/internal/telemetry"
)

const (
	defaultListCirclesPageSize = 10
	maxListCirclesPageSize     = 50
)

// Service exposes circle lifecycle operations. Mutations are serialized so a
// read-modify-write on one circle cannot interleave with another.
type Service struct {
	store    storage.CircleStore
	verifier auth.Verifier
	shuffler *random.Shuffler
	emitter  *telemetry.Emitter
	clock    func() time.Time

	mu sync.Mutex
}

// NewService creates a circle service.
func NewService(store storage.CircleStore, verifier auth.Verifier, shuffler *random.Shuffler, emitter *telemetry.Emitter) *Service {
	return &Service{
		store:    store,
		verifier: verifier,
		shuffler: shuffler,
		emitter:  emitter,
		clock:    time.Now,
	}
}

// WithClock overrides the service clock.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if s != nil && clock != nil {
		s.clock = clock
	}
	return s
}

func (s *Service) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Service) authorize(ctx context.Context, identity string) error {
	if s.verifier == nil {
		return apperrors.New(apperrors.CodeUnauthorized, "authorization is not configured")
	}
	return s.verifier.Verify(ctx, identity)
}

// CreateCircle allocates a new circle administered by admin.
func (s *Service) CreateCircle(ctx context.Context, admin string, contribution int64, randomQueue bool) (circle.Circle, error) {
	if s == nil || s.store == nil {
		return circle.Circle{}, apperrors.New(apperrors.CodeUnknown, "circle store is not configured")
	}
	if err := s.authorize(ctx, admin); err != nil {
		return circle.Circle{}, err
	}

	c, err := circle.New(admin, contribution, randomQueue, s.now())
	if err != nil {
		return circle.Circle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.store.NextCircleID(ctx)
	if err != nil {
		return circle.Circle{}, apperrors.Wrap(apperrors.CodeUnknown, "allocate circle id", err)
	}
	c.ID = id
	if err := s.store.PutCircle(ctx, c); err != nil {
		return circle.Circle{}, apperrors.Wrap(apperrors.CodeUnknown, "store circle", err)
	}
	return c, nil
}

// JoinCircle adds identity to the circle membership.
func (s *Service) JoinCircle(ctx context.Context, circleID uint32, identity string) (circle.Circle, error) {
	if s == nil || s.store == nil {
		return circle.Circle{}, apperrors.New(apperrors.CodeUnknown, "circle store is not configured")
	}
	if err := s.authorize(ctx, identity); err != nil {
		return circle.Circle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getCircle(ctx, circleID)
	if err != nil {
		return circle.Circle{}, err
	}
	if err := c.Join(identity, s.now()); err != nil {
		return circle.Circle{}, err
	}
	if err := s.store.PutCircle(ctx, c); err != nil {
		return circle.Circle{}, apperrors.Wrap(apperrors.CodeUnknown, "store circle", err)
	}
	return c, nil
}

// FinalizeCircle commits the payout queue. Calling it again after the queue is
// committed is a no-op; the returned flag reports whether this call committed.
func (s *Service) FinalizeCircle(ctx context.Context, circleID uint32, caller string) (circle.Circle, bool, error) {
	if s == nil || s.store == nil {
		return circle.Circle{}, false, apperrors.New(apperrors.CodeUnknown, "circle store is not configured")
	}
	if err := s.authorize(ctx, caller); err != nil {
		return circle.Circle{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getCircle(ctx, circleID)
	if err != nil {
		return circle.Circle{}, false, err
	}
	if err := s.requireAdmin(c, caller); err != nil {
		return circle.Circle{}, false, err
	}

	changed, err := c.Finalize(s.perm(), s.now())
	if err != nil {
		return circle.Circle{}, false, err
	}
	if !changed {
		return c, false, nil
	}
	if err := s.store.PutCircle(ctx, c); err != nil {
		return circle.Circle{}, false, apperrors.Wrap(apperrors.CodeUnknown, "store circle", err)
	}
	return c, true, nil
}

// ProcessPayout records a payout to recipient for the current cycle. The
// returned flag reports whether this payout completed the cycle.
func (s *Service) ProcessPayout(ctx context.Context, circleID uint32, caller, recipient string) (circle.Circle, bool, error) {
	if s == nil || s.store == nil {
		return circle.Circle{}, false, apperrors.New(apperrors.CodeUnknown, "circle store is not configured")
	}
	if err := s.authorize(ctx, caller); err != nil {
		return circle.Circle{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getCircle(ctx, circleID)
	if err != nil {
		return circle.Circle{}, false, err
	}
	if err := s.requireAdmin(c, caller); err != nil {
		return circle.Circle{}, false, err
	}

	cycleComplete, err := c.RecordPayout(recipient, s.now())
	if err != nil {
		return circle.Circle{}, false, err
	}
	if err := s.store.PutCircle(ctx, c); err != nil {
		return circle.Circle{}, false, apperrors.Wrap(apperrors.CodeUnknown, "store circle", err)
	}

	if cycleComplete {
		err := s.emitter.CycleCompleted(ctx, telemetry.CircleInfo{
			ID:          c.ID,
			CycleNumber: c.CycleNumber,
			TotalVolume: c.TotalVolumeDistributed,
		})
		if err != nil {
			log.Printf("circle=%d event=cycle_completed emit failed: %v", c.ID, err)
		}
	}
	return c, cycleComplete, nil
}

// RolloverCircle starts the next cycle after every member has been paid.
func (s *Service) RolloverCircle(ctx context.Context, circleID uint32, caller string) (circle.Circle, error) {
	if s == nil || s.store == nil {
		return circle.Circle{}, apperrors.New(apperrors.CodeUnknown, "circle store is not configured")
	}
	if err := s.authorize(ctx, caller); err != nil {
		return circle.Circle{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.getCircle(ctx, circleID)
	if err != nil {
		return circle.Circle{}, err
	}
	if err := s.requireAdmin(c, caller); err != nil {
		return circle.Circle{}, err
	}

	if err := c.Rollover(s.perm(), s.now()); err != nil {
		return circle.Circle{}, err
	}
	if err := s.store.PutCircle(ctx, c); err != nil {
		return circle.Circle{}, apperrors.Wrap(apperrors.CodeUnknown, "store circle", err)
	}

	err = s.emitter.RolledOver(ctx, telemetry.CircleInfo{
		ID:          c.ID,
		CycleNumber: c.CycleNumber,
	})
	if err != nil {
		log.Printf("circle=%d event=rolled_over emit failed: %v", c.ID, err)
	}
	return c, nil
}

// GetCircle returns a circle by id.
func (s *Service) GetCircle(ctx context.Context, circleID uint32) (circle.Circle, error) {
	if s == nil || s.store == nil {
		return circle.Circle{}, apperrors.New(apperrors.CodeUnknown, "circle store is not configured")
	}
	return s.getCircle(ctx, circleID)
}

// GetPayoutQueue returns the committed payout order, empty before finalize.
func (s *Service) GetPayoutQueue(ctx context.Context, circleID uint32) ([]string, error) {
	c, err := s.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), c.PayoutQueue...), nil
}

// CycleInfo describes payout progress for the current cycle.
type CycleInfo struct {
	CycleNumber            uint32
	CurrentPayoutIndex     uint32
	TotalVolumeDistributed int64
	CycleComplete          bool
}

// GetCycleInfo returns progress counters for the current cycle.
func (s *Service) GetCycleInfo(ctx context.Context, circleID uint32) (CycleInfo, error) {
	c, err := s.GetCircle(ctx, circleID)
	if err != nil {
		return CycleInfo{}, err
	}
	return CycleInfo{
		CycleNumber:            c.CycleNumber,
		CurrentPayoutIndex:     c.CurrentPayoutIndex,
		TotalVolumeDistributed: c.TotalVolumeDistributed,
		CycleComplete:          c.AllPaid(),
	}, nil
}

// GetPayoutStatus returns the membership with per-member paid flags for the
// current cycle, in join order.
func (s *Service) GetPayoutStatus(ctx context.Context, circleID uint32) ([]circle.Member, error) {
	c, err := s.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	return append([]circle.Member(nil), c.Members...), nil
}

// ListCircles returns a page of circles ordered by id.
func (s *Service) ListCircles(ctx context.Context, pageSize int, pageToken string) (storage.CirclePage, error) {
	if s == nil || s.store == nil {
		return storage.CirclePage{}, apperrors.New(apperrors.CodeUnknown, "circle store is not configured")
	}
	pageSize = pagination.ClampPageSize(pageSize, pagination.PageSizeConfig{
		Default: defaultListCirclesPageSize,
		Max:     maxListCirclesPageSize,
	})
	page, err := s.store.ListCircles(ctx, pageSize, pageToken)
	if err != nil {
		return storage.CirclePage{}, apperrors.Wrap(apperrors.CodeUnknown, "list circles", err)
	}
	return page, nil
}

func (s *Service) getCircle(ctx context.Context, circleID uint32) (circle.Circle, error) {
	c, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return circle.Circle{}, apperrors.WithMetadata(apperrors.CodeCircleNotFound, "circle not found", map[string]string{
				"circle_id": formatID(circleID),
			})
		}
		return circle.Circle{}, apperrors.Wrap(apperrors.CodeUnknown, "load circle", err)
	}
	return c, nil
}

func (s *Service) requireAdmin(c circle.Circle, caller string) error {
	if caller != c.Admin {
		return apperrors.WithMetadata(apperrors.CodeUnauthorized, "caller is not the circle admin", map[string]string{
			"circle_id": formatID(c.ID),
		})
	}
	return nil
}

func (s *Service) perm() func(n int) []int {
	if s.shuffler == nil {
		return nil
	}
	return s.shuffler.Perm
}

func formatID(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
