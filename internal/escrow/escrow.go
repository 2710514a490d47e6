// Package escrow custodies member deposits with an inactivity-gated
// emergency exit.
//
// The ledger tracks one balance per identity under a single administrator.
// The administrator's last-active timestamp is the liveness heartbeat: once
// it is stale past InactivityWindow, any depositor may reclaim their own
// balance without administrator authorization.
package escrow

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/esusuhq/esusu/internal/auth"
	apperrors "github.com/esusuhq/esusu/internal/platform/errors"
	"github.com/esusuhq/esusu/internal/storage"
)

// InactivityWindow is how long the administrator must be silent before the
// emergency withdrawal path opens.
const InactivityWindow = 7 * 24 * time.Hour

// Transfer moves value into and out of custody. Implementations settle
// against an external asset system; the ledger only tracks entitlement.
type Transfer interface {
	TransferIn(ctx context.Context, identity string, amount int64) error
	TransferOut(ctx context.Context, identity string, amount int64) error
}

// NopTransfer is a Transfer that always succeeds. It backs deployments where
// settlement happens out of band.
type NopTransfer struct{}

// TransferIn implements Transfer.
func (NopTransfer) TransferIn(context.Context, string, int64) error { return nil }

// TransferOut implements Transfer.
func (NopTransfer) TransferOut(context.Context, string, int64) error { return nil }

// Service exposes escrow ledger operations. Mutations are serialized so a
// read-modify-write on one balance cannot interleave with another.
type Service struct {
	store    storage.EscrowStore
	verifier auth.Verifier
	transfer Transfer
	clock    func() time.Time

	mu sync.Mutex
}

// NewService creates an escrow service.
func NewService(store storage.EscrowStore, verifier auth.Verifier, transfer Transfer) *Service {
	return &Service{
		store:    store,
		verifier: verifier,
		transfer: transfer,
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

// Initialize records the ledger administrator and stamps the liveness clock.
// Re-initialization is an administrator-authorized overwrite.
func (s *Service) Initialize(ctx context.Context, admin string) error {
	if s == nil || s.store == nil {
		return apperrors.New(apperrors.CodeUnknown, "escrow store is not configured")
	}
	if err := s.authorize(ctx, admin); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := storage.LedgerState{Admin: admin, LastActiveAt: s.now()}
	if err := s.store.PutLedgerState(ctx, state); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "store ledger state", err)
	}
	return nil
}

// AdminAction refreshes the liveness heartbeat. Only the stored administrator
// may call it.
func (s *Service) AdminAction(ctx context.Context, caller string) error {
	if s == nil || s.store == nil {
		return apperrors.New(apperrors.CodeUnknown, "escrow store is not configured")
	}
	if err := s.authorize(ctx, caller); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.ledgerState(ctx)
	if err != nil {
		return err
	}
	if caller != state.Admin {
		return apperrors.New(apperrors.CodeUnauthorized, "caller is not the ledger admin")
	}
	state.LastActiveAt = s.now()
	if err := s.store.PutLedgerState(ctx, state); err != nil {
		return apperrors.Wrap(apperrors.CodeUnknown, "store ledger state", err)
	}
	return nil
}

// Deposit moves amount into custody and credits identity's balance. Deposits
// never refresh the liveness heartbeat.
func (s *Service) Deposit(ctx context.Context, identity string, amount int64) (int64, error) {
	if s == nil || s.store == nil {
		return 0, apperrors.New(apperrors.CodeUnknown, "escrow store is not configured")
	}
	if err := s.authorize(ctx, identity); err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, apperrors.WithMetadata(apperrors.CodeEscrowInvalidAmount, "deposit amount must be positive", map[string]string{
			"amount": strconv.FormatInt(amount, 10),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.ledgerState(ctx); err != nil {
		return 0, err
	}
	balance, err := s.store.GetBalance(ctx, identity)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeUnknown, "load balance", err)
	}

	if err := s.transferIn(ctx, identity, amount); err != nil {
		return 0, err
	}
	balance += amount
	if err := s.store.PutBalance(ctx, identity, balance); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeUnknown, "store balance", err)
	}
	return balance, nil
}

// EmergencyWithdraw returns identity's full balance once the administrator
// has been inactive past InactivityWindow. A zero balance is a no-op success.
func (s *Service) EmergencyWithdraw(ctx context.Context, identity string) (int64, error) {
	if s == nil || s.store == nil {
		return 0, apperrors.New(apperrors.CodeUnknown, "escrow store is not configured")
	}
	if err := s.authorize(ctx, identity); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.ledgerState(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	deadline := state.LastActiveAt.Add(InactivityWindow)
	if !now.After(deadline) {
		return 0, apperrors.WithMetadata(apperrors.CodeEscrowNotYetEligible, "administrator is not yet presumed inactive", map[string]string{
			"eligible_at": deadline.Format(time.RFC3339),
		})
	}

	balance, err := s.store.GetBalance(ctx, identity)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeUnknown, "load balance", err)
	}
	if balance == 0 {
		return 0, nil
	}

	if err := s.transferOut(ctx, identity, balance); err != nil {
		return 0, err
	}
	if err := s.store.DeleteBalance(ctx, identity); err != nil {
		return 0, apperrors.Wrap(apperrors.CodeUnknown, "clear balance", err)
	}
	return balance, nil
}

// GetUserBalance returns identity's custodied balance, zero when unknown.
func (s *Service) GetUserBalance(ctx context.Context, identity string) (int64, error) {
	if s == nil || s.store == nil {
		return 0, apperrors.New(apperrors.CodeUnknown, "escrow store is not configured")
	}
	balance, err := s.store.GetBalance(ctx, identity)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeUnknown, "load balance", err)
	}
	return balance, nil
}

// GetLastActiveTimestamp returns the administrator's liveness heartbeat,
// zero when the ledger has never been initialized.
func (s *Service) GetLastActiveTimestamp(ctx context.Context) (time.Time, error) {
	if s == nil || s.store == nil {
		return time.Time{}, apperrors.New(apperrors.CodeUnknown, "escrow store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.store.GetLedgerState(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, apperrors.Wrap(apperrors.CodeUnknown, "load ledger state", err)
	}
	return state.LastActiveAt, nil
}

func (s *Service) ledgerState(ctx context.Context) (storage.LedgerState, error) {
	state, err := s.store.GetLedgerState(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.CodeNotFound) {
			return storage.LedgerState{}, apperrors.New(apperrors.CodeEscrowNotInitialized, "escrow ledger is not initialized")
		}
		return storage.LedgerState{}, apperrors.Wrap(apperrors.CodeUnknown, "load ledger state", err)
	}
	return state, nil
}

func (s *Service) transferIn(ctx context.Context, identity string, amount int64) error {
	if s.transfer == nil {
		return apperrors.New(apperrors.CodeEscrowTransferFailed, "transfer collaborator is not configured")
	}
	if err := s.transfer.TransferIn(ctx, identity, amount); err != nil {
		return apperrors.Wrap(apperrors.CodeEscrowTransferFailed, "transfer into custody", err)
	}
	return nil
}

func (s *Service) transferOut(ctx context.Context, identity string, amount int64) error {
	if s.transfer == nil {
		return apperrors.New(apperrors.CodeEscrowTransferFailed, "transfer collaborator is not configured")
	}
	if err := s.transfer.TransferOut(ctx, identity, amount); err != nil {
		return apperrors.Wrap(apperrors.CodeEscrowTransferFailed, "transfer out of custody", err)
	}
	return nil
}
