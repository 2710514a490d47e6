// Package circle implements the rotating savings circle state machine.
//
// A circle moves through three states: open (payout queue empty, members may
// join), finalized (queue committed, payouts being recorded), and cycle
// complete (every member paid, rollover permitted). Rollover starts the next
// cycle and returns the circle to finalized.
//
// All mutating methods validate before touching state, so a method that
// returns an error leaves the receiver unchanged.
package circle

import (
	"strconv"
	"strings"
	"time"

	apperrors "github.com/esusuhq/esusu/internal/platform/errors"
)

// MaxMembers caps circle membership.
const MaxMembers = 50

// Member pairs an identity with its paid flag for the current cycle.
// Keeping the pair in one record makes the index alignment between members
// and payout flags structural.
type Member struct {
	Identity string
	Paid     bool
}

// Circle is a rotating group-savings pool.
type Circle struct {
	ID           uint32
	Admin        string
	Contribution int64
	RandomQueue  bool
	Members      []Member
	// PayoutQueue is empty until the circle is finalized. Once non-empty it
	// is the committed order for the current queue epoch.
	PayoutQueue            []string
	CycleNumber            uint32
	CurrentPayoutIndex     uint32
	TotalVolumeDistributed int64
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// New creates an open circle administered by admin.
func New(admin string, contribution int64, randomQueue bool, now time.Time) (Circle, error) {
	admin = strings.TrimSpace(admin)
	if admin == "" {
		return Circle{}, apperrors.New(apperrors.CodeCircleAdminRequired, "circle admin is required")
	}
	if contribution <= 0 {
		return Circle{}, apperrors.WithMetadata(apperrors.CodeCircleInvalidContribution, "contribution must be positive", map[string]string{
			"contribution": strconv.FormatInt(contribution, 10),
		})
	}
	createdAt := now.UTC()
	return Circle{
		Admin:        admin,
		Contribution: contribution,
		RandomQueue:  randomQueue,
		CycleNumber:  1,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}, nil
}

// Join appends identity to the membership with an unpaid flag.
func (c *Circle) Join(identity string, now time.Time) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return apperrors.New(apperrors.CodeIdentityRequired, "identity is required")
	}
	if c.memberIndex(identity) >= 0 {
		return apperrors.WithMetadata(apperrors.CodeCircleAlreadyJoined, "identity already joined circle", map[string]string{
			"circle_id": strconv.FormatUint(uint64(c.ID), 10),
		})
	}
	if len(c.Members) >= MaxMembers {
		return apperrors.WithMetadata(apperrors.CodeCircleMaxMembersReached, "circle membership is full", map[string]string{
			"circle_id":   strconv.FormatUint(uint64(c.ID), 10),
			"max_members": strconv.Itoa(MaxMembers),
		})
	}
	c.Members = append(c.Members, Member{Identity: identity})
	c.UpdatedAt = now.UTC()
	return nil
}

// Finalize commits the payout queue. It reports whether the circle
// transitioned; a circle that is already finalized is left untouched.
//
// perm supplies the permutation for random queues and is ignored otherwise.
func (c *Circle) Finalize(perm func(n int) []int, now time.Time) (bool, error) {
	if c.Finalized() {
		return false, nil
	}
	queue, err := c.buildQueue(perm)
	if err != nil {
		return false, err
	}
	c.PayoutQueue = queue
	c.UpdatedAt = now.UTC()
	return true, nil
}

// RecordPayout marks recipient as paid for the current cycle and updates the
// cycle accounting. It reports whether this payout completed the cycle.
//
// Membership, not queue position, authorizes a recipient: the committed queue
// is an intended order, and payouts are accepted for any unpaid member.
func (c *Circle) RecordPayout(recipient string, now time.Time) (bool, error) {
	idx := c.memberIndex(strings.TrimSpace(recipient))
	if idx < 0 {
		return false, apperrors.WithMetadata(apperrors.CodeUnauthorized, "payout recipient is not a circle member", map[string]string{
			"circle_id": strconv.FormatUint(uint64(c.ID), 10),
		})
	}
	if c.Members[idx].Paid {
		return false, apperrors.WithMetadata(apperrors.CodeUnauthorized, "recipient already received a payout this cycle", map[string]string{
			"circle_id": strconv.FormatUint(uint64(c.ID), 10),
		})
	}
	c.Members[idx].Paid = true
	c.CurrentPayoutIndex++
	c.TotalVolumeDistributed += c.Contribution
	c.UpdatedAt = now.UTC()
	return c.AllPaid(), nil
}

// Rollover closes a completed cycle and opens the next one.
func (c *Circle) Rollover(perm func(n int) []int, now time.Time) error {
	if !c.Finalized() {
		return apperrors.WithMetadata(apperrors.CodeCircleNotFinalized, "payout queue is not finalized", map[string]string{
			"circle_id": strconv.FormatUint(uint64(c.ID), 10),
		})
	}
	if !c.AllPaid() {
		return apperrors.WithMetadata(apperrors.CodeCircleCycleNotComplete, "not every member has received a payout", map[string]string{
			"circle_id": strconv.FormatUint(uint64(c.ID), 10),
		})
	}
	queue := c.PayoutQueue
	if c.RandomQueue {
		rebuilt, err := c.buildQueue(perm)
		if err != nil {
			return err
		}
		queue = rebuilt
	}

	c.CycleNumber++
	c.CurrentPayoutIndex = 0
	c.TotalVolumeDistributed = 0
	for i := range c.Members {
		c.Members[i].Paid = false
	}
	c.PayoutQueue = queue
	c.UpdatedAt = now.UTC()
	return nil
}

// Finalized reports whether the payout queue has been committed.
func (c Circle) Finalized() bool {
	return len(c.PayoutQueue) > 0
}

// AllPaid reports whether every member received a payout this cycle.
func (c Circle) AllPaid() bool {
	for _, m := range c.Members {
		if !m.Paid {
			return false
		}
	}
	return true
}

// MemberIdentities returns the member identities in join order.
func (c Circle) MemberIdentities() []string {
	identities := make([]string, len(c.Members))
	for i, m := range c.Members {
		identities[i] = m.Identity
	}
	return identities
}

// PayoutStatus returns the paid flags index-aligned with join order.
func (c Circle) PayoutStatus() []bool {
	status := make([]bool, len(c.Members))
	for i, m := range c.Members {
		status[i] = m.Paid
	}
	return status
}

func (c Circle) memberIndex(identity string) int {
	for i, m := range c.Members {
		if m.Identity == identity {
			return i
		}
	}
	return -1
}

func (c Circle) buildQueue(perm func(n int) []int) ([]string, error) {
	identities := c.MemberIdentities()
	if !c.RandomQueue {
		return identities, nil
	}
	if perm == nil {
		return nil, apperrors.New(apperrors.CodeUnknown, "permutation source is required for random queues")
	}
	order := perm(len(identities))
	if len(order) != len(identities) {
		return nil, apperrors.New(apperrors.CodeUnknown, "permutation length does not match membership")
	}
	queue := make([]string, len(identities))
	for i, idx := range order {
		queue[i] = identities[idx]
	}
	return queue, nil
}
