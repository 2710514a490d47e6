package circle

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	apperrors "github.com/esusuhq/esusu/internal/platform/errors"
)

var fixedTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestCircle(t *testing.T, randomQueue bool) Circle {
	t.Helper()
	c, err := New("admin", 10, randomQueue, fixedTime)
	if err != nil {
		t.Fatalf("new circle: %v", err)
	}
	return c
}

func joinAll(t *testing.T, c *Circle, identities ...string) {
	t.Helper()
	for _, identity := range identities {
		if err := c.Join(identity, fixedTime); err != nil {
			t.Fatalf("join %s: %v", identity, err)
		}
	}
}

func identityPerm(seed int64) func(int) []int {
	rng := rand.New(rand.NewSource(seed))
	return rng.Perm
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name         string
		admin        string
		contribution int64
		wantCode     apperrors.Code
	}{
		{name: "empty admin", admin: "  ", contribution: 10, wantCode: apperrors.CodeCircleAdminRequired},
		{name: "zero contribution", admin: "admin", contribution: 0, wantCode: apperrors.CodeCircleInvalidContribution},
		{name: "negative contribution", admin: "admin", contribution: -5, wantCode: apperrors.CodeCircleInvalidContribution},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.admin, tc.contribution, false, fixedTime)
			if !errors.Is(err, apperrors.New(tc.wantCode, "")) {
				t.Fatalf("expected code %s, got %v", tc.wantCode, err)
			}
		})
	}
}

func TestNewStartsAtCycleOne(t *testing.T) {
	c := newTestCircle(t, false)
	if c.CycleNumber != 1 {
		t.Fatalf("cycle number = %d, want 1", c.CycleNumber)
	}
	if c.Finalized() {
		t.Fatal("new circle must start open")
	}
	if len(c.Members) != 0 {
		t.Fatalf("expected no members, got %d", len(c.Members))
	}
}

func TestJoinKeepsFlagsAligned(t *testing.T) {
	c := newTestCircle(t, false)
	for i := 0; i < 10; i++ {
		if err := c.Join(fmt.Sprintf("member-%d", i), fixedTime); err != nil {
			t.Fatalf("join: %v", err)
		}
		if len(c.PayoutStatus()) != len(c.Members) {
			t.Fatalf("paid flags out of alignment after %d joins", i+1)
		}
	}
}

func TestJoinDuplicateFails(t *testing.T) {
	c := newTestCircle(t, false)
	joinAll(t, &c, "alice")

	before := len(c.Members)
	err := c.Join("alice", fixedTime)
	if !errors.Is(err, apperrors.New(apperrors.CodeCircleAlreadyJoined, "")) {
		t.Fatalf("expected already joined, got %v", err)
	}
	if len(c.Members) != before {
		t.Fatal("failed join must not change membership")
	}
}

func TestJoinEnforcesMaxMembers(t *testing.T) {
	c := newTestCircle(t, false)
	for i := 0; i < MaxMembers; i++ {
		if err := c.Join(fmt.Sprintf("member-%d", i), fixedTime); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}

	err := c.Join("one-too-many", fixedTime)
	if !errors.Is(err, apperrors.New(apperrors.CodeCircleMaxMembersReached, "")) {
		t.Fatalf("expected max members, got %v", err)
	}
	if len(c.Members) != MaxMembers {
		t.Fatalf("membership changed on failed join: %d", len(c.Members))
	}
}

func TestFinalizeSequentialPreservesJoinOrder(t *testing.T) {
	c := newTestCircle(t, false)
	joinAll(t, &c, "a", "b", "c", "d", "e")

	changed, err := c.Finalize(nil, fixedTime)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !changed {
		t.Fatal("expected finalize to commit the queue")
	}

	want := []string{"a", "b", "c", "d", "e"}
	for i, identity := range want {
		if c.PayoutQueue[i] != identity {
			t.Fatalf("queue[%d] = %s, want %s", i, c.PayoutQueue[i], identity)
		}
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	c := newTestCircle(t, true)
	joinAll(t, &c, "a", "b", "c")

	if _, err := c.Finalize(identityPerm(1), fixedTime); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	first := append([]string(nil), c.PayoutQueue...)

	changed, err := c.Finalize(identityPerm(99), fixedTime)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if changed {
		t.Fatal("second finalize must be a no-op")
	}
	for i := range first {
		if c.PayoutQueue[i] != first[i] {
			t.Fatal("second finalize changed the committed queue")
		}
	}
}

func TestFinalizeRandomQueueIsPermutation(t *testing.T) {
	for seed := int64(0); seed < 25; seed++ {
		c := newTestCircle(t, true)
		joinAll(t, &c, "a", "b", "c", "d", "e", "f", "g")

		if _, err := c.Finalize(identityPerm(seed), fixedTime); err != nil {
			t.Fatalf("finalize seed %d: %v", seed, err)
		}
		if len(c.PayoutQueue) != len(c.Members) {
			t.Fatalf("seed %d: queue length %d, want %d", seed, len(c.PayoutQueue), len(c.Members))
		}
		seen := map[string]int{}
		for _, identity := range c.PayoutQueue {
			seen[identity]++
		}
		for _, m := range c.Members {
			if seen[m.Identity] != 1 {
				t.Fatalf("seed %d: queue is not a permutation: %v", seed, c.PayoutQueue)
			}
		}
	}
}

func TestFinalizeRandomRequiresPermutationSource(t *testing.T) {
	c := newTestCircle(t, true)
	joinAll(t, &c, "a", "b")

	if _, err := c.Finalize(nil, fixedTime); err == nil {
		t.Fatal("expected error without a permutation source")
	}
	if c.Finalized() {
		t.Fatal("failed finalize must leave the circle open")
	}
}

func TestRecordPayoutAccounting(t *testing.T) {
	c := newTestCircle(t, false)
	joinAll(t, &c, "a", "b", "c")
	if _, err := c.Finalize(nil, fixedTime); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	for i, identity := range []string{"b", "a"} {
		complete, err := c.RecordPayout(identity, fixedTime)
		if err != nil {
			t.Fatalf("payout %s: %v", identity, err)
		}
		if complete {
			t.Fatalf("cycle reported complete after %d of 3 payouts", i+1)
		}
	}
	if c.TotalVolumeDistributed != 20 {
		t.Fatalf("total volume = %d, want 20", c.TotalVolumeDistributed)
	}
	if c.CurrentPayoutIndex != 2 {
		t.Fatalf("payout index = %d, want 2", c.CurrentPayoutIndex)
	}

	complete, err := c.RecordPayout("c", fixedTime)
	if err != nil {
		t.Fatalf("final payout: %v", err)
	}
	if !complete {
		t.Fatal("expected cycle completion on final payout")
	}
	if c.TotalVolumeDistributed != 30 {
		t.Fatalf("total volume = %d, want 30", c.TotalVolumeDistributed)
	}
}

func TestRecordPayoutRejectsDuplicates(t *testing.T) {
	c := newTestCircle(t, false)
	joinAll(t, &c, "a", "b")
	if _, err := c.Finalize(nil, fixedTime); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if _, err := c.RecordPayout("a", fixedTime); err != nil {
		t.Fatalf("first payout: %v", err)
	}
	_, err := c.RecordPayout("a", fixedTime)
	if !errors.Is(err, apperrors.New(apperrors.CodeUnauthorized, "")) {
		t.Fatalf("expected unauthorized for duplicate payout, got %v", err)
	}
	if c.TotalVolumeDistributed != 10 {
		t.Fatalf("failed payout changed volume: %d", c.TotalVolumeDistributed)
	}
}

func TestRecordPayoutRejectsNonMembers(t *testing.T) {
	c := newTestCircle(t, false)
	joinAll(t, &c, "a")
	if _, err := c.Finalize(nil, fixedTime); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	_, err := c.RecordPayout("stranger", fixedTime)
	if !errors.Is(err, apperrors.New(apperrors.CodeUnauthorized, "")) {
		t.Fatalf("expected unauthorized for non-member, got %v", err)
	}
}

func TestRecordPayoutIgnoresQueueOrder(t *testing.T) {
	// The committed queue is informational: any unpaid member is a valid
	// recipient regardless of position.
	c := newTestCircle(t, false)
	joinAll(t, &c, "a", "b", "c")
	if _, err := c.Finalize(nil, fixedTime); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if _, err := c.RecordPayout("c", fixedTime); err != nil {
		t.Fatalf("out-of-order payout: %v", err)
	}
}

func TestRolloverPreconditions(t *testing.T) {
	open := newTestCircle(t, false)
	joinAll(t, &open, "a")
	if err := open.Rollover(nil, fixedTime); !errors.Is(err, apperrors.New(apperrors.CodeCircleNotFinalized, "")) {
		t.Fatalf("expected not finalized, got %v", err)
	}

	incomplete := newTestCircle(t, false)
	joinAll(t, &incomplete, "a", "b")
	if _, err := incomplete.Finalize(nil, fixedTime); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := incomplete.RecordPayout("a", fixedTime); err != nil {
		t.Fatalf("payout: %v", err)
	}
	err := incomplete.Rollover(nil, fixedTime)
	if !errors.Is(err, apperrors.New(apperrors.CodeCircleCycleNotComplete, "")) {
		t.Fatalf("expected cycle not complete, got %v", err)
	}
	if incomplete.CycleNumber != 1 {
		t.Fatal("failed rollover must not advance the cycle")
	}
}

func TestRolloverResetsCycleState(t *testing.T) {
	c := newTestCircle(t, false)
	joinAll(t, &c, "a", "b", "c")
	if _, err := c.Finalize(nil, fixedTime); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	for _, identity := range []string{"a", "b", "c"} {
		if _, err := c.RecordPayout(identity, fixedTime); err != nil {
			t.Fatalf("payout %s: %v", identity, err)
		}
	}

	if err := c.Rollover(nil, fixedTime); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if c.CycleNumber != 2 {
		t.Fatalf("cycle number = %d, want 2", c.CycleNumber)
	}
	if c.CurrentPayoutIndex != 0 || c.TotalVolumeDistributed != 0 {
		t.Fatalf("counters not reset: index=%d volume=%d", c.CurrentPayoutIndex, c.TotalVolumeDistributed)
	}
	for i, paid := range c.PayoutStatus() {
		if paid {
			t.Fatalf("member %d still marked paid after rollover", i)
		}
	}
	// Sequential queue keeps join order across cycles.
	want := []string{"a", "b", "c"}
	for i := range want {
		if c.PayoutQueue[i] != want[i] {
			t.Fatalf("queue changed on sequential rollover: %v", c.PayoutQueue)
		}
	}
}

func TestRolloverReshufflesRandomQueue(t *testing.T) {
	c := newTestCircle(t, true)
	joinAll(t, &c, "a", "b", "c", "d", "e", "f")
	if _, err := c.Finalize(identityPerm(3), fixedTime); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	for _, m := range c.MemberIdentities() {
		if _, err := c.RecordPayout(m, fixedTime); err != nil {
			t.Fatalf("payout %s: %v", m, err)
		}
	}

	if err := c.Rollover(identityPerm(4), fixedTime); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if len(c.PayoutQueue) != len(c.Members) {
		t.Fatalf("reshuffled queue length %d, want %d", len(c.PayoutQueue), len(c.Members))
	}
	seen := map[string]int{}
	for _, identity := range c.PayoutQueue {
		seen[identity]++
	}
	for _, m := range c.Members {
		if seen[m.Identity] != 1 {
			t.Fatalf("reshuffled queue is not a permutation: %v", c.PayoutQueue)
		}
	}
}

func TestFullCycleEndToEnd(t *testing.T) {
	c := newTestCircle(t, false)
	members := []string{"A", "B", "C", "D", "E"}
	joinAll(t, &c, members...)

	if _, err := c.Finalize(nil, fixedTime); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	for i, identity := range members {
		complete, err := c.RecordPayout(identity, fixedTime)
		if err != nil {
			t.Fatalf("payout %s: %v", identity, err)
		}
		if complete != (i == len(members)-1) {
			t.Fatalf("unexpected completion signal at payout %d", i+1)
		}
	}
	if c.TotalVolumeDistributed != 50 {
		t.Fatalf("total volume = %d, want 50", c.TotalVolumeDistributed)
	}

	if err := c.Rollover(nil, fixedTime); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if c.CycleNumber != 2 {
		t.Fatalf("cycle number = %d, want 2", c.CycleNumber)
	}
	for _, paid := range c.PayoutStatus() {
		if paid {
			t.Fatal("expected all flags cleared for the new cycle")
		}
	}
}
