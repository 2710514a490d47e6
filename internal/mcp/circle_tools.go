package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/esusuhq/esusu/internal/circle"
	circleservice "github.com/esusuhq/esusu/internal/circle/service"
)

// CircleCreateInput represents the MCP tool input for creating a circle.
type CircleCreateInput struct {
	Admin        string `json:"admin" jsonschema:"identity of the circle administrator"`
	Contribution int64  `json:"contribution" jsonschema:"fixed per-cycle contribution amount, must be positive"`
	RandomQueue  bool   `json:"random_queue,omitempty" jsonschema:"shuffle the payout order instead of using join order"`
}

// CircleCreateResult represents the MCP tool output for creating a circle.
type CircleCreateResult struct {
	CircleID    uint32 `json:"circle_id" jsonschema:"allocated circle identifier"`
	CycleNumber uint32 `json:"cycle_number" jsonschema:"current cycle number, starts at 1"`
	CreatedAt   string `json:"created_at" jsonschema:"RFC3339 timestamp when the circle was created"`
}

// CircleCreateTool defines the MCP tool schema for creating a circle.
func CircleCreateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "circle_create",
		Description: "Creates a rotating savings circle with a fixed per-cycle contribution.",
	}
}

// CircleCreateHandler executes a circle create request.
func CircleCreateHandler(svc *circleservice.Service, callCtx CallContext) mcp.ToolHandlerFor[CircleCreateInput, CircleCreateResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CircleCreateInput) (*mcp.CallToolResult, CircleCreateResult, error) {
		c, err := svc.CreateCircle(callCtx(ctx), input.Admin, input.Contribution, input.RandomQueue)
		if err != nil {
			return nil, CircleCreateResult{}, err
		}
		return nil, CircleCreateResult{
			CircleID:    c.ID,
			CycleNumber: c.CycleNumber,
			CreatedAt:   c.CreatedAt.Format(time.RFC3339),
		}, nil
	}
}

// CircleJoinInput represents the MCP tool input for joining a circle.
type CircleJoinInput struct {
	CircleID uint32 `json:"circle_id" jsonschema:"circle identifier"`
	Identity string `json:"identity" jsonschema:"identity of the joining member"`
}

// CircleJoinResult represents the MCP tool output for joining a circle.
type CircleJoinResult struct {
	CircleID    uint32   `json:"circle_id" jsonschema:"circle identifier"`
	Members     []string `json:"members" jsonschema:"member identities in join order"`
	MemberCount int      `json:"member_count" jsonschema:"number of members after joining"`
}

// CircleJoinTool defines the MCP tool schema for joining a circle.
func CircleJoinTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "circle_join",
		Description: "Adds a member to an open circle. Fails on duplicates and once 50 members are reached.",
	}
}

// CircleJoinHandler executes a circle join request.
func CircleJoinHandler(svc *circleservice.Service, callCtx CallContext) mcp.ToolHandlerFor[CircleJoinInput, CircleJoinResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CircleJoinInput) (*mcp.CallToolResult, CircleJoinResult, error) {
		c, err := svc.JoinCircle(callCtx(ctx), input.CircleID, input.Identity)
		if err != nil {
			return nil, CircleJoinResult{}, err
		}
		members := c.MemberIdentities()
		return nil, CircleJoinResult{
			CircleID:    c.ID,
			Members:     members,
			MemberCount: len(members),
		}, nil
	}
}

// CircleFinalizeInput represents the MCP tool input for finalizing a circle.
type CircleFinalizeInput struct {
	CircleID uint32 `json:"circle_id" jsonschema:"circle identifier"`
	Caller   string `json:"caller" jsonschema:"identity of the caller, must be the circle administrator"`
}

// CircleFinalizeResult represents the MCP tool output for finalizing a circle.
type CircleFinalizeResult struct {
	CircleID    uint32   `json:"circle_id" jsonschema:"circle identifier"`
	PayoutQueue []string `json:"payout_queue" jsonschema:"committed payout order"`
	Committed   bool     `json:"committed" jsonschema:"false when the queue was already committed by an earlier call"`
}

// CircleFinalizeTool defines the MCP tool schema for finalizing a circle.
func CircleFinalizeTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "circle_finalize",
		Description: "Commits the payout queue for a circle. Safe to repeat; later calls are no-ops.",
	}
}

// CircleFinalizeHandler executes a circle finalize request.
func CircleFinalizeHandler(svc *circleservice.Service, callCtx CallContext) mcp.ToolHandlerFor[CircleFinalizeInput, CircleFinalizeResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CircleFinalizeInput) (*mcp.CallToolResult, CircleFinalizeResult, error) {
		c, committed, err := svc.FinalizeCircle(callCtx(ctx), input.CircleID, input.Caller)
		if err != nil {
			return nil, CircleFinalizeResult{}, err
		}
		return nil, CircleFinalizeResult{
			CircleID:    c.ID,
			PayoutQueue: append([]string(nil), c.PayoutQueue...),
			Committed:   committed,
		}, nil
	}
}

// CirclePayoutInput represents the MCP tool input for processing a payout.
type CirclePayoutInput struct {
	CircleID  uint32 `json:"circle_id" jsonschema:"circle identifier"`
	Caller    string `json:"caller" jsonschema:"identity of the caller, must be the circle administrator"`
	Recipient string `json:"recipient" jsonschema:"member identity receiving this cycle's pooled funds"`
}

// CirclePayoutResult represents the MCP tool output for processing a payout.
type CirclePayoutResult struct {
	CircleID               uint32 `json:"circle_id" jsonschema:"circle identifier"`
	CycleComplete          bool   `json:"cycle_complete" jsonschema:"true when every member has now been paid this cycle"`
	CurrentPayoutIndex     uint32 `json:"current_payout_index" jsonschema:"number of payouts recorded this cycle"`
	TotalVolumeDistributed int64  `json:"total_volume_distributed" jsonschema:"cumulative amount distributed this cycle"`
}

// CirclePayoutTool defines the MCP tool schema for processing a payout.
func CirclePayoutTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "circle_payout",
		Description: "Records a payout to an unpaid member and updates cycle accounting.",
	}
}

// CirclePayoutHandler executes a payout request.
func CirclePayoutHandler(svc *circleservice.Service, callCtx CallContext) mcp.ToolHandlerFor[CirclePayoutInput, CirclePayoutResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CirclePayoutInput) (*mcp.CallToolResult, CirclePayoutResult, error) {
		c, complete, err := svc.ProcessPayout(callCtx(ctx), input.CircleID, input.Caller, input.Recipient)
		if err != nil {
			return nil, CirclePayoutResult{}, err
		}
		return nil, CirclePayoutResult{
			CircleID:               c.ID,
			CycleComplete:          complete,
			CurrentPayoutIndex:     c.CurrentPayoutIndex,
			TotalVolumeDistributed: c.TotalVolumeDistributed,
		}, nil
	}
}

// CircleRolloverInput represents the MCP tool input for rolling a circle over.
type CircleRolloverInput struct {
	CircleID uint32 `json:"circle_id" jsonschema:"circle identifier"`
	Caller   string `json:"caller" jsonschema:"identity of the caller, must be the circle administrator"`
}

// CircleRolloverResult represents the MCP tool output for rolling a circle over.
type CircleRolloverResult struct {
	CircleID    uint32   `json:"circle_id" jsonschema:"circle identifier"`
	CycleNumber uint32   `json:"cycle_number" jsonschema:"new cycle number"`
	PayoutQueue []string `json:"payout_queue" jsonschema:"payout order for the new cycle"`
}

// CircleRolloverTool defines the MCP tool schema for rolling a circle over.
func CircleRolloverTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "circle_rollover",
		Description: "Starts the next cycle once every member has been paid, resetting payout flags.",
	}
}

// CircleRolloverHandler executes a rollover request.
func CircleRolloverHandler(svc *circleservice.Service, callCtx CallContext) mcp.ToolHandlerFor[CircleRolloverInput, CircleRolloverResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CircleRolloverInput) (*mcp.CallToolResult, CircleRolloverResult, error) {
		c, err := svc.RolloverCircle(callCtx(ctx), input.CircleID, input.Caller)
		if err != nil {
			return nil, CircleRolloverResult{}, err
		}
		return nil, CircleRolloverResult{
			CircleID:    c.ID,
			CycleNumber: c.CycleNumber,
			PayoutQueue: append([]string(nil), c.PayoutQueue...),
		}, nil
	}
}

// CircleQueueInput represents the MCP tool input for reading a payout queue.
type CircleQueueInput struct {
	CircleID uint32 `json:"circle_id" jsonschema:"circle identifier"`
}

// CircleQueueResult represents the MCP tool output for reading a payout queue.
type CircleQueueResult struct {
	CircleID    uint32   `json:"circle_id" jsonschema:"circle identifier"`
	Finalized   bool     `json:"finalized" jsonschema:"whether the payout queue has been committed"`
	PayoutQueue []string `json:"payout_queue" jsonschema:"committed payout order, empty before finalize"`
}

// CircleQueueTool defines the MCP tool schema for reading a payout queue.
func CircleQueueTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "circle_queue",
		Description: "Returns the committed payout order for a circle.",
	}
}

// CircleQueueHandler executes a payout queue read.
func CircleQueueHandler(svc *circleservice.Service) mcp.ToolHandlerFor[CircleQueueInput, CircleQueueResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CircleQueueInput) (*mcp.CallToolResult, CircleQueueResult, error) {
		queue, err := svc.GetPayoutQueue(ctx, input.CircleID)
		if err != nil {
			return nil, CircleQueueResult{}, err
		}
		return nil, CircleQueueResult{
			CircleID:    input.CircleID,
			Finalized:   len(queue) > 0,
			PayoutQueue: queue,
		}, nil
	}
}

// CircleInfoInput represents the MCP tool input for reading cycle info.
type CircleInfoInput struct {
	CircleID uint32 `json:"circle_id" jsonschema:"circle identifier"`
}

// CircleInfoResult represents the MCP tool output for reading cycle info.
type CircleInfoResult struct {
	CircleID               uint32 `json:"circle_id" jsonschema:"circle identifier"`
	Admin                  string `json:"admin" jsonschema:"circle administrator identity"`
	Contribution           int64  `json:"contribution" jsonschema:"fixed per-cycle contribution amount"`
	RandomQueue            bool   `json:"random_queue" jsonschema:"whether the payout order is shuffled"`
	CycleNumber            uint32 `json:"cycle_number" jsonschema:"current cycle number"`
	CurrentPayoutIndex     uint32 `json:"current_payout_index" jsonschema:"number of payouts recorded this cycle"`
	TotalVolumeDistributed int64  `json:"total_volume_distributed" jsonschema:"cumulative amount distributed this cycle"`
	CycleComplete          bool   `json:"cycle_complete" jsonschema:"true when every member has been paid this cycle"`
	MemberCount            int    `json:"member_count" jsonschema:"number of members"`
}

// CircleInfoTool defines the MCP tool schema for reading cycle info.
func CircleInfoTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "circle_info",
		Description: "Returns cycle progress and configuration for a circle.",
	}
}

// CircleInfoHandler executes a cycle info read.
func CircleInfoHandler(svc *circleservice.Service) mcp.ToolHandlerFor[CircleInfoInput, CircleInfoResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CircleInfoInput) (*mcp.CallToolResult, CircleInfoResult, error) {
		c, err := svc.GetCircle(ctx, input.CircleID)
		if err != nil {
			return nil, CircleInfoResult{}, err
		}
		return nil, CircleInfoResult{
			CircleID:               c.ID,
			Admin:                  c.Admin,
			Contribution:           c.Contribution,
			RandomQueue:            c.RandomQueue,
			CycleNumber:            c.CycleNumber,
			CurrentPayoutIndex:     c.CurrentPayoutIndex,
			TotalVolumeDistributed: c.TotalVolumeDistributed,
			CycleComplete:          c.AllPaid(),
			MemberCount:            len(c.Members),
		}, nil
	}
}

// MemberStatus reports one member's payout state this cycle.
type MemberStatus struct {
	Identity string `json:"identity" jsonschema:"member identity"`
	Paid     bool   `json:"paid" jsonschema:"whether the member has been paid this cycle"`
}

// CirclePayoutStatusInput represents the MCP tool input for payout status.
type CirclePayoutStatusInput struct {
	CircleID uint32 `json:"circle_id" jsonschema:"circle identifier"`
}

// CirclePayoutStatusResult represents the MCP tool output for payout status.
type CirclePayoutStatusResult struct {
	CircleID uint32         `json:"circle_id" jsonschema:"circle identifier"`
	Members  []MemberStatus `json:"members" jsonschema:"per-member paid flags in join order"`
}

// CirclePayoutStatusTool defines the MCP tool schema for payout status.
func CirclePayoutStatusTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "circle_payout_status",
		Description: "Returns per-member paid flags for the current cycle.",
	}
}

// CirclePayoutStatusHandler executes a payout status read.
func CirclePayoutStatusHandler(svc *circleservice.Service) mcp.ToolHandlerFor[CirclePayoutStatusInput, CirclePayoutStatusResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CirclePayoutStatusInput) (*mcp.CallToolResult, CirclePayoutStatusResult, error) {
		members, err := svc.GetPayoutStatus(ctx, input.CircleID)
		if err != nil {
			return nil, CirclePayoutStatusResult{}, err
		}
		return nil, CirclePayoutStatusResult{
			CircleID: input.CircleID,
			Members:  memberStatuses(members),
		}, nil
	}
}

// CircleListInput represents the MCP tool input for listing circles.
type CircleListInput struct {
	PageSize  int    `json:"page_size,omitempty" jsonschema:"maximum circles per page"`
	PageToken string `json:"page_token,omitempty" jsonschema:"token from a previous page"`
}

// CircleListResult represents the MCP tool output for listing circles.
type CircleListResult struct {
	Circles       []CircleInfoResult `json:"circles" jsonschema:"circles ordered by identifier"`
	NextPageToken string             `json:"next_page_token,omitempty" jsonschema:"token for the next page, empty on the last page"`
}

// CircleListTool defines the MCP tool schema for listing circles.
func CircleListTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "circle_list",
		Description: "Returns a page of circles ordered by identifier.",
	}
}

// CircleListHandler executes a circle list request.
func CircleListHandler(svc *circleservice.Service) mcp.ToolHandlerFor[CircleListInput, CircleListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input CircleListInput) (*mcp.CallToolResult, CircleListResult, error) {
		page, err := svc.ListCircles(ctx, input.PageSize, input.PageToken)
		if err != nil {
			return nil, CircleListResult{}, err
		}
		result := CircleListResult{
			Circles:       make([]CircleInfoResult, 0, len(page.Circles)),
			NextPageToken: page.NextPageToken,
		}
		for _, c := range page.Circles {
			result.Circles = append(result.Circles, CircleInfoResult{
				CircleID:               c.ID,
				Admin:                  c.Admin,
				Contribution:           c.Contribution,
				RandomQueue:            c.RandomQueue,
				CycleNumber:            c.CycleNumber,
				CurrentPayoutIndex:     c.CurrentPayoutIndex,
				TotalVolumeDistributed: c.TotalVolumeDistributed,
				CycleComplete:          c.AllPaid(),
				MemberCount:            len(c.Members),
			})
		}
		return nil, result, nil
	}
}

func memberStatuses(members []circle.Member) []MemberStatus {
	statuses := make([]MemberStatus, len(members))
	for i, m := range members {
		statuses[i] = MemberStatus{Identity: m.Identity, Paid: m.Paid}
	}
	return statuses
}
