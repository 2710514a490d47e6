package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/esusuhq/esusu/internal/escrow"
)

// EscrowInitializeInput represents the MCP tool input for ledger initialization.
type EscrowInitializeInput struct {
	Admin string `json:"admin" jsonschema:"identity of the ledger administrator"`
}

// EscrowInitializeResult represents the MCP tool output for ledger initialization.
type EscrowInitializeResult struct {
	Admin string `json:"admin" jsonschema:"recorded administrator identity"`
}

// EscrowInitializeTool defines the MCP tool schema for ledger initialization.
func EscrowInitializeTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "escrow_initialize",
		Description: "Records the escrow ledger administrator and stamps the liveness clock.",
	}
}

// EscrowInitializeHandler executes a ledger initialization request.
func EscrowInitializeHandler(svc *escrow.Service, callCtx CallContext) mcp.ToolHandlerFor[EscrowInitializeInput, EscrowInitializeResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input EscrowInitializeInput) (*mcp.CallToolResult, EscrowInitializeResult, error) {
		if err := svc.Initialize(callCtx(ctx), input.Admin); err != nil {
			return nil, EscrowInitializeResult{}, err
		}
		return nil, EscrowInitializeResult{Admin: input.Admin}, nil
	}
}

// EscrowAdminActionInput represents the MCP tool input for the admin heartbeat.
type EscrowAdminActionInput struct {
	Caller string `json:"caller" jsonschema:"identity of the caller, must be the ledger administrator"`
}

// EscrowAdminActionResult represents the MCP tool output for the admin heartbeat.
type EscrowAdminActionResult struct {
	LastActiveAt string `json:"last_active_at" jsonschema:"RFC3339 timestamp of the refreshed heartbeat"`
}

// EscrowAdminActionTool defines the MCP tool schema for the admin heartbeat.
func EscrowAdminActionTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "escrow_admin_action",
		Description: "Refreshes the administrator liveness heartbeat, closing the emergency withdrawal window.",
	}
}

// EscrowAdminActionHandler executes an admin heartbeat request.
func EscrowAdminActionHandler(svc *escrow.Service, callCtx CallContext) mcp.ToolHandlerFor[EscrowAdminActionInput, EscrowAdminActionResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input EscrowAdminActionInput) (*mcp.CallToolResult, EscrowAdminActionResult, error) {
		authedCtx := callCtx(ctx)
		if err := svc.AdminAction(authedCtx, input.Caller); err != nil {
			return nil, EscrowAdminActionResult{}, err
		}
		last, err := svc.GetLastActiveTimestamp(authedCtx)
		if err != nil {
			return nil, EscrowAdminActionResult{}, err
		}
		return nil, EscrowAdminActionResult{LastActiveAt: last.Format(time.RFC3339)}, nil
	}
}

// EscrowDepositInput represents the MCP tool input for a deposit.
type EscrowDepositInput struct {
	Identity string `json:"identity" jsonschema:"depositor identity"`
	Amount   int64  `json:"amount" jsonschema:"amount to move into custody, must be positive"`
}

// EscrowDepositResult represents the MCP tool output for a deposit.
type EscrowDepositResult struct {
	Identity string `json:"identity" jsonschema:"depositor identity"`
	Balance  int64  `json:"balance" jsonschema:"custodied balance after the deposit"`
}

// EscrowDepositTool defines the MCP tool schema for a deposit.
func EscrowDepositTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "escrow_deposit",
		Description: "Moves funds into custody and credits the depositor's balance.",
	}
}

// EscrowDepositHandler executes a deposit request.
func EscrowDepositHandler(svc *escrow.Service, callCtx CallContext) mcp.ToolHandlerFor[EscrowDepositInput, EscrowDepositResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input EscrowDepositInput) (*mcp.CallToolResult, EscrowDepositResult, error) {
		balance, err := svc.Deposit(callCtx(ctx), input.Identity, input.Amount)
		if err != nil {
			return nil, EscrowDepositResult{}, err
		}
		return nil, EscrowDepositResult{Identity: input.Identity, Balance: balance}, nil
	}
}

// EscrowEmergencyWithdrawInput represents the MCP tool input for an emergency withdrawal.
type EscrowEmergencyWithdrawInput struct {
	Identity string `json:"identity" jsonschema:"depositor identity reclaiming their balance"`
}

// EscrowEmergencyWithdrawResult represents the MCP tool output for an emergency withdrawal.
type EscrowEmergencyWithdrawResult struct {
	Identity  string `json:"identity" jsonschema:"depositor identity"`
	Withdrawn int64  `json:"withdrawn" jsonschema:"amount returned, zero when no balance was held"`
}

// EscrowEmergencyWithdrawTool defines the MCP tool schema for an emergency withdrawal.
func EscrowEmergencyWithdrawTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "escrow_emergency_withdraw",
		Description: "Returns a depositor's full balance once the administrator has been inactive for seven days.",
	}
}

// EscrowEmergencyWithdrawHandler executes an emergency withdrawal request.
func EscrowEmergencyWithdrawHandler(svc *escrow.Service, callCtx CallContext) mcp.ToolHandlerFor[EscrowEmergencyWithdrawInput, EscrowEmergencyWithdrawResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input EscrowEmergencyWithdrawInput) (*mcp.CallToolResult, EscrowEmergencyWithdrawResult, error) {
		withdrawn, err := svc.EmergencyWithdraw(callCtx(ctx), input.Identity)
		if err != nil {
			return nil, EscrowEmergencyWithdrawResult{}, err
		}
		return nil, EscrowEmergencyWithdrawResult{Identity: input.Identity, Withdrawn: withdrawn}, nil
	}
}

// EscrowBalanceInput represents the MCP tool input for a balance read.
type EscrowBalanceInput struct {
	Identity string `json:"identity" jsonschema:"depositor identity"`
}

// EscrowBalanceResult represents the MCP tool output for a balance read.
type EscrowBalanceResult struct {
	Identity string `json:"identity" jsonschema:"depositor identity"`
	Balance  int64  `json:"balance" jsonschema:"custodied balance, zero when unknown"`
}

// EscrowBalanceTool defines the MCP tool schema for a balance read.
func EscrowBalanceTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "escrow_balance",
		Description: "Returns a depositor's custodied balance.",
	}
}

// EscrowBalanceHandler executes a balance read.
func EscrowBalanceHandler(svc *escrow.Service) mcp.ToolHandlerFor[EscrowBalanceInput, EscrowBalanceResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input EscrowBalanceInput) (*mcp.CallToolResult, EscrowBalanceResult, error) {
		balance, err := svc.GetUserBalance(ctx, input.Identity)
		if err != nil {
			return nil, EscrowBalanceResult{}, err
		}
		return nil, EscrowBalanceResult{Identity: input.Identity, Balance: balance}, nil
	}
}

// EscrowLastActiveInput represents the MCP tool input for a heartbeat read.
type EscrowLastActiveInput struct{}

// EscrowLastActiveResult represents the MCP tool output for a heartbeat read.
type EscrowLastActiveResult struct {
	LastActiveAt string `json:"last_active_at" jsonschema:"RFC3339 timestamp of the administrator's last action, empty when the ledger is uninitialized"`
}

// EscrowLastActiveTool defines the MCP tool schema for a heartbeat read.
func EscrowLastActiveTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "escrow_last_active",
		Description: "Returns the administrator's last-active timestamp gating emergency withdrawals.",
	}
}

// EscrowLastActiveHandler executes a heartbeat read.
func EscrowLastActiveHandler(svc *escrow.Service) mcp.ToolHandlerFor[EscrowLastActiveInput, EscrowLastActiveResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EscrowLastActiveInput) (*mcp.CallToolResult, EscrowLastActiveResult, error) {
		last, err := svc.GetLastActiveTimestamp(ctx)
		if err != nil {
			return nil, EscrowLastActiveResult{}, err
		}
		result := EscrowLastActiveResult{}
		if !last.IsZero() {
			result.LastActiveAt = last.Format(time.RFC3339)
		}
		return nil, result, nil
	}
}
