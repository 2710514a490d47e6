// Package mcp exposes circle and escrow operations as MCP tools over stdio.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/esusuhq/esusu/internal/auth"
	circleservice "github.com/esusuhq/esusu/internal/circle/service"
	"github.com/esusuhq/esusu/internal/escrow"
)

const (
	// serverName identifies this MCP server to clients.
	serverName = "esusu"
	// serverVersion identifies the MCP server version.
	serverVersion = "0.1.0"
)

// CallContext decorates a tool invocation context before it reaches a
// service, typically attaching the caller's identity grant.
type CallContext func(ctx context.Context) context.Context

// PassthroughContext is a CallContext that leaves the context unchanged.
func PassthroughContext(ctx context.Context) context.Context { return ctx }

// GrantContext returns a CallContext that attaches a serialized identity
// grant to every invocation.
func GrantContext(grant string) CallContext {
	if grant == "" {
		return PassthroughContext
	}
	return func(ctx context.Context) context.Context {
		return auth.WithGrant(ctx, grant)
	}
}

// Server hosts the MCP server.
type Server struct {
	mcpServer *mcp.Server
}

// New creates a configured MCP server backed by the circle and escrow
// services. callCtx decorates mutating invocations; PassthroughContext is
// used when nil.
func New(circleSvc *circleservice.Service, escrowSvc *escrow.Service, callCtx CallContext) *Server {
	if callCtx == nil {
		callCtx = PassthroughContext
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)

	mcp.AddTool(mcpServer, CircleCreateTool(), CircleCreateHandler(circleSvc, callCtx))
	mcp.AddTool(mcpServer, CircleJoinTool(), CircleJoinHandler(circleSvc, callCtx))
	mcp.AddTool(mcpServer, CircleFinalizeTool(), CircleFinalizeHandler(circleSvc, callCtx))
	mcp.AddTool(mcpServer, CirclePayoutTool(), CirclePayoutHandler(circleSvc, callCtx))
	mcp.AddTool(mcpServer, CircleRolloverTool(), CircleRolloverHandler(circleSvc, callCtx))
	mcp.AddTool(mcpServer, CircleQueueTool(), CircleQueueHandler(circleSvc))
	mcp.AddTool(mcpServer, CircleInfoTool(), CircleInfoHandler(circleSvc))
	mcp.AddTool(mcpServer, CirclePayoutStatusTool(), CirclePayoutStatusHandler(circleSvc))
	mcp.AddTool(mcpServer, CircleListTool(), CircleListHandler(circleSvc))

	mcp.AddTool(mcpServer, EscrowInitializeTool(), EscrowInitializeHandler(escrowSvc, callCtx))
	mcp.AddTool(mcpServer, EscrowAdminActionTool(), EscrowAdminActionHandler(escrowSvc, callCtx))
	mcp.AddTool(mcpServer, EscrowDepositTool(), EscrowDepositHandler(escrowSvc, callCtx))
	mcp.AddTool(mcpServer, EscrowEmergencyWithdrawTool(), EscrowEmergencyWithdrawHandler(escrowSvc, callCtx))
	mcp.AddTool(mcpServer, EscrowBalanceTool(), EscrowBalanceHandler(escrowSvc))
	mcp.AddTool(mcpServer, EscrowLastActiveTool(), EscrowLastActiveHandler(escrowSvc))

	return &Server{mcpServer: mcpServer}
}

// Run serves MCP over stdio until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	if s == nil || s.mcpServer == nil {
		return fmt.Errorf("mcp server is not configured")
	}
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("serve mcp: %w", err)
	}
	return nil
}
