package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Circle errors
	CodeCircleNotFound            Code = "CIRCLE_NOT_FOUND"
	CodeCircleAdminRequired       Code = "CIRCLE_ADMIN_REQUIRED"
	CodeCircleInvalidContribution Code = "CIRCLE_INVALID_CONTRIBUTION"
	CodeCircleAlreadyJoined       Code = "CIRCLE_ALREADY_JOINED"
	CodeCircleMaxMembersReached   Code = "CIRCLE_MAX_MEMBERS_REACHED"
	CodeCircleNotFinalized        Code = "CIRCLE_NOT_FINALIZED"
	CodeCircleCycleNotComplete    Code = "CIRCLE_CYCLE_NOT_COMPLETE"

	// Escrow errors
	CodeEscrowNotInitialized Code = "ESCROW_NOT_INITIALIZED"
	CodeEscrowInvalidAmount  Code = "ESCROW_INVALID_AMOUNT"
	CodeEscrowNotYetEligible Code = "ESCROW_NOT_YET_ELIGIBLE"
	CodeEscrowTransferFailed Code = "ESCROW_TRANSFER_FAILED"

	// Authorization errors
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeIdentityRequired Code = "IDENTITY_REQUIRED"
	CodeGrantInvalid     Code = "AUTH_GRANT_INVALID"
	CodeGrantExpired     Code = "AUTH_GRANT_EXPIRED"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeCircleAdminRequired,
		CodeCircleInvalidContribution,
		CodeEscrowInvalidAmount,
		CodeIdentityRequired:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeCircleAlreadyJoined,
		CodeCircleMaxMembersReached,
		CodeCircleNotFinalized,
		CodeCircleCycleNotComplete,
		CodeEscrowNotInitialized,
		CodeEscrowNotYetEligible:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeCircleNotFound:
		return codes.NotFound

	case CodeUnauthorized:
		return codes.PermissionDenied

	case CodeGrantInvalid, CodeGrantExpired:
		return codes.Unauthenticated

	case CodeEscrowTransferFailed:
		return codes.Aborted

	default:
		return codes.Internal
	}
}
