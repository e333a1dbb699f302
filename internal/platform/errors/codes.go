// Package errors provides structured domain errors with machine-readable
// codes.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unclassified error.
	CodeUnknown Code = "UNKNOWN"

	// Authorization errors
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeGuildTooSmall Code = "GUILD_TOO_SMALL"

	// Staking errors
	CodeInsufficientStake Code = "INSUFFICIENT_STAKE"
	CodeInsufficientFunds Code = "INSUFFICIENT_FUNDS"

	// Territory control errors
	CodeCellNotFound      Code = "CELL_NOT_FOUND"
	CodeNotControlled     Code = "NOT_CONTROLLED"
	CodeAlreadyControlled Code = "ALREADY_CONTROLLED"

	// Challenge errors
	CodeSelfChallenge            Code = "SELF_CHALLENGE"
	CodeChallengeInProgress      Code = "CHALLENGE_IN_PROGRESS"
	CodeChallengeNotFound        Code = "CHALLENGE_NOT_FOUND"
	CodeChallengeClosed          Code = "CHALLENGE_CLOSED"
	CodeContributionSideMismatch Code = "CONTRIBUTION_SIDE_MISMATCH"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeUnauthorized:
		return codes.PermissionDenied
	case CodeGuildTooSmall,
		CodeInsufficientStake,
		CodeSelfChallenge,
		CodeContributionSideMismatch:
		return codes.InvalidArgument
	case CodeInsufficientFunds:
		return codes.FailedPrecondition
	case CodeCellNotFound,
		CodeNotControlled,
		CodeChallengeNotFound:
		return codes.NotFound
	case CodeAlreadyControlled,
		CodeChallengeInProgress:
		return codes.AlreadyExists
	case CodeChallengeClosed:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}
