package domain

import (
	"fmt"

	"github.com/containerd/errdefs"
)

// Sentinel errors for the engine's failure taxonomy. Each wraps an errdefs
// class so callers can match either the specific sentinel or the class:
//
//	errors.Is(err, domain.ErrAlreadyClaimed)
//	errdefs.IsAlreadyExists(err)
var (
	// Authorization failures (wrong role for the operation).
	ErrNotOwner       = fmt.Errorf("caller is not an owner: %w", errdefs.ErrPermissionDenied)
	ErrNotGovernor    = fmt.Errorf("caller is not a governor: %w", errdefs.ErrPermissionDenied)
	ErrNotBackend     = fmt.Errorf("caller is not an authorized backend: %w", errdefs.ErrPermissionDenied)
	ErrNotSessionUser = fmt.Errorf("caller is not the session user: %w", errdefs.ErrPermissionDenied)

	// Lookup failures.
	ErrProposalNotFound = fmt.Errorf("proposal not found: %w", errdefs.ErrNotFound)
	ErrSessionNotFound  = fmt.Errorf("session not found: %w", errdefs.ErrNotFound)

	// Exactly-once violations.
	ErrAlreadySigned   = fmt.Errorf("proposal already signed by caller: %w", errdefs.ErrAlreadyExists)
	ErrAlreadyVoted    = fmt.Errorf("proposal already voted by caller: %w", errdefs.ErrAlreadyExists)
	ErrAlreadyExecuted = fmt.Errorf("proposal already executed: %w", errdefs.ErrAlreadyExists)
	ErrAlreadyClaimed  = fmt.Errorf("reward already claimed: %w", errdefs.ErrAlreadyExists)

	// Lifecycle phase violations.
	ErrSessionNotOpen  = fmt.Errorf("session is not open: %w", errdefs.ErrFailedPrecondition)
	ErrSessionNotEnded = fmt.Errorf("session is not ended: %w", errdefs.ErrFailedPrecondition)
	ErrThresholdNotMet = fmt.Errorf("signature threshold not met: %w", errdefs.ErrFailedPrecondition)

	// Economic precondition.
	ErrInsufficientFunds = fmt.Errorf("insufficient treasury funds: %w", errdefs.ErrResourceExhausted)
)
