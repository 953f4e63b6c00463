package service

import "errors"

var (
	// ErrInvalidTransition rejects lifecycle or payment status changes that
	// violate the state machine.
	ErrInvalidTransition = errors.New("status transition not allowed")

	// ErrForbidden rejects deleting a paid booking that is still confirmed
	// or completed.
	ErrForbidden = errors.New("operation not allowed for this booking")

	// ErrValidationFailed rejects malformed booking input before any write.
	ErrValidationFailed = errors.New("booking validation failed")

	// ErrRateLimited rejects payment attempts above the per-user budget.
	ErrRateLimited = errors.New("too many payment attempts, try again later")
)
