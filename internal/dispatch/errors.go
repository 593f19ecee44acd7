package dispatch

import (
	"fmt"

	"github.com/ignite/newsletter-dispatch/internal/archive"
)

// ContentError reports a terminal content or record problem: the HTML
// artifact is missing or the record fails schema validation. Not retried
// within an invocation.
type ContentError struct {
	Coords archive.Coordinates
	Err    error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("campaign %s: %v", e.Coords, e.Err)
}

func (e *ContentError) Unwrap() error { return e.Err }

// CreateError reports a failed create phase. No broadcast exists in the
// provider, so the next trigger run can safely retry from scratch.
type CreateError struct {
	Coords archive.Coordinates
	Err    error
}

func (e *CreateError) Error() string {
	return fmt.Sprintf("campaign %s: creating broadcast: %v", e.Coords, e.Err)
}

func (e *CreateError) Unwrap() error { return e.Err }

// SendPhaseError reports a failed send phase after a successful create. The
// broadcast identified by BroadcastID exists unsent in the provider; blindly
// retrying would create a second one, so the id is surfaced for an operator
// to resolve.
type SendPhaseError struct {
	Coords      archive.Coordinates
	BroadcastID string
	Err         error
}

func (e *SendPhaseError) Error() string {
	return fmt.Sprintf("campaign %s: sending broadcast %s failed (orphaned broadcast %s left in provider): %v",
		e.Coords, e.BroadcastID, e.BroadcastID, e.Err)
}

func (e *SendPhaseError) Unwrap() error { return e.Err }

// StoreUpdateError reports a failed status write-back after a successful
// send. The idempotency guard was not persisted: the next trigger run may
// re-select and double-send this campaign unless the record is fixed first.
type StoreUpdateError struct {
	Coords      archive.Coordinates
	BroadcastID string
	Err         error
}

func (e *StoreUpdateError) Error() string {
	return fmt.Sprintf("campaign %s: send succeeded (broadcast %s) but status write-back failed: %v",
		e.Coords, e.BroadcastID, e.Err)
}

func (e *StoreUpdateError) Unwrap() error { return e.Err }
