package briefing

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound        = errors.New("briefing session not found")
	ErrDuplicateSession       = errors.New("client already has an active briefing session")
	ErrConcurrentModification = errors.New("briefing session modified concurrently")
	ErrAlreadyTerminal        = errors.New("briefing session already closed")
	ErrEmptyTemplate          = errors.New("template version has no questions")
)

// DuplicateSessionError points the caller at the session it should resume.
type DuplicateSessionError struct {
	SessionID string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDuplicateSession, e.SessionID)
}

func (e *DuplicateSessionError) Unwrap() error { return ErrDuplicateSession }

// MessagingDeliveryError is returned after the state change was committed but
// the outbound reply could not be delivered. The outbox keeps the message for
// redelivery under the same idempotency key.
type MessagingDeliveryError struct {
	SessionID      string
	IdempotencyKey string
	Err            error
}

func (e *MessagingDeliveryError) Error() string {
	return fmt.Sprintf("session %s: reply %s not delivered: %v", e.SessionID, e.IdempotencyKey, e.Err)
}

func (e *MessagingDeliveryError) Unwrap() error { return e.Err }
