package outbox

import (
	"encoding/json"
	"errors"
	"time"
)

// TopicDealStatusChanged is emitted whenever a deal's business status moves.
const TopicDealStatusChanged = "deal.status_changed"

// Message is one outbox row.
type Message struct {
	ID        int64
	Topic     string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// DealStatusChanged is the payload of TopicDealStatusChanged.
type DealStatusChanged struct {
	DealID         string `json:"deal_id"`
	PreviousStatus string `json:"previous_status,omitempty"`
	NextStatus     string `json:"next_status,omitempty"`
}

// ErrPermanent marks a handler failure that retrying cannot fix.
var ErrPermanent = errors.New("outbox: permanent failure")

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() []error { return []error{ErrPermanent, e.err} }

// Permanent wraps err so the dispatcher dead-letters the message right away.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}
