package deal

import "time"

// Status is the business workflow status of a deal. Transitions are owned by
// the deal workflow; this package only reads it.
type Status string

const (
	StatusCreated         Status = "CREATED"
	StatusNegotiating     Status = "NEGOTIATING"
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusFunded          Status = "FUNDED"
	StatusCreativeReview  Status = "CREATIVE_REVIEW"
	StatusScheduled       Status = "SCHEDULED"
	StatusPosted          Status = "POSTED"
	StatusVerified        Status = "VERIFIED"
	StatusDisputed        Status = "DISPUTED"
	StatusCompleted       Status = "COMPLETED"
	StatusCancelled       Status = "CANCELLED"
	StatusExpired         Status = "EXPIRED"
	StatusRefunded        Status = "REFUNDED"
	StatusResolved        Status = "RESOLVED"
)

// IsTerminal reports whether no further chat relay may happen for a deal in
// this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired, StatusRefunded, StatusResolved:
		return true
	default:
		return false
	}
}

// Side identifies one of the two parties of a deal.
type Side string

const (
	// SideA is the advertiser.
	SideA Side = "A"
	// SideB is the publisher.
	SideB Side = "B"
)

func (s Side) Valid() bool {
	return s == SideA || s == SideB
}

// Counterparty returns the opposite side.
func (s Side) Counterparty() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// Deal mirrors the deals table columns the chat bridge reads.
type Deal struct {
	ID        string
	PartyAID  string
	PartyBID  string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SideOf returns the side owned by partyID, or false when partyID is not a
// participant of the deal.
func (d Deal) SideOf(partyID string) (Side, bool) {
	switch {
	case partyID == "":
		return "", false
	case partyID == d.PartyAID:
		return SideA, true
	case partyID == d.PartyBID:
		return SideB, true
	default:
		return "", false
	}
}

// PartyID returns the internal user id owning side.
func (d Deal) PartyID(side Side) string {
	if side == SideA {
		return d.PartyAID
	}
	return d.PartyBID
}
