package dealchat

import (
	"context"
	"time"

	"github.com/oktaras/ad-marketplace-backend-sub000/bridge"
	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
)

// Diagnostics is the requester's view of a deal chat.
type Diagnostics struct {
	DealID             string        `json:"deal_id"`
	DealStatus         deal.Status   `json:"deal_status"`
	Status             bridge.Status `json:"status"`
	Side               deal.Side     `json:"side"`
	Thread             *int64        `json:"thread_id,omitempty"`
	ThreadOpenedAt     *time.Time    `json:"thread_opened_at,omitempty"`
	ThreadReachable    bool          `json:"thread_reachable"`
	ProbeError         string        `json:"probe_error,omitempty"`
	CounterpartyOpened bool          `json:"counterparty_opened"`
	ClosedAt           *time.Time    `json:"closed_at,omitempty"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Diagnostics reports the bridge state and the strict reachability of the
// requester's own thread. It never creates or rebinds threads.
func (s *Service) Diagnostics(ctx context.Context, dealID string, requesterID int64) (Diagnostics, error) {
	d, err := s.bridges.LoadDeal(ctx, dealID)
	if err != nil {
		return Diagnostics{}, s.mapDealErr(err)
	}
	partyID, side, err := s.participant(ctx, requesterID, d)
	if err != nil {
		return Diagnostics{}, err
	}

	res, err := s.refresh(ctx, dealID)
	if err != nil {
		return Diagnostics{}, s.mapDealErr(err)
	}
	b := res.Bridge

	out := Diagnostics{
		DealID:             dealID,
		DealStatus:         res.Deal.Status,
		Status:             b.Status,
		Side:               side,
		Thread:             b.Thread(side),
		ThreadOpenedAt:     b.OpenedAt(side),
		CounterpartyOpened: b.Thread(side.Counterparty()) != nil,
		ClosedAt:           b.ClosedAt,
		UpdatedAt:          b.UpdatedAt,
	}
	if out.Thread == nil {
		return out, nil
	}

	chatID, err := s.identity.ChatIDForParty(ctx, partyID)
	if err != nil {
		out.ProbeError = err.Error()
		return out, nil
	}
	reachable, err := s.probe(ctx, chatID, *out.Thread, true)
	out.ThreadReachable = reachable
	if err != nil {
		out.ProbeError = err.Error()
	}
	return out, nil
}
