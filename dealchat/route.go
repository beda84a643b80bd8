package dealchat

import (
	"context"
	"fmt"

	"github.com/oktaras/ad-marketplace-backend-sub000/bridge"
	"github.com/oktaras/ad-marketplace-backend-sub000/deal"
)

// Route is where an inbound message from one party goes.
type Route struct {
	DealID              string
	SenderPartyID       string
	Side                deal.Side
	Counterparty        deal.Side
	CounterpartyPartyID string
	// CounterpartyThread may be nil when the counterparty has not opened yet.
	CounterpartyThread *int64
	Status             bridge.Status
	RelayPermitted     bool
}

// ResolveRoute maps (sender, inbound thread) to a deal and direction. When
// the thread id matches more than one bridge the most recently updated one
// wins and the ambiguity is logged for audit.
func (s *Service) ResolveRoute(ctx context.Context, senderID, threadID int64) (Route, error) {
	partyID, err := s.resolveSender(ctx, senderID)
	if err != nil {
		return Route{}, err
	}
	if threadID == 0 {
		return Route{}, ErrNoRoute
	}

	candidates, err := s.bridges.Candidates(ctx, threadID, partyID, routeCandidateLimit)
	if err != nil {
		return Route{}, fmt.Errorf("dealchat: find route: %w", err)
	}
	if len(candidates) == 0 {
		return Route{}, ErrNoRoute
	}
	if len(candidates) > 1 {
		s.logAmbiguousRoute(threadID, partyID, candidates)
	}
	top := candidates[0]

	res, err := s.refresh(ctx, top.Bridge.DealID)
	if err != nil {
		return Route{}, fmt.Errorf("dealchat: refresh bridge: %w", err)
	}
	if res.Deal.PartyID(top.Side) != partyID {
		return Route{}, ErrNotParticipant
	}

	cp := top.Side.Counterparty()
	route := Route{
		DealID:              res.Bridge.DealID,
		SenderPartyID:       partyID,
		Side:                top.Side,
		Counterparty:        cp,
		CounterpartyPartyID: res.Deal.PartyID(cp),
		CounterpartyThread:  res.Bridge.Thread(cp),
		Status:              res.Bridge.Status,
	}
	route.RelayPermitted = route.Status == bridge.StatusActive && route.CounterpartyThread != nil
	return route, nil
}

func (s *Service) logAmbiguousRoute(threadID int64, partyID string, candidates []bridge.Candidate) {
	listing := make([]map[string]any, 0, len(candidates))
	for i, c := range candidates {
		listing = append(listing, map[string]any{
			"rank":       i,
			"bridge_id":  c.Bridge.ID,
			"deal_id":    c.Bridge.DealID,
			"side":       string(c.Side),
			"status":     string(c.Bridge.Status),
			"updated_at": c.Bridge.UpdatedAt,
			"created_at": c.Bridge.CreatedAt,
		})
	}
	s.logger.Error("deal_chat_route_ambiguous",
		"thread_id", threadID,
		"party_id", partyID,
		"chosen_deal_id", candidates[0].Bridge.DealID,
		"candidates", listing,
	)
}
