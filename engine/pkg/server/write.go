package server

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

type buyRequest struct {
	Buyer    common.Address `json:"buyer"`
	Category uint8          `json:"category"`
	Amount   uint64         `json:"amount"`
}

func (s *Server) handleBuyTickets(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.node.Engine.BuyTicket(r.Context(), req.Buyer, req.Category, req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, newPurchaseView(p))
}

type claimRequest struct {
	Caller   common.Address `json:"caller"`
	RoundIDs []uint64       `json:"round_ids"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.node.Engine.ClaimRewards(r.Context(), req.Caller, req.RoundIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newClaimResultView(res))
}
