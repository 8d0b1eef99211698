package server

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/malbeclabs/lottery/engine/pkg/events"
	"github.com/malbeclabs/lottery/engine/pkg/fee"
	"github.com/malbeclabs/lottery/engine/pkg/journal"
	"github.com/malbeclabs/lottery/engine/pkg/lottery"
	"github.com/malbeclabs/lottery/engine/pkg/token"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 1000
)

func uintParam(r *http.Request, name string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, bits)
	if err != nil {
		return 0, badRequest("invalid %s", name)
	}
	return v, nil
}

func addressParam(r *http.Request) (common.Address, error) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		return common.Address{}, badRequest("invalid address %q", raw)
	}
	return common.HexToAddress(raw), nil
}

func uintQuery(r *http.Request, name string, def uint64) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest("invalid %s", name)
	}
	return v, nil
}

func pageQuery(r *http.Request) (offset, limit uint64, err error) {
	if offset, err = uintQuery(r, "offset", 0); err != nil {
		return 0, 0, err
	}
	if limit, err = uintQuery(r, "limit", defaultPageLimit); err != nil {
		return 0, 0, err
	}
	return offset, min(limit, maxPageLimit), nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.node.Engine.Stats()
	subID := s.node.Oracle.Params().SubscriptionID
	s.writeJSON(w, http.StatusOK, statsView{
		TotalRounds:         st.TotalRounds,
		StoredFee:           token.FormatUnits(st.StoredFee),
		EscrowedPrizes:      token.FormatUnits(st.EscrowedPrizes),
		AutoRefillEnabled:   st.AutoRefillEnabled,
		FeeInterest:         st.FeeInterest,
		TreasuryTotal:       token.FormatUnits(s.node.Vault.Total()),
		SubscriptionBalance: token.FormatUnits(s.node.Coordinator.SubscriptionBalance(subID)),
		PendingRequests:     len(s.node.Coordinator.Pending()),
	})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats := s.node.Engine.Categories()
	out := make([]categoryView, 0, len(cats))
	for _, c := range cats {
		out = append(out, newCategoryView(c))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleActiveRound(w http.ResponseWriter, r *http.Request) {
	category, err := uintParam(r, "category", 8)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, ok, err := s.node.Engine.ActiveRoundID(uint8(category))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no active round"})
		return
	}
	round, _ := s.node.Engine.Round(id)
	s.writeJSON(w, http.StatusOK, newRoundView(round))
}

func (s *Server) handleFee(w http.ResponseWriter, r *http.Request) {
	tickets, err := uintQuery(r, "tickets", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	price, err := token.ParseUnits(r.URL.Query().Get("price"))
	if err != nil {
		s.writeError(w, r, badRequest("invalid price: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, feeView{
		Tickets: tickets,
		Price:   token.FormatUnits(price),
		Cost:    token.FormatUnits(fee.TicketCost(tickets, price)),
		Fee:     token.FormatUnits(s.node.Engine.ProtocolFee(tickets, price)),
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asset := s.node.Engine.PaymentToken()
	if raw := r.URL.Query().Get("asset"); raw != "" {
		if !common.IsHexAddress(raw) {
			s.writeError(w, r, badRequest("invalid asset %q", raw))
			return
		}
		asset = common.HexToAddress(raw)
	}
	s.writeJSON(w, http.StatusOK, balanceView{
		Address: addr.Hex(),
		Asset:   asset.Hex(),
		Balance: token.FormatUnits(s.node.Bank.BalanceOf(asset, addr)),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.node.Journal == nil {
		s.writeError(w, r, errJournalDisabled)
		return
	}
	q := r.URL.Query()
	after, err := uintQuery(r, "after", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := uintQuery(r, "limit", journal.DefaultListLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f := journal.Filter{
		Kind:     events.Kind(q.Get("kind")),
		AfterSeq: after,
		Limit:    int(min(limit, journal.MaxListLimit)),
	}
	if q.Get("round") != "" {
		round, err := uintQuery(r, "round", 0)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		f.RoundID = &round
	}
	evs, err := s.node.Journal.List(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleRounds(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := pageQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if limit == 0 {
		s.writeJSON(w, http.StatusOK, []roundView{})
		return
	}
	s.writeJSON(w, http.StatusOK, newRoundViews(s.node.Engine.Rounds(offset, limit)))
}

func (s *Server) handleUnclaimedRounds(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := pageQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newRoundViews(s.node.Reader.UnclaimedRounds(r.Context(), offset, limit)))
}

func (s *Server) round(w http.ResponseWriter, r *http.Request) (lottery.Round, bool) {
	id, err := uintParam(r, "id", 64)
	if err != nil {
		s.writeError(w, r, err)
		return lottery.Round{}, false
	}
	round, ok := s.node.Engine.Round(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "round not found"})
		return lottery.Round{}, false
	}
	return round, true
}

func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	round, ok := s.round(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, newRoundView(round))
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	round, ok := s.round(w, r)
	if !ok {
		return
	}
	slots := s.node.Engine.Participants(round.ID)
	v := participantsView{
		RoundID:     round.ID,
		Tickets:     make([]string, 0, round.PurchasedTickets),
		Checkpoints: []checkpointView{},
	}
	for _, owner := range slots[:round.PurchasedTickets] {
		v.Tickets = append(v.Tickets, owner.Hex())
	}
	for _, cp := range s.node.Engine.Checkpoints(round.ID) {
		v.Checkpoints = append(v.Checkpoints, checkpointView{Buyer: cp.Buyer.Hex(), Cumulative: cp.Cumulative})
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleTicketOwner(w http.ResponseWriter, r *http.Request) {
	round, ok := s.round(w, r)
	if !ok {
		return
	}
	index, err := uintParam(r, "index", 64)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	v := ownerView{RoundID: round.ID, Index: index}
	if owner := s.node.Engine.TicketOwner(round.ID, index); owner != (common.Address{}) {
		v.Owner = owner.Hex()
	}
	s.writeJSON(w, http.StatusOK, v)
}

type accountQuery func(r *http.Request, user common.Address, offset, limit uint64) []lottery.Round

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request, query accountQuery) {
	user, err := addressParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, limit, err := pageQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newRoundViews(query(r, user, offset, limit)))
}

func (s *Server) handleParticipated(w http.ResponseWriter, r *http.Request) {
	s.handleAccount(w, r, func(r *http.Request, user common.Address, offset, limit uint64) []lottery.Round {
		return s.node.Reader.ParticipatedRounds(r.Context(), user, offset, limit)
	})
}

func (s *Server) handleWon(w http.ResponseWriter, r *http.Request) {
	s.handleAccount(w, r, func(r *http.Request, user common.Address, offset, limit uint64) []lottery.Round {
		return s.node.Reader.WonRounds(r.Context(), user, offset, limit)
	})
}

func (s *Server) handleUnclaimedWon(w http.ResponseWriter, r *http.Request) {
	s.handleAccount(w, r, func(r *http.Request, user common.Address, offset, limit uint64) []lottery.Round {
		return s.node.Reader.UnclaimedWonRounds(r.Context(), user, offset, limit)
	})
}
