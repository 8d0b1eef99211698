package server

import (
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/malbeclabs/lottery/engine/pkg/refill"
	"github.com/malbeclabs/lottery/engine/pkg/token"
)

// Admin handlers act as the engine owner.

func (s *Server) owner() common.Address {
	return s.cfg.App.Engine.Owner
}

type okResponse struct {
	OK bool `json:"ok"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	category, err := uintParam(r, "category", 8)
	if err == nil {
		err = s.node.Engine.Pause(r.Context(), s.owner(), uint8(category))
	}
	s.respondAdmin(w, r, err)
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	category, err := uintParam(r, "category", 8)
	if err == nil {
		err = s.node.Engine.Unpause(r.Context(), s.owner(), uint8(category))
	}
	s.respondAdmin(w, r, err)
}

func (s *Server) respondAdmin(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleSetAutoRefill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	err := decodeBody(w, r, &req)
	if err == nil {
		err = s.node.Engine.SetAutoRefillEnabled(r.Context(), s.owner(), req.Enabled)
	}
	s.respondAdmin(w, r, err)
}

type swapConfigRequest struct {
	Router              common.Address   `json:"router"`
	Path                []common.Address `json:"path"`
	AmountOutMin        string           `json:"amount_out_min"`
	Deadline            string           `json:"deadline"`
	UseInternalExchange bool             `json:"use_internal_exchange"`
	BridgeSwap          common.Address   `json:"bridge_swap"`
	Coordinator         common.Address   `json:"coordinator"`
	BridgedToken        common.Address   `json:"bridged_token"`
	CanonicalToken      common.Address   `json:"canonical_token"`
	SubscriptionID      common.Hash      `json:"subscription_id"`
}

func (req swapConfigRequest) swapConfig() (refill.SwapConfig, error) {
	sc := refill.SwapConfig{
		Router:              req.Router,
		Path:                req.Path,
		UseInternalExchange: req.UseInternalExchange,
		BridgeSwap:          req.BridgeSwap,
		Coordinator:         req.Coordinator,
		BridgedToken:        req.BridgedToken,
		CanonicalToken:      req.CanonicalToken,
		SubscriptionID:      req.SubscriptionID,
	}
	if req.AmountOutMin != "" {
		v, err := token.ParseUnits(req.AmountOutMin)
		if err != nil {
			return sc, badRequest("invalid amount_out_min: %v", err)
		}
		sc.AmountOutMin = v
	}
	if req.Deadline != "" {
		d, err := time.ParseDuration(req.Deadline)
		if err != nil || d < 0 {
			return sc, badRequest("invalid deadline %q", req.Deadline)
		}
		sc.Deadline = d
	}
	return sc, nil
}

func (s *Server) handleSetSwapConfig(w http.ResponseWriter, r *http.Request) {
	var req swapConfigRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sc, err := req.swapConfig()
	if err == nil {
		err = s.node.Engine.SetSwapConfig(r.Context(), s.owner(), sc)
	}
	s.respondAdmin(w, r, err)
}

func (s *Server) handleSetFeeInterest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FeeInterest uint64 `json:"fee_interest"`
	}
	err := decodeBody(w, r, &req)
	if err == nil {
		err = s.node.Engine.SetFeeInterest(r.Context(), s.owner(), req.FeeInterest)
	}
	s.respondAdmin(w, r, err)
}

func parseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, badRequest("amount is required")
	}
	v, err := token.ParseUnits(raw)
	if err != nil {
		return nil, badRequest("invalid amount: %v", err)
	}
	return v, nil
}

type withdrawRequest struct {
	// Asset defaults to the payment token.
	Asset    common.Address `json:"asset"`
	Amount   string         `json:"amount"`
	Receiver common.Address `json:"receiver"`
}

func (s *Server) handleWithdrawExcess(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asset := req.Asset
	if asset == (common.Address{}) {
		asset = s.node.Engine.PaymentToken()
	}
	err = s.node.Engine.WithdrawExcess(r.Context(), s.owner(), asset, amount, req.Receiver)
	s.respondAdmin(w, r, err)
}

func (s *Server) handleWithdrawStoredFee(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount string `json:"amount"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err == nil {
		err = s.node.Engine.WithdrawStoredFee(r.Context(), s.owner(), amount)
	}
	s.respondAdmin(w, r, err)
}

func (s *Server) handleOracle(w http.ResponseWriter, r *http.Request) {
	engine := s.node.Engine.Address()
	s.writeJSON(w, http.StatusOK, struct {
		Params        any  `json:"params"`
		EngineAllowed bool `json:"engine_allowed"`
		Pending       int  `json:"pending"`
	}{
		Params:        s.node.Oracle.Params(),
		EngineAllowed: s.node.Oracle.IsAllowed(engine),
		Pending:       len(s.node.Coordinator.Pending()),
	})
}

type oracleParamsRequest struct {
	KeyHash              *common.Hash `json:"key_hash"`
	CallbackGasLimit     *uint32      `json:"callback_gas_limit"`
	RequestConfirmations *uint16      `json:"request_confirmations"`
	NumWords             *uint32      `json:"num_words"`
}

// handleSetOracleParams applies the fields present in the body in order and
// stops at the first rejected value.
func (s *Server) handleSetOracleParams(w http.ResponseWriter, r *http.Request) {
	var req oracleParamsRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	o, owner := s.node.Oracle, s.owner()
	var err error
	if req.KeyHash != nil {
		err = o.SetKeyHash(owner, *req.KeyHash)
	}
	if err == nil && req.CallbackGasLimit != nil {
		err = o.SetCallbackGasLimit(owner, *req.CallbackGasLimit)
	}
	if err == nil && req.RequestConfirmations != nil {
		err = o.SetRequestConfirmations(owner, *req.RequestConfirmations)
	}
	if err == nil && req.NumWords != nil {
		err = o.SetNumWords(owner, *req.NumWords)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, o.Params())
}

func (s *Server) handleSetAllowedCaller(w http.ResponseWriter, r *http.Request) {
	caller, err := addressParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Allowed bool `json:"allowed"`
	}
	err = decodeBody(w, r, &req)
	if err == nil {
		err = s.node.Oracle.SetAllowedCaller(s.owner(), caller, req.Allowed)
	}
	s.respondAdmin(w, r, err)
}

type fulfilRequest struct {
	RequestID uint64   `json:"request_id"`
	Words     []string `json:"words"`
}

// handleFulfil delivers caller-chosen words for one pending request.
func (s *Server) handleFulfil(w http.ResponseWriter, r *http.Request) {
	var req fulfilRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Words) == 0 {
		s.writeError(w, r, badRequest("words are required"))
		return
	}
	words := make([]*big.Int, 0, len(req.Words))
	for _, raw := range req.Words {
		v, ok := new(big.Int).SetString(raw, 10)
		if !ok || v.Sign() < 0 {
			s.writeError(w, r, badRequest("invalid word %q", raw))
			return
		}
		words = append(words, v)
	}
	err := s.node.Coordinator.Fulfill(r.Context(), req.RequestID, words)
	s.respondAdmin(w, r, err)
}

func (s *Server) handleFulfilPending(w http.ResponseWriter, r *http.Request) {
	n, err := s.node.FulfilPending(r.Context())
	if err != nil && n == 0 {
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		s.log.Warn("server: some pending requests were not fulfilled", "error", err)
	}
	s.writeJSON(w, http.StatusOK, struct {
		Fulfilled int `json:"fulfilled"`
	}{Fulfilled: n})
}

type faucetRequest struct {
	Address common.Address `json:"address"`
	// Amount defaults to the configured faucet amount.
	Amount string `json:"amount"`
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Address == (common.Address{}) {
		s.writeError(w, r, badRequest("address is required"))
		return
	}
	raw := req.Amount
	if raw == "" {
		raw = s.cfg.App.Faucet.Amount
	}
	amount, err := parseAmount(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asset := s.node.Engine.PaymentToken()
	if err := s.node.Bank.Mint(asset, req.Address, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("server: faucet minted", "address", req.Address.Hex(), "amount", token.FormatUnits(amount))
	s.writeJSON(w, http.StatusOK, balanceView{
		Address: req.Address.Hex(),
		Asset:   asset.Hex(),
		Balance: token.FormatUnits(s.node.Bank.BalanceOf(asset, req.Address)),
	})
}
