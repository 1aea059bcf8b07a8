package rpc

import (
	"math/big"
	"net/http"

	"otcdesk/native/otc"
)

type createOfferParams struct {
	Beneficiary   string `json:"beneficiary"`
	Token         string `json:"token"`
	TokenAmount   string `json:"tokenAmount"`
	DiscountBps   uint16 `json:"discountBps"`
	LockupSecs    int64  `json:"lockupSecs"`
	Currency      string `json:"currency"`
	CommissionBps uint16 `json:"commissionBps"`
}

func (s *Server) decodeOfferParams(w http.ResponseWriter, req *RPCRequest, params *createOfferParams) (otc.OfferParams, bool) {
	beneficiary, err := parseAddress(params.Beneficiary)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid beneficiary address", err.Error())
		return otc.OfferParams{}, false
	}
	amount, err := parseAmount(params.TokenAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return otc.OfferParams{}, false
	}
	currency, err := parseCurrency(params.Currency)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return otc.OfferParams{}, false
	}
	return otc.OfferParams{
		Beneficiary:   beneficiary,
		Token:         params.Token,
		TokenAmount:   amount,
		DiscountBps:   params.DiscountBps,
		LockupSecs:    params.LockupSecs,
		Currency:      currency,
		CommissionBps: params.CommissionBps,
	}, true
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, req *RPCRequest) {
	var params createOfferParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	engineParams, ok := s.decodeOfferParams(w, req, &params)
	if !ok {
		return
	}
	offer, err := s.node.CreateOffer(engineParams)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, offerResult(offer))
}

type createConsignmentOfferParams struct {
	ConsignmentID uint64 `json:"consignmentId"`
	createOfferParams
}

func (s *Server) handleCreateOfferFromConsignment(w http.ResponseWriter, req *RPCRequest) {
	var params createConsignmentOfferParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	engineParams, ok := s.decodeOfferParams(w, req, &params.createOfferParams)
	if !ok {
		return
	}
	offer, err := s.node.CreateOfferFromConsignment(params.ConsignmentID, engineParams)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, offerResult(offer))
}

type offerActionParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

func (s *Server) offerAction(w http.ResponseWriter, req *RPCRequest, action func(caller [20]byte, id uint64) error) {
	var params offerActionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := action(caller, params.ID); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleApproveOffer(w http.ResponseWriter, req *RPCRequest) {
	s.offerAction(w, req, s.node.ApproveOffer)
}

func (s *Server) handleCancelOffer(w http.ResponseWriter, req *RPCRequest) {
	s.offerAction(w, req, s.node.CancelOffer)
}

type getOfferParams struct {
	ID uint64 `json:"id"`
}

func (s *Server) handleGetOffer(w http.ResponseWriter, req *RPCRequest) {
	var params getOfferParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	offer, err := s.node.GetOffer(params.ID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, offerResult(offer))
}

// --- settlement ---

func (s *Server) offerSettlement(w http.ResponseWriter, req *RPCRequest, settle func(payer [20]byte, id uint64) (*otc.Offer, error)) {
	var params offerActionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	offer, err := settle(caller, params.ID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, offerResult(offer))
}

func (s *Server) handleFulfillOfferStable(w http.ResponseWriter, req *RPCRequest) {
	s.offerSettlement(w, req, s.node.FulfillOfferStable)
}

func (s *Server) handleFulfillOfferNative(w http.ResponseWriter, req *RPCRequest) {
	s.offerSettlement(w, req, s.node.FulfillOfferNative)
}

func (s *Server) handleClaimOffer(w http.ResponseWriter, req *RPCRequest) {
	s.offerSettlement(w, req, s.node.Claim)
}

func (s *Server) handleEmergencyRefund(w http.ResponseWriter, req *RPCRequest) {
	s.offerSettlement(w, req, s.node.EmergencyRefund)
}

type treasuryWithdrawParams struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) treasuryWithdraw(w http.ResponseWriter, req *RPCRequest, withdraw func(caller, to [20]byte, amount *big.Int) error) {
	var params treasuryWithdrawParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	to, err := parseAddress(params.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid destination address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := withdraw(caller, to, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleWithdrawStable(w http.ResponseWriter, req *RPCRequest) {
	s.treasuryWithdraw(w, req, s.node.WithdrawStable)
}

func (s *Server) handleWithdrawNative(w http.ResponseWriter, req *RPCRequest) {
	s.treasuryWithdraw(w, req, s.node.WithdrawNative)
}

// --- accounts ---

type getBalanceParams struct {
	Address string `json:"address"`
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	var params getBalanceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "failed to decode address", err.Error())
		return
	}
	account, err := s.node.GetAccount(addr[:])
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load account", err.Error())
		return
	}
	tokens := make(map[string]string, len(account.Tokens))
	for symbol, balance := range account.Tokens {
		tokens[symbol] = encodeAmount(balance)
	}
	writeResult(w, req.ID, BalanceResult{
		Address:       params.Address,
		BalanceNative: encodeAmount(account.BalanceNative),
		Tokens:        tokens,
		Nonce:         account.Nonce,
	})
}
