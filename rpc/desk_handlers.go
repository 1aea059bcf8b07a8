package rpc

import (
	"net/http"

	"otcdesk/native/otc"
)

type initDeskParams struct {
	Owner           string `json:"owner"`
	Agent           string `json:"agent"`
	StableSymbol    string `json:"stableSymbol"`
	StableDecimals  uint8  `json:"stableDecimals"`
	NativeDecimals  uint8  `json:"nativeDecimals"`
	MinUSD8d        uint64 `json:"minUsd"`
	QuoteExpirySecs int64  `json:"quoteExpirySecs"`
}

func (s *Server) handleInitDesk(w http.ResponseWriter, req *RPCRequest) {
	var params initDeskParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	owner, err := parseAddress(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid owner address", err.Error())
		return
	}
	agent, err := parseAddress(params.Agent)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid agent address", err.Error())
		return
	}
	desk, err := s.node.InitDesk(otc.DeskParams{
		Owner:           owner,
		Agent:           agent,
		StableSymbol:    params.StableSymbol,
		StableDecimals:  params.StableDecimals,
		NativeDecimals:  params.NativeDecimals,
		MinUSD8d:        params.MinUSD8d,
		QuoteExpirySecs: params.QuoteExpirySecs,
	})
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, deskResult(desk))
}

func (s *Server) handleGetDesk(w http.ResponseWriter, req *RPCRequest) {
	desk, err := s.node.GetDesk()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, deskResult(desk))
}

type transferOwnerParams struct {
	Caller   string `json:"caller"`
	NewOwner string `json:"newOwner"`
}

func (s *Server) handleTransferOwner(w http.ResponseWriter, req *RPCRequest) {
	var params transferOwnerParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	newOwner, err := parseAddress(params.NewOwner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid newOwner address", err.Error())
		return
	}
	if err := s.node.TransferOwner(caller, newOwner); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

type setAgentParams struct {
	Caller   string `json:"caller"`
	NewAgent string `json:"newAgent"`
}

func (s *Server) handleSetAgent(w http.ResponseWriter, req *RPCRequest) {
	var params setAgentParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	newAgent, err := parseAddress(params.NewAgent)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid newAgent address", err.Error())
		return
	}
	if err := s.node.SetAgent(caller, newAgent); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

type setApproverParams struct {
	Caller   string `json:"caller"`
	Approver string `json:"approver"`
	Allowed  bool   `json:"allowed"`
}

func (s *Server) handleSetApprover(w http.ResponseWriter, req *RPCRequest) {
	var params setApproverParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	approver, err := parseAddress(params.Approver)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid approver address", err.Error())
		return
	}
	if err := s.node.SetApprover(caller, approver, params.Allowed); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

type setLimitsParams struct {
	Caller                 string `json:"caller"`
	MinUSD8d               uint64 `json:"minUsd"`
	MaxUSD8d               uint64 `json:"maxUsd"`
	MaxTokenPerOrder       string `json:"maxTokenPerOrder"`
	QuoteExpirySecs        int64  `json:"quoteExpirySecs"`
	DefaultUnlockDelaySecs int64  `json:"defaultUnlockDelaySecs"`
	MaxLockupSecs          int64  `json:"maxLockupSecs"`
}

func (s *Server) handleSetLimits(w http.ResponseWriter, req *RPCRequest) {
	var params setLimitsParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	limits := otc.LimitParams{
		MinUSD8d:               params.MinUSD8d,
		MaxUSD8d:               params.MaxUSD8d,
		QuoteExpirySecs:        params.QuoteExpirySecs,
		DefaultUnlockDelaySecs: params.DefaultUnlockDelaySecs,
		MaxLockupSecs:          params.MaxLockupSecs,
	}
	if params.MaxTokenPerOrder != "" {
		amount, err := parseAmount(params.MaxTokenPerOrder)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
		limits.MaxTokenPerOrder = amount
	}
	if err := s.node.SetLimits(caller, limits); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

type setPricesParams struct {
	Caller           string `json:"caller"`
	NativeUSDPrice8d uint64 `json:"nativeUsdPrice"`
	MaxPriceAgeSecs  int64  `json:"maxPriceAgeSecs"`
}

func (s *Server) handleSetPrices(w http.ResponseWriter, req *RPCRequest) {
	var params setPricesParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.SetPrices(caller, params.NativeUSDPrice8d, params.MaxPriceAgeSecs); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

type setFlagParams struct {
	Caller  string `json:"caller"`
	Enabled bool   `json:"enabled"`
}

func (s *Server) handleSetRestrictFulfill(w http.ResponseWriter, req *RPCRequest) {
	var params setFlagParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.SetRestrictFulfill(caller, params.Enabled); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetPaused(w http.ResponseWriter, req *RPCRequest) {
	var params setFlagParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.SetPaused(caller, params.Enabled); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

type setCommissionParams struct {
	Caller string `json:"caller"`
	Bps    uint16 `json:"bps"`
}

func (s *Server) handleSetP2PCommission(w http.ResponseWriter, req *RPCRequest) {
	var params setCommissionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.SetP2PCommission(caller, params.Bps); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

type setEmergencyRefundParams struct {
	Caller       string `json:"caller"`
	Enabled      bool   `json:"enabled"`
	DeadlineSecs int64  `json:"deadlineSecs"`
}

func (s *Server) handleSetEmergencyRefund(w http.ResponseWriter, req *RPCRequest) {
	var params setEmergencyRefundParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.SetEmergencyRefund(caller, params.Enabled, params.DeadlineSecs); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

// --- token registry ---

type registerTokenParams struct {
	Caller          string `json:"caller"`
	Symbol          string `json:"symbol"`
	Decimals        uint8  `json:"decimals"`
	FeedID          string `json:"feedId"`
	MaxDeviationBps uint16 `json:"maxDeviationBps"`
}

func (s *Server) handleRegisterToken(w http.ResponseWriter, req *RPCRequest) {
	var params registerTokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	feedID, err := parseFeedID(params.FeedID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := s.node.RegisterToken(caller, params.Symbol, params.Decimals, feedID, params.MaxDeviationBps)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, tokenResult(token))
}

type setTokenActiveParams struct {
	Caller string `json:"caller"`
	Symbol string `json:"symbol"`
	Active bool   `json:"active"`
}

func (s *Server) handleSetTokenActive(w http.ResponseWriter, req *RPCRequest) {
	var params setTokenActiveParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.SetTokenActive(caller, params.Symbol, params.Active); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

type setTokenPriceParams struct {
	Caller     string `json:"caller"`
	Symbol     string `json:"symbol"`
	USDPrice8d uint64 `json:"usdPrice"`
}

func (s *Server) handleSetTokenPrice(w http.ResponseWriter, req *RPCRequest) {
	var params setTokenPriceParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	if err := s.node.SetManualTokenPrice(caller, params.Symbol, params.USDPrice8d); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

type getTokenParams struct {
	Symbol string `json:"symbol"`
}

func (s *Server) handleGetToken(w http.ResponseWriter, req *RPCRequest) {
	var params getTokenParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	token, err := s.node.GetTokenRegistry(params.Symbol)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, tokenResult(token))
}
