package rpc

import (
	"math/big"
	"net/http"

	"otcdesk/native/otc"
)

type termsParams struct {
	Negotiable       bool   `json:"negotiable"`
	FixedDiscountBps uint16 `json:"fixedDiscountBps"`
	FixedLockupDays  uint32 `json:"fixedLockupDays"`
	MinDiscountBps   uint16 `json:"minDiscountBps"`
	MaxDiscountBps   uint16 `json:"maxDiscountBps"`
	MinLockupDays    uint32 `json:"minLockupDays"`
	MaxLockupDays    uint32 `json:"maxLockupDays"`
}

type createConsignmentParams struct {
	Consigner     string      `json:"consigner"`
	Token         string      `json:"token"`
	Amount        string      `json:"amount"`
	Terms         termsParams `json:"terms"`
	MinDealAmount string      `json:"minDealAmount"`
	MaxDealAmount string      `json:"maxDealAmount"`
	Fractional    bool        `json:"fractional"`
	Private       bool        `json:"private"`
	AllowList     []string    `json:"allowList"`
}

func (s *Server) handleCreateConsignment(w http.ResponseWriter, req *RPCRequest) {
	var params createConsignmentParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	consigner, err := parseAddress(params.Consigner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid consigner address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	engineParams := otc.ConsignmentParams{
		Consigner: consigner,
		Token:     params.Token,
		Amount:    amount,
		Terms: otc.ConsignmentTerms{
			Negotiable:       params.Terms.Negotiable,
			FixedDiscountBps: params.Terms.FixedDiscountBps,
			FixedLockupDays:  params.Terms.FixedLockupDays,
			MinDiscountBps:   params.Terms.MinDiscountBps,
			MaxDiscountBps:   params.Terms.MaxDiscountBps,
			MinLockupDays:    params.Terms.MinLockupDays,
			MaxLockupDays:    params.Terms.MaxLockupDays,
		},
		Fractional: params.Fractional,
		Private:    params.Private,
	}
	if params.MinDealAmount != "" {
		if engineParams.MinDealAmount, err = parseAmount(params.MinDealAmount); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	if params.MaxDealAmount != "" {
		if engineParams.MaxDealAmount, err = parseAmount(params.MaxDealAmount); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
			return
		}
	}
	for _, entry := range params.AllowList {
		addr, err := parseAddress(entry)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid allowList entry", err.Error())
			return
		}
		engineParams.AllowList = append(engineParams.AllowList, addr)
	}
	consignment, err := s.node.CreateConsignment(engineParams)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, consignmentResult(consignment))
}

type consignmentActionParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
}

func (s *Server) consignmentAction(w http.ResponseWriter, req *RPCRequest, action func(caller [20]byte, id uint64) error) {
	var params consignmentActionParams
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

func (s *Server) handlePauseConsignment(w http.ResponseWriter, req *RPCRequest) {
	s.consignmentAction(w, req, s.node.PauseConsignment)
}

func (s *Server) handleResumeConsignment(w http.ResponseWriter, req *RPCRequest) {
	s.consignmentAction(w, req, s.node.ResumeConsignment)
}

func (s *Server) handleWithdrawConsignment(w http.ResponseWriter, req *RPCRequest) {
	var params consignmentActionParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	returned, err := s.node.WithdrawConsignment(caller, params.ID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"returned": encodeAmount(returned)})
}

type deskInventoryParams struct {
	Caller string `json:"caller"`
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

func (s *Server) deskInventoryAction(w http.ResponseWriter, req *RPCRequest, action func(caller [20]byte, symbol string, amount *big.Int) error) {
	var params deskInventoryParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid caller address", err.Error())
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := action(caller, params.Token, amount); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleDepositTokens(w http.ResponseWriter, req *RPCRequest) {
	s.deskInventoryAction(w, req, s.node.DepositTokens)
}

func (s *Server) handleWithdrawTokens(w http.ResponseWriter, req *RPCRequest) {
	s.deskInventoryAction(w, req, s.node.WithdrawTokens)
}

type getConsignmentParams struct {
	ID uint64 `json:"id"`
}

func (s *Server) handleGetConsignment(w http.ResponseWriter, req *RPCRequest) {
	var params getConsignmentParams
	if err := decodeParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	consignment, err := s.node.GetConsignment(params.ID)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, consignmentResult(consignment))
}
