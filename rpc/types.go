package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"otcdesk/crypto"
	"otcdesk/native/otc"
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeRateLimited    = -32020

	codeDeskUnauthorized = -32030
	codeDeskBadState     = -32031
	codeDeskAmountRange  = -32032
	codeDeskInvalidTerms = -32033
	codeDeskTokenMissing = -32034
	codeDeskPaused       = -32035
	codeDeskNotFound     = -32036
	codeDeskBadPrice     = -32037
	codeDeskStalePrice   = -32038
	codeDeskTooEarly     = -32039
)

// writeEngineError maps settlement errors onto stable RPC error codes so
// clients can branch on failure kind instead of parsing messages.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	status := http.StatusBadRequest
	code := codeServerError
	switch {
	case errors.Is(err, otc.ErrUnauthorized):
		status, code = http.StatusForbidden, codeDeskUnauthorized
	case errors.Is(err, otc.ErrNotFound):
		status, code = http.StatusNotFound, codeDeskNotFound
	case errors.Is(err, otc.ErrPaused):
		status, code = http.StatusConflict, codeDeskPaused
	case errors.Is(err, otc.ErrBadState):
		status, code = http.StatusConflict, codeDeskBadState
	case errors.Is(err, otc.ErrAmountRange):
		code = codeDeskAmountRange
	case errors.Is(err, otc.ErrInvalidTerms):
		code = codeDeskInvalidTerms
	case errors.Is(err, otc.ErrTokenNotActive):
		code = codeDeskTokenMissing
	case errors.Is(err, otc.ErrStalePrice):
		status, code = http.StatusConflict, codeDeskStalePrice
	case errors.Is(err, otc.ErrBadPrice):
		code = codeDeskBadPrice
	case errors.Is(err, otc.ErrTooEarlyToClaim), errors.Is(err, otc.ErrTooEarlyForRefund):
		status, code = http.StatusConflict, codeDeskTooEarly
	default:
		status = http.StatusInternalServerError
	}
	writeError(w, status, id, code, err.Error(), nil)
}

// --- parameter decoding ---

func decodeParams(req *RPCRequest, dst interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("parameter object required")
	}
	dec := json.NewDecoder(strings.NewReader(string(req.Params[0])))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

func parseAddress(value string) ([20]byte, error) {
	var out [20]byte
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return out, err
	}
	copy(out[:], addr.Bytes())
	return out, nil
}

func parseOptionalAddress(value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, nil
	}
	return parseAddress(value)
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func parseCurrency(value string) (otc.Currency, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "stable":
		return otc.CurrencyStable, nil
	case "native":
		return otc.CurrencyNative, nil
	}
	return 0, fmt.Errorf("currency must be \"stable\" or \"native\"")
}

func parseFeedID(value string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if trimmed == "" {
		return out, nil
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid feed id: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("feed id must be 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// --- wire encoding ---

func encodeAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.OTCPrefix, addr[:]).String()
}

func encodeOptionalAddress(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return encodeAddress(addr)
}

func encodeAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func currencyString(c otc.Currency) string {
	if c == otc.CurrencyNative {
		return "native"
	}
	return "stable"
}

type DeskResult struct {
	Owner                   string   `json:"owner"`
	Agent                   string   `json:"agent"`
	Approvers               []string `json:"approvers"`
	StableSymbol            string   `json:"stableSymbol"`
	StableDecimals          uint8    `json:"stableDecimals"`
	NativeDecimals          uint8    `json:"nativeDecimals"`
	MinUSD8d                uint64   `json:"minUsd"`
	MaxUSD8d                uint64   `json:"maxUsd"`
	MaxTokenPerOrder        string   `json:"maxTokenPerOrder"`
	QuoteExpirySecs         int64    `json:"quoteExpirySecs"`
	DefaultUnlockDelaySecs  int64    `json:"defaultUnlockDelaySecs"`
	MaxLockupSecs           int64    `json:"maxLockupSecs"`
	MaxPriceAgeSecs         int64    `json:"maxPriceAgeSecs"`
	RestrictFulfill         bool     `json:"restrictFulfill"`
	NativeUSDPrice8d        uint64   `json:"nativeUsdPrice"`
	PricesUpdatedAt         int64    `json:"pricesUpdatedAt"`
	NextConsignmentID       uint64   `json:"nextConsignmentId"`
	NextOfferID             uint64   `json:"nextOfferId"`
	Paused                  bool     `json:"paused"`
	EmergencyRefundEnabled  bool     `json:"emergencyRefundEnabled"`
	EmergencyRefundDeadline int64    `json:"emergencyRefundDeadline"`
	P2PCommissionBps        uint16   `json:"p2pCommissionBps"`
}

func deskResult(desk *otc.Desk) DeskResult {
	approvers := make([]string, len(desk.Approvers))
	for i, approver := range desk.Approvers {
		approvers[i] = encodeAddress(approver)
	}
	return DeskResult{
		Owner:                   encodeAddress(desk.Owner),
		Agent:                   encodeAddress(desk.Agent),
		Approvers:               approvers,
		StableSymbol:            desk.StableSymbol,
		StableDecimals:          desk.StableDecimals,
		NativeDecimals:          desk.NativeDecimals,
		MinUSD8d:                desk.MinUSD8d,
		MaxUSD8d:                desk.MaxUSD8d,
		MaxTokenPerOrder:        encodeAmount(desk.MaxTokenPerOrder),
		QuoteExpirySecs:         desk.QuoteExpirySecs,
		DefaultUnlockDelaySecs:  desk.DefaultUnlockDelaySecs,
		MaxLockupSecs:           desk.MaxLockupSecs,
		MaxPriceAgeSecs:         desk.MaxPriceAgeSecs,
		RestrictFulfill:         desk.RestrictFulfill,
		NativeUSDPrice8d:        desk.NativeUSDPrice8d,
		PricesUpdatedAt:         desk.PricesUpdatedAt,
		NextConsignmentID:       desk.NextConsignmentID,
		NextOfferID:             desk.NextOfferID,
		Paused:                  desk.Paused,
		EmergencyRefundEnabled:  desk.EmergencyRefundEnabled,
		EmergencyRefundDeadline: desk.EmergencyRefundDeadline,
		P2PCommissionBps:        desk.P2PCommissionBps,
	}
}

type TokenResult struct {
	Symbol          string `json:"symbol"`
	Decimals        uint8  `json:"decimals"`
	Active          bool   `json:"active"`
	USDPrice8d      uint64 `json:"usdPrice"`
	PricesUpdatedAt int64  `json:"pricesUpdatedAt"`
	FeedID          string `json:"feedId,omitempty"`
	MaxDeviationBps uint16 `json:"maxDeviationBps"`
	RegisteredBy    string `json:"registeredBy"`
	DeskInventory   string `json:"deskInventory"`
}

func tokenResult(token *otc.TokenRegistry) TokenResult {
	feedID := ""
	if token.FeedID != ([32]byte{}) {
		feedID = "0x" + hex.EncodeToString(token.FeedID[:])
	}
	return TokenResult{
		Symbol:          token.Symbol,
		Decimals:        token.Decimals,
		Active:          token.Active,
		USDPrice8d:      token.USDPrice8d,
		PricesUpdatedAt: token.PricesUpdatedAt,
		FeedID:          feedID,
		MaxDeviationBps: token.MaxDeviationBps,
		RegisteredBy:    encodeAddress(token.RegisteredBy),
		DeskInventory:   encodeAmount(token.DeskInventory),
	}
}

type TermsResult struct {
	Negotiable       bool   `json:"negotiable"`
	FixedDiscountBps uint16 `json:"fixedDiscountBps"`
	FixedLockupDays  uint32 `json:"fixedLockupDays"`
	MinDiscountBps   uint16 `json:"minDiscountBps"`
	MaxDiscountBps   uint16 `json:"maxDiscountBps"`
	MinLockupDays    uint32 `json:"minLockupDays"`
	MaxLockupDays    uint32 `json:"maxLockupDays"`
}

type ConsignmentResult struct {
	ID              uint64      `json:"id"`
	Consigner       string      `json:"consigner"`
	Token           string      `json:"token"`
	TotalAmount     string      `json:"totalAmount"`
	RemainingAmount string      `json:"remainingAmount"`
	Terms           TermsResult `json:"terms"`
	MinDealAmount   string      `json:"minDealAmount"`
	MaxDealAmount   string      `json:"maxDealAmount"`
	Fractional      bool        `json:"fractional"`
	Private         bool        `json:"private"`
	AllowList       []string    `json:"allowList,omitempty"`
	Status          string      `json:"status"`
	CreatedAt       int64       `json:"createdAt"`
}

func consignmentStatusString(status otc.ConsignmentStatus) string {
	switch status {
	case otc.ConsignmentActive:
		return "active"
	case otc.ConsignmentPaused:
		return "paused"
	case otc.ConsignmentWithdrawn:
		return "withdrawn"
	}
	return "unknown"
}

func consignmentResult(c *otc.Consignment) ConsignmentResult {
	var allowList []string
	for _, addr := range c.AllowList {
		allowList = append(allowList, encodeAddress(addr))
	}
	return ConsignmentResult{
		ID:              c.ID,
		Consigner:       encodeAddress(c.Consigner),
		Token:           c.Token,
		TotalAmount:     encodeAmount(c.TotalAmount),
		RemainingAmount: encodeAmount(c.RemainingAmount),
		Terms: TermsResult{
			Negotiable:       c.Terms.Negotiable,
			FixedDiscountBps: c.Terms.FixedDiscountBps,
			FixedLockupDays:  c.Terms.FixedLockupDays,
			MinDiscountBps:   c.Terms.MinDiscountBps,
			MaxDiscountBps:   c.Terms.MaxDiscountBps,
			MinLockupDays:    c.Terms.MinLockupDays,
			MaxLockupDays:    c.Terms.MaxLockupDays,
		},
		MinDealAmount: encodeAmount(c.MinDealAmount),
		MaxDealAmount: encodeAmount(c.MaxDealAmount),
		Fractional:    c.Fractional,
		Private:       c.Private,
		AllowList:     allowList,
		Status:        consignmentStatusString(c.Status),
		CreatedAt:     c.CreatedAt,
	}
}

type OfferResult struct {
	ID               uint64 `json:"id"`
	ConsignmentID    uint64 `json:"consignmentId"`
	Beneficiary      string `json:"beneficiary"`
	Token            string `json:"token"`
	TokenDecimals    uint8  `json:"tokenDecimals"`
	TokenAmount      string `json:"tokenAmount"`
	DiscountBps      uint16 `json:"discountBps"`
	LockupSecs       int64  `json:"lockupSecs"`
	CreatedAt        int64  `json:"createdAt"`
	UnlockTime       int64  `json:"unlockTime"`
	USDPrice8d       uint64 `json:"usdPrice"`
	NativeUSDPrice8d uint64 `json:"nativeUsdPrice"`
	Currency         string `json:"currency"`
	CommissionBps    uint16 `json:"commissionBps"`
	Approved         bool   `json:"approved"`
	Paid             bool   `json:"paid"`
	Fulfilled        bool   `json:"fulfilled"`
	Cancelled        bool   `json:"cancelled"`
	Payer            string `json:"payer,omitempty"`
	AmountPaid       string `json:"amountPaid"`
}

func offerResult(o *otc.Offer) OfferResult {
	return OfferResult{
		ID:               o.ID,
		ConsignmentID:    o.ConsignmentID,
		Beneficiary:      encodeAddress(o.Beneficiary),
		Token:            o.Token,
		TokenDecimals:    o.TokenDecimals,
		TokenAmount:      encodeAmount(o.TokenAmount),
		DiscountBps:      o.DiscountBps,
		LockupSecs:       o.LockupSecs,
		CreatedAt:        o.CreatedAt,
		UnlockTime:       o.UnlockTime,
		USDPrice8d:       o.USDPrice8d,
		NativeUSDPrice8d: o.NativeUSDPrice8d,
		Currency:         currencyString(o.Currency),
		CommissionBps:    o.CommissionBps,
		Approved:         o.Approved,
		Paid:             o.Paid,
		Fulfilled:        o.Fulfilled,
		Cancelled:        o.Cancelled,
		Payer:            encodeOptionalAddress(o.Payer),
		AmountPaid:       encodeAmount(o.AmountPaid),
	}
}

type BalanceResult struct {
	Address       string            `json:"address"`
	BalanceNative string            `json:"balanceNative"`
	Tokens        map[string]string `json:"tokens"`
	Nonce         uint64            `json:"nonce"`
}
