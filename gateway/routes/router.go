package routes

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"otcdesk/core"
	"otcdesk/crypto"
	"otcdesk/gateway/middleware"
	"otcdesk/native/otc"
)

// Config wires the read-only desk API.
type Config struct {
	Node   *core.Node
	Logger *slog.Logger
	CORS   middleware.CORSConfig
}

// New builds the public REST surface: entity reads, balances, health and
// Prometheus metrics. All writes go through the JSON-RPC server.
func New(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.RequestLogger(cfg.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	api := &deskAPI{node: cfg.Node}
	r.Route("/v1", func(sr chi.Router) {
		sr.Get("/desk", api.getDesk)
		sr.Get("/tokens/{symbol}", api.getToken)
		sr.Get("/consignments/{id}", api.getConsignment)
		sr.Get("/offers/{id}", api.getOffer)
		sr.Get("/accounts/{address}", api.getAccount)
	})
	return r
}

type deskAPI struct {
	node *core.Node
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, otc.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, otc.ErrTokenNotActive):
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func encodeAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.OTCPrefix, addr[:]).String()
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// --- views ---

type deskView struct {
	Owner                  string `json:"owner"`
	Agent                  string `json:"agent"`
	StableSymbol           string `json:"stableSymbol"`
	NativeUSDPrice8d       uint64 `json:"nativeUsdPrice"`
	PricesUpdatedAt        int64  `json:"pricesUpdatedAt"`
	MinUSD8d               uint64 `json:"minUsd"`
	MaxUSD8d               uint64 `json:"maxUsd"`
	QuoteExpirySecs        int64  `json:"quoteExpirySecs"`
	Paused                 bool   `json:"paused"`
	RestrictFulfill        bool   `json:"restrictFulfill"`
	EmergencyRefundEnabled bool   `json:"emergencyRefundEnabled"`
	P2PCommissionBps       uint16 `json:"p2pCommissionBps"`
	NextConsignmentID      uint64 `json:"nextConsignmentId"`
	NextOfferID            uint64 `json:"nextOfferId"`
}

func (a *deskAPI) getDesk(w http.ResponseWriter, r *http.Request) {
	desk, err := a.node.GetDesk()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deskView{
		Owner:                  encodeAddress(desk.Owner),
		Agent:                  encodeAddress(desk.Agent),
		StableSymbol:           desk.StableSymbol,
		NativeUSDPrice8d:       desk.NativeUSDPrice8d,
		PricesUpdatedAt:        desk.PricesUpdatedAt,
		MinUSD8d:               desk.MinUSD8d,
		MaxUSD8d:               desk.MaxUSD8d,
		QuoteExpirySecs:        desk.QuoteExpirySecs,
		Paused:                 desk.Paused,
		RestrictFulfill:        desk.RestrictFulfill,
		EmergencyRefundEnabled: desk.EmergencyRefundEnabled,
		P2PCommissionBps:       desk.P2PCommissionBps,
		NextConsignmentID:      desk.NextConsignmentID,
		NextOfferID:            desk.NextOfferID,
	})
}

type tokenView struct {
	Symbol          string `json:"symbol"`
	Decimals        uint8  `json:"decimals"`
	Active          bool   `json:"active"`
	USDPrice8d      uint64 `json:"usdPrice"`
	PricesUpdatedAt int64  `json:"pricesUpdatedAt"`
	DeskInventory   string `json:"deskInventory"`
}

func (a *deskAPI) getToken(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))
	token, err := a.node.GetTokenRegistry(symbol)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenView{
		Symbol:          token.Symbol,
		Decimals:        token.Decimals,
		Active:          token.Active,
		USDPrice8d:      token.USDPrice8d,
		PricesUpdatedAt: token.PricesUpdatedAt,
		DeskInventory:   amountString(token.DeskInventory),
	})
}

type consignmentView struct {
	ID              uint64 `json:"id"`
	Consigner       string `json:"consigner"`
	Token           string `json:"token"`
	TotalAmount     string `json:"totalAmount"`
	RemainingAmount string `json:"remainingAmount"`
	Negotiable      bool   `json:"negotiable"`
	Fractional      bool   `json:"fractional"`
	Private         bool   `json:"private"`
	Status          string `json:"status"`
	CreatedAt       int64  `json:"createdAt"`
}

func consignmentStatus(status otc.ConsignmentStatus) string {
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

func (a *deskAPI) getConsignment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid consignment id"})
		return
	}
	consignment, err := a.node.GetConsignment(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, consignmentView{
		ID:              consignment.ID,
		Consigner:       encodeAddress(consignment.Consigner),
		Token:           consignment.Token,
		TotalAmount:     amountString(consignment.TotalAmount),
		RemainingAmount: amountString(consignment.RemainingAmount),
		Negotiable:      consignment.Terms.Negotiable,
		Fractional:      consignment.Fractional,
		Private:         consignment.Private,
		Status:          consignmentStatus(consignment.Status),
		CreatedAt:       consignment.CreatedAt,
	})
}

type offerView struct {
	ID            uint64 `json:"id"`
	ConsignmentID uint64 `json:"consignmentId"`
	Beneficiary   string `json:"beneficiary"`
	Token         string `json:"token"`
	TokenAmount   string `json:"tokenAmount"`
	DiscountBps   uint16 `json:"discountBps"`
	LockupSecs    int64  `json:"lockupSecs"`
	UnlockTime    int64  `json:"unlockTime"`
	Currency      string `json:"currency"`
	Approved      bool   `json:"approved"`
	Paid          bool   `json:"paid"`
	Fulfilled     bool   `json:"fulfilled"`
	Cancelled     bool   `json:"cancelled"`
	AmountPaid    string `json:"amountPaid"`
}

func (a *deskAPI) getOffer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid offer id"})
		return
	}
	offer, err := a.node.GetOffer(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	currency := "stable"
	if offer.Currency == otc.CurrencyNative {
		currency = "native"
	}
	writeJSON(w, http.StatusOK, offerView{
		ID:            offer.ID,
		ConsignmentID: offer.ConsignmentID,
		Beneficiary:   encodeAddress(offer.Beneficiary),
		Token:         offer.Token,
		TokenAmount:   amountString(offer.TokenAmount),
		DiscountBps:   offer.DiscountBps,
		LockupSecs:    offer.LockupSecs,
		UnlockTime:    offer.UnlockTime,
		Currency:      currency,
		Approved:      offer.Approved,
		Paid:          offer.Paid,
		Fulfilled:     offer.Fulfilled,
		Cancelled:     offer.Cancelled,
		AmountPaid:    amountString(offer.AmountPaid),
	})
}

type accountView struct {
	Address       string            `json:"address"`
	BalanceNative string            `json:"balanceNative"`
	Tokens        map[string]string `json:"tokens"`
	Nonce         uint64            `json:"nonce"`
}

func (a *deskAPI) getAccount(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "address")
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid address"})
		return
	}
	account, err := a.node.GetAccount(addr.Bytes())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	tokens := make(map[string]string, len(account.Tokens))
	for symbol, balance := range account.Tokens {
		tokens[symbol] = amountString(balance)
	}
	writeJSON(w, http.StatusOK, accountView{
		Address:       raw,
		BalanceNative: amountString(account.BalanceNative),
		Tokens:        tokens,
		Nonce:         account.Nonce,
	})
}
