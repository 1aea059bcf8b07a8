package routes

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"otcdesk/core"
	"otcdesk/ledger/solstate"
	"otcdesk/native/otc"
	"otcdesk/storage"
)

func testAddr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	owner := testAddr(0x01)
	consigner := testAddr(0x10)
	ledger := solstate.New(storage.NewMemDB(), testAddr(0xEE))
	node := core.NewNode(ledger)
	node.SetNowFunc(func() int64 { return 1_700_000_000 })

	if _, err := node.InitDesk(otc.DeskParams{
		Owner:           owner,
		Agent:           testAddr(0x02),
		StableSymbol:    "USDD",
		StableDecimals:  6,
		MinUSD8d:        100_000_000,
		QuoteExpirySecs: 3600,
	}); err != nil {
		t.Fatalf("init desk: %v", err)
	}
	if err := node.SetPrices(owner, 500_000_000, 3600); err != nil {
		t.Fatalf("set prices: %v", err)
	}
	if _, err := node.RegisterToken(owner, "WGT", 6, [32]byte{}, 0); err != nil {
		t.Fatalf("register token: %v", err)
	}
	if err := node.SetTokenActive(owner, "WGT", true); err != nil {
		t.Fatalf("activate token: %v", err)
	}
	if err := node.SetManualTokenPrice(owner, "WGT", 200_000_000); err != nil {
		t.Fatalf("price token: %v", err)
	}

	if err := ledger.Transaction(func(state otc.State) error {
		acc, err := state.GetAccount(consigner[:])
		if err != nil {
			return err
		}
		acc.SetTokenBalance("WGT", big.NewInt(100_000_000))
		return state.PutAccount(consigner[:], acc)
	}); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := node.CreateConsignment(otc.ConsignmentParams{
		Consigner: consigner,
		Token:     "WGT",
		Amount:    big.NewInt(100_000_000),
		Terms:     otc.ConsignmentTerms{FixedDiscountBps: 1000, FixedLockupDays: 1},
	}); err != nil {
		t.Fatalf("create consignment: %v", err)
	}

	return New(Config{Node: node})
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	handler := newTestHandler(t)
	rec := get(t, handler, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestGetDesk(t *testing.T) {
	handler := newTestHandler(t)
	rec := get(t, handler, "/v1/desk")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var view deskView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.StableSymbol != "USDD" || view.NextConsignmentID != 2 {
		t.Fatalf("unexpected desk view %+v", view)
	}
}

func TestGetConsignment(t *testing.T) {
	handler := newTestHandler(t)
	rec := get(t, handler, "/v1/consignments/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var view consignmentView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Token != "WGT" || view.RemainingAmount != "100000000" || view.Status != "active" {
		t.Fatalf("unexpected consignment view %+v", view)
	}

	rec = get(t, handler, "/v1/consignments/99")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing consignment status %d", rec.Code)
	}
	rec = get(t, handler, "/v1/consignments/abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status %d", rec.Code)
	}
}

func TestGetTokenAndAccount(t *testing.T) {
	handler := newTestHandler(t)
	rec := get(t, handler, "/v1/tokens/wgt")
	if rec.Code != http.StatusOK {
		t.Fatalf("token status %d: %s", rec.Code, rec.Body.String())
	}
	var token tokenView
	if err := json.Unmarshal(rec.Body.Bytes(), &token); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if token.Symbol != "WGT" || !token.Active {
		t.Fatalf("unexpected token view %+v", token)
	}

	treasury := encodeAddress(testAddr(0xEE))
	rec = get(t, handler, "/v1/accounts/"+treasury)
	if rec.Code != http.StatusOK {
		t.Fatalf("account status %d: %s", rec.Code, rec.Body.String())
	}
	var account accountView
	if err := json.Unmarshal(rec.Body.Bytes(), &account); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if account.Tokens["WGT"] != "100000000" {
		t.Fatalf("escrowed balance %q", account.Tokens["WGT"])
	}

	rec = get(t, handler, "/v1/accounts/garbage")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad address status %d", rec.Code)
	}
}
