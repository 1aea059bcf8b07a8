package evmstate

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"otcdesk/core/types"
	"otcdesk/native/otc"
	"otcdesk/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	for i := range addr {
		addr[i] = fill
	}
	return addr
}

func sampleDesk() *otc.Desk {
	return &otc.Desk{
		Owner:                  testAddr(0x01),
		Agent:                  testAddr(0x02),
		Approvers:              [][20]byte{testAddr(0x03), testAddr(0x04)},
		StableSymbol:           "USDD",
		StableDecimals:         6,
		NativeDecimals:         18,
		MinUSD8d:               100_000_000,
		MaxUSD8d:               0,
		MaxTokenPerOrder:       big.NewInt(0),
		QuoteExpirySecs:        3600,
		DefaultUnlockDelaySecs: 60,
		MaxLockupSecs:          365 * otc.SecondsPerDay,
		MaxPriceAgeSecs:        3600,
		NativeUSDPrice8d:       500_000_000,
		PricesUpdatedAt:        1_700_000_000,
		NextConsignmentID:      3,
		NextOfferID:            7,
		P2PCommissionBps:       25,
	}
}

func TestDeskRoundTrip(t *testing.T) {
	db := storage.NewMemDB()
	ledger := New(db, testAddr(0xEE))
	want := sampleDesk()

	tx := ledger.NewTx()
	require.NoError(t, tx.DeskPut(want))
	require.NoError(t, tx.Commit())

	got, ok := ledger.NewTx().DeskGet()
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestEntityRoundTrips(t *testing.T) {
	db := storage.NewMemDB()
	ledger := New(db, testAddr(0xEE))

	token := &otc.TokenRegistry{
		Symbol:          "WGT",
		Decimals:        6,
		Active:          true,
		USDPrice8d:      200_000_000,
		PricesUpdatedAt: 1_700_000_000,
		FeedID:          [32]byte{0xAB, 0xCD},
		MaxDeviationBps: 1000,
		RegisteredBy:    testAddr(0x10),
		DeskInventory:   big.NewInt(25_000_000),
	}
	consignment := &otc.Consignment{
		ID:              1,
		Consigner:       testAddr(0x10),
		Token:           "WGT",
		TotalAmount:     big.NewInt(100_000_000),
		RemainingAmount: big.NewInt(40_000_000),
		Terms: otc.ConsignmentTerms{
			Negotiable:     true,
			MinDiscountBps: 500,
			MaxDiscountBps: 2000,
			MinLockupDays:  1,
			MaxLockupDays:  30,
		},
		MinDealAmount: big.NewInt(1_000_000),
		MaxDealAmount: big.NewInt(50_000_000),
		Fractional:    true,
		Private:       true,
		AllowList:     [][20]byte{testAddr(0x20)},
		Status:        otc.ConsignmentPaused,
		CreatedAt:     1_700_000_000,
	}
	offer := &otc.Offer{
		ID:               4,
		ConsignmentID:    1,
		Beneficiary:      testAddr(0x20),
		Token:            "WGT",
		TokenDecimals:    6,
		TokenAmount:      big.NewInt(30_000_000),
		DiscountBps:      1000,
		LockupSecs:       otc.SecondsPerDay,
		CreatedAt:        1_700_000_000,
		UnlockTime:       1_700_000_000 + otc.SecondsPerDay,
		USDPrice8d:       200_000_000,
		NativeUSDPrice8d: 500_000_000,
		Currency:         otc.CurrencyStable,
		CommissionBps:    50,
		Approved:         true,
		Paid:             true,
		Payer:            testAddr(0x21),
		AmountPaid:       big.NewInt(54_000_000),
	}

	tx := ledger.NewTx()
	require.NoError(t, tx.TokenPut(token))
	require.NoError(t, tx.ConsignmentPut(consignment))
	require.NoError(t, tx.OfferPut(offer))
	require.NoError(t, tx.Commit())

	read := ledger.NewTx()
	gotToken, ok := read.TokenGet("WGT")
	require.True(t, ok)
	require.Equal(t, token, gotToken)

	gotConsignment, ok := read.ConsignmentGet(1)
	require.True(t, ok)
	require.Equal(t, consignment, gotConsignment)

	gotOffer, ok := read.OfferGet(4)
	require.True(t, ok)
	require.Equal(t, offer, gotOffer)

	_, ok = read.OfferGet(99)
	require.False(t, ok)
}

func TestAccountSymbolIndex(t *testing.T) {
	db := storage.NewMemDB()
	ledger := New(db, testAddr(0xEE))
	addr := testAddr(0x42)

	tx := ledger.NewTx()
	acc, err := tx.GetAccount(addr[:])
	require.NoError(t, err)
	require.Zero(t, acc.BalanceNative.Sign())

	acc.BalanceNative = big.NewInt(1_000)
	acc.SetTokenBalance("WGT", big.NewInt(5))
	acc.SetTokenBalance("USDD", big.NewInt(7))
	require.NoError(t, tx.PutAccount(addr[:], acc))
	require.NoError(t, tx.Commit())

	// A second write must reuse the index instead of growing it.
	tx = ledger.NewTx()
	acc, err = tx.GetAccount(addr[:])
	require.NoError(t, err)
	acc.SetTokenBalance("WGT", big.NewInt(9))
	require.NoError(t, tx.PutAccount(addr[:], acc))
	require.NoError(t, tx.Commit())

	got, err := ledger.NewTx().GetAccount(addr[:])
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000), got.BalanceNative)
	require.Equal(t, big.NewInt(9), got.TokenBalance("WGT"))
	require.Equal(t, big.NewInt(7), got.TokenBalance("USDD"))
	require.Len(t, got.Tokens, 2)
}

func TestSymbolIndexLayoutIsDeterministic(t *testing.T) {
	db := storage.NewMemDB()
	ledger := New(db, testAddr(0xEE))
	addr := testAddr(0x43)

	tx := ledger.NewTx()
	acc, err := tx.GetAccount(addr[:])
	require.NoError(t, err)
	acc.SetTokenBalance("ZZZ", big.NewInt(1))
	acc.SetTokenBalance("AAA", big.NewInt(2))
	acc.SetTokenBalance("MMM", big.NewInt(3))
	require.NoError(t, tx.PutAccount(addr[:], acc))
	require.NoError(t, tx.Commit())

	read := ledger.NewTx()
	var key [20]byte
	copy(key[:], addr[:])
	want := []string{"AAA", "MMM", "ZZZ"}
	for i, symbol := range want {
		require.Equal(t, symbol, decodeString(read.word(accountSymbolSlot(key, uint64(i)))))
	}

	// Later writes keep the established order and append behind it.
	tx = ledger.NewTx()
	acc, err = tx.GetAccount(addr[:])
	require.NoError(t, err)
	acc.SetTokenBalance("BBB", big.NewInt(4))
	require.NoError(t, tx.PutAccount(addr[:], acc))
	require.NoError(t, tx.Commit())

	read = ledger.NewTx()
	for i, symbol := range append(want, "BBB") {
		require.Equal(t, symbol, decodeString(read.word(accountSymbolSlot(key, uint64(i)))))
	}
}

func TestTransactionRollsBackOnError(t *testing.T) {
	db := storage.NewMemDB()
	ledger := New(db, testAddr(0xEE))
	require.NoError(t, ledger.Transaction(func(state otc.State) error {
		return state.DeskPut(sampleDesk())
	}))

	sentinel := fmt.Errorf("abort")
	err := ledger.Transaction(func(state otc.State) error {
		desk, ok := state.DeskGet()
		if !ok {
			t.Fatal("desk missing inside transaction")
		}
		desk.Paused = true
		if err := state.DeskPut(desk); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	desk, ok := ledger.NewTx().DeskGet()
	require.True(t, ok)
	require.False(t, desk.Paused, "aborted transaction must not persist")
}

func TestTransactionSeesOwnWrites(t *testing.T) {
	db := storage.NewMemDB()
	ledger := New(db, testAddr(0xEE))
	require.NoError(t, ledger.Transaction(func(state otc.State) error {
		if err := state.DeskPut(sampleDesk()); err != nil {
			return err
		}
		desk, ok := state.DeskGet()
		if !ok {
			return fmt.Errorf("staged desk not visible")
		}
		desk.NextOfferID++
		return state.DeskPut(desk)
	}))
	desk, ok := ledger.NewTx().DeskGet()
	require.True(t, ok)
	require.Equal(t, uint64(8), desk.NextOfferID)
}

func TestNegativeBalancePoisonsTx(t *testing.T) {
	db := storage.NewMemDB()
	ledger := New(db, testAddr(0xEE))
	addr := testAddr(0x01)

	tx := ledger.NewTx()
	acc := &types.Account{Nonce: 1, BalanceNative: big.NewInt(-1)}
	require.Error(t, tx.PutAccount(addr[:], acc))
	require.Error(t, tx.Commit(), "poisoned tx must refuse to commit")

	_, err := ledger.NewTx().GetAccount(addr[:])
	require.NoError(t, err)
}

func TestTreasuryAddress(t *testing.T) {
	ledger := New(storage.NewMemDB(), testAddr(0xEE))
	require.Equal(t, testAddr(0xEE), ledger.NewTx().TreasuryAddress())
}
