package solstate

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

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
		Approvers:              [][20]byte{testAddr(0x03)},
		StableSymbol:           "USDD",
		StableDecimals:         6,
		NativeDecimals:         18,
		MinUSD8d:               100_000_000,
		MaxTokenPerOrder:       big.NewInt(0),
		QuoteExpirySecs:        3600,
		DefaultUnlockDelaySecs: 60,
		MaxLockupSecs:          365 * otc.SecondsPerDay,
		MaxPriceAgeSecs:        3600,
		NativeUSDPrice8d:       500_000_000,
		PricesUpdatedAt:        1_700_000_000,
		NextConsignmentID:      1,
		NextOfferID:            1,
		P2PCommissionBps:       25,
	}
}

func TestRecordRoundTrips(t *testing.T) {
	ledger := New(storage.NewMemDB(), testAddr(0xEE))

	desk := sampleDesk()
	token := &otc.TokenRegistry{
		Symbol:          "WGT",
		Decimals:        6,
		Active:          true,
		USDPrice8d:      200_000_000,
		PricesUpdatedAt: 1_700_000_000,
		MaxDeviationBps: 1000,
		RegisteredBy:    testAddr(0x10),
		DeskInventory:   big.NewInt(25_000_000),
	}
	consignment := &otc.Consignment{
		ID:              1,
		Consigner:       testAddr(0x10),
		Token:           "WGT",
		TotalAmount:     big.NewInt(100_000_000),
		RemainingAmount: big.NewInt(100_000_000),
		Terms: otc.ConsignmentTerms{
			FixedDiscountBps: 1000,
			FixedLockupDays:  1,
		},
		MinDealAmount: big.NewInt(0),
		MaxDealAmount: big.NewInt(0),
		Private:       true,
		AllowList:     [][20]byte{testAddr(0x20)},
		Status:        otc.ConsignmentActive,
		CreatedAt:     1_700_000_000,
	}
	offer := &otc.Offer{
		ID:               1,
		ConsignmentID:    1,
		Beneficiary:      testAddr(0x20),
		Token:            "WGT",
		TokenDecimals:    6,
		TokenAmount:      big.NewInt(100_000_000),
		DiscountBps:      1000,
		LockupSecs:       otc.SecondsPerDay,
		CreatedAt:        1_700_000_000,
		UnlockTime:       1_700_000_000 + otc.SecondsPerDay,
		USDPrice8d:       200_000_000,
		NativeUSDPrice8d: 500_000_000,
		Currency:         otc.CurrencyStable,
		CommissionBps:    25,
		Approved:         true,
		AmountPaid:       big.NewInt(0),
	}

	tx := ledger.NewTx()
	require.NoError(t, tx.DeskPut(desk))
	require.NoError(t, tx.TokenPut(token))
	require.NoError(t, tx.ConsignmentPut(consignment))
	require.NoError(t, tx.OfferPut(offer))
	require.NoError(t, tx.Commit())

	read := ledger.NewTx()
	gotDesk, ok := read.DeskGet()
	require.True(t, ok)
	require.Equal(t, desk, gotDesk)

	gotToken, ok := read.TokenGet("WGT")
	require.True(t, ok)
	require.Equal(t, token, gotToken)

	gotConsignment, ok := read.ConsignmentGet(1)
	require.True(t, ok)
	require.Equal(t, consignment, gotConsignment)

	gotOffer, ok := read.OfferGet(1)
	require.True(t, ok)
	require.Equal(t, offer, gotOffer)

	_, ok = read.ConsignmentGet(2)
	require.False(t, ok)
}

func TestAccountDefaultsAndSorting(t *testing.T) {
	ledger := New(storage.NewMemDB(), testAddr(0xEE))
	addr := testAddr(0x42)

	tx := ledger.NewTx()
	acc, err := tx.GetAccount(addr[:])
	require.NoError(t, err)
	require.Zero(t, acc.BalanceNative.Sign())
	require.Empty(t, acc.Tokens)

	acc.BalanceNative = big.NewInt(1_000)
	acc.SetTokenBalance("WGT", big.NewInt(5))
	acc.SetTokenBalance("ABC", big.NewInt(7))
	require.NoError(t, tx.PutAccount(addr[:], acc))
	require.NoError(t, tx.Commit())

	got, err := ledger.NewTx().GetAccount(addr[:])
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000), got.BalanceNative)
	require.Equal(t, big.NewInt(5), got.TokenBalance("WGT"))
	require.Equal(t, big.NewInt(7), got.TokenBalance("ABC"))
}

func TestDiscriminatorMismatch(t *testing.T) {
	db := storage.NewMemDB()
	ledger := New(db, testAddr(0xEE))

	tx := ledger.NewTx()
	require.NoError(t, tx.DeskPut(sampleDesk()))
	require.NoError(t, tx.Commit())

	// Corrupt the stored discriminator and confirm reads refuse the record.
	key := deriveKey([]byte("desk"))
	raw, err := db.Get(key)
	require.NoError(t, err)
	raw[0] ^= 0xFF
	require.NoError(t, db.Put(key, raw))

	read := ledger.NewTx()
	_, ok := read.DeskGet()
	require.False(t, ok)
	require.Error(t, read.Err())
}

func TestTransactionRollsBackOnError(t *testing.T) {
	ledger := New(storage.NewMemDB(), testAddr(0xEE))
	require.NoError(t, ledger.Transaction(func(state otc.State) error {
		return state.DeskPut(sampleDesk())
	}))

	sentinel := fmt.Errorf("abort")
	err := ledger.Transaction(func(state otc.State) error {
		desk, _ := state.DeskGet()
		desk.Paused = true
		if err := state.DeskPut(desk); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	desk, ok := ledger.NewTx().DeskGet()
	require.True(t, ok)
	require.False(t, desk.Paused)
}

func TestNegativeTimestampRejected(t *testing.T) {
	ledger := New(storage.NewMemDB(), testAddr(0xEE))
	desk := sampleDesk()
	desk.PricesUpdatedAt = -1

	tx := ledger.NewTx()
	require.Error(t, tx.DeskPut(desk))
	require.Error(t, tx.Commit())
}
