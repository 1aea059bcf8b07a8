package reconcile

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"otcdesk/core"
	"otcdesk/ledger/evmstate"
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

func setupMirrorDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mirror.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fixture struct {
	node     *core.Node
	ledger   *evmstate.Ledger
	db       *gorm.DB
	treasury [20]byte
	owner    [20]byte
	buyer    [20]byte
	now      int64
}

// newFixture wires a ledger-backed node to a fresh mirror and runs a
// settlement up to the point where offer 1 is paid but unclaimed.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:       setupMirrorDB(t),
		treasury: testAddr(0xEE),
		owner:    testAddr(0x01),
		buyer:    testAddr(0x20),
		now:      1_700_000_000,
	}
	f.ledger = evmstate.New(storage.NewMemDB(), f.treasury)
	f.node = core.NewNode(f.ledger)
	f.node.SetNowFunc(func() int64 { return f.now })
	f.node.Subscribe(NewMirror(f.db, nil))

	consigner := testAddr(0x10)
	if _, err := f.node.InitDesk(otc.DeskParams{
		Owner:           f.owner,
		Agent:           testAddr(0x02),
		StableSymbol:    "USDD",
		StableDecimals:  6,
		MinUSD8d:        100_000_000,
		QuoteExpirySecs: 3600,
	}); err != nil {
		t.Fatalf("init desk: %v", err)
	}
	if err := f.node.SetPrices(f.owner, 500_000_000, 3600); err != nil {
		t.Fatalf("set prices: %v", err)
	}
	if _, err := f.node.RegisterToken(f.owner, "WGT", 6, [32]byte{}, 0); err != nil {
		t.Fatalf("register token: %v", err)
	}
	if err := f.node.SetTokenActive(f.owner, "WGT", true); err != nil {
		t.Fatalf("activate token: %v", err)
	}
	if err := f.node.SetManualTokenPrice(f.owner, "WGT", 200_000_000); err != nil {
		t.Fatalf("price token: %v", err)
	}

	f.mint(t, consigner, "WGT", 100_000_000)
	f.mint(t, f.buyer, "USDD", 200_000_000)

	if _, err := f.node.CreateConsignment(otc.ConsignmentParams{
		Consigner: consigner,
		Token:     "WGT",
		Amount:    big.NewInt(100_000_000),
		Terms:     otc.ConsignmentTerms{FixedDiscountBps: 1000, FixedLockupDays: 1},
	}); err != nil {
		t.Fatalf("create consignment: %v", err)
	}
	if _, err := f.node.CreateOfferFromConsignment(1, otc.OfferParams{
		Beneficiary: f.buyer,
		TokenAmount: big.NewInt(100_000_000),
		Currency:    otc.CurrencyStable,
	}); err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if _, err := f.node.FulfillOfferStable(f.buyer, 1); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	return f
}

func (f *fixture) mint(t *testing.T, account [20]byte, symbol string, amount int64) {
	t.Helper()
	err := f.ledger.Transaction(func(state otc.State) error {
		acc, err := state.GetAccount(account[:])
		if err != nil {
			return err
		}
		acc.SetTokenBalance(symbol, new(big.Int).Add(acc.TokenBalance(symbol), big.NewInt(amount)))
		return state.PutAccount(account[:], acc)
	})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (f *fixture) reconciler(t *testing.T, cfg Config) *Reconciler {
	t.Helper()
	cfg.DB = f.db
	cfg.Chain = f.node
	cfg.Treasury = f.treasury
	cfg.Now = func() int64 { return f.now }
	r, err := NewReconciler(cfg)
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	return r
}

func TestMirrorTracksLifecycle(t *testing.T) {
	f := newFixture(t)

	var consignment ConsignmentRecord
	if err := f.db.First(&consignment, "id = ?", 1).Error; err != nil {
		t.Fatalf("consignment record: %v", err)
	}
	if consignment.Token != "WGT" || consignment.RemainingAmount != "0" || consignment.Status != StatusActive {
		t.Fatalf("unexpected consignment record %+v", consignment)
	}

	var offer OfferRecord
	if err := f.db.First(&offer, "id = ?", 1).Error; err != nil {
		t.Fatalf("offer record: %v", err)
	}
	if offer.Status != StatusPaid || offer.AmountPaid != "180000000" || offer.Currency != "stable" {
		t.Fatalf("unexpected offer record %+v", offer)
	}

	f.now += 86_400
	if _, err := f.node.Claim(f.buyer, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := f.db.First(&offer, "id = ?", 1).Error; err != nil {
		t.Fatalf("offer record after claim: %v", err)
	}
	if offer.Status != StatusFulfilled {
		t.Fatalf("offer status after claim %q", offer.Status)
	}
}

func TestReconcilerCleanRun(t *testing.T) {
	f := newFixture(t)
	r := f.reconciler(t, Config{DryRun: true})

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Anomalies) != 0 {
		t.Fatalf("expected clean run, got %+v", result.Anomalies)
	}
	if result.Consignments != 1 || result.Offers != 1 {
		t.Fatalf("unexpected counts %+v", result)
	}
}

func TestReconcilerDetectsMirrorDrift(t *testing.T) {
	f := newFixture(t)
	if err := f.db.Model(&ConsignmentRecord{}).Where("id = ?", 1).
		Update("remaining_amount", "42").Error; err != nil {
		t.Fatalf("tamper consignment: %v", err)
	}
	phantom := OfferRecord{ID: 99, Token: "WGT", Status: StatusPaid}
	if err := f.db.Create(&phantom).Error; err != nil {
		t.Fatalf("insert phantom offer: %v", err)
	}

	var alerted []Anomaly
	outputDir := t.TempDir()
	r := f.reconciler(t, Config{
		OutputDir: outputDir,
		Alert: func(_ context.Context, anomaly Anomaly) error {
			alerted = append(alerted, anomaly)
			return nil
		},
	})

	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	kinds := map[string]int{}
	for _, anomaly := range result.Anomalies {
		kinds[anomaly.Kind]++
	}
	if kinds[AnomalyAmountMismatch] == 0 {
		t.Fatalf("missing amount mismatch in %+v", kinds)
	}
	if kinds[AnomalyMissingEntity] == 0 {
		t.Fatalf("missing phantom-offer anomaly in %+v", kinds)
	}
	if len(alerted) != len(result.Anomalies) {
		t.Fatalf("alerted %d of %d anomalies", len(alerted), len(result.Anomalies))
	}

	var stored int64
	if err := f.db.Model(&AnomalyRecord{}).Count(&stored).Error; err != nil {
		t.Fatalf("count anomalies: %v", err)
	}
	if stored != int64(len(result.Anomalies)) {
		t.Fatalf("persisted %d of %d anomalies", stored, len(result.Anomalies))
	}
	if result.ReportPath == "" {
		t.Fatal("expected report path")
	}
	if _, err := os.Stat(result.ReportPath); err != nil {
		t.Fatalf("report file: %v", err)
	}

	// Drifted rows get resynced from the ledger, phantom rows invalidated.
	var consignment ConsignmentRecord
	if err := f.db.First(&consignment, "id = ?", 1).Error; err != nil {
		t.Fatalf("reload consignment: %v", err)
	}
	if consignment.RemainingAmount != "0" || !consignment.Available {
		t.Fatalf("consignment not resynced: %+v", consignment)
	}
	var offer OfferRecord
	if err := f.db.First(&offer, "id = ?", 99).Error; err != nil {
		t.Fatalf("reload phantom offer: %v", err)
	}
	if offer.Available {
		t.Fatal("phantom offer still marked available")
	}
}

func TestMirrorMarkUnavailable(t *testing.T) {
	f := newFixture(t)
	mirror := NewMirror(f.db, nil)
	if err := mirror.MarkUnavailable("consignment", 1); err != nil {
		t.Fatalf("mark unavailable: %v", err)
	}
	var record ConsignmentRecord
	if err := f.db.First(&record, "id = ?", 1).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if record.Available {
		t.Fatal("row still marked available")
	}
}

func TestReconcilerFlagsStuckOffer(t *testing.T) {
	f := newFixture(t)
	f.now += 86_400 + DefaultStuckOfferGrace + 1

	r := f.reconciler(t, Config{DryRun: true})
	result, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	found := false
	for _, anomaly := range result.Anomalies {
		if anomaly.Kind == AnomalyStuckOffer && anomaly.EntityID == 1 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected stuck offer anomaly, got %+v", result.Anomalies)
	}
}
