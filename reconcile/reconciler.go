package reconcile

import (
	"context"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	coretypes "otcdesk/core/types"
	"otcdesk/native/otc"
	"otcdesk/observability/metrics"
)

// Anomaly kinds raised by the reconciler.
const (
	AnomalyMissingEntity   = "missing_entity"
	AnomalyAmountMismatch  = "amount_mismatch"
	AnomalyStatusMismatch  = "status_mismatch"
	AnomalyEscrowShortfall = "escrow_shortfall"
	AnomalyStuckOffer      = "stuck_offer"
)

// DefaultStuckOfferGrace is how long a paid offer may sit past its unlock time
// before the reconciler flags it as stuck.
const DefaultStuckOfferGrace = 7 * 24 * 60 * 60

// Chain is the read surface the reconciler needs from the settlement node.
type Chain interface {
	GetDesk() (*otc.Desk, error)
	GetConsignment(id uint64) (*otc.Consignment, error)
	GetOffer(id uint64) (*otc.Offer, error)
	GetAccount(addr []byte) (*coretypes.Account, error)
}

// AlertFunc is invoked for every anomaly found during a run.
type AlertFunc func(ctx context.Context, anomaly Anomaly) error

// Anomaly is one reconciliation finding requiring operator review.
type Anomaly struct {
	ID         uuid.UUID
	Kind       string
	EntityKind string
	EntityID   uint64
	Token      string
	Details    string
}

// Config captures the dependencies required to construct a Reconciler.
type Config struct {
	DB        *gorm.DB
	Chain     Chain
	Treasury  [20]byte
	OutputDir string
	DryRun    bool
	// StuckOfferGrace is in seconds past an offer's unlock time.
	StuckOfferGrace int64
	Now             func() int64
	Alert           AlertFunc
	Logger          *slog.Logger
}

// Result summarises one reconciliation run.
type Result struct {
	RanAt        int64
	Consignments int
	Offers       int
	Anomalies    []Anomaly
	ReportPath   string
}

// Reconciler compares the relational mirror against ledger truth: entity by
// entity, then treasury escrow totals against the obligations implied by open
// consignments and paid-but-unclaimed offers.
type Reconciler struct {
	db         *gorm.DB
	chain      Chain
	treasury   [20]byte
	outputDir  string
	dryRun     bool
	stuckGrace int64
	now        func() int64
	alert      AlertFunc
	logger     *slog.Logger
}

// NewReconciler builds a configured reconciler.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.DB == nil {
		return nil, errors.New("reconcile: db is required")
	}
	if cfg.Chain == nil {
		return nil, errors.New("reconcile: chain is required")
	}
	alert := cfg.Alert
	if alert == nil {
		alert = func(context.Context, Anomaly) error { return nil }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() int64 { return time.Now().Unix() }
	}
	grace := cfg.StuckOfferGrace
	if grace <= 0 {
		grace = DefaultStuckOfferGrace
	}
	return &Reconciler{
		db:         cfg.DB,
		chain:      cfg.Chain,
		treasury:   cfg.Treasury,
		outputDir:  cfg.OutputDir,
		dryRun:     cfg.DryRun,
		stuckGrace: grace,
		now:        nowFn,
		alert:      alert,
		logger:     logger,
	}, nil
}

type reportRow struct {
	entityKind   string
	entityID     uint64
	token        string
	mirrorAmount string
	ledgerAmount string
	mirrorStatus string
	ledgerStatus string
	anomalyKinds []string
}

// Run executes one reconciliation pass.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	now := r.now()
	result := &Result{RanAt: now}

	var consignments []ConsignmentRecord
	if err := r.db.Order("id").Find(&consignments).Error; err != nil {
		return nil, fmt.Errorf("reconcile: load consignments: %w", err)
	}
	var offers []OfferRecord
	if err := r.db.Order("id").Find(&offers).Error; err != nil {
		return nil, fmt.Errorf("reconcile: load offers: %w", err)
	}
	result.Consignments = len(consignments)
	result.Offers = len(offers)

	// Obligations the treasury must currently cover, keyed by symbol.
	escrowTokens := make(map[string]*big.Int)
	paidStable := big.NewInt(0)
	paidNative := big.NewInt(0)

	rows := make([]reportRow, 0, len(consignments)+len(offers))

	for _, record := range consignments {
		row := reportRow{
			entityKind:   "consignment",
			entityID:     record.ID,
			token:        record.Token,
			mirrorAmount: record.RemainingAmount,
			mirrorStatus: record.Status,
		}
		ledger, err := r.chain.GetConsignment(record.ID)
		switch {
		case errors.Is(err, otc.ErrNotFound):
			row.anomalyKinds = append(row.anomalyKinds, AnomalyMissingEntity)
			result.Anomalies = append(result.Anomalies, r.raise(ctx, Anomaly{
				Kind:       AnomalyMissingEntity,
				EntityKind: "consignment",
				EntityID:   record.ID,
				Token:      record.Token,
				Details:    "mirror row has no ledger counterpart",
			}))
			if err := r.markUnavailable(&ConsignmentRecord{}, record.ID); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, fmt.Errorf("reconcile: consignment %d: %w", record.ID, err)
		default:
			row.ledgerAmount = ledger.RemainingAmount.String()
			row.ledgerStatus = ConsignmentStatus(ledger.Status)
			if row.ledgerAmount != record.RemainingAmount {
				row.anomalyKinds = append(row.anomalyKinds, AnomalyAmountMismatch)
				result.Anomalies = append(result.Anomalies, r.raise(ctx, Anomaly{
					Kind:       AnomalyAmountMismatch,
					EntityKind: "consignment",
					EntityID:   record.ID,
					Token:      record.Token,
					Details:    fmt.Sprintf("mirror remaining %s vs ledger %s", record.RemainingAmount, row.ledgerAmount),
				}))
			}
			if row.ledgerStatus != record.Status {
				row.anomalyKinds = append(row.anomalyKinds, AnomalyStatusMismatch)
				result.Anomalies = append(result.Anomalies, r.raise(ctx, Anomaly{
					Kind:       AnomalyStatusMismatch,
					EntityKind: "consignment",
					EntityID:   record.ID,
					Token:      record.Token,
					Details:    fmt.Sprintf("mirror status %s vs ledger %s", record.Status, row.ledgerStatus),
				}))
			}
			if len(row.anomalyKinds) > 0 {
				if err := r.resyncConsignment(record, ledger); err != nil {
					return nil, err
				}
			}
			if ledger.Status != otc.ConsignmentWithdrawn {
				addAmount(escrowTokens, ledger.Token, ledger.RemainingAmount)
			}
		}
		rows = append(rows, row)
	}

	for _, record := range offers {
		row := reportRow{
			entityKind:   "offer",
			entityID:     record.ID,
			token:        record.Token,
			mirrorAmount: record.AmountPaid,
			mirrorStatus: record.Status,
		}
		ledger, err := r.chain.GetOffer(record.ID)
		switch {
		case errors.Is(err, otc.ErrNotFound):
			row.anomalyKinds = append(row.anomalyKinds, AnomalyMissingEntity)
			result.Anomalies = append(result.Anomalies, r.raise(ctx, Anomaly{
				Kind:       AnomalyMissingEntity,
				EntityKind: "offer",
				EntityID:   record.ID,
				Token:      record.Token,
				Details:    "mirror row has no ledger counterpart",
			}))
			if err := r.markUnavailable(&OfferRecord{}, record.ID); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, fmt.Errorf("reconcile: offer %d: %w", record.ID, err)
		default:
			row.ledgerStatus = OfferStatus(ledger)
			if ledger.AmountPaid != nil {
				row.ledgerAmount = ledger.AmountPaid.String()
			}
			if row.ledgerStatus != record.Status || row.ledgerAmount != record.AmountPaid {
				row.anomalyKinds = append(row.anomalyKinds, AnomalyStatusMismatch)
				result.Anomalies = append(result.Anomalies, r.raise(ctx, Anomaly{
					Kind:       AnomalyStatusMismatch,
					EntityKind: "offer",
					EntityID:   record.ID,
					Token:      record.Token,
					Details:    fmt.Sprintf("mirror %s/%s vs ledger %s/%s", record.Status, record.AmountPaid, row.ledgerStatus, row.ledgerAmount),
				}))
				if err := r.resyncOffer(record, ledger); err != nil {
					return nil, err
				}
			}
			if ledger.Paid && !ledger.Fulfilled && !ledger.Cancelled {
				// Inventory already left the consignment at payment
				// time, but the tokens and the payment both sit in the
				// treasury until claim.
				addAmount(escrowTokens, ledger.Token, ledger.TokenAmount)
				if ledger.Currency == otc.CurrencyNative {
					paidNative.Add(paidNative, ledger.AmountPaid)
				} else {
					paidStable.Add(paidStable, ledger.AmountPaid)
				}
				if now > ledger.UnlockTime+r.stuckGrace {
					row.anomalyKinds = append(row.anomalyKinds, AnomalyStuckOffer)
					result.Anomalies = append(result.Anomalies, r.raise(ctx, Anomaly{
						Kind:       AnomalyStuckOffer,
						EntityKind: "offer",
						EntityID:   record.ID,
						Token:      record.Token,
						Details:    fmt.Sprintf("paid offer unclaimed %d seconds past unlock", now-ledger.UnlockTime),
					}))
				}
			}
		}
		rows = append(rows, row)
	}

	if err := r.checkEscrow(ctx, result, escrowTokens, paidStable, paidNative); err != nil {
		return nil, err
	}

	if !r.dryRun {
		if err := r.persistAnomalies(result.Anomalies); err != nil {
			return nil, err
		}
		if r.outputDir != "" {
			path, err := r.writeReport(now, rows)
			if err != nil {
				return nil, err
			}
			result.ReportPath = path
		}
	}
	r.logger.Info("reconciliation run finished",
		"consignments", result.Consignments,
		"offers", result.Offers,
		"anomalies", len(result.Anomalies))
	return result, nil
}

func (r *Reconciler) checkEscrow(ctx context.Context, result *Result, escrowTokens map[string]*big.Int, paidStable, paidNative *big.Int) error {
	account, err := r.chain.GetAccount(r.treasury[:])
	if err != nil {
		return fmt.Errorf("reconcile: treasury account: %w", err)
	}
	desk, err := r.chain.GetDesk()
	if err != nil {
		if errors.Is(err, otc.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("reconcile: desk: %w", err)
	}
	addAmount(escrowTokens, desk.StableSymbol, paidStable)
	for symbol, required := range escrowTokens {
		held := account.TokenBalance(symbol)
		heldFloat, _ := new(big.Float).SetInt(held).Float64()
		metrics.Desk().SetEscrowBalance(symbol, heldFloat)
		if required.Sign() == 0 {
			continue
		}
		if held.Cmp(required) < 0 {
			result.Anomalies = append(result.Anomalies, r.raise(ctx, Anomaly{
				Kind:    AnomalyEscrowShortfall,
				Token:   symbol,
				Details: fmt.Sprintf("treasury holds %s %s, obligations require %s", held, symbol, required),
			}))
		}
	}
	if paidNative.Sign() > 0 {
		held := big.NewInt(0)
		if account.BalanceNative != nil {
			held = account.BalanceNative
		}
		if held.Cmp(paidNative) < 0 {
			result.Anomalies = append(result.Anomalies, r.raise(ctx, Anomaly{
				Kind:    AnomalyEscrowShortfall,
				Details: fmt.Sprintf("treasury holds %s native, refundable payments require %s", held, paidNative),
			}))
		}
	}
	return nil
}

func (r *Reconciler) raise(ctx context.Context, anomaly Anomaly) Anomaly {
	anomaly.ID = uuid.New()
	metrics.Desk().RecordReconAnomaly(anomaly.Kind)
	if r.alert != nil {
		if err := r.alert(ctx, anomaly); err != nil {
			r.logger.Error("anomaly alert delivery failed", "kind", anomaly.Kind, "error", err)
		}
	}
	return anomaly
}

func (r *Reconciler) markUnavailable(model interface{}, id uint64) error {
	if r.dryRun {
		return nil
	}
	if err := r.db.Model(model).Where("id = ?", id).Update("available", false).Error; err != nil {
		return fmt.Errorf("reconcile: mark unavailable: %w", err)
	}
	return nil
}

func (r *Reconciler) resyncConsignment(record ConsignmentRecord, ledger *otc.Consignment) error {
	if r.dryRun {
		return nil
	}
	record.Consigner = hex.EncodeToString(ledger.Consigner[:])
	record.Token = ledger.Token
	record.TotalAmount = bigString(ledger.TotalAmount)
	record.RemainingAmount = bigString(ledger.RemainingAmount)
	record.Status = ConsignmentStatus(ledger.Status)
	record.LedgerCreatedAt = ledger.CreatedAt
	record.Available = true
	if err := r.db.Save(&record).Error; err != nil {
		return fmt.Errorf("reconcile: resync consignment %d: %w", record.ID, err)
	}
	return nil
}

func (r *Reconciler) resyncOffer(record OfferRecord, ledger *otc.Offer) error {
	if r.dryRun {
		return nil
	}
	record.ConsignmentID = ledger.ConsignmentID
	record.Beneficiary = hex.EncodeToString(ledger.Beneficiary[:])
	record.Token = ledger.Token
	record.TokenAmount = bigString(ledger.TokenAmount)
	record.DiscountBps = ledger.DiscountBps
	if ledger.Currency == otc.CurrencyNative {
		record.Currency = "native"
	} else {
		record.Currency = "stable"
	}
	record.Status = OfferStatus(ledger)
	record.UnlockTime = ledger.UnlockTime
	if ledger.Paid {
		record.Payer = hex.EncodeToString(ledger.Payer[:])
		record.AmountPaid = bigString(ledger.AmountPaid)
	}
	record.Available = true
	if err := r.db.Save(&record).Error; err != nil {
		return fmt.Errorf("reconcile: resync offer %d: %w", record.ID, err)
	}
	return nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (r *Reconciler) persistAnomalies(anomalies []Anomaly) error {
	for _, anomaly := range anomalies {
		record := AnomalyRecord{
			ID:         anomaly.ID,
			Kind:       anomaly.Kind,
			EntityKind: anomaly.EntityKind,
			EntityID:   anomaly.EntityID,
			Token:      anomaly.Token,
			Details:    anomaly.Details,
		}
		if err := r.db.Create(&record).Error; err != nil {
			return fmt.Errorf("reconcile: persist anomaly: %w", err)
		}
	}
	return nil
}

func (r *Reconciler) writeReport(ranAt int64, rows []reportRow) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("reconcile: ensure output dir: %w", err)
	}
	name := fmt.Sprintf("recon_%s.csv", time.Unix(ranAt, 0).UTC().Format("20060102_150405"))
	path := filepath.Join(r.outputDir, name)
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("reconcile: create report: %w", err)
	}
	defer file.Close()
	writer := csv.NewWriter(file)
	header := []string{"entity", "id", "token", "mirror_amount", "ledger_amount", "mirror_status", "ledger_status", "anomalies"}
	if err := writer.Write(header); err != nil {
		return "", fmt.Errorf("reconcile: write report header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.entityKind,
			fmt.Sprintf("%d", row.entityID),
			row.token,
			row.mirrorAmount,
			row.ledgerAmount,
			row.mirrorStatus,
			row.ledgerStatus,
			strings.Join(row.anomalyKinds, ";"),
		}
		if err := writer.Write(record); err != nil {
			return "", fmt.Errorf("reconcile: write report row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("reconcile: flush report: %w", err)
	}
	r.logger.Info("reconciliation report written", "path", path, "rows", len(rows))
	return path, nil
}

func addAmount(totals map[string]*big.Int, symbol string, amount *big.Int) {
	if amount == nil {
		return
	}
	total, ok := totals[symbol]
	if !ok {
		total = big.NewInt(0)
		totals[symbol] = total
	}
	total.Add(total, amount)
}
