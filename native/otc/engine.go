package otc

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"otcdesk/core/events"
	"otcdesk/core/types"
)

var (
	errNilState = errors.New("otc engine: state not configured")
)

// State is the boundary between the settlement engine and its host ledger.
// Each ledger backend (storage-slot model, explicit-account model) provides an
// implementation; every mutating engine operation runs as one atomic
// transaction against it.
type State interface {
	DeskGet() (*Desk, bool)
	DeskPut(*Desk) error
	TokenGet(symbol string) (*TokenRegistry, bool)
	TokenPut(*TokenRegistry) error
	ConsignmentGet(id uint64) (*Consignment, bool)
	ConsignmentPut(*Consignment) error
	OfferGet(id uint64) (*Offer, bool)
	OfferPut(*Offer) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	// TreasuryAddress is the escrow account holding consigned tokens and
	// payment proceeds under desk control.
	TreasuryAddress() [20]byte
}

type otcEvent struct {
	evt *types.Event
}

func (e otcEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e otcEvent) Event() *types.Event { return e.evt }

// Engine wires the desk settlement logic with external state and event
// emitters. The engine itself holds no entity data: every operation loads,
// validates, and stores through the State interface so both ledger backends
// share one implementation of the state machine.
type Engine struct {
	state   State
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a settlement engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state State) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps for lockup and deadline gates.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(otcEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadDesk() (*Desk, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	desk, ok := e.state.DeskGet()
	if !ok {
		return nil, fmt.Errorf("%w: desk not initialised", ErrNotFound)
	}
	return desk, nil
}

func (e *Engine) loadActiveDesk() (*Desk, error) {
	desk, err := e.loadDesk()
	if err != nil {
		return nil, err
	}
	if desk.Paused {
		return nil, ErrPaused
	}
	return desk, nil
}

func (e *Engine) loadConsignment(id uint64) (*Consignment, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	consignment, ok := e.state.ConsignmentGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: consignment %d", ErrNotFound, id)
	}
	return consignment, nil
}

func (e *Engine) loadOffer(id uint64) (*Offer, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	offer, ok := e.state.OfferGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: offer %d", ErrNotFound, id)
	}
	return SanitizeOffer(offer)
}

func (e *Engine) loadActiveToken(symbol string) (*TokenRegistry, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	registry, ok := e.state.TokenGet(normalized)
	if !ok {
		return nil, fmt.Errorf("%w: %s not registered", ErrTokenNotActive, normalized)
	}
	if !registry.Active {
		return nil, fmt.Errorf("%w: %s deactivated", ErrTokenNotActive, normalized)
	}
	return registry, nil
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{BalanceNative: big.NewInt(0)}
	}
	if acc.BalanceNative == nil {
		acc.BalanceNative = big.NewInt(0)
	}
	return acc
}

// transferToken moves token units between two accounts. A zero amount is a
// no-op; a negative amount or insufficient balance aborts the transition.
func (e *Engine) transferToken(from, to [20]byte, symbol string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer amount", ErrAmountRange)
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	fromBal := fromAcc.TokenBalance(normalized)
	if fromBal.Cmp(amt) < 0 {
		return fmt.Errorf("%w: insufficient %s balance", ErrAmountRange, normalized)
	}
	if from == to {
		return nil
	}
	fromAcc.SetTokenBalance(normalized, new(big.Int).Sub(fromBal, amt))
	toAcc.SetTokenBalance(normalized, new(big.Int).Add(toAcc.TokenBalance(normalized), amt))
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// transferNative moves native currency between two accounts.
func (e *Engine) transferNative(from, to [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer amount", ErrAmountRange)
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.BalanceNative.Cmp(amt) < 0 {
		return fmt.Errorf("%w: insufficient native balance", ErrAmountRange)
	}
	if from == to {
		return nil
	}
	fromAcc.BalanceNative = new(big.Int).Sub(fromAcc.BalanceNative, amt)
	toAcc.BalanceNative = new(big.Int).Add(toAcc.BalanceNative, amt)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}
