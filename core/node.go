package core

import (
	"fmt"
	"math/big"
	"sync"

	"otcdesk/core/events"
	"otcdesk/core/types"
	"otcdesk/native/otc"
)

// Ledger is the transactional surface a desk node runs against. Both ledger
// backends satisfy it.
type Ledger interface {
	Transaction(fn func(otc.State) error) error
	View(fn func(otc.State) error) error
}

// Node is the central controller: it owns the ledger backend and the
// settlement engine and serialises every engine operation into one atomic
// ledger transaction.
type Node struct {
	mu     sync.Mutex
	ledger Ledger
	engine *otc.Engine

	// pending collects events emitted during the write in progress. It is
	// only touched while mu is held.
	pending []events.Event

	subMu       sync.RWMutex
	subscribers []events.Emitter
}

func NewNode(ledger Ledger) *Node {
	node := &Node{
		ledger: ledger,
		engine: otc.NewEngine(),
	}
	node.engine.SetEmitter(fanout{node: node})
	return node
}

// SetNowFunc overrides the engine clock. Tests use it to pin time.
func (n *Node) SetNowFunc(now func() int64) {
	n.engine.SetNowFunc(now)
}

// Subscribe registers an emitter that receives every desk event after the
// transaction that produced it has committed successfully. Emitters must not
// block.
func (n *Node) Subscribe(emitter events.Emitter) {
	if emitter == nil {
		return
	}
	n.subMu.Lock()
	n.subscribers = append(n.subscribers, emitter)
	n.subMu.Unlock()
}

// fanout buffers events during a transaction and replays them to subscribers
// once the write commits, so a rolled-back operation never leaks events.
type fanout struct {
	node *Node
}

// Emit runs on the engine goroutine inside write, which already holds mu.
func (f fanout) Emit(evt events.Event) {
	if f.node.pending != nil {
		f.node.pending = append(f.node.pending, evt)
	}
}

// write runs fn inside one ledger transaction with the engine bound to it.
// Events emitted by the engine are held back until the commit succeeds.
func (n *Node) write(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = make([]events.Event, 0, 4)
	err := n.ledger.Transaction(func(state otc.State) error {
		n.engine.SetState(state)
		return fn()
	})
	n.engine.SetState(nil)
	staged := n.pending
	n.pending = nil
	if err != nil {
		return err
	}
	n.deliver(staged)
	return nil
}

// view runs fn against a read-only snapshot.
func (n *Node) view(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	err := n.ledger.View(func(state otc.State) error {
		n.engine.SetState(state)
		return fn()
	})
	n.engine.SetState(nil)
	return err
}

func (n *Node) deliver(staged []events.Event) {
	n.subMu.RLock()
	subscribers := n.subscribers
	n.subMu.RUnlock()
	for _, evt := range staged {
		for _, sub := range subscribers {
			sub.Emit(evt)
		}
	}
}

// --- desk administration ---

func (n *Node) InitDesk(params otc.DeskParams) (*otc.Desk, error) {
	var desk *otc.Desk
	err := n.write(func() error {
		var err error
		desk, err = n.engine.InitDesk(params)
		return err
	})
	return desk, err
}

func (n *Node) GetDesk() (*otc.Desk, error) {
	var desk *otc.Desk
	err := n.view(func() error {
		var err error
		desk, err = n.engine.GetDesk()
		return err
	})
	return desk, err
}

func (n *Node) TransferOwner(caller, newOwner [20]byte) error {
	return n.write(func() error { return n.engine.TransferOwner(caller, newOwner) })
}

func (n *Node) SetAgent(caller, newAgent [20]byte) error {
	return n.write(func() error { return n.engine.SetAgent(caller, newAgent) })
}

func (n *Node) SetApprover(caller, who [20]byte, allowed bool) error {
	return n.write(func() error { return n.engine.SetApprover(caller, who, allowed) })
}

func (n *Node) SetLimits(caller [20]byte, params otc.LimitParams) error {
	return n.write(func() error { return n.engine.SetLimits(caller, params) })
}

func (n *Node) SetPrices(caller [20]byte, nativeUSD8d uint64, maxAgeSecs int64) error {
	return n.write(func() error { return n.engine.SetPrices(caller, nativeUSD8d, maxAgeSecs) })
}

func (n *Node) SetRestrictFulfill(caller [20]byte, enabled bool) error {
	return n.write(func() error { return n.engine.SetRestrictFulfill(caller, enabled) })
}

func (n *Node) SetPaused(caller [20]byte, paused bool) error {
	return n.write(func() error { return n.engine.SetPaused(caller, paused) })
}

func (n *Node) SetP2PCommission(caller [20]byte, bps uint16) error {
	return n.write(func() error { return n.engine.SetP2PCommission(caller, bps) })
}

func (n *Node) SetEmergencyRefund(caller [20]byte, enabled bool, deadlineSecs int64) error {
	return n.write(func() error { return n.engine.SetEmergencyRefund(caller, enabled, deadlineSecs) })
}

// --- token registry ---

func (n *Node) RegisterToken(caller [20]byte, symbol string, decimals uint8, feedID [32]byte, maxDeviationBps uint16) (*otc.TokenRegistry, error) {
	var token *otc.TokenRegistry
	err := n.write(func() error {
		var err error
		token, err = n.engine.RegisterToken(caller, symbol, decimals, feedID, maxDeviationBps)
		return err
	})
	return token, err
}

func (n *Node) SetTokenActive(caller [20]byte, symbol string, active bool) error {
	return n.write(func() error { return n.engine.SetTokenActive(caller, symbol, active) })
}

func (n *Node) SetManualTokenPrice(caller [20]byte, symbol string, usdPrice8d uint64) error {
	return n.write(func() error { return n.engine.SetManualTokenPrice(caller, symbol, usdPrice8d) })
}

func (n *Node) GetTokenRegistry(symbol string) (*otc.TokenRegistry, error) {
	var token *otc.TokenRegistry
	err := n.view(func() error {
		var err error
		token, err = n.engine.GetTokenRegistry(symbol)
		return err
	})
	return token, err
}

// --- consignments ---

func (n *Node) CreateConsignment(params otc.ConsignmentParams) (*otc.Consignment, error) {
	var consignment *otc.Consignment
	err := n.write(func() error {
		var err error
		consignment, err = n.engine.CreateConsignment(params)
		return err
	})
	return consignment, err
}

func (n *Node) PauseConsignment(caller [20]byte, id uint64) error {
	return n.write(func() error { return n.engine.PauseConsignment(caller, id) })
}

func (n *Node) ResumeConsignment(caller [20]byte, id uint64) error {
	return n.write(func() error { return n.engine.ResumeConsignment(caller, id) })
}

func (n *Node) WithdrawConsignment(caller [20]byte, id uint64) (*big.Int, error) {
	var returned *big.Int
	err := n.write(func() error {
		var err error
		returned, err = n.engine.WithdrawConsignment(caller, id)
		return err
	})
	return returned, err
}

func (n *Node) DepositTokens(caller [20]byte, symbol string, amount *big.Int) error {
	return n.write(func() error { return n.engine.DepositTokens(caller, symbol, amount) })
}

func (n *Node) WithdrawTokens(caller [20]byte, symbol string, amount *big.Int) error {
	return n.write(func() error { return n.engine.WithdrawTokens(caller, symbol, amount) })
}

func (n *Node) GetConsignment(id uint64) (*otc.Consignment, error) {
	var consignment *otc.Consignment
	err := n.view(func() error {
		var err error
		consignment, err = n.engine.GetConsignment(id)
		return err
	})
	return consignment, err
}

// --- offers ---

func (n *Node) CreateOffer(params otc.OfferParams) (*otc.Offer, error) {
	var offer *otc.Offer
	err := n.write(func() error {
		var err error
		offer, err = n.engine.CreateOffer(params)
		return err
	})
	return offer, err
}

func (n *Node) CreateOfferFromConsignment(consignmentID uint64, params otc.OfferParams) (*otc.Offer, error) {
	var offer *otc.Offer
	err := n.write(func() error {
		var err error
		offer, err = n.engine.CreateOfferFromConsignment(consignmentID, params)
		return err
	})
	return offer, err
}

func (n *Node) ApproveOffer(caller [20]byte, id uint64) error {
	return n.write(func() error { return n.engine.ApproveOffer(caller, id) })
}

func (n *Node) CancelOffer(caller [20]byte, id uint64) error {
	return n.write(func() error { return n.engine.CancelOffer(caller, id) })
}

func (n *Node) GetOffer(id uint64) (*otc.Offer, error) {
	var offer *otc.Offer
	err := n.view(func() error {
		var err error
		offer, err = n.engine.GetOffer(id)
		return err
	})
	return offer, err
}

// --- settlement ---

func (n *Node) FulfillOfferStable(payer [20]byte, id uint64) (*otc.Offer, error) {
	var offer *otc.Offer
	err := n.write(func() error {
		var err error
		offer, err = n.engine.FulfillOfferStable(payer, id)
		return err
	})
	return offer, err
}

func (n *Node) FulfillOfferNative(payer [20]byte, id uint64) (*otc.Offer, error) {
	var offer *otc.Offer
	err := n.write(func() error {
		var err error
		offer, err = n.engine.FulfillOfferNative(payer, id)
		return err
	})
	return offer, err
}

func (n *Node) Claim(caller [20]byte, id uint64) (*otc.Offer, error) {
	var offer *otc.Offer
	err := n.write(func() error {
		var err error
		offer, err = n.engine.Claim(caller, id)
		return err
	})
	return offer, err
}

func (n *Node) EmergencyRefund(caller [20]byte, id uint64) (*otc.Offer, error) {
	var offer *otc.Offer
	err := n.write(func() error {
		var err error
		offer, err = n.engine.EmergencyRefund(caller, id)
		return err
	})
	return offer, err
}

func (n *Node) WithdrawStable(caller, to [20]byte, amount *big.Int) error {
	return n.write(func() error { return n.engine.WithdrawStable(caller, to, amount) })
}

func (n *Node) WithdrawNative(caller, to [20]byte, amount *big.Int) error {
	return n.write(func() error { return n.engine.WithdrawNative(caller, to, amount) })
}

// --- accounts ---

// GetAccount returns a copy of the account stored under addr. Unknown
// addresses resolve to an empty account.
func (n *Node) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) != 20 {
		return nil, fmt.Errorf("account address must be 20 bytes, got %d", len(addr))
	}
	var account *types.Account
	err := n.viewState(func(state otc.State) error {
		var stateErr error
		account, stateErr = state.GetAccount(addr)
		return stateErr
	})
	return account, err
}

// viewState exposes the raw state to read-only callers that need more than
// the engine operations, such as the reconciliation mirror.
func (n *Node) viewState(fn func(state otc.State) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.View(fn)
}
