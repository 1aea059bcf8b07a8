package otc

import (
	"fmt"
	"math/big"
)

// RegisterToken records a tradable token. Registration is permissionless; a
// token only becomes sellable once the desk owner activates it with
// SetTokenActive. Re-registering an existing symbol fails.
func (e *Engine) RegisterToken(caller [20]byte, symbol string, decimals uint8, feedID [32]byte, maxDeviationBps uint16) (*TokenRegistry, error) {
	desk, err := e.loadActiveDesk()
	if err != nil {
		return nil, err
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if normalized == desk.StableSymbol {
		return nil, fmt.Errorf("%w: symbol reserved for settlement stable", ErrInvalidTerms)
	}
	if decimals == 0 || decimals > 18 {
		return nil, fmt.Errorf("%w: token decimals out of range", ErrAmountRange)
	}
	if maxDeviationBps > BpsDenominator {
		return nil, fmt.Errorf("%w: deviation bound above 100%%", ErrAmountRange)
	}
	if _, ok := e.state.TokenGet(normalized); ok {
		return nil, fmt.Errorf("%w: token %s already registered", ErrBadState, normalized)
	}
	token := &TokenRegistry{
		Symbol:          normalized,
		Decimals:        decimals,
		FeedID:          feedID,
		MaxDeviationBps: maxDeviationBps,
		RegisteredBy:    caller,
		DeskInventory:   big.NewInt(0),
	}
	if err := e.state.TokenPut(token); err != nil {
		return nil, err
	}
	e.emit(NewTokenRegisteredEvent(token))
	return token.Clone(), nil
}

// SetTokenActive toggles whether a token can back new consignments and
// offers. Owner-only. Deactivation does not touch open offers: already
// approved deals settle against the price captured at approval.
func (e *Engine) SetTokenActive(caller [20]byte, symbol string, active bool) error {
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner {
		return fmt.Errorf("%w: owner required", ErrUnauthorized)
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	token, ok := e.state.TokenGet(normalized)
	if !ok {
		return fmt.Errorf("%w: token %s", ErrNotFound, normalized)
	}
	token.Active = active
	if err := e.state.TokenPut(token); err != nil {
		return err
	}
	e.emit(NewTokenActiveEvent(token))
	return nil
}

// SetManualTokenPrice posts a USD price for a token. Owner or agent only.
// When the token carries a deviation bound, the new price must stay within
// that bound of the previous one; a bound of zero disables the guard.
func (e *Engine) SetManualTokenPrice(caller [20]byte, symbol string, usdPrice8d uint64) error {
	desk, err := e.loadDesk()
	if err != nil {
		return err
	}
	if caller != desk.Owner && caller != desk.Agent {
		return fmt.Errorf("%w: owner or agent required", ErrUnauthorized)
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	token, ok := e.state.TokenGet(normalized)
	if !ok {
		return fmt.Errorf("%w: token %s", ErrNotFound, normalized)
	}
	if usdPrice8d == 0 || usdPrice8d > maxTokenUSD8d {
		return fmt.Errorf("%w: token price outside bounds", ErrBadPrice)
	}
	if token.USDPrice8d != 0 {
		if err := checkPriceDeviation(token.USDPrice8d, usdPrice8d, token.MaxDeviationBps); err != nil {
			return err
		}
	}
	token.USDPrice8d = usdPrice8d
	token.PricesUpdatedAt = e.now()
	if err := e.state.TokenPut(token); err != nil {
		return err
	}
	e.emit(NewTokenPriceEvent(token))
	return nil
}

// GetTokenRegistry returns a copy of a token's registry entry.
func (e *Engine) GetTokenRegistry(symbol string) (*TokenRegistry, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	token, ok := e.state.TokenGet(normalized)
	if !ok {
		return nil, fmt.Errorf("%w: token %s", ErrNotFound, normalized)
	}
	return token.Clone(), nil
}
