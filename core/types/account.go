package types

import "math/big"

// Account holds the balances tracked for a single address: the chain-native
// currency plus one entry per registered token symbol. The stablecoin used for
// offer payments is an ordinary token entry.
type Account struct {
	Nonce         uint64              `json:"nonce"`
	BalanceNative *big.Int            `json:"balanceNative"`
	Tokens        map[string]*big.Int `json:"tokens,omitempty"`
}

// TokenBalance returns the balance recorded for the given symbol, treating a
// missing entry as zero. The returned value is the stored instance; callers
// that mutate it must write it back via SetTokenBalance.
func (a *Account) TokenBalance(symbol string) *big.Int {
	if a == nil || a.Tokens == nil {
		return big.NewInt(0)
	}
	bal, ok := a.Tokens[symbol]
	if !ok || bal == nil {
		return big.NewInt(0)
	}
	return bal
}

// SetTokenBalance records the balance for the given symbol, allocating the
// token map on first use.
func (a *Account) SetTokenBalance(symbol string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Tokens == nil {
		a.Tokens = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Tokens[symbol] = amount
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce, BalanceNative: big.NewInt(0)}
	if a.BalanceNative != nil {
		clone.BalanceNative = new(big.Int).Set(a.BalanceNative)
	}
	if len(a.Tokens) > 0 {
		clone.Tokens = make(map[string]*big.Int, len(a.Tokens))
		for symbol, bal := range a.Tokens {
			if bal == nil {
				clone.Tokens[symbol] = big.NewInt(0)
				continue
			}
			clone.Tokens[symbol] = new(big.Int).Set(bal)
		}
	}
	return clone
}
