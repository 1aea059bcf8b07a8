// Package solstate persists the settlement state the way an explicit-account
// ledger would: one record per entity at a seed-derived address, tagged with
// an 8-byte discriminator.
package solstate

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"otcdesk/native/otc"
	"otcdesk/storage"
)

// Ledger is the explicit-account backend. It shares the Transaction contract
// with the storage-slot backend: one mutating engine operation stages its
// writes and commits them in a single atomic batch.
type Ledger struct {
	db       storage.Database
	treasury [20]byte
}

// New creates a ledger over the given database.
func New(db storage.Database, treasury [20]byte) *Ledger {
	return &Ledger{db: db, treasury: treasury}
}

// Transaction runs fn against a staged view; writes commit only when fn
// returns nil and no storage failure occurred.
func (l *Ledger) Transaction(fn func(otc.State) error) error {
	tx := l.NewTx()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// View runs fn read-only; staged writes are discarded.
func (l *Ledger) View(fn func(otc.State) error) error {
	tx := l.NewTx()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.err
}

// NewTx returns an uncommitted transaction.
func (l *Ledger) NewTx() *Tx {
	return &Tx{ledger: l, writes: make(map[string][]byte)}
}

// Tx implements otc.State with an uncommitted write overlay.
type Tx struct {
	ledger *Ledger
	writes map[string][]byte
	err    error
}

// Commit flushes the staged writes in one batch.
func (t *Tx) Commit() error {
	if t.err != nil {
		return t.err
	}
	if len(t.writes) == 0 {
		return nil
	}
	return t.ledger.db.WriteBatch(t.writes)
}

// Err reports the first storage or decoding failure seen by the transaction.
func (t *Tx) Err() error { return t.err }

func (t *Tx) fail(err error) {
	if t.err == nil && err != nil {
		t.err = err
	}
}

func (t *Tx) record(err error) error {
	t.fail(err)
	return err
}

func (t *Tx) get(key []byte) ([]byte, bool) {
	if val, ok := t.writes[string(key)]; ok {
		return val, val != nil
	}
	val, err := t.ledger.db.Get(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			t.fail(err)
		}
		return nil, false
	}
	return val, true
}

func (t *Tx) put(key, val []byte) {
	t.writes[string(key)] = val
}

// TreasuryAddress implements otc.State.
func (t *Tx) TreasuryAddress() [20]byte { return t.ledger.treasury }

// deriveKey computes the record address from its seeds.
func deriveKey(seeds ...[]byte) []byte {
	h := sha256.New()
	h.Write([]byte("otc"))
	for _, seed := range seeds {
		h.Write(seed)
	}
	return h.Sum(nil)
}

func discriminator(record string) []byte {
	sum := sha256.Sum256([]byte("otc:" + record))
	return sum[:8]
}

var (
	deskDisc        = discriminator("desk")
	tokenDisc       = discriminator("token_registry")
	consignmentDisc = discriminator("consignment")
	offerDisc       = discriminator("offer")
	accountDisc     = discriminator("account")
)

func encodeRecord(disc []byte, record interface{}) ([]byte, error) {
	body, err := rlp.EncodeToBytes(record)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(nil), disc...), body...), nil
}

func decodeRecord(disc, raw []byte, record interface{}) error {
	if len(raw) < 8 || !bytes.Equal(raw[:8], disc) {
		return fmt.Errorf("solstate: record discriminator mismatch")
	}
	return rlp.DecodeBytes(raw[8:], record)
}
