package evmstate

import (
	"encoding/binary"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// The backend mirrors contract storage: every value lives in a 32-byte word
// under a keccak-derived slot key. Entities span one slot per field; dynamic
// lists use a count slot plus one derived slot per element.

const (
	nsDesk        = "desk"
	nsToken       = "token"
	nsConsignment = "consignment"
	nsOffer       = "offer"
	nsAccount     = "account"
)

func slotKey(parts ...[]byte) []byte {
	return ethcrypto.Keccak256(parts...)
}

func be64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func deskSlot(field string) []byte {
	return slotKey([]byte(nsDesk), []byte(field))
}

func deskApproverSlot(i uint64) []byte {
	return slotKey([]byte(nsDesk), []byte("approver"), be64(i))
}

func tokenSlot(symbol, field string) []byte {
	return slotKey([]byte(nsToken), []byte(symbol), []byte(field))
}

func consignmentSlot(id uint64, field string) []byte {
	return slotKey([]byte(nsConsignment), be64(id), []byte(field))
}

func consignmentAllowSlot(id, i uint64) []byte {
	return slotKey([]byte(nsConsignment), be64(id), []byte("allow"), be64(i))
}

func offerSlot(id uint64, field string) []byte {
	return slotKey([]byte(nsOffer), be64(id), []byte(field))
}

func accountSlot(addr [20]byte, field string) []byte {
	return slotKey([]byte(nsAccount), addr[:], []byte(field))
}

func accountTokenSlot(addr [20]byte, symbol string) []byte {
	return slotKey([]byte(nsAccount), addr[:], []byte("balance"), []byte(symbol))
}

func accountSymbolSlot(addr [20]byte, i uint64) []byte {
	return slotKey([]byte(nsAccount), addr[:], []byte("symbol"), be64(i))
}

// --- 32-byte word codecs ---

func wordUint(v uint64) []byte {
	word := uint256.NewInt(v).Bytes32()
	return word[:]
}

func decodeUint(word []byte) uint64 {
	if len(word) == 0 {
		return 0
	}
	return new(uint256.Int).SetBytes(word).Uint64()
}

func wordInt(v int64) ([]byte, error) {
	if v < 0 {
		return nil, fmt.Errorf("evmstate: negative value %d does not fit a storage word", v)
	}
	return wordUint(uint64(v)), nil
}

func decodeInt(word []byte) int64 {
	return int64(decodeUint(word))
}

func wordBig(v *big.Int) ([]byte, error) {
	if v == nil {
		return wordUint(0), nil
	}
	u, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 {
		return nil, fmt.Errorf("evmstate: amount %s does not fit a storage word", v)
	}
	word := u.Bytes32()
	return word[:], nil
}

func decodeBig(word []byte) *big.Int {
	if len(word) == 0 {
		return big.NewInt(0)
	}
	u := new(uint256.Int).SetBytes(word)
	if u.IsZero() {
		return big.NewInt(0)
	}
	return u.ToBig()
}

func wordAddr(addr [20]byte) []byte {
	word := make([]byte, 32)
	copy(word[12:], addr[:])
	return word
}

func decodeAddr(word []byte) [20]byte {
	var addr [20]byte
	if len(word) == 32 {
		copy(addr[:], word[12:])
	}
	return addr
}

func wordBool(v bool) []byte {
	if v {
		return wordUint(1)
	}
	return wordUint(0)
}

func decodeBool(word []byte) bool {
	return decodeUint(word) != 0
}

func wordBytes32(v [32]byte) []byte {
	word := make([]byte, 32)
	copy(word, v[:])
	return word
}

func decodeBytes32(word []byte) [32]byte {
	var out [32]byte
	copy(out[:], word)
	return out
}

// wordString packs a short string into one word: bytes left-aligned, length in
// the final byte. Symbols are capped well below the 31-byte limit.
func wordString(s string) ([]byte, error) {
	if len(s) > 31 {
		return nil, fmt.Errorf("evmstate: string %q exceeds one storage word", s)
	}
	word := make([]byte, 32)
	copy(word, s)
	word[31] = byte(len(s))
	return word, nil
}

func decodeString(word []byte) string {
	if len(word) != 32 {
		return ""
	}
	n := int(word[31])
	if n > 31 {
		n = 31
	}
	return string(word[:n])
}
