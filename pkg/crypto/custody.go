package crypto

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

// appAddressPrefix domain-separates application account derivation from
// key-derived addresses.
var appAddressPrefix = []byte("appID")

// CustodyAddress derives the custodial account of an application:
// the last 20 bytes of keccak256("appID" || be64(appID)). No private key
// exists for it, so only the application can move its funds.
func CustodyAddress(appID uint64) common.Address {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], appID)
	h := sha3.NewLegacyKeccak256()
	h.Write(appAddressPrefix)
	h.Write(id[:])
	return common.BytesToAddress(h.Sum(nil)[12:])
}

// GroupID is keccak256 over the concatenated struct hashes of a group's
// transactions, in order.
func GroupID(structHashes [][]byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	for _, s := range structHashes {
		h.Write(s)
	}
	return common.BytesToHash(h.Sum(nil))
}

// TxID is the signing digest of a transaction, shown to users in base58.
type TxID [32]byte

func (id TxID) String() string { return base58.Encode(id[:]) }

func (id TxID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *TxID) UnmarshalText(text []byte) error {
	parsed, err := ParseTxID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func ParseTxID(s string) (TxID, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return TxID{}, fmt.Errorf("invalid tx id %q: %w", s, err)
	}
	if len(raw) != 32 {
		return TxID{}, fmt.Errorf("tx id must decode to 32 bytes, got %d", len(raw))
	}
	var id TxID
	copy(id[:], raw)
	return id, nil
}
