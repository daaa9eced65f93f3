package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Wire sizes of a persisted listing.
//
//	key   = owner (32 bytes, address left-padded) ++ asset (u64 BE) = 40 bytes
//	value = deposited (u64 BE) ++ unit price (u64 BE)             = 16 bytes
const (
	OwnerSize = 32
	KeySize   = OwnerSize + 8
	ValueSize = 16
)

// Key identifies a listing. Only Owner may mutate or liquidate it.
type Key struct {
	Owner common.Address
	Asset uint64
}

func (k Key) String() string { return fmt.Sprintf("%s/%d", k.Owner.Hex(), k.Asset) }

// Record is the stored value of one listing.
type Record struct {
	Deposited uint64 `json:"deposited"`
	UnitPrice uint64 `json:"unitPrice"`
}

// Listing is a key together with its record, as returned by enumeration.
type Listing struct {
	Owner     common.Address `json:"owner"`
	Asset     uint64         `json:"asset"`
	Deposited uint64         `json:"deposited"`
	UnitPrice uint64         `json:"unitPrice"`
}

func (l Listing) Key() Key       { return Key{Owner: l.Owner, Asset: l.Asset} }
func (l Listing) Record() Record { return Record{Deposited: l.Deposited, UnitPrice: l.UnitPrice} }

func EncodeKey(k Key) []byte {
	out := make([]byte, KeySize)
	copy(out[OwnerSize-common.AddressLength:OwnerSize], k.Owner.Bytes())
	binary.BigEndian.PutUint64(out[OwnerSize:], k.Asset)
	return out
}

// DecodeKey rejects owner words whose 12 high bytes are not zero, since no
// address can produce them.
func DecodeKey(b []byte) (Key, error) {
	if len(b) != KeySize {
		return Key{}, fmt.Errorf("listing key must be %d bytes, got %d", KeySize, len(b))
	}
	for _, c := range b[:OwnerSize-common.AddressLength] {
		if c != 0 {
			return Key{}, fmt.Errorf("listing key owner is not a padded address: %x", b[:OwnerSize])
		}
	}
	return Key{
		Owner: common.BytesToAddress(b[OwnerSize-common.AddressLength : OwnerSize]),
		Asset: binary.BigEndian.Uint64(b[OwnerSize:]),
	}, nil
}

func EncodeValue(r Record) []byte {
	out := make([]byte, ValueSize)
	binary.BigEndian.PutUint64(out[:8], r.Deposited)
	binary.BigEndian.PutUint64(out[8:], r.UnitPrice)
	return out
}

func DecodeValue(b []byte) (Record, error) {
	if len(b) != ValueSize {
		return Record{}, fmt.Errorf("listing value must be %d bytes, got %d", ValueSize, len(b))
	}
	return Record{
		Deposited: binary.BigEndian.Uint64(b[:8]),
		UnitPrice: binary.BigEndian.Uint64(b[8:]),
	}, nil
}
