package storage

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema. Every family carries a two-byte prefix so prefix scans never
// overlap:
//
//	l/<40-byte listing key>     → 16-byte listing value
//	a/<address>                 → native balance and nonce
//	h/<address><asset be64>     → asset holding (present once opted in)
//	s/<asset be64>              → asset params
//	r/<32-byte tx id>           → receipt
//	b/<height be64>             → block
//	m/<name>                    → chain metadata
var (
	PrefixListing = []byte("l/")
	PrefixAccount = []byte("a/")
	PrefixHolding = []byte("h/")
	PrefixAsset   = []byte("s/")
	PrefixReceipt = []byte("r/")
	PrefixBlock   = []byte("b/")
	PrefixMeta    = []byte("m/")
)

var (
	metaHeight    = MetaKey("height")
	metaAppHash   = MetaKey("apphash")
	metaNextAsset = MetaKey("nextasset")
	metaPending   = MetaKey("pending")
)

func ListingKey(raw []byte) []byte { return join(PrefixListing, raw) }

func AccountKey(addr common.Address) []byte { return join(PrefixAccount, addr.Bytes()) }

func HoldingKey(addr common.Address, asset uint64) []byte {
	return join(PrefixHolding, addr.Bytes(), be64(asset))
}

// HoldingPrefix scans every holding of addr.
func HoldingPrefix(addr common.Address) []byte { return join(PrefixHolding, addr.Bytes()) }

func AssetKey(id uint64) []byte { return join(PrefixAsset, be64(id)) }

func ReceiptKey(txID [32]byte) []byte { return join(PrefixReceipt, txID[:]) }

func BlockKey(height uint64) []byte { return join(PrefixBlock, be64(height)) }

func MetaKey(name string) []byte { return join(PrefixMeta, []byte(name)) }

// NextAssetKey holds the next asset id to allocate.
func NextAssetKey() []byte { return metaNextAsset }

func be64(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

func join(parts ...[]byte) []byte {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil
}
