package listing

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/uhyunpark/escrowd/pkg/storage"
)

// hashedPrefixes are the state families covered by the app hash, in order.
// Receipts, blocks and chain metadata are excluded.
var hashedPrefixes = [][]byte{
	storage.PrefixListing,
	storage.PrefixAccount,
	storage.PrefixHolding,
	storage.PrefixAsset,
}

// computeStateHash hashes height, timestamp and every hashed key/value pair
// in key order, each length-prefixed. It also returns the listing count.
//
// TODO: replace the full rescan with an incremental tree once state proofs
// are needed by light clients.
func (a *App) computeStateHash(height, timestamp int64) ([32]byte, int, error) {
	view := a.store.View()
	defer view.Close()

	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(height))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(timestamp))
	h.Write(buf[:])

	listings := 0
	for _, prefix := range hashedPrefixes {
		err := view.Iterate(prefix, func(key, value []byte) error {
			if bytes.Equal(prefix, storage.PrefixListing) {
				listings++
			}
			binary.BigEndian.PutUint64(buf[:], uint64(len(key)))
			h.Write(buf[:])
			h.Write(key)
			binary.BigEndian.PutUint64(buf[:], uint64(len(value)))
			h.Write(buf[:])
			h.Write(value)
			return nil
		})
		if err != nil {
			return [32]byte{}, listings, err
		}
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, listings, nil
}
