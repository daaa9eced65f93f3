package storage

import (
	"fmt"
)

// Block is the persisted record of one sequenced block.
type Block struct {
	Height    uint64
	Timestamp int64 // unix millis
	Txs       [][]byte
	AppHash   [32]byte
}

// SaveBlock stages the block and advances the chain head in the same write.
// A pending proposal for the same height is cleared with it.
func SaveBlock(kv KV, b Block) error {
	data, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("failed to encode block %d: %w", b.Height, err)
	}
	if err := kv.Set(BlockKey(b.Height), data); err != nil {
		return err
	}
	if err := PutUint64(kv, metaHeight, b.Height); err != nil {
		return err
	}
	if err := kv.Set(metaAppHash, b.AppHash[:]); err != nil {
		return err
	}
	return kv.Delete(metaPending)
}

// SavePending records a proposal before any of its groups are applied, so
// that a block interrupted between its first group and SaveBlock can be
// replayed with the same transactions and timestamp.
func SavePending(kv KV, b Block) error {
	data, err := encodeGob(b)
	if err != nil {
		return fmt.Errorf("failed to encode pending block %d: %w", b.Height, err)
	}
	return kv.Set(metaPending, data)
}

func PendingBlock(kv KV) (Block, bool, error) {
	data, ok, err := kv.Get(metaPending)
	if err != nil || !ok {
		return Block{}, false, err
	}
	var b Block
	if err := decodeGob(data, &b); err != nil {
		return Block{}, false, fmt.Errorf("failed to decode pending block: %w", err)
	}
	return b, true, nil
}

func GetBlock(kv KV, height uint64) (Block, bool, error) {
	data, ok, err := kv.Get(BlockKey(height))
	if err != nil || !ok {
		return Block{}, false, err
	}
	var b Block
	if err := decodeGob(data, &b); err != nil {
		return Block{}, false, fmt.Errorf("failed to decode block %d: %w", height, err)
	}
	return b, true, nil
}

// Head returns the last committed height and app hash. A fresh store reports
// height 0 with a zero hash.
func Head(kv KV) (uint64, [32]byte, error) {
	var hash [32]byte
	height, err := GetUint64(kv, metaHeight, 0)
	if err != nil {
		return 0, hash, err
	}
	raw, ok, err := kv.Get(metaAppHash)
	if err != nil {
		return 0, hash, err
	}
	if ok {
		copy(hash[:], raw)
	}
	return height, hash, nil
}
