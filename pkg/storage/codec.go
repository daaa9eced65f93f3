package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
)

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// PutUint64 stores v big-endian under key.
func PutUint64(kv KV, key []byte, v uint64) error {
	return kv.Set(key, be64(v))
}

// GetUint64 reads a big-endian counter, returning def when absent.
func GetUint64(kv KV, key []byte, def uint64) (uint64, error) {
	raw, ok, err := kv.Get(key)
	if err != nil || !ok {
		return def, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupt counter at %q: %d bytes", key, len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}
