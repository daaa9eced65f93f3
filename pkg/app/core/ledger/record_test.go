package ledger

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestEncodeKey_Layout(t *testing.T) {
	owner := common.HexToAddress("0x00112233445566778899aabbccddeeff00112233")
	raw := EncodeKey(Key{Owner: owner, Asset: 0x0102030405060708})

	require.Len(t, raw, 40)
	require.Equal(t, make([]byte, 12), raw[:12], "owner is left-padded to 32 bytes")
	require.Equal(t, owner.Bytes(), raw[12:32])
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, raw[32:])

	k, err := DecodeKey(raw)
	require.NoError(t, err)
	require.Equal(t, owner, k.Owner)
	require.Equal(t, uint64(0x0102030405060708), k.Asset)
}

func TestDecodeKey_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"short", make([]byte, 39)},
		{"long", make([]byte, 41)},
		{"dirty padding", append([]byte{1}, make([]byte, 39)...)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeKey(tt.raw)
			require.Error(t, err)
		})
	}
}

func TestEncodeValue_Layout(t *testing.T) {
	raw := EncodeValue(Record{Deposited: 5, UnitPrice: 1_000_000})
	require.Len(t, raw, 16)
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 5, 0, 0, 0, 0, 0, 0x0f, 0x42, 0x40}, raw)

	r, err := DecodeValue(raw)
	require.NoError(t, err)
	require.Equal(t, Record{Deposited: 5, UnitPrice: 1_000_000}, r)

	_, err = DecodeValue(raw[:15])
	require.Error(t, err)
}

func TestEncodeKey_OrdersByOwnerThenAsset(t *testing.T) {
	a := common.HexToAddress("0x01")
	b := common.HexToAddress("0x02")
	require.Negative(t, bytes.Compare(EncodeKey(Key{a, 900}), EncodeKey(Key{a, 1001})))
	require.Negative(t, bytes.Compare(EncodeKey(Key{a, ^uint64(0)}), EncodeKey(Key{b, 0})))
}
