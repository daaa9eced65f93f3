package crypto

import (
	"bytes"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func sampleTxn(sender common.Address) *TxnEIP712 {
	return &TxnEIP712{
		Type:     "appl",
		Sender:   sender,
		Method:   "purchase",
		Owner:    common.HexToAddress("0xAA00000000000000000000000000000000000000"),
		Asset:    1001,
		Quantity: 3,
		Nonce:    7,
	}
}

func TestHashTxn_SignAndRecover(t *testing.T) {
	signer, err := GenerateKey()
	require.NoError(t, err)
	es := NewEIP712Signer(DefaultDomain())

	txn := sampleTxn(signer.Address())
	sig, err := es.SignTxn(signer, txn)
	require.NoError(t, err)

	got, err := es.RecoverTxnSigner(txn, sig)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), got)

	// Any field change changes the digest.
	tampered := *txn
	tampered.Quantity = 4
	got, err = es.RecoverTxnSigner(&tampered, sig)
	require.NoError(t, err)
	require.NotEqual(t, signer.Address(), got)
}

func TestHashTxn_DomainSeparation(t *testing.T) {
	txn := sampleTxn(common.HexToAddress("0x01"))

	a, err := NewEIP712Signer(NewDomain(big.NewInt(1337), 1)).HashTxn(txn)
	require.NoError(t, err)
	b, err := NewEIP712Signer(NewDomain(big.NewInt(1337), 2)).HashTxn(txn)
	require.NoError(t, err)
	c, err := NewEIP712Signer(NewDomain(big.NewInt(1), 1)).HashTxn(txn)
	require.NoError(t, err)

	require.False(t, bytes.Equal(a, b), "app id is part of the domain")
	require.False(t, bytes.Equal(a, c), "chain id is part of the domain")

	// Struct hashes ignore the domain.
	sa, err := NewEIP712Signer(NewDomain(big.NewInt(1337), 1)).StructHash(txn)
	require.NoError(t, err)
	sb, err := NewEIP712Signer(NewDomain(big.NewInt(1), 2)).StructHash(txn)
	require.NoError(t, err)
	require.Equal(t, sa, sb)
}

func TestTxnToJSON(t *testing.T) {
	es := NewEIP712Signer(DefaultDomain())
	out, err := es.TxnToJSON(sampleTxn(common.HexToAddress("0x01")))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	require.Equal(t, "Txn", decoded["primaryType"])
}

func TestCustodyAddress(t *testing.T) {
	a := CustodyAddress(1)
	require.NotEqual(t, common.Address{}, a)
	require.Equal(t, a, CustodyAddress(1))
	require.NotEqual(t, a, CustodyAddress(2))
}

func TestTxID_Text(t *testing.T) {
	var id TxID
	id[0], id[31] = 0xde, 0xad

	text, err := id.MarshalText()
	require.NoError(t, err)

	var back TxID
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, id, back)

	_, err = ParseTxID("0OIl")
	require.Error(t, err, "not base58")
	_, err = ParseTxID("2")
	require.Error(t, err, "wrong length")
}
