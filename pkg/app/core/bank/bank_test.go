package bank

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func newTestBank(t *testing.T) (*Bank, *storage.Txn) {
	t.Helper()
	db, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	txn := db.NewTxn()
	t.Cleanup(txn.Discard)
	return New(txn), txn
}

func TestNative_CreditAndTransfer(t *testing.T) {
	b, _ := newTestBank(t)

	acc, err := b.Account(alice)
	require.NoError(t, err)
	require.Equal(t, Account{Address: alice}, acc)

	require.NoError(t, b.Credit(alice, 1_000))
	require.NoError(t, b.TransferNative(alice, bob, 400))

	bal, _ := b.Balance(alice)
	require.Equal(t, uint64(600), bal)
	bal, _ = b.Balance(bob)
	require.Equal(t, uint64(400), bal)

	err = b.TransferNative(bob, alice, 401)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	bal, _ = b.Balance(bob)
	require.Equal(t, uint64(400), bal, "failed transfer leaves balances alone")

	require.NoError(t, b.TransferNative(alice, alice, 600))
	bal, _ = b.Balance(alice)
	require.Equal(t, uint64(600), bal)
}

func TestNative_Overflow(t *testing.T) {
	b, _ := newTestBank(t)
	require.NoError(t, b.Credit(alice, math.MaxUint64))
	require.ErrorIs(t, b.Credit(alice, 1), ErrOverflow)

	require.NoError(t, b.Credit(bob, 1))
	require.ErrorIs(t, b.TransferNative(bob, alice, 1), ErrOverflow)
}

func TestNonce(t *testing.T) {
	b, _ := newTestBank(t)
	require.NoError(t, b.Credit(alice, 5))
	require.NoError(t, b.SetNonce(alice, 9))

	n, err := b.Nonce(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(9), n)
	bal, _ := b.Balance(alice)
	require.Equal(t, uint64(5), bal)
}

func TestAssets_CreateOptInTransfer(t *testing.T) {
	b, _ := newTestBank(t)

	id, err := b.CreateAsset(Asset{Creator: alice, Total: 100, UnitName: "TKN"})
	require.NoError(t, err)
	require.Equal(t, FirstAssetID, id)

	id2, err := b.CreateAsset(Asset{Creator: bob, Total: 1})
	require.NoError(t, err)
	require.Equal(t, FirstAssetID+1, id2)

	a, ok, err := b.Asset(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "TKN", a.UnitName)

	amt, ok, err := b.Holding(alice, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(100), amt)

	err = b.TransferAsset(id, alice, bob, 10)
	require.ErrorIs(t, err, ErrNotOptedIn)

	require.NoError(t, b.OptIn(bob, id))
	require.ErrorIs(t, b.OptIn(bob, id), ErrAlreadyOptedIn)
	require.ErrorIs(t, b.OptIn(bob, 42), ErrUnknownAsset)

	require.NoError(t, b.TransferAsset(id, alice, bob, 10))
	require.ErrorIs(t, b.TransferAsset(id, bob, alice, 11), ErrInsufficientFunds)
	require.ErrorIs(t, b.TransferAsset(42, bob, alice, 1), ErrUnknownAsset)

	holdings, err := b.Holdings(bob)
	require.NoError(t, err)
	require.Equal(t, []Holding{{Asset: id, Amount: 10}, {Asset: id2, Amount: 1}}, holdings)

	view, err := b.Snapshot(alice)
	require.NoError(t, err)
	require.Equal(t, []Holding{{Asset: id, Amount: 90}}, view.Holdings)
}

func TestDiscardedTxnLeavesNoTrace(t *testing.T) {
	db, err := storage.NewMemoryStore()
	require.NoError(t, err)
	defer db.Close()

	txn := db.NewTxn()
	require.NoError(t, New(txn).Credit(alice, 50))
	txn.Discard()

	view := db.View()
	defer view.Close()
	bal, err := New(view).Balance(alice)
	require.NoError(t, err)
	require.Zero(t, bal)
}
