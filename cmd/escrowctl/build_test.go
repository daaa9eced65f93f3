package main

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/escrowd/params"
	"github.com/uhyunpark/escrowd/pkg/app/core/transaction"
	"github.com/uhyunpark/escrowd/pkg/crypto"
)

func TestBuilder_GroupsVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	domain := crypto.NewDomain(params.Default().Escrow.ChainIDBig(), 1)
	v := transaction.NewVerifier(domain)

	b := newBuilder(key.Address(), 1, 100)
	buy, err := b.buy(owner, 1001, 2, 1_000_000)
	require.NoError(t, err)

	groups := map[string][]transaction.Txn{
		"create-asset": b.createAsset(10, 0, "GEM", "Gem"),
		"opt-in":       b.optIn(1001),
		"admit":        b.admit(1001),
		"open":         b.open(1001, 3, 1_000_000),
		"top-up":       b.topUp(1001, 2),
		"reprice":      b.reprice(1001, 5),
		"buy":          buy,
		"liquidate":    b.liquidate(1001),
	}
	for name, txns := range groups {
		t.Run(name, func(t *testing.T) {
			g, err := transaction.SignGroup(v.Signer(), txns, key)
			require.NoError(t, err)
			_, err = v.VerifyGroup(g)
			require.NoError(t, err)

			// Companions come first; nonces rise in group order.
			for i := 1; i < len(txns); i++ {
				require.Greater(t, txns[i].Nonce, txns[i-1].Nonce)
			}
			if i := g.AppCall(); i >= 0 {
				require.Equal(t, len(txns)-1, i)
			}
		})
	}
}

func TestBuilder_OpenLayout(t *testing.T) {
	sender := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	b := newBuilder(sender, 7, 1)
	txns := b.open(1001, 3, 9)

	require.Len(t, txns, 3)
	custody := crypto.CustodyAddress(7)
	require.Equal(t, transaction.TxTypePay, txns[0].Type)
	require.Equal(t, custody, txns[0].Receiver)
	require.Equal(t, params.ForSaleMBR, txns[0].Amount)
	require.Equal(t, transaction.TxTypeAssetTransfer, txns[1].Type)
	require.Equal(t, uint64(3), txns[1].Amount)
	require.Equal(t, transaction.MethodOpenListing, txns[2].Method)
	require.Equal(t, uint64(9), txns[2].Price)
	require.Equal(t, []uint64{1, 2, 3}, []uint64{txns[0].Nonce, txns[1].Nonce, txns[2].Nonce})
	require.Equal(t, uint64(4), b.nonce)
}

func TestBuilder_BuyPaysOwner(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	b := newBuilder(common.HexToAddress("0x01"), 1, 1)

	txns, err := b.buy(owner, 1001, 4, 25)
	require.NoError(t, err)
	require.Equal(t, owner, txns[0].Receiver)
	require.Equal(t, uint64(100), txns[0].Amount)
	require.Equal(t, owner, txns[1].Owner)

	_, err = b.buy(owner, 1001, 2, math.MaxUint64)
	require.Error(t, err)
}
