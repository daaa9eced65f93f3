package main

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowd/params"
	"github.com/uhyunpark/escrowd/pkg/app/core/transaction"
	"github.com/uhyunpark/escrowd/pkg/crypto"
	"github.com/uhyunpark/escrowd/pkg/util"
)

// builder lays out the transactions of each escrow call for one sender.
// Companion transactions come right before the application call.
type builder struct {
	sender  common.Address
	custody common.Address
	nonce   uint64
}

func newBuilder(sender common.Address, appID, firstNonce uint64) *builder {
	return &builder{sender: sender, custody: crypto.CustodyAddress(appID), nonce: firstNonce}
}

func (b *builder) txn(t transaction.Txn) transaction.Txn {
	t.Sender = b.sender
	t.Nonce = b.nonce
	b.nonce++
	return t
}

func (b *builder) call(method string, asset uint64) transaction.Txn {
	return b.txn(transaction.Txn{Type: transaction.TxTypeAppCall, Method: method, Asset: asset})
}

func (b *builder) createAsset(total uint64, decimals uint32, unit, name string) []transaction.Txn {
	return []transaction.Txn{b.txn(transaction.Txn{
		Type:      transaction.TxTypeAssetConfig,
		Total:     total,
		Decimals:  decimals,
		UnitName:  unit,
		AssetName: name,
	})}
}

func (b *builder) optIn(asset uint64) []transaction.Txn {
	return []transaction.Txn{b.txn(transaction.Txn{Type: transaction.TxTypeAssetTransfer, Receiver: b.sender, Asset: asset})}
}

func (b *builder) admit(asset uint64) []transaction.Txn {
	return []transaction.Txn{
		b.txn(transaction.Txn{Type: transaction.TxTypePay, Receiver: b.custody, Amount: params.AssetOptInMinBalance}),
		b.call(transaction.MethodAdmitAsset, asset),
	}
}

func (b *builder) open(asset, quantity, price uint64) []transaction.Txn {
	collateral := b.txn(transaction.Txn{Type: transaction.TxTypePay, Receiver: b.custody, Amount: params.ForSaleMBR})
	deposit := b.txn(transaction.Txn{Type: transaction.TxTypeAssetTransfer, Receiver: b.custody, Asset: asset, Amount: quantity})
	call := b.call(transaction.MethodOpenListing, asset)
	call.Price = price
	call.Quantity = quantity
	return []transaction.Txn{collateral, deposit, call}
}

func (b *builder) topUp(asset, quantity uint64) []transaction.Txn {
	deposit := b.txn(transaction.Txn{Type: transaction.TxTypeAssetTransfer, Receiver: b.custody, Asset: asset, Amount: quantity})
	call := b.call(transaction.MethodTopUp, asset)
	call.Quantity = quantity
	return []transaction.Txn{deposit, call}
}

func (b *builder) reprice(asset, price uint64) []transaction.Txn {
	call := b.call(transaction.MethodReprice, asset)
	call.Price = price
	return []transaction.Txn{call}
}

// buy pays unitPrice*quantity to owner and calls purchase.
func (b *builder) buy(owner common.Address, asset, quantity, unitPrice uint64) ([]transaction.Txn, error) {
	due, ok := util.SafeMul(unitPrice, quantity)
	if !ok {
		return nil, fmt.Errorf("price %d * quantity %d overflows", unitPrice, quantity)
	}
	pay := b.txn(transaction.Txn{Type: transaction.TxTypePay, Receiver: owner, Amount: due})
	call := b.call(transaction.MethodPurchase, asset)
	call.Owner = owner
	call.Quantity = quantity
	return []transaction.Txn{pay, call}, nil
}

func (b *builder) liquidate(asset uint64) []transaction.Txn {
	return []transaction.Txn{b.call(transaction.MethodLiquidate, asset)}
}
