package escrow

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/escrowd/pkg/app/core/transaction"
)

// Guard checks companion transfers. Companions are the transactions that
// immediately precede the application call in its group; the group executor
// has already applied them by the time the guard looks at them.
type Guard struct {
	custody common.Address
}

func NewGuard(custody common.Address) Guard { return Guard{custody: custody} }

// companions returns the n transactions right before the call.
func companions(preceding []transaction.Txn, n int, method string) ([]transaction.Txn, error) {
	if len(preceding) < n {
		return nil, fmt.Errorf("%w: %s needs %d companion txns, got %d", ErrPaymentMismatch, method, n, len(preceding))
	}
	return preceding[len(preceding)-n:], nil
}

// payment requires a native payment from -> to of exactly amount.
func (g Guard) payment(t transaction.Txn, from, to common.Address, amount uint64) error {
	switch {
	case t.Type != transaction.TxTypePay:
		return fmt.Errorf("%w: want pay txn, got %s", ErrPaymentMismatch, t.Type)
	case t.Sender != from:
		return fmt.Errorf("%w: payment sender %s, want %s", ErrPaymentMismatch, t.Sender.Hex(), from.Hex())
	case t.Receiver != to:
		return fmt.Errorf("%w: payment receiver %s, want %s", ErrPaymentMismatch, t.Receiver.Hex(), to.Hex())
	case t.Amount != amount:
		return fmt.Errorf("%w: payment amount %d, want %d", ErrPaymentMismatch, t.Amount, amount)
	}
	return nil
}

// deposit requires a positive asset transfer from -> custody and returns
// its amount.
func (g Guard) deposit(t transaction.Txn, from common.Address, asset uint64) (uint64, error) {
	switch {
	case t.Type != transaction.TxTypeAssetTransfer:
		return 0, fmt.Errorf("%w: want axfer txn, got %s", ErrPaymentMismatch, t.Type)
	case t.Sender != from:
		return 0, fmt.Errorf("%w: transfer sender %s, want %s", ErrPaymentMismatch, t.Sender.Hex(), from.Hex())
	case t.Receiver != g.custody:
		return 0, fmt.Errorf("%w: transfer receiver %s, want custody %s", ErrPaymentMismatch, t.Receiver.Hex(), g.custody.Hex())
	case t.Asset != asset:
		return 0, fmt.Errorf("%w: transfer asset %d, want %d", ErrPaymentMismatch, t.Asset, asset)
	case t.Amount == 0:
		return 0, fmt.Errorf("%w: transfer amount must be positive", ErrPaymentMismatch)
	}
	return t.Amount, nil
}
