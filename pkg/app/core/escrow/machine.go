package escrow

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/escrowd/params"
	"github.com/uhyunpark/escrowd/pkg/app/core/bank"
	"github.com/uhyunpark/escrowd/pkg/app/core/ledger"
	"github.com/uhyunpark/escrowd/pkg/app/core/transaction"
	"github.com/uhyunpark/escrowd/pkg/util"
)

type Params struct {
	ForSaleMBR           uint64
	AssetOptInMinBalance uint64
}

func DefaultParams() Params {
	return Params{ForSaleMBR: params.ForSaleMBR, AssetOptInMinBalance: params.AssetOptInMinBalance}
}

// State is what one operation reads and writes. Both handles must sit on the
// same staged batch so that listing writes and custody moves commit together.
type State struct {
	Ledger *ledger.Store
	Bank   *bank.Bank
}

// Machine runs the listing lifecycle against a custodial account.
type Machine struct {
	custody common.Address
	params  Params
	guard   Guard
}

func NewMachine(custody common.Address, p Params) *Machine {
	return &Machine{custody: custody, params: p, guard: NewGuard(custody)}
}

func (m *Machine) Custody() common.Address { return m.custody }
func (m *Machine) Params() Params          { return m.params }

// Execute dispatches the application call at position i of a group. The
// transactions before it must already be applied to st.
func (m *Machine) Execute(st State, txns []transaction.Txn, i int) (Event, error) {
	call := txns[i]
	preceding := txns[:i]
	if call.Method != transaction.MethodPurchase && call.Owner != (common.Address{}) && call.Owner != call.Sender {
		return Event{}, fmt.Errorf("%w: %s called by %s for %s", ErrNotOwner, call.Method, call.Sender.Hex(), call.Owner.Hex())
	}

	switch call.Method {
	case transaction.MethodAdmitAsset:
		c, err := companions(preceding, 1, call.Method)
		if err != nil {
			return Event{}, err
		}
		return m.AdmitAsset(st, call.Sender, call.Asset, c[0])
	case transaction.MethodOpenListing:
		c, err := companions(preceding, 2, call.Method)
		if err != nil {
			return Event{}, err
		}
		return m.OpenListing(st, call.Sender, call.Asset, call.Quantity, call.Price, c[0], c[1])
	case transaction.MethodTopUp:
		c, err := companions(preceding, 1, call.Method)
		if err != nil {
			return Event{}, err
		}
		return m.TopUp(st, call.Sender, call.Asset, call.Quantity, c[0])
	case transaction.MethodReprice:
		return m.Reprice(st, call.Sender, call.Asset, call.Price)
	case transaction.MethodPurchase:
		c, err := companions(preceding, 1, call.Method)
		if err != nil {
			return Event{}, err
		}
		return m.Purchase(st, call.Sender, call.Owner, call.Asset, call.Quantity, c[0])
	case transaction.MethodLiquidate:
		return m.Liquidate(st, call.Sender, call.Asset)
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownMethod, call.Method)
	}
}

// AdmitAsset opts the custody into asset. Paid for by a companion payment of
// exactly AssetOptInMinBalance to the custody.
func (m *Machine) AdmitAsset(st State, caller common.Address, asset uint64, payment transaction.Txn) (Event, error) {
	admitted, err := st.Bank.IsOptedIn(m.custody, asset)
	if err != nil {
		return Event{}, err
	}
	if admitted {
		return Event{}, fmt.Errorf("%w: %d", ErrDuplicateAdmission, asset)
	}
	if err := m.guard.payment(payment, caller, m.custody, m.params.AssetOptInMinBalance); err != nil {
		return Event{}, err
	}
	if err := st.Bank.OptIn(m.custody, asset); err != nil {
		return Event{}, fmt.Errorf("failed to admit asset %d: %w", asset, err)
	}
	return Event{Method: transaction.MethodAdmitAsset, Owner: caller, Asset: asset, Amount: payment.Amount}, nil
}

// OpenListing creates the listing with the deposited amount and price.
// quantity is optional; when set it must match the deposit.
func (m *Machine) OpenListing(st State, caller common.Address, asset, quantity, price uint64, collateral, deposit transaction.Txn) (Event, error) {
	if err := m.requireAdmitted(st, asset); err != nil {
		return Event{}, err
	}
	key := ledger.Key{Owner: caller, Asset: asset}
	if _, ok, err := st.Ledger.Get(key); err != nil {
		return Event{}, err
	} else if ok {
		return Event{}, fmt.Errorf("%w: %s", ErrDuplicateListing, key)
	}
	if err := m.guard.payment(collateral, caller, m.custody, m.params.ForSaleMBR); err != nil {
		return Event{}, err
	}
	amount, err := m.guard.deposit(deposit, caller, asset)
	if err != nil {
		return Event{}, err
	}
	if quantity != 0 && quantity != amount {
		return Event{}, fmt.Errorf("%w: declared quantity %d, deposited %d", ErrPaymentMismatch, quantity, amount)
	}

	rec := ledger.Record{Deposited: amount, UnitPrice: price}
	if err := st.Ledger.Put(key, rec); err != nil {
		return Event{}, err
	}
	return Event{Method: transaction.MethodOpenListing, Owner: caller, Asset: asset, Quantity: amount, After: &rec}, nil
}

// TopUp adds a deposit to an existing listing. The price is unchanged.
func (m *Machine) TopUp(st State, caller common.Address, asset, quantity uint64, deposit transaction.Txn) (Event, error) {
	key, rec, err := m.load(st, caller, asset)
	if err != nil {
		return Event{}, err
	}
	amount, err := m.guard.deposit(deposit, caller, asset)
	if err != nil {
		return Event{}, err
	}
	if quantity != 0 && quantity != amount {
		return Event{}, fmt.Errorf("%w: declared quantity %d, deposited %d", ErrPaymentMismatch, quantity, amount)
	}
	sum, ok := util.SafeAdd(rec.Deposited, amount)
	if !ok {
		return Event{}, fmt.Errorf("%w: deposited %d + %d", ErrArithmeticOverflow, rec.Deposited, amount)
	}

	before := rec
	rec.Deposited = sum
	if err := st.Ledger.Put(key, rec); err != nil {
		return Event{}, err
	}
	return Event{Method: transaction.MethodTopUp, Owner: caller, Asset: asset, Quantity: amount, Before: &before, After: &rec}, nil
}

// Reprice sets the unit price. Any value, including zero, is accepted.
func (m *Machine) Reprice(st State, caller common.Address, asset, price uint64) (Event, error) {
	key, rec, err := m.load(st, caller, asset)
	if err != nil {
		return Event{}, err
	}
	before := rec
	rec.UnitPrice = price
	if err := st.Ledger.Put(key, rec); err != nil {
		return Event{}, err
	}
	return Event{Method: transaction.MethodReprice, Owner: caller, Asset: asset, Before: &before, After: &rec}, nil
}

// Purchase sells quantity units of owner's listing to buyer, who must have
// paid unit_price * quantity straight to owner in the companion payment.
// Sufficiency is checked against this listing only, never the custody pool.
func (m *Machine) Purchase(st State, buyer, owner common.Address, asset, quantity uint64, payment transaction.Txn) (Event, error) {
	key, rec, err := m.load(st, owner, asset)
	if err != nil {
		return Event{}, err
	}
	if quantity == 0 {
		return Event{}, ErrInvalidQuantity
	}
	if quantity > rec.Deposited {
		return Event{}, fmt.Errorf("%w: %s holds %d, asked %d", ErrInsufficientBalance, key, rec.Deposited, quantity)
	}
	due, ok := util.SafeMul(rec.UnitPrice, quantity)
	if !ok {
		return Event{}, fmt.Errorf("%w: price %d * quantity %d", ErrArithmeticOverflow, rec.UnitPrice, quantity)
	}
	if err := m.guard.payment(payment, buyer, owner, due); err != nil {
		return Event{}, err
	}
	if err := m.release(st, asset, buyer, quantity); err != nil {
		return Event{}, err
	}

	before := rec
	rec.Deposited -= quantity
	if err := st.Ledger.Put(key, rec); err != nil {
		return Event{}, err
	}
	return Event{
		Method:   transaction.MethodPurchase,
		Owner:    owner,
		Buyer:    buyer,
		Asset:    asset,
		Quantity: quantity,
		Amount:   due,
		Before:   &before,
		After:    &rec,
	}, nil
}

// Liquidate deletes the listing and returns its remaining tokens and the
// listing collateral to the owner.
func (m *Machine) Liquidate(st State, caller common.Address, asset uint64) (Event, error) {
	key, rec, err := m.load(st, caller, asset)
	if err != nil {
		return Event{}, err
	}
	if err := st.Ledger.Delete(key); err != nil {
		return Event{}, err
	}
	if rec.Deposited > 0 {
		if err := m.release(st, asset, caller, rec.Deposited); err != nil {
			return Event{}, err
		}
	}
	if err := st.Bank.TransferNative(m.custody, caller, m.params.ForSaleMBR); err != nil {
		return Event{}, custodyError(err)
	}
	before := rec
	return Event{
		Method:   transaction.MethodLiquidate,
		Owner:    caller,
		Asset:    asset,
		Quantity: rec.Deposited,
		Amount:   m.params.ForSaleMBR,
		Before:   &before,
	}, nil
}

func (m *Machine) requireAdmitted(st State, asset uint64) error {
	admitted, err := st.Bank.IsOptedIn(m.custody, asset)
	if err != nil {
		return err
	}
	if !admitted {
		return fmt.Errorf("%w: %d", ErrAssetNotAdmitted, asset)
	}
	return nil
}

// load checks admission and returns the existing listing of (owner, asset).
func (m *Machine) load(st State, owner common.Address, asset uint64) (ledger.Key, ledger.Record, error) {
	key := ledger.Key{Owner: owner, Asset: asset}
	if err := m.requireAdmitted(st, asset); err != nil {
		return key, ledger.Record{}, err
	}
	rec, ok, err := st.Ledger.Get(key)
	if err != nil {
		return key, ledger.Record{}, err
	}
	if !ok {
		return key, ledger.Record{}, fmt.Errorf("%w: %s", ErrListingNotFound, key)
	}
	return key, rec, nil
}

// release moves tokens out of custody.
func (m *Machine) release(st State, asset uint64, to common.Address, amount uint64) error {
	if err := st.Bank.TransferAsset(asset, m.custody, to, amount); err != nil {
		return custodyError(err)
	}
	return nil
}

// custodyError marks a custody shortfall as resource exhaustion; other bank
// errors (e.g. a receiver that never opted in) pass through.
func custodyError(err error) error {
	if errors.Is(err, bank.ErrInsufficientFunds) {
		return fmt.Errorf("%w: %w", ErrResourceExhausted, err)
	}
	return err
}
