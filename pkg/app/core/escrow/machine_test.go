package escrow

import (
	"math"
	"math/rand"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/uhyunpark/escrowd/pkg/app/core/bank"
	"github.com/uhyunpark/escrowd/pkg/app/core/ledger"
	"github.com/uhyunpark/escrowd/pkg/app/core/transaction"
	"github.com/uhyunpark/escrowd/pkg/crypto"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

var (
	seller  = common.HexToAddress("0x5E11E70000000000000000000000000000000000")
	buyer   = common.HexToAddress("0xB0B0000000000000000000000000000000000000")
	custody = crypto.CustodyAddress(1)
)

const startNative = 10_000_000_000

type harness struct {
	t     *testing.T
	db    *storage.PebbleStore
	m     *Machine
	asset uint64
}

// newHarness funds seller and buyer, creates an asset owned by seller with
// 1000 units, opts buyer in and admits the asset to custody.
func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := storage.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := &harness{t: t, db: db, m: NewMachine(custody, DefaultParams())}

	txn := db.NewTxn()
	b := bank.New(txn)
	require.NoError(t, b.Credit(seller, startNative))
	require.NoError(t, b.Credit(buyer, startNative))
	h.asset, err = b.CreateAsset(bank.Asset{Creator: seller, Total: 1_000, UnitName: "TKN"})
	require.NoError(t, err)
	require.NoError(t, b.OptIn(buyer, h.asset))
	require.NoError(t, txn.Commit())

	_, err = h.run(h.pay(seller, custody, DefaultParams().AssetOptInMinBalance), h.call(seller, transaction.MethodAdmitAsset))
	require.NoError(t, err)
	return h
}

func (h *harness) pay(from, to common.Address, amount uint64) transaction.Txn {
	return transaction.Txn{Type: transaction.TxTypePay, Sender: from, Receiver: to, Amount: amount}
}

func (h *harness) deposit(from common.Address, amount uint64) transaction.Txn {
	return transaction.Txn{Type: transaction.TxTypeAssetTransfer, Sender: from, Receiver: custody, Asset: h.asset, Amount: amount}
}

func (h *harness) call(from common.Address, method string) transaction.Txn {
	return transaction.Txn{Type: transaction.TxTypeAppCall, Sender: from, Method: method, Asset: h.asset}
}

// run applies the transfers, then the trailing call, on one batch that is
// committed only if everything succeeds.
func (h *harness) run(txns ...transaction.Txn) (Event, error) {
	txn := h.db.NewTxn()
	defer txn.Discard()
	st := State{Ledger: ledger.NewStore(txn), Bank: bank.New(txn)}

	for _, t := range txns[:len(txns)-1] {
		var err error
		switch t.Type {
		case transaction.TxTypePay:
			err = st.Bank.TransferNative(t.Sender, t.Receiver, t.Amount)
		case transaction.TxTypeAssetTransfer:
			err = st.Bank.TransferAsset(t.Asset, t.Sender, t.Receiver, t.Amount)
		}
		if err != nil {
			return Event{}, err
		}
	}
	ev, err := h.m.Execute(st, txns, len(txns)-1)
	if err != nil {
		return Event{}, err
	}
	return ev, txn.Commit()
}

func (h *harness) open(quantity, price uint64) (Event, error) {
	c := h.call(seller, transaction.MethodOpenListing)
	c.Price = price
	return h.run(h.pay(seller, custody, forSaleMBR()), h.deposit(seller, quantity), c)
}

func (h *harness) topUp(quantity uint64) (Event, error) {
	return h.run(h.deposit(seller, quantity), h.call(seller, transaction.MethodTopUp))
}

func (h *harness) reprice(price uint64) (Event, error) {
	c := h.call(seller, transaction.MethodReprice)
	c.Price = price
	return h.run(c)
}

func (h *harness) purchase(quantity, payment uint64) (Event, error) {
	c := h.call(buyer, transaction.MethodPurchase)
	c.Owner = seller
	c.Quantity = quantity
	return h.run(h.pay(buyer, seller, payment), c)
}

func (h *harness) liquidate() (Event, error) {
	return h.run(h.call(seller, transaction.MethodLiquidate))
}

func forSaleMBR() uint64 { return DefaultParams().ForSaleMBR }

// record reads committed state.
func (h *harness) record() (ledger.Record, bool) {
	v := h.db.View()
	defer v.Close()
	r, ok, err := ledger.NewStore(v).Get(ledger.Key{Owner: seller, Asset: h.asset})
	require.NoError(h.t, err)
	return r, ok
}

func (h *harness) native(addr common.Address) uint64 {
	v := h.db.View()
	defer v.Close()
	bal, err := bank.New(v).Balance(addr)
	require.NoError(h.t, err)
	return bal
}

func (h *harness) holding(addr common.Address) uint64 {
	v := h.db.View()
	defer v.Close()
	amt, _, err := bank.New(v).Holding(addr, h.asset)
	require.NoError(h.t, err)
	return amt
}

func TestExampleScenario(t *testing.T) {
	h := newHarness(t)
	sellerNative := h.native(seller)

	_, err := h.open(3, 1_000_000)
	require.NoError(t, err)
	rec, ok := h.record()
	require.True(t, ok)
	require.Equal(t, ledger.Record{Deposited: 3, UnitPrice: 1_000_000}, rec)
	require.Equal(t, sellerNative-forSaleMBR(), h.native(seller))

	_, err = h.topUp(2)
	require.NoError(t, err)
	rec, _ = h.record()
	require.Equal(t, ledger.Record{Deposited: 5, UnitPrice: 1_000_000}, rec)

	_, err = h.reprice(500_000)
	require.NoError(t, err)
	rec, _ = h.record()
	require.Equal(t, ledger.Record{Deposited: 5, UnitPrice: 500_000}, rec)

	buyerNative := h.native(buyer)
	ev, err := h.purchase(3, 1_500_000)
	require.NoError(t, err)
	require.Equal(t, uint64(1_500_000), ev.Amount)
	rec, _ = h.record()
	require.Equal(t, ledger.Record{Deposited: 2, UnitPrice: 500_000}, rec)
	require.Equal(t, uint64(3), h.holding(buyer))
	require.Equal(t, buyerNative-1_500_000, h.native(buyer))

	sellerTokens := h.holding(seller)
	sellerNative = h.native(seller)
	ev, err = h.liquidate()
	require.NoError(t, err)
	require.Nil(t, ev.After)
	_, ok = h.record()
	require.False(t, ok)
	require.Equal(t, sellerTokens+2, h.holding(seller))
	require.Equal(t, sellerNative+forSaleMBR(), h.native(seller))
	require.Zero(t, h.holding(custody))
}

func TestOverPurchaseRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.open(2, 500_000)
	require.NoError(t, err)

	_, err = h.purchase(10, 5_000_000)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, KindPrecondition, KindOf(err))

	rec, _ := h.record()
	require.Equal(t, ledger.Record{Deposited: 2, UnitPrice: 500_000}, rec)
	require.Zero(t, h.holding(buyer))
}

func TestPurchaseOneUnitShortIsAtomic(t *testing.T) {
	h := newHarness(t)
	_, err := h.open(5, 1_000)
	require.NoError(t, err)
	buyerNative := h.native(buyer)
	custodyTokens := h.holding(custody)

	_, err = h.purchase(3, 2_999)
	require.ErrorIs(t, err, ErrPaymentMismatch)
	require.Equal(t, KindPayment, KindOf(err))

	rec, _ := h.record()
	require.Equal(t, uint64(5), rec.Deposited)
	require.Equal(t, custodyTokens, h.holding(custody))
	require.Equal(t, buyerNative, h.native(buyer), "companion payment rolled back too")
}

func TestPurchasePaymentMustGoToOwner(t *testing.T) {
	h := newHarness(t)
	_, err := h.open(5, 10)
	require.NoError(t, err)

	c := h.call(buyer, transaction.MethodPurchase)
	c.Owner, c.Quantity = seller, 1
	_, err = h.run(h.pay(buyer, custody, 10), c)
	require.ErrorIs(t, err, ErrPaymentMismatch)
}

func TestPurchaseZeroQuantityRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.open(5, 10)
	require.NoError(t, err)

	_, err = h.purchase(0, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestZeroPriceListing(t *testing.T) {
	h := newHarness(t)
	_, err := h.open(2, 0)
	require.NoError(t, err)

	_, err = h.purchase(2, 0)
	require.NoError(t, err)
	rec, ok := h.record()
	require.True(t, ok, "exhausted listing stays until liquidated")
	require.Equal(t, ledger.Record{Deposited: 0, UnitPrice: 0}, rec)

	ev, err := h.liquidate()
	require.NoError(t, err)
	require.Zero(t, ev.Quantity)
}

func TestPurchaseOverflow(t *testing.T) {
	h := newHarness(t)
	_, err := h.open(2, math.MaxUint64)
	require.NoError(t, err)

	_, err = h.purchase(2, 0)
	require.ErrorIs(t, err, ErrArithmeticOverflow)
	require.Equal(t, KindOverflow, KindOf(err))
}

func TestTopUpOverflow(t *testing.T) {
	h := newHarness(t)
	_, err := h.open(1, 1)
	require.NoError(t, err)

	txn := h.db.NewTxn()
	defer txn.Discard()
	st := State{Ledger: ledger.NewStore(txn), Bank: bank.New(txn)}
	require.NoError(t, st.Ledger.Put(ledger.Key{Owner: seller, Asset: h.asset}, ledger.Record{Deposited: math.MaxUint64, UnitPrice: 1}))

	_, err = h.m.TopUp(st, seller, h.asset, 0, h.deposit(seller, 1))
	require.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestPriceIndependence(t *testing.T) {
	h := newHarness(t)
	_, err := h.open(4, 70)
	require.NoError(t, err)

	for _, price := range []uint64{0, 1, 70, math.MaxUint64} {
		_, err := h.reprice(price)
		require.NoError(t, err)
		rec, _ := h.record()
		require.Equal(t, uint64(4), rec.Deposited)
		require.Equal(t, price, rec.UnitPrice)
	}

	_, err = h.reprice(33)
	require.NoError(t, err)
	_, err = h.topUp(6)
	require.NoError(t, err)
	rec, _ := h.record()
	require.Equal(t, ledger.Record{Deposited: 10, UnitPrice: 33}, rec)
}

func TestLiquidationCompleteness(t *testing.T) {
	h := newHarness(t)
	_, err := h.open(7, 5)
	require.NoError(t, err)
	_, err = h.purchase(2, 10)
	require.NoError(t, err)

	native := h.native(seller)
	tokens := h.holding(seller)
	_, err = h.liquidate()
	require.NoError(t, err)
	require.Equal(t, native+forSaleMBR(), h.native(seller))
	require.Equal(t, tokens+5, h.holding(seller))

	_, err = h.liquidate()
	require.ErrorIs(t, err, ErrListingNotFound)

	_, err = h.open(1, 9)
	require.NoError(t, err, "key is absent again")
}

func TestDuplicateAdmission(t *testing.T) {
	h := newHarness(t)
	custodyNative := h.native(custody)

	_, err := h.run(h.pay(seller, custody, DefaultParams().AssetOptInMinBalance), h.call(seller, transaction.MethodAdmitAsset))
	require.ErrorIs(t, err, ErrDuplicateAdmission)
	require.Equal(t, KindPrecondition, KindOf(err))
	require.Equal(t, custodyNative, h.native(custody))
	require.Zero(t, h.holding(custody))
}

func TestAdmitAssetPaymentChecks(t *testing.T) {
	h := newHarness(t)

	txn := h.db.NewTxn()
	b := bank.New(txn)
	second, err := b.CreateAsset(bank.Asset{Creator: seller, Total: 1})
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	admit := h.call(seller, transaction.MethodAdmitAsset)
	admit.Asset = second
	fee := DefaultParams().AssetOptInMinBalance

	_, err = h.run(h.pay(seller, custody, fee-1), admit)
	require.ErrorIs(t, err, ErrPaymentMismatch)
	_, err = h.run(h.pay(seller, buyer, fee), admit)
	require.ErrorIs(t, err, ErrPaymentMismatch)
	_, err = h.run(admit)
	require.ErrorIs(t, err, ErrPaymentMismatch, "missing companion")

	_, err = h.run(h.pay(seller, custody, fee), admit)
	require.NoError(t, err)
}

func TestAssetNotAdmitted(t *testing.T) {
	h := newHarness(t)
	txn := h.db.NewTxn()
	defer txn.Discard()
	st := State{Ledger: ledger.NewStore(txn), Bank: bank.New(txn)}

	other := h.asset + 1
	dep := h.deposit(seller, 1)
	dep.Asset = other
	_, err := h.m.OpenListing(st, seller, other, 0, 1, h.pay(seller, custody, forSaleMBR()), dep)
	require.ErrorIs(t, err, ErrAssetNotAdmitted)
	_, err = h.m.Reprice(st, seller, other, 1)
	require.ErrorIs(t, err, ErrAssetNotAdmitted)
	_, err = h.m.Liquidate(st, seller, other)
	require.ErrorIs(t, err, ErrAssetNotAdmitted)
}

func TestListingPreconditions(t *testing.T) {
	h := newHarness(t)

	_, err := h.topUp(1)
	require.ErrorIs(t, err, ErrListingNotFound)
	_, err = h.reprice(1)
	require.ErrorIs(t, err, ErrListingNotFound)
	_, err = h.purchase(1, 0)
	require.ErrorIs(t, err, ErrListingNotFound)
	_, err = h.liquidate()
	require.ErrorIs(t, err, ErrListingNotFound)

	_, err = h.open(3, 1)
	require.NoError(t, err)
	_, err = h.open(3, 1)
	require.ErrorIs(t, err, ErrDuplicateListing)
}

func TestOpenListingGuard(t *testing.T) {
	h := newHarness(t)
	mbr := forSaleMBR()
	c := h.call(seller, transaction.MethodOpenListing)

	tests := []struct {
		name string
		txns []transaction.Txn
	}{
		{"collateral short", []transaction.Txn{h.pay(seller, custody, mbr-1), h.deposit(seller, 1), c}},
		{"collateral to owner", []transaction.Txn{h.pay(seller, buyer, mbr), h.deposit(seller, 1), c}},
		{"zero deposit", []transaction.Txn{h.pay(seller, custody, mbr), h.deposit(seller, 0), c}},
		{"swapped order", []transaction.Txn{h.deposit(seller, 1), h.pay(seller, custody, mbr), c}},
		{"deposit only", []transaction.Txn{h.deposit(seller, 1), c}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.run(tt.txns...)
			require.ErrorIs(t, err, ErrPaymentMismatch)
			_, ok := h.record()
			require.False(t, ok)
		})
	}

	declared := c
	declared.Quantity = 2
	_, err := h.run(h.pay(seller, custody, mbr), h.deposit(seller, 1), declared)
	require.ErrorIs(t, err, ErrPaymentMismatch, "declared quantity must match deposit")
}

func TestDepositFromAnotherSenderRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.open(5, 1)
	require.NoError(t, err)
	_, err = h.purchase(2, 2)
	require.NoError(t, err)

	// buyer deposits into seller's listing
	_, err = h.run(h.deposit(buyer, 1), h.call(seller, transaction.MethodTopUp))
	require.ErrorIs(t, err, ErrPaymentMismatch)
}

func TestNotOwner(t *testing.T) {
	h := newHarness(t)
	_, err := h.open(1, 1)
	require.NoError(t, err)

	c := h.call(buyer, transaction.MethodReprice)
	c.Owner = seller
	_, err = h.run(c)
	require.ErrorIs(t, err, ErrNotOwner)

	// Without an owner field the caller's own (absent) listing is addressed.
	_, err = h.run(h.call(buyer, transaction.MethodLiquidate))
	require.ErrorIs(t, err, ErrListingNotFound)
}

func TestCustodyShortfallIsResourceExhaustion(t *testing.T) {
	h := newHarness(t)
	_, err := h.open(2, 1)
	require.NoError(t, err)

	// Inflate the record past what custody actually holds.
	txn := h.db.NewTxn()
	require.NoError(t, ledger.NewStore(txn).Put(ledger.Key{Owner: seller, Asset: h.asset}, ledger.Record{Deposited: 50, UnitPrice: 1}))
	require.NoError(t, txn.Commit())

	_, err = h.purchase(10, 10)
	require.ErrorIs(t, err, ErrResourceExhausted)
	require.ErrorIs(t, err, bank.ErrInsufficientFunds)
	require.Equal(t, KindResource, KindOf(err))
}

func TestPurchaseBuyerNotOptedIn(t *testing.T) {
	h := newHarness(t)
	_, err := h.open(2, 1)
	require.NoError(t, err)

	stranger := common.HexToAddress("0x5700000000000000000000000000000000000000")
	txn := h.db.NewTxn()
	require.NoError(t, bank.New(txn).Credit(stranger, 10))
	require.NoError(t, txn.Commit())

	c := h.call(stranger, transaction.MethodPurchase)
	c.Owner, c.Quantity = seller, 1
	_, err = h.run(h.pay(stranger, seller, 1), c)
	require.ErrorIs(t, err, bank.ErrNotOptedIn)
	require.Equal(t, KindPrecondition, KindOf(err))
}

func TestUnknownMethod(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(h.call(seller, "withdraw"))
	require.ErrorIs(t, err, ErrUnknownMethod)
}

// Deposited always equals deposits minus purchases, and custody holds at
// least the sum of deposited across listings.
func TestConservation(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(7))

	var expected uint64
	listed := false
	for i := 0; i < 200; i++ {
		switch op := rng.Intn(5); {
		case !listed || op == 0:
			if listed {
				_, err := h.liquidate()
				require.NoError(t, err)
			}
			q := uint64(rng.Intn(3) + 1)
			_, err := h.open(q, uint64(rng.Intn(4)))
			require.NoError(t, err)
			expected, listed = q, true
		case op == 1:
			q := uint64(rng.Intn(3) + 1)
			if _, err := h.topUp(q); err == nil {
				expected += q
			} else {
				require.ErrorIs(t, err, bank.ErrInsufficientFunds, "seller ran out of tokens")
			}
		case op == 2:
			_, err := h.reprice(uint64(rng.Intn(4)))
			require.NoError(t, err)
		default:
			rec, _ := h.record()
			q := uint64(rng.Intn(4))
			_, err := h.purchase(q, rec.UnitPrice*q)
			switch {
			case q == 0:
				require.ErrorIs(t, err, ErrInvalidQuantity)
			case q > expected:
				require.ErrorIs(t, err, ErrInsufficientBalance)
			default:
				require.NoError(t, err)
				expected -= q
			}
		}
		rec, ok := h.record()
		require.True(t, ok)
		require.Equal(t, expected, rec.Deposited)
		require.GreaterOrEqual(t, h.holding(custody), rec.Deposited)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{ErrDuplicateListing, KindPrecondition},
		{ErrAssetNotAdmitted, KindPrecondition},
		{ErrPaymentMismatch, KindPayment},
		{bank.ErrInsufficientFunds, KindPayment},
		{ErrArithmeticOverflow, KindOverflow},
		{ErrResourceExhausted, KindResource},
		{storage.ErrClosed, KindInternal},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
	require.Equal(t, "resource", KindResource.String())
}
