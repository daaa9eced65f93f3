package listing

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowd/pkg/abci"
	"github.com/uhyunpark/escrowd/pkg/app/core/bank"
	"github.com/uhyunpark/escrowd/pkg/app/core/escrow"
	"github.com/uhyunpark/escrowd/pkg/app/core/ledger"
	"github.com/uhyunpark/escrowd/pkg/app/core/transaction"
	"github.com/uhyunpark/escrowd/pkg/crypto"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

// Event types emitted in block results.
const (
	EventTransfer = "transfer"
	EventAsset    = "asset_created"
	EventEscrow   = "escrow"
)

// outcome is what a group left behind when it committed.
type outcome struct {
	assets []uint64 // per txn, created asset id or 0
	event  *escrow.Event
	events []abci.Event
}

func (a *App) deliverGroup(height uint64, tx []byte) abci.ExecTxResult {
	g, err := transaction.Deserialize(tx)
	if err != nil {
		a.metrics.ObserveGroup("invalid")
		return abci.ExecTxResult{Code: abci.CodeInvalid, Log: err.Error(), Kind: escrow.KindPrecondition.String()}
	}
	ids, err := a.verifier.VerifyGroup(g)
	if err != nil {
		a.metrics.ObserveGroup("invalid")
		return abci.ExecTxResult{Code: abci.CodeInvalid, Log: err.Error(), Kind: escrow.KindPrecondition.String()}
	}
	txIDs := make([]string, len(ids))
	for i, id := range ids {
		txIDs[i] = id.String()
	}
	method := g.Method()

	out, err := a.applyGroup(g, ids, height)
	if err != nil {
		kind := kindOf(err)
		if method != "" {
			a.metrics.ObserveEscrowOp(method, kind.String())
		}
		a.metrics.ObserveGroup(StatusRejected)
		a.logger.Debugw("group_rejected", "height", height, "method", method, "kind", kind.String(), "first_tx", txIDs[0], "error", err)
		if rerr := a.writeRejected(g, ids, height, err, kind); rerr != nil {
			a.logger.Errorw("receipt_write_failed", "height", height, "first_tx", txIDs[0], "error", rerr)
		}
		return abci.ExecTxResult{Code: abci.CodeRejected, Log: err.Error(), Kind: kind.String(), TxIDs: txIDs}
	}

	if method != "" {
		a.metrics.ObserveEscrowOp(method, escrow.KindNone.String())
	}
	a.metrics.ObserveGroup(StatusCommitted)
	return abci.ExecTxResult{Code: abci.CodeOK, TxIDs: txIDs, Events: out.events}
}

// applyGroup runs every transaction of g on one staged batch and commits it
// together with the receipts. Any error discards the whole batch.
func (a *App) applyGroup(g *transaction.Group, ids []crypto.TxID, height uint64) (outcome, error) {
	txn := a.store.NewTxn()
	defer txn.Discard()

	st := escrow.State{Ledger: ledger.NewStore(txn), Bank: bank.New(txn)}
	txns := make([]transaction.Txn, len(g.Txns))
	for i := range g.Txns {
		txns[i] = g.Txns[i].Txn
	}

	out := outcome{assets: make([]uint64, len(txns))}
	for i := range txns {
		if err := a.applyTxn(st, txns, i, &out); err != nil {
			return outcome{}, fmt.Errorf("txn %d (%s): %w", i, txns[i].Type, err)
		}
	}

	for i := range txns {
		r := Receipt{
			TxID:    ids[i],
			Group:   txns[i].Group,
			Index:   i,
			Height:  height,
			Status:  StatusCommitted,
			AssetID: out.assets[i],
		}
		if txns[i].Type == transaction.TxTypeAppCall {
			r.Event = out.event
		}
		if err := putReceipt(txn, r); err != nil {
			return outcome{}, err
		}
	}
	if err := txn.Commit(); err != nil {
		return outcome{}, fmt.Errorf("failed to commit group: %w", err)
	}
	return out, nil
}

func (a *App) applyTxn(st escrow.State, txns []transaction.Txn, i int, out *outcome) error {
	t := txns[i]
	nonce, err := st.Bank.Nonce(t.Sender)
	if err != nil {
		return err
	}
	if t.Nonce <= nonce {
		return fmt.Errorf("%w: %s nonce %d, txn nonce %d", ErrStaleNonce, t.Sender.Hex(), nonce, t.Nonce)
	}
	if err := st.Bank.SetNonce(t.Sender, t.Nonce); err != nil {
		return err
	}

	switch t.Type {
	case transaction.TxTypePay:
		if err := st.Bank.TransferNative(t.Sender, t.Receiver, t.Amount); err != nil {
			return err
		}
		out.events = append(out.events, transferEvent(t))
	case transaction.TxTypeAssetTransfer:
		if err := a.assetTransfer(st, t); err != nil {
			return err
		}
		out.events = append(out.events, transferEvent(t))
	case transaction.TxTypeAssetConfig:
		id, err := st.Bank.CreateAsset(bank.Asset{
			Creator:  t.Sender,
			Total:    t.Total,
			Decimals: t.Decimals,
			UnitName: t.UnitName,
			Name:     t.AssetName,
		})
		if err != nil {
			return err
		}
		out.assets[i] = id
		out.events = append(out.events, abci.Event{Type: EventAsset, Attributes: []abci.Attribute{
			{Key: "asset", Value: strconv.FormatUint(id, 10)},
			{Key: "creator", Value: t.Sender.Hex()},
		}})
	case transaction.TxTypeAppCall:
		ev, err := a.machine.Execute(st, txns, i)
		if err != nil {
			return err
		}
		out.event = &ev
		out.events = append(out.events, escrowEvent(ev))
	default:
		return fmt.Errorf("unknown transaction type: %s", t.Type)
	}
	return nil
}

// assetTransfer applies an opt-in or a transfer. A deposit into custody for
// an asset the custody never admitted fails as not admitted.
func (a *App) assetTransfer(st escrow.State, t transaction.Txn) error {
	if t.IsOptIn() {
		return st.Bank.OptIn(t.Sender, t.Asset)
	}
	if t.Receiver == a.machine.Custody() {
		admitted, err := st.Bank.IsOptedIn(t.Receiver, t.Asset)
		if err != nil {
			return err
		}
		if !admitted {
			return fmt.Errorf("%w: %d", escrow.ErrAssetNotAdmitted, t.Asset)
		}
	}
	return st.Bank.TransferAsset(t.Asset, t.Sender, t.Receiver, t.Amount)
}

// writeRejected stores receipts for a group that left no state change.
// Ids that already carry a receipt keep it.
func (a *App) writeRejected(g *transaction.Group, ids []crypto.TxID, height uint64, cause error, kind escrow.Kind) error {
	txn := a.store.NewTxn()
	defer txn.Discard()
	for i := range g.Txns {
		if _, seen, err := txn.Get(storage.ReceiptKey(ids[i])); err != nil {
			return err
		} else if seen {
			continue
		}
		r := Receipt{
			TxID:   ids[i],
			Group:  g.Txns[i].Txn.Group,
			Index:  i,
			Height: height,
			Status: StatusRejected,
			Error:  cause.Error(),
			Kind:   kind.String(),
		}
		if err := putReceipt(txn, r); err != nil {
			return err
		}
	}
	return txn.Commit()
}

// kindOf extends escrow.KindOf with the failures the application layer adds.
func kindOf(err error) escrow.Kind {
	if errors.Is(err, ErrStaleNonce) {
		return escrow.KindPrecondition
	}
	return escrow.KindOf(err)
}

func transferEvent(t transaction.Txn) abci.Event {
	attrs := []abci.Attribute{
		{Key: "sender", Value: t.Sender.Hex()},
		{Key: "receiver", Value: t.Receiver.Hex()},
		{Key: "amount", Value: strconv.FormatUint(t.Amount, 10)},
	}
	if t.Type == transaction.TxTypeAssetTransfer {
		attrs = append(attrs, abci.Attribute{Key: "asset", Value: strconv.FormatUint(t.Asset, 10)})
	}
	return abci.Event{Type: EventTransfer, Attributes: attrs}
}

func escrowEvent(ev escrow.Event) abci.Event {
	attrs := []abci.Attribute{
		{Key: "method", Value: ev.Method},
		{Key: "owner", Value: ev.Owner.Hex()},
		{Key: "asset", Value: strconv.FormatUint(ev.Asset, 10)},
	}
	if ev.Buyer != (common.Address{}) {
		attrs = append(attrs, abci.Attribute{Key: "buyer", Value: ev.Buyer.Hex()})
	}
	if ev.Quantity != 0 {
		attrs = append(attrs, abci.Attribute{Key: "quantity", Value: strconv.FormatUint(ev.Quantity, 10)})
	}
	if ev.Amount != 0 {
		attrs = append(attrs, abci.Attribute{Key: "amount", Value: strconv.FormatUint(ev.Amount, 10)})
	}
	return abci.Event{Type: EventEscrow, Attributes: attrs}
}
