package listing

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/escrowd/pkg/app/core/escrow"
	"github.com/uhyunpark/escrowd/pkg/crypto"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

const (
	StatusCommitted = "committed"
	StatusRejected  = "rejected"
)

// Receipt records what happened to one transaction.
type Receipt struct {
	TxID   crypto.TxID `json:"txId"`
	Group  common.Hash `json:"group"`
	Index  int         `json:"index"`
	Height uint64      `json:"height"`
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
	Kind   string      `json:"kind,omitempty"`
	// AssetID is set on the receipt of an asset creation.
	AssetID uint64        `json:"assetId,omitempty"`
	Event   *escrow.Event `json:"event,omitempty"`
}

func putReceipt(kv storage.KV, r Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}
	return kv.Set(storage.ReceiptKey(r.TxID), data)
}

// Receipt looks up a transaction by id.
func (a *App) Receipt(id crypto.TxID) (Receipt, bool, error) {
	view := a.store.View()
	defer view.Close()
	data, ok, err := view.Get(storage.ReceiptKey(id))
	if err != nil || !ok {
		return Receipt{}, false, err
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return Receipt{}, false, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	return r, true, nil
}
