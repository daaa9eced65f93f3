package escrow

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/escrowd/pkg/app/core/ledger"
)

// Event describes one successful escrow operation. Before is nil for a new
// listing; After is nil once a listing is liquidated.
type Event struct {
	Method   string         `json:"method"`
	Owner    common.Address `json:"owner"`
	Buyer    common.Address `json:"buyer,omitempty"`
	Asset    uint64         `json:"asset"`
	Quantity uint64         `json:"quantity,omitempty"`
	// Amount is the native amount moved: admission fee, purchase payment or
	// refunded collateral.
	Amount uint64         `json:"amount,omitempty"`
	Before *ledger.Record `json:"before,omitempty"`
	After  *ledger.Record `json:"after,omitempty"`
}

// Key returns the listing the event touched.
func (e Event) Key() ledger.Key { return ledger.Key{Owner: e.Owner, Asset: e.Asset} }
