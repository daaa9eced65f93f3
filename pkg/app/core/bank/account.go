package bank

import (
	"github.com/ethereum/go-ethereum/common"
)

// FirstAssetID is the id handed to the first created asset.
const FirstAssetID uint64 = 1001

// Account is the native-currency side of an address.
type Account struct {
	Address common.Address `json:"address"`
	Balance uint64         `json:"balance"`
	// Nonce is the highest txn nonce accepted from this address.
	Nonce uint64 `json:"nonce"`
}

// Asset describes a fungible token created by an acfg txn.
type Asset struct {
	ID       uint64         `json:"id"`
	Creator  common.Address `json:"creator"`
	Total    uint64         `json:"total"`
	Decimals uint32         `json:"decimals"`
	UnitName string         `json:"unitName,omitempty"`
	Name     string         `json:"name,omitempty"`
}

// Holding is an address's balance of one asset. A holding exists only after
// the address opted in, and a zero amount still counts as opted in.
type Holding struct {
	Asset  uint64 `json:"asset"`
	Amount uint64 `json:"amount"`
}

// AccountView bundles everything the API reports for an address.
type AccountView struct {
	Account
	Holdings []Holding `json:"holdings"`
}
