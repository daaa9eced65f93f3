package api

import (
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/uhyunpark/escrowd/pkg/app/core/bank"
	"github.com/uhyunpark/escrowd/pkg/app/core/ledger"
)

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// ListingInfo is one listing with its derived fields.
type ListingInfo struct {
	Owner     string `json:"owner"`
	Asset     uint64 `json:"asset"`
	Deposited uint64 `json:"deposited"`
	UnitPrice uint64 `json:"unitPrice"`
	// Key is the 40-byte storage key, hex encoded.
	Key string `json:"key"`
}

// ChainStatus represents current chain state
type ChainStatus struct {
	Height      uint64 `json:"height"`
	AppHash     string `json:"appHash"`
	MempoolSize int    `json:"mempoolSize"`
	Custody     string `json:"custody"`
	ChainID     string `json:"chainId"`
	ForSaleMBR  uint64 `json:"forSaleMbr"`
	OptInMinBal uint64 `json:"assetOptInMinBalance"`
}

// SubmitResponse lists the ids of an accepted group, in group order.
type SubmitResponse struct {
	Status string   `json:"status"`
	TxIDs  []string `json:"txIds"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest represents a WebSocket subscription request
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["listings", "listing:0xabc..:1001"]
}

// ListingUpdate is pushed on "listings" and "listing:{owner}:{asset}".
// Listing is nil once the listing is liquidated.
type ListingUpdate struct {
	Type     string       `json:"type"` // "listing"
	Method   string       `json:"method"`
	Owner    string       `json:"owner"`
	Asset    uint64       `json:"asset"`
	Buyer    string       `json:"buyer,omitempty"`
	Quantity uint64       `json:"quantity,omitempty"`
	Listing  *ListingInfo `json:"listing"`
	Height   uint64       `json:"height"`
}

// AccountUpdate is pushed on "account:{address}".
type AccountUpdate struct {
	Type    string           `json:"type"` // "account"
	Account bank.AccountView `json:"account"`
	Height  uint64           `json:"height"`
}

// BlockUpdate is pushed on "blocks".
type BlockUpdate struct {
	Type      string `json:"type"` // "block"
	Height    uint64 `json:"height"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
	Groups    int    `json:"groups"`
	Rejected  int    `json:"rejected"`
	AppHash   string `json:"appHash"`
}

func toListingInfo(l ledger.Listing) ListingInfo {
	return ListingInfo{
		Owner:     l.Owner.Hex(),
		Asset:     l.Asset,
		Deposited: l.Deposited,
		UnitPrice: l.UnitPrice,
		Key:       hexutil.Encode(ledger.EncodeKey(l.Key())),
	}
}
