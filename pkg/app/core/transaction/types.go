package transaction

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/uhyunpark/escrowd/pkg/crypto"
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypePay           TxType = "pay"   // native payment
	TxTypeAssetTransfer TxType = "axfer" // asset transfer; 0 to self opts in
	TxTypeAssetConfig   TxType = "acfg"  // asset creation
	TxTypeAppCall       TxType = "appl"  // escrow application call
)

// Escrow application methods.
const (
	MethodAdmitAsset  = "admit_asset"
	MethodOpenListing = "open_listing"
	MethodTopUp       = "top_up"
	MethodReprice     = "reprice"
	MethodPurchase    = "purchase"
	MethodLiquidate   = "liquidate"
)

// ErrMalformedGroup marks input that is not a well-formed group.
var ErrMalformedGroup = errors.New("malformed group")

// MaxGroupSize bounds the number of transactions in one atomic group.
const MaxGroupSize = 16

// Txn is an unsigned transaction. Which fields apply depends on Type:
//
//	pay:   Receiver, Amount
//	axfer: Receiver, Asset, Amount
//	acfg:  Total, Decimals, UnitName, AssetName
//	appl:  Method, Asset, Owner (purchase), Price, Quantity
type Txn struct {
	Type     TxType         `json:"type"`
	Sender   common.Address `json:"sender"`
	Receiver common.Address `json:"receiver"`
	Amount   uint64         `json:"amount,omitempty"`
	Asset    uint64         `json:"asset,omitempty"`

	Total     uint64 `json:"total,omitempty"`
	Decimals  uint32 `json:"decimals,omitempty"`
	UnitName  string `json:"unitName,omitempty"`
	AssetName string `json:"assetName,omitempty"`

	Method   string         `json:"method,omitempty"`
	Owner    common.Address `json:"owner"`
	Price    uint64         `json:"price,omitempty"`
	Quantity uint64         `json:"quantity,omitempty"`

	Nonce uint64      `json:"nonce"`
	Group common.Hash `json:"group"`
}

// SignedTxn is a Txn with the sender's EIP-712 signature.
type SignedTxn struct {
	Txn       Txn           `json:"txn"`
	Signature hexutil.Bytes `json:"signature"`
}

// Group is an ordered list of transactions applied all-or-nothing. It is the
// unit submitted to the node and carried in blocks.
type Group struct {
	Txns []SignedTxn `json:"txns"`
}

func (t *Txn) ToEIP712() *crypto.TxnEIP712 {
	return &crypto.TxnEIP712{
		Type:      string(t.Type),
		Sender:    t.Sender,
		Receiver:  t.Receiver,
		Amount:    t.Amount,
		Asset:     t.Asset,
		Total:     t.Total,
		Decimals:  t.Decimals,
		UnitName:  t.UnitName,
		AssetName: t.AssetName,
		Method:    t.Method,
		Owner:     t.Owner,
		Price:     t.Price,
		Quantity:  t.Quantity,
		Nonce:     t.Nonce,
		Group:     t.Group,
	}
}

// IsOptIn reports whether t is an asset opt-in (0 units from self to self).
func (t *Txn) IsOptIn() bool {
	return t.Type == TxTypeAssetTransfer && t.Sender == t.Receiver && t.Amount == 0
}

// Validate performs basic validation on transaction structure
func (t *Txn) Validate() error {
	if t.Sender == (common.Address{}) {
		return fmt.Errorf("missing sender")
	}
	switch t.Type {
	case TxTypePay:
		if t.Receiver == (common.Address{}) {
			return fmt.Errorf("payment requires receiver")
		}
	case TxTypeAssetTransfer:
		if t.Asset == 0 {
			return fmt.Errorf("asset transfer requires asset")
		}
		if t.Receiver == (common.Address{}) {
			return fmt.Errorf("asset transfer requires receiver")
		}
	case TxTypeAssetConfig:
		if t.Asset != 0 {
			return fmt.Errorf("asset reconfiguration is not supported")
		}
		if t.Total == 0 {
			return fmt.Errorf("asset total must be positive")
		}
	case TxTypeAppCall:
		if !IsMethod(t.Method) {
			return fmt.Errorf("unknown method: %q", t.Method)
		}
		if t.Asset == 0 {
			return fmt.Errorf("%s requires asset", t.Method)
		}
		if t.Method == MethodPurchase && t.Owner == (common.Address{}) {
			return fmt.Errorf("purchase requires listing owner")
		}
	default:
		return fmt.Errorf("unknown transaction type: %s", t.Type)
	}
	return nil
}

func IsMethod(m string) bool {
	switch m {
	case MethodAdmitAsset, MethodOpenListing, MethodTopUp, MethodReprice, MethodPurchase, MethodLiquidate:
		return true
	}
	return false
}

// Validate checks group shape and every transaction's structure. Signatures
// and group binding are checked by the Verifier.
func (g *Group) Validate() error {
	if len(g.Txns) == 0 {
		return fmt.Errorf("empty group")
	}
	if len(g.Txns) > MaxGroupSize {
		return fmt.Errorf("group has %d txns, max %d", len(g.Txns), MaxGroupSize)
	}
	calls := 0
	for i := range g.Txns {
		if err := g.Txns[i].Txn.Validate(); err != nil {
			return fmt.Errorf("txn %d: %w", i, err)
		}
		if len(g.Txns[i].Signature) != 65 {
			return fmt.Errorf("txn %d: signature must be 65 bytes, got %d", i, len(g.Txns[i].Signature))
		}
		if g.Txns[i].Txn.Type == TxTypeAppCall {
			calls++
		}
	}
	if calls > 1 {
		return fmt.Errorf("group has %d application calls, max 1", calls)
	}
	return nil
}

// AppCall returns the index of the application call, or -1.
func (g *Group) AppCall() int {
	for i := range g.Txns {
		if g.Txns[i].Txn.Type == TxTypeAppCall {
			return i
		}
	}
	return -1
}

// Method returns the application method called by the group, if any.
func (g *Group) Method() string {
	if i := g.AppCall(); i >= 0 {
		return g.Txns[i].Txn.Method
	}
	return ""
}

// Serialize converts the group to JSON bytes
func (g *Group) Serialize() ([]byte, error) {
	return json.Marshal(g)
}

// Deserialize parses and structurally validates a group.
func Deserialize(data []byte) (*Group, error) {
	var g Group
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedGroup, err)
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedGroup, err)
	}
	return &g, nil
}

// Example group (open a listing of 3 units at 1_000_000 each):
//
//	{"txns": [
//	  {"txn": {"type":"pay","sender":"0xS","receiver":"0xCUSTODY","amount":24900,"nonce":1,"group":"0x.."}, "signature":"0x.."},
//	  {"txn": {"type":"axfer","sender":"0xS","receiver":"0xCUSTODY","asset":1001,"amount":3,"nonce":2,"group":"0x.."}, "signature":"0x.."},
//	  {"txn": {"type":"appl","sender":"0xS","method":"open_listing","asset":1001,"price":1000000,"nonce":3,"group":"0x.."}, "signature":"0x.."}
//	]}
