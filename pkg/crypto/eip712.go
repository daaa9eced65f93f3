package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents replay attacks across different chains/contracts
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // custodial account of the application
}

// TxnEIP712 is the typed form of a transaction that wallets sign. Fields a
// transaction type does not use are left zero and still hashed.
type TxnEIP712 struct {
	Type      string
	Sender    common.Address
	Receiver  common.Address
	Amount    uint64
	Asset     uint64
	Total     uint64
	Decimals  uint32
	UnitName  string
	AssetName string
	Method    string
	Owner     common.Address
	Price     uint64
	Quantity  uint64
	Nonce     uint64
	Group     common.Hash
}

var txnTypes = []apitypes.Type{
	{Name: "type", Type: "string"},
	{Name: "sender", Type: "address"},
	{Name: "receiver", Type: "address"},
	{Name: "amount", Type: "uint256"},
	{Name: "asset", Type: "uint64"},
	{Name: "total", Type: "uint256"},
	{Name: "decimals", Type: "uint32"},
	{Name: "unitName", Type: "string"},
	{Name: "assetName", Type: "string"},
	{Name: "method", Type: "string"},
	{Name: "owner", Type: "address"},
	{Name: "price", Type: "uint256"},
	{Name: "quantity", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "group", Type: "bytes32"},
}

var domainTypes = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// EIP712Signer hashes and signs transactions under one domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain returns the domain for a local chain and application 1.
func DefaultDomain() EIP712Domain {
	return NewDomain(big.NewInt(1337), 1)
}

// NewDomain binds signatures to a chain and to one application's custody.
func NewDomain(chainID *big.Int, appID uint64) EIP712Domain {
	return EIP712Domain{
		Name:              "Escrowd",
		Version:           "1",
		ChainID:           chainID,
		VerifyingContract: CustodyAddress(appID),
	}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (t *TxnEIP712) message() apitypes.TypedDataMessage {
	u := func(v uint64) string { return strconv.FormatUint(v, 10) }
	return apitypes.TypedDataMessage{
		"type":      t.Type,
		"sender":    t.Sender.Hex(),
		"receiver":  t.Receiver.Hex(),
		"amount":    u(t.Amount),
		"asset":     u(t.Asset),
		"total":     u(t.Total),
		"decimals":  strconv.FormatUint(uint64(t.Decimals), 10),
		"unitName":  t.UnitName,
		"assetName": t.AssetName,
		"method":    t.Method,
		"owner":     t.Owner.Hex(),
		"price":     u(t.Price),
		"quantity":  u(t.Quantity),
		"nonce":     u(t.Nonce),
		"group":     hexutil.Encode(t.Group[:]),
	}
}

func (e *EIP712Signer) typedData(t *TxnEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainTypes,
			"Txn":          txnTypes,
		},
		PrimaryType: "Txn",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: t.message(),
	}
}

// StructHash is hashStruct(Txn) without the domain. Group ids are built from
// these with Group left zero.
func (e *EIP712Signer) StructHash(t *TxnEIP712) ([]byte, error) {
	typedData := e.typedData(t)
	hash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash txn: %w", err)
	}
	return hash, nil
}

// HashTxn returns the digest a wallet signs:
// keccak256("\x19\x01" || domainSeparator || hashStruct(Txn))
func (e *EIP712Signer) HashTxn(t *TxnEIP712) ([]byte, error) {
	typedData := e.typedData(t)
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash txn: %w", err)
	}
	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

func (e *EIP712Signer) SignTxn(signer *Signer, t *TxnEIP712) ([]byte, error) {
	hash, err := e.HashTxn(t)
	if err != nil {
		return nil, err
	}
	signature, err := signer.Sign(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign txn: %w", err)
	}
	return signature, nil
}

// RecoverTxnSigner recovers the address that signed t.
func (e *EIP712Signer) RecoverTxnSigner(t *TxnEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashTxn(t)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(hash, signature)
}

// TxnToJSON renders t in the eth_signTypedData_v4 format wallets accept.
func (e *EIP712Signer) TxnToJSON(t *TxnEIP712) (string, error) {
	jsonBytes, err := json.MarshalIndent(e.typedData(t), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
