package transaction

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/escrowd/pkg/crypto"
)

var (
	ErrBadSignature = errors.New("signature does not match sender")
	ErrGroupBinding = errors.New("group id does not match transactions")
)

// Verifier handles transaction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

// NewVerifier creates a new transaction verifier
func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

func (v *Verifier) Signer() *crypto.EIP712Signer { return v.eip712Signer }

// TxID returns the signing digest of a transaction.
func (v *Verifier) TxID(t *Txn) (crypto.TxID, error) {
	var id crypto.TxID
	hash, err := v.eip712Signer.HashTxn(t.ToEIP712())
	if err != nil {
		return id, err
	}
	copy(id[:], hash)
	return id, nil
}

// VerifyTxn checks that st was signed by its sender.
func (v *Verifier) VerifyTxn(st *SignedTxn) (common.Address, error) {
	signer, err := v.eip712Signer.RecoverTxnSigner(st.Txn.ToEIP712(), st.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature verification failed: %w", err)
	}
	if signer != st.Txn.Sender {
		return common.Address{}, fmt.Errorf("%w: signed by %s, sender %s", ErrBadSignature, signer.Hex(), st.Txn.Sender.Hex())
	}
	return signer, nil
}

// VerifyGroup checks structure, group binding and every signature. It
// returns the transaction ids in group order.
func (v *Verifier) VerifyGroup(g *Group) ([]crypto.TxID, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedGroup, err)
	}
	txns := make([]Txn, len(g.Txns))
	for i := range g.Txns {
		txns[i] = g.Txns[i].Txn
	}

	var want common.Hash
	if len(txns) > 1 {
		gid, err := ComputeGroupID(v.eip712Signer, txns)
		if err != nil {
			return nil, err
		}
		want = gid
	}
	for i := range txns {
		if txns[i].Group != want {
			return nil, fmt.Errorf("txn %d: %w", i, ErrGroupBinding)
		}
	}

	ids := make([]crypto.TxID, len(g.Txns))
	for i := range g.Txns {
		if _, err := v.VerifyTxn(&g.Txns[i]); err != nil {
			return nil, fmt.Errorf("txn %d: %w", i, err)
		}
		id, err := v.TxID(&g.Txns[i].Txn)
		if err != nil {
			return nil, fmt.Errorf("txn %d: %w", i, err)
		}
		ids[i] = id
	}
	return ids, nil
}
