package transaction

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/escrowd/pkg/crypto"
)

// ComputeGroupID hashes the transactions with their Group field cleared, so
// the id can be stamped onto each of them afterwards.
func ComputeGroupID(es *crypto.EIP712Signer, txns []Txn) (common.Hash, error) {
	hashes := make([][]byte, len(txns))
	for i := range txns {
		unbound := txns[i]
		unbound.Group = common.Hash{}
		h, err := es.StructHash(unbound.ToEIP712())
		if err != nil {
			return common.Hash{}, fmt.Errorf("txn %d: %w", i, err)
		}
		hashes[i] = h
	}
	return crypto.GroupID(hashes), nil
}

// Assign stamps the group id on every transaction of a multi-transaction
// group. A lone transaction keeps a zero group.
func Assign(es *crypto.EIP712Signer, txns []Txn) ([]Txn, error) {
	out := append([]Txn(nil), txns...)
	if len(out) < 2 {
		return out, nil
	}
	gid, err := ComputeGroupID(es, out)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Group = gid
	}
	return out, nil
}

// SignGroup assigns the group id and signs each transaction with the key of
// its sender.
func SignGroup(es *crypto.EIP712Signer, txns []Txn, keys ...*crypto.Signer) (*Group, error) {
	bound, err := Assign(es, txns)
	if err != nil {
		return nil, err
	}
	byAddr := make(map[common.Address]*crypto.Signer, len(keys))
	for _, k := range keys {
		byAddr[k.Address()] = k
	}
	g := &Group{Txns: make([]SignedTxn, len(bound))}
	for i := range bound {
		key, ok := byAddr[bound[i].Sender]
		if !ok {
			return nil, fmt.Errorf("txn %d: no key for sender %s", i, bound[i].Sender.Hex())
		}
		sig, err := es.SignTxn(key, bound[i].ToEIP712())
		if err != nil {
			return nil, fmt.Errorf("txn %d: %w", i, err)
		}
		g.Txns[i] = SignedTxn{Txn: bound[i], Signature: sig}
	}
	return g, nil
}
