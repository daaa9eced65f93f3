package bank

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/escrowd/pkg/storage"
	"github.com/uhyunpark/escrowd/pkg/util"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotOptedIn        = errors.New("account not opted in to asset")
	ErrAlreadyOptedIn    = errors.New("account already opted in to asset")
	ErrUnknownAsset      = errors.New("unknown asset")
	ErrOverflow          = errors.New("balance overflow")
)

// Bank keeps native balances, nonces, assets and holdings. It holds no state
// of its own: every read and write goes through the KV it was built on, so a
// Bank over a storage.Txn commits or discards with the rest of the group.
type Bank struct {
	kv storage.KV
}

func New(kv storage.KV) *Bank { return &Bank{kv: kv} }

// Account loads an address. Unknown addresses read as a zero account.
func (b *Bank) Account(addr common.Address) (Account, error) {
	data, ok, err := b.kv.Get(storage.AccountKey(addr))
	if err != nil {
		return Account{}, fmt.Errorf("failed to get account: %w", err)
	}
	if !ok {
		return Account{Address: addr}, nil
	}
	var acc Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return Account{}, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return acc, nil
}

func (b *Bank) saveAccount(acc Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}
	if err := b.kv.Set(storage.AccountKey(acc.Address), data); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

func (b *Bank) Balance(addr common.Address) (uint64, error) {
	acc, err := b.Account(addr)
	return acc.Balance, err
}

func (b *Bank) Nonce(addr common.Address) (uint64, error) {
	acc, err := b.Account(addr)
	return acc.Nonce, err
}

func (b *Bank) SetNonce(addr common.Address, nonce uint64) error {
	acc, err := b.Account(addr)
	if err != nil {
		return err
	}
	acc.Nonce = nonce
	return b.saveAccount(acc)
}

// Credit mints native currency to addr. Used for genesis allocations only.
func (b *Bank) Credit(addr common.Address, amount uint64) error {
	acc, err := b.Account(addr)
	if err != nil {
		return err
	}
	sum, ok := util.SafeAdd(acc.Balance, amount)
	if !ok {
		return fmt.Errorf("credit %d to %s: %w", amount, addr.Hex(), ErrOverflow)
	}
	acc.Balance = sum
	return b.saveAccount(acc)
}

// TransferNative moves amount of native currency from one address to another.
func (b *Bank) TransferNative(from, to common.Address, amount uint64) error {
	src, err := b.Account(from)
	if err != nil {
		return err
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from.Hex(), src.Balance, amount)
	}
	if from == to || amount == 0 {
		return nil
	}
	dst, err := b.Account(to)
	if err != nil {
		return err
	}
	sum, ok := util.SafeAdd(dst.Balance, amount)
	if !ok {
		return fmt.Errorf("transfer %d to %s: %w", amount, to.Hex(), ErrOverflow)
	}
	src.Balance -= amount
	dst.Balance = sum
	if err := b.saveAccount(src); err != nil {
		return err
	}
	return b.saveAccount(dst)
}

// CreateAsset registers a new asset and credits its whole supply to the
// creator, who is opted in implicitly.
func (b *Bank) CreateAsset(a Asset) (uint64, error) {
	id, err := storage.GetUint64(b.kv, storage.NextAssetKey(), FirstAssetID)
	if err != nil {
		return 0, fmt.Errorf("failed to read next asset id: %w", err)
	}
	a.ID = id
	data, err := json.Marshal(a)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal asset: %w", err)
	}
	if err := b.kv.Set(storage.AssetKey(id), data); err != nil {
		return 0, fmt.Errorf("failed to save asset: %w", err)
	}
	if err := storage.PutUint64(b.kv, storage.NextAssetKey(), id+1); err != nil {
		return 0, err
	}
	if err := b.setHolding(a.Creator, id, a.Total); err != nil {
		return 0, err
	}
	return id, nil
}

func (b *Bank) Asset(id uint64) (Asset, bool, error) {
	data, ok, err := b.kv.Get(storage.AssetKey(id))
	if err != nil || !ok {
		return Asset{}, false, err
	}
	var a Asset
	if err := json.Unmarshal(data, &a); err != nil {
		return Asset{}, false, fmt.Errorf("failed to unmarshal asset %d: %w", id, err)
	}
	return a, true, nil
}

// OptIn creates a zero holding of asset for addr.
func (b *Bank) OptIn(addr common.Address, asset uint64) error {
	if _, ok, err := b.Asset(asset); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAsset, asset)
	}
	if _, ok, err := b.Holding(addr, asset); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s/%d", ErrAlreadyOptedIn, addr.Hex(), asset)
	}
	return b.setHolding(addr, asset, 0)
}

func (b *Bank) IsOptedIn(addr common.Address, asset uint64) (bool, error) {
	_, ok, err := b.Holding(addr, asset)
	return ok, err
}

// Holding returns addr's balance of asset; ok=false means not opted in.
func (b *Bank) Holding(addr common.Address, asset uint64) (uint64, bool, error) {
	raw, ok, err := b.kv.Get(storage.HoldingKey(addr, asset))
	if err != nil || !ok {
		return 0, false, err
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("corrupt holding %s/%d", addr.Hex(), asset)
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// Holdings lists every asset addr is opted in to, in asset order.
func (b *Bank) Holdings(addr common.Address) ([]Holding, error) {
	prefix := storage.HoldingPrefix(addr)
	out := []Holding{}
	err := b.kv.Iterate(prefix, func(key, value []byte) error {
		if len(key) != len(prefix)+8 || len(value) != 8 {
			return fmt.Errorf("corrupt holding key %x", key)
		}
		out = append(out, Holding{
			Asset:  binary.BigEndian.Uint64(key[len(prefix):]),
			Amount: binary.BigEndian.Uint64(value),
		})
		return nil
	})
	return out, err
}

func (b *Bank) setHolding(addr common.Address, asset, amount uint64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], amount)
	if err := b.kv.Set(storage.HoldingKey(addr, asset), v[:]); err != nil {
		return fmt.Errorf("failed to save holding: %w", err)
	}
	return nil
}

// TransferAsset moves amount of asset between two opted-in addresses.
func (b *Bank) TransferAsset(asset uint64, from, to common.Address, amount uint64) error {
	if _, ok, err := b.Asset(asset); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAsset, asset)
	}
	have, ok, err := b.Holding(from, asset)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: sender %s, asset %d", ErrNotOptedIn, from.Hex(), asset)
	}
	dst, ok, err := b.Holding(to, asset)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: receiver %s, asset %d", ErrNotOptedIn, to.Hex(), asset)
	}
	if have < amount {
		return fmt.Errorf("%w: %s holds %d of asset %d, needs %d", ErrInsufficientFunds, from.Hex(), have, asset, amount)
	}
	if from == to || amount == 0 {
		return nil
	}
	sum, ok := util.SafeAdd(dst, amount)
	if !ok {
		return fmt.Errorf("transfer %d of asset %d to %s: %w", amount, asset, to.Hex(), ErrOverflow)
	}
	if err := b.setHolding(from, asset, have-amount); err != nil {
		return err
	}
	return b.setHolding(to, asset, sum)
}

// Snapshot returns the account view of addr with all holdings.
func (b *Bank) Snapshot(addr common.Address) (AccountView, error) {
	acc, err := b.Account(addr)
	if err != nil {
		return AccountView{}, err
	}
	holdings, err := b.Holdings(addr)
	if err != nil {
		return AccountView{}, err
	}
	return AccountView{Account: acc, Holdings: holdings}, nil
}
