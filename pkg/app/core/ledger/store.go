package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

var errStop = errors.New("stop")

// Store maps listing keys to records over a storage.KV. Bound to a
// storage.Txn it is part of the enclosing atomic group; bound to a
// storage.View it is a read-only snapshot for queries.
type Store struct {
	kv storage.KV
}

func NewStore(kv storage.KV) *Store { return &Store{kv: kv} }

// Get returns the record for k, or ok=false when the listing is absent.
func (s *Store) Get(k Key) (Record, bool, error) {
	raw, ok, err := s.kv.Get(storage.ListingKey(EncodeKey(k)))
	if err != nil || !ok {
		return Record{}, false, err
	}
	r, err := DecodeValue(raw)
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to decode listing %s: %w", k, err)
	}
	return r, true, nil
}

func (s *Store) Put(k Key, r Record) error {
	if err := s.kv.Set(storage.ListingKey(EncodeKey(k)), EncodeValue(r)); err != nil {
		return fmt.Errorf("failed to save listing %s: %w", k, err)
	}
	return nil
}

func (s *Store) Delete(k Key) error {
	if err := s.kv.Delete(storage.ListingKey(EncodeKey(k))); err != nil {
		return fmt.Errorf("failed to delete listing %s: %w", k, err)
	}
	return nil
}

// Iterate visits every listing in key order (owner, then asset). Returning
// false from fn stops the scan.
func (s *Store) Iterate(fn func(Listing) bool) error {
	return s.scan(storage.PrefixListing, fn)
}

// IterateOwner visits the listings of one owner in asset order.
func (s *Store) IterateOwner(owner common.Address, fn func(Listing) bool) error {
	padded := EncodeKey(Key{Owner: owner})[:OwnerSize]
	return s.scan(storage.ListingKey(padded), fn)
}

func (s *Store) scan(prefix []byte, fn func(Listing) bool) error {
	base := len(storage.PrefixListing)
	err := s.kv.Iterate(prefix, func(key, value []byte) error {
		k, err := DecodeKey(key[base:])
		if err != nil {
			return err
		}
		r, err := DecodeValue(value)
		if err != nil {
			return fmt.Errorf("failed to decode listing %s: %w", k, err)
		}
		if !fn(Listing{Owner: k.Owner, Asset: k.Asset, Deposited: r.Deposited, UnitPrice: r.UnitPrice}) {
			return errStop
		}
		return nil
	})
	if errors.Is(err, errStop) {
		return nil
	}
	return err
}

// All collects every listing that passes filter (nil keeps all).
func (s *Store) All(filter func(Listing) bool) ([]Listing, error) {
	out := []Listing{}
	err := s.Iterate(func(l Listing) bool {
		if filter == nil || filter(l) {
			out = append(out, l)
		}
		return true
	})
	return out, err
}
