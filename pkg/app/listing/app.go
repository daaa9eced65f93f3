package listing

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowd/params"
	"github.com/uhyunpark/escrowd/pkg/abci"
	"github.com/uhyunpark/escrowd/pkg/app/core/bank"
	"github.com/uhyunpark/escrowd/pkg/app/core/escrow"
	"github.com/uhyunpark/escrowd/pkg/app/core/ledger"
	"github.com/uhyunpark/escrowd/pkg/app/core/mempool"
	"github.com/uhyunpark/escrowd/pkg/app/core/transaction"
	"github.com/uhyunpark/escrowd/pkg/crypto"
	"github.com/uhyunpark/escrowd/pkg/metrics"
	"github.com/uhyunpark/escrowd/pkg/storage"
)

var (
	ErrStaleNonce     = errors.New("nonce not above account nonce")
	ErrGenesisApplied = errors.New("genesis already applied")
	ErrInvalidGenesis = errors.New("invalid genesis allocation")
)

// App is the escrow listing application behind the sequencer.
type App struct {
	store    *storage.PebbleStore
	mempool  *mempool.Mempool
	verifier *transaction.Verifier
	machine  *escrow.Machine
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics

	mu      sync.RWMutex
	height  uint64
	appHash [32]byte
}

// NewApp builds the application for one escrow app id over store.
func NewApp(store *storage.PebbleStore, cfg params.Escrow, logger *zap.SugaredLogger, m *metrics.Metrics) (*App, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	view := store.View()
	defer view.Close()
	height, hash, err := storage.Head(view)
	if err != nil {
		return nil, fmt.Errorf("failed to load chain head: %w", err)
	}

	custody := crypto.CustodyAddress(cfg.AppID)
	return &App{
		store:    store,
		mempool:  mempool.NewMempool(),
		verifier: transaction.NewVerifier(crypto.NewDomain(cfg.ChainIDBig(), cfg.AppID)),
		machine: escrow.NewMachine(custody, escrow.Params{
			ForSaleMBR:           cfg.ForSaleMBR,
			AssetOptInMinBalance: cfg.AssetOptInMinBalance,
		}),
		logger:  logger,
		metrics: m,
		height:  height,
		appHash: hash,
	}, nil
}

// InitChain credits the genesis allocations once per data dir.
func (a *App) InitChain(allocs []params.Allocation) error {
	txn := a.store.NewTxn()
	defer txn.Discard()

	if _, done, err := txn.Get(storage.MetaKey("genesis")); err != nil {
		return err
	} else if done {
		return ErrGenesisApplied
	}
	bk := bank.New(txn)
	for _, alloc := range allocs {
		if !common.IsHexAddress(alloc.Address) {
			return fmt.Errorf("%w: address %q", ErrInvalidGenesis, alloc.Address)
		}
		if err := bk.Credit(common.HexToAddress(alloc.Address), alloc.Amount); err != nil {
			return fmt.Errorf("failed to credit %s: %w", alloc.Address, err)
		}
	}
	if err := txn.Set(storage.MetaKey("genesis"), []byte{1}); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to commit genesis: %w", err)
	}
	a.logger.Infow("genesis_applied", "allocations", len(allocs))
	return nil
}

func (a *App) Custody() common.Address         { return a.machine.Custody() }
func (a *App) Params() escrow.Params           { return a.machine.Params() }
func (a *App) Domain() crypto.EIP712Domain     { return a.verifier.Signer().Domain() }
func (a *App) Verifier() *transaction.Verifier { return a.verifier }
func (a *App) Pending() int                    { return a.mempool.Len() }

func (a *App) Height() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.height
}

func (a *App) AppHash() [32]byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.appHash
}

// PushTx verifies a signed group and queues it. Nonces and balances are
// checked when the group executes.
func (a *App) PushTx(b []byte) ([]crypto.TxID, error) {
	g, err := transaction.Deserialize(b)
	if err != nil {
		return nil, err
	}
	ids, err := a.verifier.VerifyGroup(g)
	if err != nil {
		return nil, err
	}
	kind := a.mempool.PushRaw(b)
	a.logger.Debugw("group_queued", "bucket", kind.String(), "txns", len(ids), "method", g.Method(), "first_tx", ids[0].String())
	return ids, nil
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	txs := a.mempool.SelectForProposal(req.MaxTxBytes)
	return abci.ResponsePrepareProposal{Txs: txs}
}

// ProcessProposal accepts a block only if every group decodes and verifies.
func (a *App) ProcessProposal(req abci.RequestProcessProposal) abci.ResponseProcessProposal {
	for i, tx := range req.Txs {
		g, err := transaction.Deserialize(tx)
		if err == nil {
			_, err = a.verifier.VerifyGroup(g)
		}
		if err != nil {
			a.logger.Warnw("proposal_invalid_tx", "height", req.Height, "index", i, "error", err)
			return abci.ResponseProcessProposal{Accept: false}
		}
	}
	return abci.ResponseProcessProposal{Accept: true}
}

// FinalizeBlock applies each group atomically in block order. A failed group
// leaves no state change and gets rejected receipts. Replaying a block whose
// groups were partly committed is safe: those groups fail on their nonces and
// keep their original receipts.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) (abci.ResponseFinalizeBlock, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := time.Now()
	height := uint64(req.Height)
	results := make([]abci.ExecTxResult, len(req.Txs))
	rejected := 0
	for i, tx := range req.Txs {
		results[i] = a.deliverGroup(height, tx)
		if !results[i].IsOK() {
			rejected++
		}
	}

	hash, listings, err := a.computeStateHash(req.Height, req.Timestamp)
	if err != nil {
		a.logger.Errorw("state_hash_failed", "height", req.Height, "error", err)
		return abci.ResponseFinalizeBlock{}, fmt.Errorf("failed to hash state at height %d: %w", req.Height, err)
	}
	a.height = height
	a.appHash = hash

	a.metrics.ObserveBlock(height, time.Since(start), listings, a.mempool.Len())
	if len(req.Txs) > 0 {
		a.logger.Infow("block_finalized",
			"height", req.Height,
			"groups", len(req.Txs),
			"rejected", rejected,
			"listings", listings,
			"app_hash", fmt.Sprintf("0x%x", hash[:]),
		)
	}
	return abci.ResponseFinalizeBlock{TxResults: results, AppHash: hash}, nil
}

// GetListing returns the listing of (owner, asset).
func (a *App) GetListing(owner common.Address, asset uint64) (ledger.Listing, bool, error) {
	view := a.store.View()
	defer view.Close()
	rec, ok, err := ledger.NewStore(view).Get(ledger.Key{Owner: owner, Asset: asset})
	if err != nil || !ok {
		return ledger.Listing{}, ok, err
	}
	return ledger.Listing{Owner: owner, Asset: asset, Deposited: rec.Deposited, UnitPrice: rec.UnitPrice}, true, nil
}

// ListingFilter narrows ListListings. Zero fields match everything.
type ListingFilter struct {
	Owner common.Address
	Asset uint64
}

func (f ListingFilter) match(l ledger.Listing) bool {
	if f.Owner != (common.Address{}) && l.Owner != f.Owner {
		return false
	}
	return f.Asset == 0 || l.Asset == f.Asset
}

// ListListings enumerates listings in key order.
func (a *App) ListListings(f ListingFilter) ([]ledger.Listing, error) {
	if f.Owner != (common.Address{}) {
		return a.ListingsByOwner(f.Owner, f.Asset)
	}
	view := a.store.View()
	defer view.Close()
	return ledger.NewStore(view).All(f.match)
}

// ListingsByOwner scans only owner's key range. asset 0 returns all of them.
func (a *App) ListingsByOwner(owner common.Address, asset uint64) ([]ledger.Listing, error) {
	view := a.store.View()
	defer view.Close()
	f := ListingFilter{Owner: owner, Asset: asset}
	out := []ledger.Listing{}
	err := ledger.NewStore(view).IterateOwner(owner, func(l ledger.Listing) bool {
		if f.match(l) {
			out = append(out, l)
		}
		return true
	})
	return out, err
}

func (a *App) GetAccount(addr common.Address) (bank.AccountView, error) {
	view := a.store.View()
	defer view.Close()
	return bank.New(view).Snapshot(addr)
}

func (a *App) GetAsset(id uint64) (bank.Asset, bool, error) {
	view := a.store.View()
	defer view.Close()
	return bank.New(view).Asset(id)
}

func (a *App) GetBlock(height uint64) (storage.Block, bool, error) {
	view := a.store.View()
	defer view.Close()
	return storage.GetBlock(view, height)
}
