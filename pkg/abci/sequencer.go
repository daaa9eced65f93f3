package abci

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/escrowd/pkg/storage"
	"github.com/uhyunpark/escrowd/pkg/util"
)

// CommitHook is called after a block and its results are persisted.
type CommitHook func(block storage.Block, resp ResponseFinalizeBlock)

// Sequencer is the single-node block producer. Every BlockTime it asks the
// application for a proposal, runs it through ProcessProposal and
// FinalizeBlock, and persists the block. Empty proposals produce no block.
type Sequencer struct {
	app        Application
	store      *storage.PebbleStore
	clock      util.Clock
	blockTime  time.Duration
	maxTxBytes int64
	logger     *zap.SugaredLogger

	// pending is a proposal persisted before a crash cut its block short.
	pending *storage.Block

	mu       sync.Mutex
	height   uint64
	appHash  [32]byte
	onCommit []CommitHook
}

type SequencerConfig struct {
	BlockTime  time.Duration
	MaxTxBytes int64
}

// NewSequencer resumes from the last block persisted in store.
func NewSequencer(app Application, store *storage.PebbleStore, clock util.Clock, cfg SequencerConfig, logger *zap.SugaredLogger) (*Sequencer, error) {
	view := store.View()
	defer view.Close()
	height, hash, err := storage.Head(view)
	if err != nil {
		return nil, fmt.Errorf("failed to load chain head: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	var pending *storage.Block
	if b, ok, err := storage.PendingBlock(view); err != nil {
		return nil, fmt.Errorf("failed to load pending block: %w", err)
	} else if ok && b.Height == height+1 {
		pending = &b
	}
	return &Sequencer{
		pending:    pending,
		app:        app,
		store:      store,
		clock:      clock,
		blockTime:  cfg.BlockTime,
		maxTxBytes: cfg.MaxTxBytes,
		logger:     logger,
		height:     height,
		appHash:    hash,
	}, nil
}

// OnCommit registers a hook. Hooks run on the sequencer goroutine.
func (s *Sequencer) OnCommit(h CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommit = append(s.onCommit, h)
}

func (s *Sequencer) Height() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height
}

func (s *Sequencer) AppHash() [32]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appHash
}

// Run produces blocks until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context) error {
	s.logger.Infow("sequencer_started", "height", s.Height(), "block_time", s.blockTime)
	for {
		select {
		case <-ctx.Done():
			s.logger.Infow("sequencer_stopped", "height", s.Height())
			return ctx.Err()
		case <-s.clock.After(s.blockTime):
			if _, err := s.Step(); err != nil {
				return err
			}
		}
	}
}

// Step produces at most one block. It reports whether a block was committed.
func (s *Sequencer) Step() (bool, error) {
	s.mu.Lock()
	next := s.height + 1
	hooks := append([]CommitHook(nil), s.onCommit...)
	s.mu.Unlock()

	var block storage.Block
	if s.pending != nil {
		block = *s.pending
		s.logger.Warnw("replaying_interrupted_block", "height", next, "txs", len(block.Txs))
	} else {
		prep := s.app.PrepareProposal(RequestPrepareProposal{Height: int64(next), MaxTxBytes: s.maxTxBytes})
		if len(prep.Txs) == 0 {
			return false, nil
		}
		if !s.app.ProcessProposal(RequestProcessProposal{Height: int64(next), Txs: prep.Txs}).Accept {
			// A sole proposer only rejects its own proposal when the mempool
			// handed out garbage; drop it and move on.
			s.logger.Warnw("proposal_rejected", "height", next, "txs", len(prep.Txs))
			return false, nil
		}
		block = storage.Block{Height: next, Timestamp: s.clock.Now().UnixMilli(), Txs: prep.Txs}

		txn := s.store.NewTxn()
		if err := storage.SavePending(txn, block); err != nil {
			txn.Discard()
			return false, err
		}
		if err := txn.Commit(); err != nil {
			return false, fmt.Errorf("failed to commit pending block %d: %w", next, err)
		}
		s.pending = &block
	}

	resp, err := s.app.FinalizeBlock(RequestFinalizeBlock{Height: int64(next), Timestamp: block.Timestamp, Txs: block.Txs})
	if err != nil {
		return false, fmt.Errorf("failed to finalize block %d: %w", next, err)
	}

	block.AppHash = resp.AppHash
	txn := s.store.NewTxn()
	if err := storage.SaveBlock(txn, block); err != nil {
		txn.Discard()
		return false, fmt.Errorf("failed to save block %d: %w", next, err)
	}
	if err := txn.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit block %d: %w", next, err)
	}
	s.pending = nil

	s.mu.Lock()
	s.height = next
	s.appHash = resp.AppHash
	s.mu.Unlock()

	s.logger.Debugw("block_committed", "height", next, "txs", len(block.Txs), "app_hash", fmt.Sprintf("0x%x", resp.AppHash[:8]))
	for _, h := range hooks {
		h(block, resp)
	}
	return true, nil
}
