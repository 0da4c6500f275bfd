package indexer

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/cockroachdb/pebble"

	"github.com/BitcoinUnlimited/electrscash/internal/chain"
	"github.com/BitcoinUnlimited/electrscash/internal/daemon"
	"github.com/BitcoinUnlimited/electrscash/internal/logging"
	"github.com/BitcoinUnlimited/electrscash/internal/metrics"
	"github.com/BitcoinUnlimited/electrscash/internal/store"
)

// Config carries the tunables spec.md §4.5 names.
type Config struct {
	BatchSize                   int
	Threads                     int // 0 => logical CPU count
	CashAccountActivationHeight uint32
	BlocksDir                   string
	CompactEvery                int // blocks applied between compaction hints
}

// Indexer drives the bulk and incremental pipelines described in
// spec.md §4.5, built atop Store, DaemonClient and Chain.
type Indexer struct {
	store  *store.Store
	client *daemon.Client
	chain  *chain.Chain
	cfg    Config

	// OnCommit, if set, is invoked after each block's rows land, letting the
	// caller wire in subscription fan-out and cache invalidation without the
	// indexer depending on those packages directly.
	OnCommit func(rows *BlockRows)
}

func New(st *store.Store, client *daemon.Client, ch *chain.Chain, cfg Config) *Indexer {
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.CompactEvery <= 0 {
		cfg.CompactEvery = 10_000
	}
	return &Indexer{store: st, client: client, chain: ch, cfg: cfg}
}

func (idx *Indexer) cashaccountActiveAt(height int64) bool {
	return uint32(height) >= idx.cfg.CashAccountActivationHeight
}

func (idx *Indexer) fetchBlockByHash(ctx context.Context, hash chainhash.Hash) (*btcutil.Block, error) {
	if idx.cfg.BlocksDir != "" {
		if blk, err := daemon.ReadBlockFromFile(idx.cfg.BlocksDir, hash); err == nil {
			return blk, nil
		}
	}
	return idx.client.GetBlock(ctx, hash)
}

func (idx *Indexer) fetchBlockAtHeight(ctx context.Context, height int64) (*btcutil.Block, error) {
	hash, err := idx.client.GetBlockHashByHeight(ctx, height)
	if err != nil {
		return nil, err
	}
	return idx.fetchBlockByHash(ctx, *hash)
}

// Apply lands a block's rows and its chain-height/block index and
// best-indexed pointer in one atomic batch — invariant 1/2 of spec.md §3.
func (idx *Indexer) Apply(rows *BlockRows) error {
	start := time.Now()
	err := idx.store.WriteBatch(func(b *pebble.Batch) error {
		for _, f := range rows.Funding {
			key := store.KeyFunding(store.Prefix8(f.ScriptHash[:]), rows.Height, store.Prefix8(f.Txid[:]), f.Vout)
			if err := b.Set(key, store.ValFundingAmount(f.AmountSats), nil); err != nil {
				return err
			}
		}
		for _, s := range rows.Spending {
			key := store.KeySpending(store.Prefix8(s.FundingTxid[:]), s.FundingVout, store.Prefix8(s.SpendingTxid[:]))
			if err := b.Set(key, store.ValSpendingHeight(rows.Height), nil); err != nil {
				return err
			}
		}
		for _, t := range rows.Txs {
			if err := b.Set(store.KeyTx(t.Txid[:]), store.ValTxHeight(t.Height), nil); err != nil {
				return err
			}
		}
		for _, a := range rows.Accounts {
			hash8 := store.AccountHash8(a.Name, a.Height)
			if err := b.Set(store.KeyCashAccount(hash8, store.Prefix8(a.Txid[:])), nil, nil); err != nil {
				return err
			}
		}
		if err := b.Set(store.KeyChainHeight(rows.Height), rows.Hash[:], nil); err != nil {
			return err
		}
		if err := b.Set(store.KeyChainBlock(rows.Hash[:]), store.ValTxHeight(rows.Height), nil); err != nil {
			return err
		}
		return b.Set(store.KeyBestIndexed(), rows.Hash[:], nil)
	})
	if err != nil {
		return err
	}
	metrics.StoreCommitDuration.Observe(time.Since(start).Seconds())
	metrics.StoreRowsWritten.WithLabelValues("funding").Add(float64(len(rows.Funding)))
	metrics.StoreRowsWritten.WithLabelValues("spending").Add(float64(len(rows.Spending)))
	metrics.StoreRowsWritten.WithLabelValues("tx").Add(float64(len(rows.Txs)))
	metrics.StoreRowsWritten.WithLabelValues("cashaccount").Add(float64(len(rows.Accounts)))
	metrics.IndexerTipHeight.Set(float64(rows.Height))
	metrics.IndexerBlocksIndexed.Inc()
	if idx.OnCommit != nil {
		idx.OnCommit(rows)
	}
	return nil
}

// applyStaged lands a block's rows through Store's buffered, unsynced
// StageSet path, used only by BulkSync. This mirrors the ported original's
// bulk write (`store.write(rows_iter, false)` in index.rs: WAL-unsynced
// writes for every block, with durability deferred to a single sync=true
// flush at the end of the run) rather than Apply's per-block atomic Sync
// batch, which bulk sync can't afford at chain-length scale.
func (idx *Indexer) applyStaged(rows *BlockRows) error {
	start := time.Now()
	for _, f := range rows.Funding {
		key := store.KeyFunding(store.Prefix8(f.ScriptHash[:]), rows.Height, store.Prefix8(f.Txid[:]), f.Vout)
		if err := idx.store.StageSet(key, store.ValFundingAmount(f.AmountSats)); err != nil {
			return err
		}
	}
	for _, s := range rows.Spending {
		key := store.KeySpending(store.Prefix8(s.FundingTxid[:]), s.FundingVout, store.Prefix8(s.SpendingTxid[:]))
		if err := idx.store.StageSet(key, store.ValSpendingHeight(rows.Height)); err != nil {
			return err
		}
	}
	for _, t := range rows.Txs {
		if err := idx.store.StageSet(store.KeyTx(t.Txid[:]), store.ValTxHeight(t.Height)); err != nil {
			return err
		}
	}
	for _, a := range rows.Accounts {
		hash8 := store.AccountHash8(a.Name, a.Height)
		if err := idx.store.StageSet(store.KeyCashAccount(hash8, store.Prefix8(a.Txid[:])), nil); err != nil {
			return err
		}
	}
	if err := idx.store.StageSet(store.KeyChainHeight(rows.Height), rows.Hash[:]); err != nil {
		return err
	}
	if err := idx.store.StageSet(store.KeyChainBlock(rows.Hash[:]), store.ValTxHeight(rows.Height)); err != nil {
		return err
	}
	if err := idx.store.StageSet(store.KeyBestIndexed(), rows.Hash[:]); err != nil {
		return err
	}

	metrics.StoreCommitDuration.Observe(time.Since(start).Seconds())
	metrics.StoreRowsWritten.WithLabelValues("funding").Add(float64(len(rows.Funding)))
	metrics.StoreRowsWritten.WithLabelValues("spending").Add(float64(len(rows.Spending)))
	metrics.StoreRowsWritten.WithLabelValues("tx").Add(float64(len(rows.Txs)))
	metrics.StoreRowsWritten.WithLabelValues("cashaccount").Add(float64(len(rows.Accounts)))
	metrics.IndexerTipHeight.Set(float64(rows.Height))
	metrics.IndexerBlocksIndexed.Inc()
	if idx.OnCommit != nil {
		idx.OnCommit(rows)
	}
	return nil
}

// Rollback removes the rows a single block contributed, per spec.md §4.5.
// Idempotent: rolling back an already-rolled-back block is a no-op because
// the deletes are unconditional Delete calls (missing keys delete cleanly)
// except for TxRow, which is only removed if it still points at this height
// (duplicate-txid defensive case, spec.md §4.5 edge cases).
func (idx *Indexer) Rollback(ctx context.Context, h chain.Header) error {
	blk, err := idx.fetchBlockByHash(ctx, h.Hash)
	if err != nil {
		return err
	}
	rows := BuildBlockRows(blk, uint32(h.Height), idx.cashaccountActiveAt(h.Height))
	metrics.IndexerReorgsHandled.Inc()

	return idx.store.WriteBatch(func(b *pebble.Batch) error {
		for _, f := range rows.Funding {
			key := store.KeyFunding(store.Prefix8(f.ScriptHash[:]), rows.Height, store.Prefix8(f.Txid[:]), f.Vout)
			if err := b.Delete(key, nil); err != nil {
				return err
			}
		}
		for _, s := range rows.Spending {
			key := store.KeySpending(store.Prefix8(s.FundingTxid[:]), s.FundingVout, store.Prefix8(s.SpendingTxid[:]))
			if err := b.Delete(key, nil); err != nil {
				return err
			}
		}
		for _, t := range rows.Txs {
			v, found, err := idx.store.Get(store.KeyTx(t.Txid[:]))
			if err != nil {
				return err
			}
			if found && store.ParseTxHeight(v) == t.Height {
				if err := b.Delete(store.KeyTx(t.Txid[:]), nil); err != nil {
					return err
				}
			}
		}
		for _, a := range rows.Accounts {
			hash8 := store.AccountHash8(a.Name, a.Height)
			if err := b.Delete(store.KeyCashAccount(hash8, store.Prefix8(a.Txid[:])), nil); err != nil {
				return err
			}
		}
		if err := b.Delete(store.KeyChainHeight(rows.Height), nil); err != nil {
			return err
		}
		return b.Delete(store.KeyChainBlock(rows.Hash[:]), nil)
	})
}

// BulkSync runs the three-stage pipeline from spec.md §4.5's bulk mode:
// fetch → parse/transform (worker pool) → single ordered writer.
func (idx *Indexer) BulkSync(ctx context.Context, fromHeight, toHeight int64) error {
	type result struct {
		height int64
		rows   *BlockRows
		err    error
	}

	// runCtx is canceled on any worker/apply error so the producer and
	// remaining workers unblock instead of leaking on early return; results
	// is always drained to close before this function returns.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	heights := make(chan int64, idx.cfg.BatchSize)
	results := make(chan result, idx.cfg.BatchSize)

	go func() {
		defer close(heights)
		for h := fromHeight; h <= toHeight; h++ {
			select {
			case heights <- h:
			case <-runCtx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < idx.cfg.Threads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for h := range heights {
				blk, err := idx.fetchBlockAtHeight(runCtx, h)
				if err != nil {
					results <- result{height: h, err: err}
					continue
				}
				rows := BuildBlockRows(blk, uint32(h), idx.cashaccountActiveAt(h))
				results <- result{height: h, rows: rows}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	pending := make(map[int64]*BlockRows)
	next := fromHeight
	sinceCompact := 0
	var firstErr error

	for r := range results {
		if firstErr != nil {
			continue // draining: keep receiving so workers/producer can exit
		}
		if r.err != nil {
			firstErr = r.err
			cancel()
			continue
		}
		pending[r.height] = r.rows

		for {
			rows, ok := pending[next]
			if !ok {
				break
			}
			if err := idx.applyStaged(rows); err != nil {
				firstErr = err
				cancel()
				break
			}
			delete(pending, next)
			next++
			sinceCompact++
			if sinceCompact >= idx.cfg.CompactEvery {
				if err := idx.store.Compact(nil, nil); err != nil {
					logging.L.Warn().Err(err).Msg("indexer: compaction hint failed")
				}
				sinceCompact = 0
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return idx.store.FlushSync()
}

// Incremental performs one refresh/rollback/reapply cycle, per spec.md
// §4.5's incremental mode. cmd/electrscash calls it on its periodic timer
// and on SIGUSR1; a transaction broadcast does not trigger it.
func (idx *Indexer) Incremental(ctx context.Context) error {
	delta, err := idx.chain.Refresh(ctx)
	if err != nil {
		return err
	}

	for _, h := range delta.Removed { // tip-down order, as required for rollback
		if err := idx.Rollback(ctx, h); err != nil {
			return err
		}
	}
	for _, h := range delta.Added { // ancestor-first order
		blk, err := idx.fetchBlockByHash(ctx, h.Hash)
		if err != nil {
			return err
		}
		rows := BuildBlockRows(blk, uint32(h.Height), idx.cashaccountActiveAt(h.Height))
		if err := idx.Apply(rows); err != nil {
			return err
		}
	}
	return idx.store.Flush()
}
