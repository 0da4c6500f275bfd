// Package mempool shadows the full node's unconfirmed transaction set,
// grounded on original_source/src/mempool.rs::Tracker (diff/add/remove loop,
// funding/spending tables kept alongside the confirmed store's schema).
package mempool

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/BitcoinUnlimited/electrscash/internal/daemon"
	"github.com/BitcoinUnlimited/electrscash/internal/logging"
	"github.com/BitcoinUnlimited/electrscash/internal/metrics"
	"github.com/BitcoinUnlimited/electrscash/internal/store"
)

// Outpoint mirrors spec.md's (TxId, vout) entity.
type Outpoint struct {
	Hash chainhash.Hash
	Vout uint32
}

// Funding is one output a mempool entry contributes to a scripthash's history.
type Funding struct {
	ScriptHash [32]byte
	Vout       uint32
	AmountSats uint64
}

// Spending is one input a mempool entry consumes. ScriptHash is the funded
// scripthash of the output being spent, resolved best-effort at fetch time
// so a confirmed coin's owner is notified when it gets spent unconfirmed
// (ported from original_source/src/rpc.rs::get_scripthashes_effected_by_tx,
// which does the same previous-transaction lookup at notify time instead).
type Spending struct {
	PrevOutpoint  Outpoint
	InputIndex    uint32
	ScriptHash    [32]byte
	HasScriptHash bool
}

// Entry is spec.md §3's MempoolEntry.
type Entry struct {
	Txid               chainhash.Hash
	RawTx              []byte
	FeeSats            int64
	VSize              int64
	UnconfirmedParents bool
	Funding            []Funding
	Spending           []Spending
}

// Tracker owns the shadow mempool. It is polled by a single goroutine
// (spec.md §5); Query callers read through the exported lookup methods,
// which take a read lock or copy a reference, never blocking the poller
// longer than a map read.
type Tracker struct {
	client *daemon.Client

	mu       sync.RWMutex
	entries  map[chainhash.Hash]*Entry
	fundedBy map[[32]byte]map[chainhash.Hash]struct{} // scripthash -> txids
	spentBy  map[Outpoint]chainhash.Hash              // funding outpoint -> spending txid

	// OnDiff, if set, is invoked after each poll with the set of touched
	// scripthashes, letting Subscriptions recompute status hashes without
	// this package depending on it directly.
	OnDiff func(touched map[[32]byte]struct{})
}

func New(client *daemon.Client) *Tracker {
	return &Tracker{
		client:   client,
		entries:  make(map[chainhash.Hash]*Entry),
		fundedBy: make(map[[32]byte]map[chainhash.Hash]struct{}),
		spentBy:  make(map[Outpoint]chainhash.Hash),
	}
}

// Poll computes to_add/to_remove against the node's current mempool and
// updates local state, per spec.md §4.6.
func (t *Tracker) Poll(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.MempoolPollDuration.Observe(time.Since(start).Seconds()) }()

	nodeIDs, err := t.client.GetMempoolTxids(ctx)
	if err != nil {
		return err
	}
	nodeSet := make(map[chainhash.Hash]struct{}, len(nodeIDs))
	for _, id := range nodeIDs {
		nodeSet[id] = struct{}{}
	}

	t.mu.RLock()
	var toAdd, toRemove []chainhash.Hash
	for id := range nodeSet {
		if _, ok := t.entries[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}
	for id := range t.entries {
		if _, ok := nodeSet[id]; !ok {
			toRemove = append(toRemove, id)
		}
	}
	t.mu.RUnlock()

	touched := make(map[[32]byte]struct{})

	for _, id := range toAdd {
		entry, err := t.fetchEntry(ctx, id)
		if err != nil {
			logging.L.Debug().Err(err).Str("txid", id.String()).Msg("mempool: fetch failed, skipping this poll")
			continue
		}
		t.register(entry, touched)
	}
	for _, id := range toRemove {
		t.unregister(id, touched)
	}

	t.recomputeUnconfirmedParents()

	t.mu.RLock()
	metrics.MempoolTrackedTxs.Set(float64(len(t.entries)))
	t.mu.RUnlock()

	if t.OnDiff != nil && len(touched) > 0 {
		t.OnDiff(touched)
	}
	return nil
}

func (t *Tracker) fetchEntry(ctx context.Context, txid chainhash.Hash) (*Entry, error) {
	tx, err := t.client.GetRawTransaction(ctx, txid, nil)
	if err != nil {
		return nil, err
	}
	info, err := t.client.GetMempoolEntry(ctx, txid)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}

	entry := &Entry{
		Txid:    txid,
		RawTx:   buf.Bytes(),
		FeeSats: int64(info.Fee * 1e8),
		VSize:   info.VSize,
	}
	for vout, out := range tx.TxOut {
		entry.Funding = append(entry.Funding, Funding{
			ScriptHash: store.ScriptHash(out.PkScript),
			Vout:       uint32(vout),
			AmountSats: uint64(out.Value),
		})
	}
	for i, in := range tx.TxIn {
		if isCoinbaseInput(in) {
			continue
		}
		sp := Spending{
			PrevOutpoint: Outpoint{Hash: in.PreviousOutPoint.Hash, Vout: in.PreviousOutPoint.Index},
			InputIndex:   uint32(i),
		}
		if sh, ok := t.resolvePrevScriptHash(ctx, sp.PrevOutpoint); ok {
			sp.ScriptHash, sp.HasScriptHash = sh, true
		}
		entry.Spending = append(entry.Spending, sp)
	}
	return entry, nil
}

// resolvePrevScriptHash looks up the scripthash funded by op, checking the
// shadow mempool first (the coin may itself be unconfirmed) before falling
// back to a node RPC. Failure is non-fatal: the caller simply won't include
// this outpoint's owner in the touched-scripthash set for this poll.
func (t *Tracker) resolvePrevScriptHash(ctx context.Context, op Outpoint) ([32]byte, bool) {
	t.mu.RLock()
	if e, ok := t.entries[op.Hash]; ok {
		for _, f := range e.Funding {
			if f.Vout == op.Vout {
				t.mu.RUnlock()
				return f.ScriptHash, true
			}
		}
	}
	t.mu.RUnlock()

	tx, err := t.client.GetRawTransaction(ctx, op.Hash, nil)
	if err != nil || int(op.Vout) >= len(tx.TxOut) {
		return [32]byte{}, false
	}
	return store.ScriptHash(tx.TxOut[op.Vout].PkScript), true
}

func isCoinbaseInput(in *wire.TxIn) bool {
	var zero chainhash.Hash
	return in.PreviousOutPoint.Hash == zero
}

func (t *Tracker) register(e *Entry, touched map[[32]byte]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.Txid] = e
	for _, f := range e.Funding {
		if t.fundedBy[f.ScriptHash] == nil {
			t.fundedBy[f.ScriptHash] = make(map[chainhash.Hash]struct{})
		}
		t.fundedBy[f.ScriptHash][e.Txid] = struct{}{}
		touched[f.ScriptHash] = struct{}{}
	}
	for _, s := range e.Spending {
		t.spentBy[s.PrevOutpoint] = e.Txid
		if s.HasScriptHash {
			touched[s.ScriptHash] = struct{}{}
		}
	}
}

func (t *Tracker) unregister(id chainhash.Hash, touched map[[32]byte]struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return
	}
	delete(t.entries, id)
	for _, f := range e.Funding {
		delete(t.fundedBy[f.ScriptHash], id)
		if len(t.fundedBy[f.ScriptHash]) == 0 {
			delete(t.fundedBy, f.ScriptHash)
		}
		touched[f.ScriptHash] = struct{}{}
	}
	for _, s := range e.Spending {
		if cur, ok := t.spentBy[s.PrevOutpoint]; ok && cur == id {
			delete(t.spentBy, s.PrevOutpoint)
		}
		if s.HasScriptHash {
			touched[s.ScriptHash] = struct{}{}
		}
	}
}

// recomputeUnconfirmedParents walks the spending graph within the shadow
// mempool: an entry has an unconfirmed parent iff any of its inputs spends
// an outpoint whose txid is itself a mempool entry (transitively). Computed
// fully on each diff rather than incrementally, per spec.md §9 design note.
func (t *Tracker) recomputeUnconfirmedParents() {
	t.mu.Lock()
	defer t.mu.Unlock()

	memo := make(map[chainhash.Hash]bool, len(t.entries))
	var hasUnconfirmedAncestor func(id chainhash.Hash, seen map[chainhash.Hash]bool) bool
	hasUnconfirmedAncestor = func(id chainhash.Hash, seen map[chainhash.Hash]bool) bool {
		if v, ok := memo[id]; ok {
			return v
		}
		if seen[id] {
			return false // cycle guard; shouldn't occur on a valid chain
		}
		seen[id] = true
		e := t.entries[id]
		result := false
		for _, s := range e.Spending {
			if _, ok := t.entries[s.PrevOutpoint.Hash]; ok {
				result = true
				break
			}
		}
		memo[id] = result
		return result
	}
	for id, e := range t.entries {
		e.UnconfirmedParents = hasUnconfirmedAncestor(id, map[chainhash.Hash]bool{})
	}
}

// ---------------- Query-facing lookups (spec.md §4.6) ----------------

func (t *Tracker) FindByScriptHash(sh [32]byte) []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.fundedBy[sh]
	out := make([]*Entry, 0, len(ids))
	for id := range ids {
		out = append(out, t.entries[id])
	}
	return out
}

func (t *Tracker) SpenderOf(o Outpoint) (chainhash.Hash, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.spentBy[o]
	return id, ok
}

func (t *Tracker) Get(txid chainhash.Hash) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[txid]
	return e, ok
}

func (t *Tracker) Fee(txid chainhash.Hash) (int64, bool) {
	e, ok := t.Get(txid)
	if !ok {
		return 0, false
	}
	return e.FeeSats, true
}

func (t *Tracker) Has(txid chainhash.Hash) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[txid]
	return ok
}

// Size returns the number of tracked entries, exported for internal/metrics.
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
