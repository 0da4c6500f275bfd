// Package query composes Store, Mempool and Caches into the read-side
// operations spec.md §4.8 names, porting the confirmed+mempool merge and
// height-sign convention from original_source/src/query/mod.rs::Status.
package query

import (
	"context"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/BitcoinUnlimited/electrscash/internal/cache"
	"github.com/BitcoinUnlimited/electrscash/internal/chain"
	"github.com/BitcoinUnlimited/electrscash/internal/daemon"
	"github.com/BitcoinUnlimited/electrscash/internal/errs"
	"github.com/BitcoinUnlimited/electrscash/internal/mempool"
	"github.com/BitcoinUnlimited/electrscash/internal/store"
)

// Query is the read-side façade handed to every RPC connection.
type Query struct {
	Store    *store.Store
	Mempool  *mempool.Tracker
	Chain    *chain.Chain
	Client   *daemon.Client
	TxCache  *cache.TxCache
	BlkCache *cache.BlockTxidsCache
}

// HistoryEntry is spec.md §4.8's `(height, txid, fee_for_unconfirmed)` tuple.
// Confirmed entries have Height > 0. Height == 0 means all parents
// confirmed; Height == -1 means at least one unconfirmed parent.
type HistoryEntry struct {
	Height      int64
	Txid        chainhash.Hash
	FeeSats     int64 // only meaningful when Height <= 0
	Unconfirmed bool
}

// confirmedFunding is an internal record of a resolved, disambiguated
// funding row belonging to the queried scripthash.
type confirmedFunding struct {
	Txid       chainhash.Hash
	Height     uint32
	Vout       uint32
	AmountSats uint64
}

// resolveFundingRows scans and disambiguates every confirmed funding row
// for sh, applying spec.md §3 invariant 4 (prefix collisions resolved by
// validating full txids against TxRow).
func (q *Query) resolveFundingRows(sh [32]byte) ([]confirmedFunding, error) {
	lb, ub := store.BoundsFundingByScripthash(store.Prefix8(sh[:]))
	rows, err := q.Store.ScanPrefix(lb, ub)
	if err != nil {
		return nil, err
	}

	out := make([]confirmedFunding, 0, len(rows))
	for _, kv := range rows {
		_, height, txidPrefix, vout := store.ParseFundingKey(kv.Key)
		amount, err := store.ParseFundingAmount(kv.Val)
		if err != nil {
			return nil, err
		}
		txid, ok, err := q.disambiguateTxid(txidPrefix, height, sh, vout)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, confirmedFunding{Txid: txid, Height: height, Vout: vout, AmountSats: amount})
	}
	return out, nil
}

// candidateTxids returns every full txid whose stored key shares txidPrefix.
// In the overwhelming common case this is a single-element slice.
func (q *Query) candidateTxids(txidPrefix []byte) ([]chainhash.Hash, []uint32, error) {
	lb, ub := store.BoundsTxByPrefix(txidPrefix)
	rows, err := q.Store.ScanPrefix(lb, ub)
	if err != nil {
		return nil, nil, err
	}
	txids := make([]chainhash.Hash, len(rows))
	heights := make([]uint32, len(rows))
	for i, kv := range rows {
		copy(txids[i][:], kv.Key[1:])
		heights[i] = store.ParseTxHeight(kv.Val)
	}
	return txids, heights, nil
}

// disambiguateTxid resolves a funding row's txid prefix to a full txid.
// With one candidate it's trusted outright; with more than one (an 8-byte
// prefix collision) each candidate's actual output script is checked
// against wantScriptHash before being accepted, satisfying spec.md §3
// invariant 4 and the prefix-collision-safety property in §8.
func (q *Query) disambiguateTxid(txidPrefix []byte, height uint32, wantScriptHash [32]byte, vout uint32) (chainhash.Hash, bool, error) {
	candidates, heights, err := q.candidateTxids(txidPrefix)
	if err != nil {
		return chainhash.Hash{}, false, err
	}
	if len(candidates) == 0 {
		return chainhash.Hash{}, false, nil
	}
	if len(candidates) == 1 {
		return candidates[0], true, nil
	}
	for i, c := range candidates {
		if heights[i] != height {
			continue
		}
		raw, err := q.fetchRawTx(context.Background(), c, heights[i])
		if err != nil {
			continue
		}
		tx, err := decodeTx(raw)
		if err != nil || int(vout) >= len(tx.TxOut) {
			continue
		}
		if store.ScriptHash(tx.TxOut[vout].PkScript) == wantScriptHash {
			return c, true, nil
		}
	}
	return chainhash.Hash{}, false, nil
}

// disambiguateSpendingTxid resolves a spending row's txid prefix using the
// row's own recorded spending height as the discriminator.
func (q *Query) disambiguateSpendingTxid(txidPrefix []byte, spendingHeight uint32) (chainhash.Hash, bool, error) {
	candidates, heights, err := q.candidateTxids(txidPrefix)
	if err != nil {
		return chainhash.Hash{}, false, err
	}
	for i, c := range candidates {
		if heights[i] == spendingHeight {
			return c, true, nil
		}
	}
	if len(candidates) > 0 {
		return candidates[0], true, nil
	}
	return chainhash.Hash{}, false, nil
}

// History implements spec.md §4.8's history(scripthash).
func (q *Query) History(sh [32]byte) ([]HistoryEntry, error) {
	funding, err := q.resolveFundingRows(sh)
	if err != nil {
		return nil, err
	}

	seen := make(map[chainhash.Hash]struct{})
	var entries []HistoryEntry

	addConfirmed := func(txid chainhash.Hash, height uint32) {
		if _, ok := seen[txid]; ok {
			return
		}
		seen[txid] = struct{}{}
		entries = append(entries, HistoryEntry{Height: int64(height), Txid: txid})
	}
	addUnconfirmed := func(txid chainhash.Hash, hasUnconfirmedParent bool, fee int64) {
		if _, ok := seen[txid]; ok {
			return
		}
		seen[txid] = struct{}{}
		h := int64(0)
		if hasUnconfirmedParent {
			h = -1
		}
		entries = append(entries, HistoryEntry{Height: h, Txid: txid, FeeSats: fee, Unconfirmed: true})
	}

	for _, f := range funding {
		addConfirmed(f.Txid, f.Height)

		// Confirmed spends of this output.
		lb, ub := store.BoundsSpendingByOutpoint(store.Prefix8(f.Txid[:]), f.Vout)
		spendRows, err := q.Store.ScanPrefix(lb, ub)
		if err != nil {
			return nil, err
		}
		for _, kv := range spendRows {
			_, _, spendingTxidPrefix := store.ParseSpendingKey(kv.Key)
			spendHeight := store.ParseTxHeight(kv.Val)
			txid, ok, err := q.disambiguateSpendingTxid(spendingTxidPrefix, spendHeight)
			if err != nil {
				return nil, err
			}
			if ok {
				addConfirmed(txid, spendHeight)
			}
		}

		// Unconfirmed spend of a confirmed output, if any.
		if spender, ok := q.Mempool.SpenderOf(mempool.Outpoint{Hash: f.Txid, Vout: f.Vout}); ok {
			if e, ok := q.Mempool.Get(spender); ok {
				addUnconfirmed(e.Txid, e.UnconfirmedParents, e.FeeSats)
			}
		}
	}

	for _, e := range q.Mempool.FindByScriptHash(sh) {
		addUnconfirmed(e.Txid, e.UnconfirmedParents, e.FeeSats)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		ci, cj := entries[i].Height > 0, entries[j].Height > 0
		if ci != cj {
			return ci // confirmed before unconfirmed
		}
		if ci {
			if entries[i].Height != entries[j].Height {
				return entries[i].Height < entries[j].Height
			}
			return lessTxid(entries[i].Txid, entries[j].Txid)
		}
		// Both unconfirmed: Mempool.FindByScriptHash iterates a Go map, so
		// arrival order here is not stable across calls. Give the pair a
		// full order instead of treating them as already-equal, the same
		// bucket-then-txid rule original_source/src/query/mod.rs uses
		// (0xEE_EEEE + height.abs(), so height 0 sorts before height -1),
		// so StatusHash stays a pure function of the entry set.
		bi, bj := -entries[i].Height, -entries[j].Height
		if bi != bj {
			return bi < bj
		}
		return lessTxid(entries[i].Txid, entries[j].Txid)
	})
	return entries, nil
}

func lessTxid(a, b chainhash.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Balance implements spec.md §4.8's balance(scripthash).
type Balance struct {
	Confirmed   int64
	Unconfirmed int64
}

func (q *Query) Balance(sh [32]byte) (Balance, error) {
	funding, err := q.resolveFundingRows(sh)
	if err != nil {
		return Balance{}, err
	}

	var bal Balance
	spentConfirmed := make(map[mempool.Outpoint]struct{})
	for _, f := range funding {
		bal.Confirmed += int64(f.AmountSats)
		lb, ub := store.BoundsSpendingByOutpoint(store.Prefix8(f.Txid[:]), f.Vout)
		spendRows, err := q.Store.ScanPrefix(lb, ub)
		if err != nil {
			return Balance{}, err
		}
		if len(spendRows) > 0 {
			bal.Confirmed -= int64(f.AmountSats)
			spentConfirmed[mempool.Outpoint{Hash: f.Txid, Vout: f.Vout}] = struct{}{}
		} else if _, ok := q.Mempool.SpenderOf(mempool.Outpoint{Hash: f.Txid, Vout: f.Vout}); ok {
			bal.Unconfirmed -= int64(f.AmountSats)
		}
	}

	for _, e := range q.Mempool.FindByScriptHash(sh) {
		for _, fo := range e.Funding {
			if fo.ScriptHash == sh {
				bal.Unconfirmed += int64(fo.AmountSats)
			}
		}
	}
	return bal, nil
}

// Utxo is one unspent funding row.
type Utxo struct {
	Txid       chainhash.Hash
	Vout       uint32
	Height     int64 // 0 for unconfirmed
	AmountSats uint64
}

// ListUnspent implements spec.md §4.8's listunspent(scripthash).
func (q *Query) ListUnspent(sh [32]byte) ([]Utxo, error) {
	funding, err := q.resolveFundingRows(sh)
	if err != nil {
		return nil, err
	}
	var out []Utxo
	for _, f := range funding {
		op := mempool.Outpoint{Hash: f.Txid, Vout: f.Vout}
		lb, ub := store.BoundsSpendingByOutpoint(store.Prefix8(f.Txid[:]), f.Vout)
		spendRows, err := q.Store.ScanPrefix(lb, ub)
		if err != nil {
			return nil, err
		}
		if len(spendRows) > 0 {
			continue
		}
		if _, ok := q.Mempool.SpenderOf(op); ok {
			continue
		}
		out = append(out, Utxo{Txid: f.Txid, Vout: f.Vout, Height: int64(f.Height), AmountSats: f.AmountSats})
	}
	for _, e := range q.Mempool.FindByScriptHash(sh) {
		for _, fo := range e.Funding {
			if fo.ScriptHash != sh {
				continue
			}
			op := mempool.Outpoint{Hash: e.Txid, Vout: fo.Vout}
			if _, ok := q.Mempool.SpenderOf(op); ok {
				continue
			}
			out = append(out, Utxo{Txid: e.Txid, Vout: fo.Vout, Height: 0, AmountSats: fo.AmountSats})
		}
	}
	return out, nil
}

// GetFirstUse implements spec.md §4.8's get_first_use(scripthash): the
// minimum-height, minimum-txid funding row via a single bounded scan.
func (q *Query) GetFirstUse(sh [32]byte) (Utxo, bool, error) {
	funding, err := q.resolveFundingRows(sh)
	if err != nil {
		return Utxo{}, false, err
	}
	if len(funding) == 0 {
		return Utxo{}, false, nil
	}
	best := funding[0]
	for _, f := range funding[1:] {
		if f.Height < best.Height || (f.Height == best.Height && lessTxid(f.Txid, best.Txid)) {
			best = f
		}
	}
	return Utxo{Txid: best.Txid, Vout: best.Vout, Height: int64(best.Height), AmountSats: best.AmountSats}, true, nil
}

// MempoolHistoryEntry is one entry of blockchain.scripthash.get_mempool.
type MempoolHistoryEntry struct {
	Txid    chainhash.Hash
	Height  int64 // 0 or -1, per the unconfirmed-height convention
	FeeSats int64
}

// GetMempool implements spec.md §6's blockchain.scripthash.get_mempool: the
// unconfirmed subset of History, unrelated to confirmed rows entirely.
func (q *Query) GetMempool(sh [32]byte) ([]MempoolHistoryEntry, error) {
	history, err := q.History(sh)
	if err != nil {
		return nil, err
	}
	var out []MempoolHistoryEntry
	for _, e := range history {
		if !e.Unconfirmed {
			continue
		}
		out = append(out, MempoolHistoryEntry{Txid: e.Txid, Height: e.Height, FeeSats: e.FeeSats})
	}
	return out, nil
}

// GetConfirmedBlockhash implements spec.md §6's
// blockchain.transaction.get_confirmed_blockhash(txid): the hash of the
// block a confirmed transaction is included in.
func (q *Query) GetConfirmedBlockhash(txid chainhash.Hash) (chainhash.Hash, error) {
	v, found, err := q.Store.Get(store.KeyTx(txid[:]))
	if err != nil {
		return chainhash.Hash{}, err
	}
	if !found {
		return chainhash.Hash{}, errs.New(errs.KindNotFound, "txid not confirmed", nil)
	}
	height := store.ParseTxHeight(v)
	hdr, ok := q.Chain.HeaderAt(int64(height))
	if !ok {
		return chainhash.Hash{}, errs.New(errs.KindNotFound, "block header not held for height", nil)
	}
	return hdr.Hash, nil
}
