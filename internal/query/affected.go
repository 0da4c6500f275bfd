package query

import (
	"context"

	"github.com/BitcoinUnlimited/electrscash/internal/indexer"
	"github.com/BitcoinUnlimited/electrscash/internal/store"
)

// AffectedScriptHashes computes the set of scripthashes touched by a
// committed block, for spec.md §4.9's "union of scripthashes touched by
// added/removed funding/spending rows" — wired into Indexer.OnCommit so
// Subscriptions can recompute exactly the status hashes that might have
// changed instead of every active subscription.
func (q *Query) AffectedScriptHashes(rows *indexer.BlockRows) map[[32]byte]struct{} {
	touched := make(map[[32]byte]struct{}, len(rows.Funding)+len(rows.Spending))
	for _, f := range rows.Funding {
		touched[f.ScriptHash] = struct{}{}
	}

	ctx := context.Background()
	for _, s := range rows.Spending {
		v, found, err := q.Store.Get(store.KeyTx(s.FundingTxid[:]))
		if !found || err != nil {
			continue
		}
		height := store.ParseTxHeight(v)
		raw, err := q.fetchRawTx(ctx, s.FundingTxid, height)
		if err != nil {
			continue
		}
		tx, err := decodeTx(raw)
		if err != nil || int(s.FundingVout) >= len(tx.TxOut) {
			continue
		}
		touched[store.ScriptHash(tx.TxOut[s.FundingVout].PkScript)] = struct{}{}
	}
	return touched
}
