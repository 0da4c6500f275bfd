package query

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/BitcoinUnlimited/electrscash/internal/errs"
	"github.com/BitcoinUnlimited/electrscash/internal/mempool"
	"github.com/BitcoinUnlimited/electrscash/internal/store"
)

// UtxoInfo is the response to blockchain.utxo.get.
type UtxoInfo struct {
	State       string // "spent" or "unspent"
	Height      int64
	AmountSats  uint64
	ScriptHash  [32]byte
	SpenderTxid *chainhash.Hash
	SpenderVin  *uint32
}

// UtxoGet implements spec.md §4.8's utxo.get(txid, vout).
func (q *Query) UtxoGet(txid chainhash.Hash, vout uint32) (*UtxoInfo, error) {
	v, found, err := q.Store.Get(store.KeyTx(txid[:]))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errs.New(errs.KindNotFound, "unknown txid", nil)
	}
	height := store.ParseTxHeight(v)

	// Funding rows are keyed by scripthash, not txid, so recovering amount
	// and scripthash for an arbitrary outpoint means fetching the raw tx.
	raw, err := q.fetchRawTx(context.Background(), txid, height)
	if err != nil {
		return nil, err
	}
	tx, err := decodeTx(raw)
	if err != nil {
		return nil, err
	}
	if int(vout) >= len(tx.TxOut) {
		return nil, errs.New(errs.KindInvalidParams, "vout out of range", nil)
	}
	out := tx.TxOut[vout]
	sh := store.ScriptHash(out.PkScript)

	info := &UtxoInfo{
		State:      "unspent",
		Height:     int64(height),
		AmountSats: uint64(out.Value),
		ScriptHash: sh,
	}

	spendLB, spendUB := store.BoundsSpendingByOutpoint(store.Prefix8(txid[:]), vout)
	spendRows, err := q.Store.ScanPrefix(spendLB, spendUB)
	if err != nil {
		return nil, err
	}
	if len(spendRows) > 0 {
		_, _, spendingTxidPrefix := store.ParseSpendingKey(spendRows[0].Key)
		spendHeight := store.ParseTxHeight(spendRows[0].Val)
		spTxid, ok, err := q.disambiguateSpendingTxid(spendingTxidPrefix, spendHeight)
		if err == nil && ok {
			info.State = "spent"
			info.SpenderTxid = &spTxid
		}
	} else if spender, ok := q.Mempool.SpenderOf(mempool.Outpoint{Hash: txid, Vout: vout}); ok {
		info.State = "spent"
		info.SpenderTxid = &spender
	}

	return info, nil
}
