// Package indexer implements the bulk and incremental block-to-index-row
// pipeline (spec.md §4.5), generalized from the teacher's builder.go/pull.go
// pipeline shape (bounded channel, worker pool, single ordered writer) from
// silent-payment tweak extraction to funding/spending/tx/cashaccount rows.
package indexer

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/BitcoinUnlimited/electrscash/internal/store"
)

// FundingEntry is one produced output row, pre-encoding.
type FundingEntry struct {
	ScriptHash [32]byte
	Txid       chainhash.Hash
	Vout       uint32
	AmountSats uint64
}

// SpendingEntry is one produced input row, pre-encoding.
type SpendingEntry struct {
	FundingTxid  chainhash.Hash
	FundingVout  uint32
	SpendingTxid chainhash.Hash
}

// TxEntry records a transaction's confirmed height.
type TxEntry struct {
	Txid   chainhash.Hash
	Height uint32
}

// CashAccountEntry records a name registration seen in a block.
type CashAccountEntry struct {
	Name   string
	Height uint32
	Txid   chainhash.Hash
}

// BlockRows is everything a decoded block contributes to the index.
type BlockRows struct {
	Height   uint32
	Hash     chainhash.Hash
	Funding  []FundingEntry
	Spending []SpendingEntry
	Txs      []TxEntry
	Accounts []CashAccountEntry
}

// BuildBlockRows decodes blk into the rows spec.md §3/§4.5 describes.
// Coinbase inputs generate no SpendingRow (spec.md §4.5 edge case).
// cashaccountActive gates CashAccountEntry parsing per
// config.CashAccountActivationHeight.
func BuildBlockRows(blk *btcutil.Block, height uint32, cashaccountActive bool) *BlockRows {
	rows := &BlockRows{
		Height: height,
		Hash:   *blk.Hash(),
	}

	for txIdx, tx := range blk.Transactions() {
		msgTx := tx.MsgTx()
		txid := *tx.Hash()

		rows.Txs = append(rows.Txs, TxEntry{Txid: txid, Height: height})

		for vout, out := range msgTx.TxOut {
			sh := store.ScriptHash(out.PkScript)
			rows.Funding = append(rows.Funding, FundingEntry{
				ScriptHash: sh,
				Txid:       txid,
				Vout:       uint32(vout),
				AmountSats: uint64(out.Value),
			})
		}

		isCoinbase := txIdx == 0
		if !isCoinbase {
			for _, in := range msgTx.TxIn {
				rows.Spending = append(rows.Spending, SpendingEntry{
					FundingTxid:  in.PreviousOutPoint.Hash,
					FundingVout:  in.PreviousOutPoint.Index,
					SpendingTxid: txid,
				})
			}
		}

		if cashaccountActive {
			if name, ok := ParseCashAccountRegistration(msgTx); ok {
				rows.Accounts = append(rows.Accounts, CashAccountEntry{
					Name:   name,
					Height: height,
					Txid:   txid,
				})
			}
		}
	}

	return rows
}
