package query

import (
	"bytes"
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

func decodeTx(raw []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	// Bitcoin Cash has no segwit: decode without witness-marker detection so
	// a zero-input transaction is not misread as a witness one.
	if err := tx.DeserializeNoWitness(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

// fetchRawTx returns a transaction's serialized bytes, consulting TxCache
// first and falling back to the daemon with a blockhash hint when height
// indicates a confirmed transaction (spec.md §4.3: the hint is mandatory
// whenever the node lacks txindex).
func (q *Query) fetchRawTx(ctx context.Context, txid chainhash.Hash, height uint32) ([]byte, error) {
	if raw, ok := q.TxCache.Get(txid); ok {
		return raw, nil
	}

	var blockHash *chainhash.Hash
	if height > 0 {
		if h, ok := q.Chain.HeaderAt(int64(height)); ok {
			blockHash = &h.Hash
		}
	}

	tx, err := q.Client.GetRawTransaction(ctx, txid, blockHash)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	raw := buf.Bytes()
	q.TxCache.Put(txid, raw)
	return raw, nil
}
