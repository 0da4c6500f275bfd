package cache

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/BitcoinUnlimited/electrscash/internal/metrics"
)

const shardCount = 16

func hashShardByte(h chainhash.Hash) byte { return h[0] }

// TxCache maps txid -> raw transaction bytes, admitted on first fetch,
// default ~250MB (spec.md §4.7).
type TxCache struct {
	c *RndCache[chainhash.Hash, []byte]
}

func NewTxCache(maxBytes int64) *TxCache {
	return &TxCache{c: New[chainhash.Hash, []byte](maxBytes, shardCount, hashShardByte)}
}

func (t *TxCache) Get(txid chainhash.Hash) ([]byte, bool) {
	v, ok := t.c.Get(txid)
	observeCache("tx", ok)
	return v, ok
}
func (t *TxCache) Put(txid chainhash.Hash, raw []byte) { t.c.Set(txid, raw, int64(len(raw))) }
func (t *TxCache) Stats() Stats                        { return t.c.Stats() }

func observeCache(name string, hit bool) {
	if hit {
		metrics.CacheHits.WithLabelValues(name).Inc()
	} else {
		metrics.CacheMisses.WithLabelValues(name).Inc()
	}
}

// BlockTxidsCache maps blockhash -> ordered txid list, default ~50MB, used
// heavily by get_merkle (spec.md §4.7).
type BlockTxidsCache struct {
	c *RndCache[chainhash.Hash, []chainhash.Hash]
}

func NewBlockTxidsCache(maxBytes int64) *BlockTxidsCache {
	return &BlockTxidsCache{c: New[chainhash.Hash, []chainhash.Hash](maxBytes, shardCount, hashShardByte)}
}

func (b *BlockTxidsCache) Get(blockHash chainhash.Hash) ([]chainhash.Hash, bool) {
	v, ok := b.c.Get(blockHash)
	observeCache("block_txids", ok)
	return v, ok
}
func (b *BlockTxidsCache) Put(blockHash chainhash.Hash, txids []chainhash.Hash) {
	b.c.Set(blockHash, txids, int64(len(txids))*chainhash.HashSize)
}
func (b *BlockTxidsCache) Stats() Stats { return b.c.Stats() }

// StatusEntry is spec.md §4.7's StatusHashCache value.
type StatusEntry struct {
	StatusHash          [32]byte
	LastConfirmedHeight int64
	MempoolFingerprint  uint64
}

// StatusHashCache is bounded by entry count, not bytes (spec.md §4.7),
// implemented by fixing every entry's declared size to 1 so the shared
// RndCache's byte budget doubles as an item-count budget.
type StatusHashCache struct {
	c *RndCache[[32]byte, StatusEntry]
}

func NewStatusHashCache(limit int) *StatusHashCache {
	return &StatusHashCache{c: New[[32]byte, StatusEntry](int64(limit), shardCount, scripthashShardByte)}
}

func scripthashShardByte(sh [32]byte) byte { return sh[0] }

func (s *StatusHashCache) Get(scripthash [32]byte) (StatusEntry, bool) {
	v, ok := s.c.Get(scripthash)
	observeCache("status_hash", ok)
	return v, ok
}
func (s *StatusHashCache) Put(scripthash [32]byte, e StatusEntry) { s.c.Set(scripthash, e, 1) }
func (s *StatusHashCache) Invalidate(scripthash [32]byte)         { s.c.Delete(scripthash) }
func (s *StatusHashCache) Stats() Stats                           { return s.c.Stats() }
