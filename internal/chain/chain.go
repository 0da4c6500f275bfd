// Package chain holds the in-memory authoritative view of the active
// header chain and detects reorganizations against the daemon.
package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/BitcoinUnlimited/electrscash/internal/daemon"
)

// Header is the subset of block-header fields HeaderChain needs to walk
// prev_hash links and detect divergence.
type Header struct {
	Hash       chainhash.Hash
	PrevHash   chainhash.Hash
	Height     int64
	Version    int32
	MerkleRoot chainhash.Hash
	Time       int64
	Bits       uint32
	Nonce      uint32
}

// Delta describes what changed between two HeaderChain.Refresh calls.
type Delta struct {
	CommonAncestorHeight int64
	Removed              []Header // tip-first order
	Added                []Header // ancestor-first order
}

// Chain is the in-memory contiguous header array plus hash->height index.
// Not safe for concurrent writers; Refresh is called from a single owner
// (the indexer's incremental loop); readers take the mutex for snapshots.
type Chain struct {
	mu         sync.RWMutex
	headers    []Header // index 0 == genesis-relative offset, see baseHeight
	baseHeight int64
	byHash     map[chainhash.Hash]int64

	reorgLimit int64
	client     *daemon.Client
}

func New(client *daemon.Client, reorgLimit int64) *Chain {
	return &Chain{
		byHash:     make(map[chainhash.Hash]int64),
		reorgLimit: reorgLimit,
		client:     client,
	}
}

// Tip returns the current best header, or false if the chain is empty.
func (c *Chain) Tip() (Header, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.headers) == 0 {
		return Header{}, false
	}
	return c.headers[len(c.headers)-1], true
}

func (c *Chain) HeaderAt(height int64) (Header, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx := height - c.baseHeight
	if idx < 0 || idx >= int64(len(c.headers)) {
		return Header{}, false
	}
	return c.headers[idx], true
}

// Serialize encodes h as the raw 80-byte block header wire format
// blockchain.block.header returns, matching wire.BlockHeader.Serialize.
func (h Header) Serialize() []byte {
	buf := make([]byte, 80)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.Version))
	copy(buf[4:36], h.PrevHash[:])
	copy(buf[36:68], h.MerkleRoot[:])
	binary.LittleEndian.PutUint32(buf[68:72], uint32(h.Time))
	binary.LittleEndian.PutUint32(buf[72:76], h.Bits)
	binary.LittleEndian.PutUint32(buf[76:80], h.Nonce)
	return buf
}

func (c *Chain) HeightOf(hash chainhash.Hash) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.byHash[hash]
	return h, ok
}

// Refresh fetches the node's current tip and walks prev_hash backwards
// until it meets the local tip (fast path, pure append) or finds a
// divergence (reorg path), per spec.md §4.4.
func (c *Chain) Refresh(ctx context.Context) (*Delta, error) {
	info, err := c.client.GetBlockchainInfo(ctx)
	if err != nil {
		return nil, err
	}
	tipHash, err := chainhash.NewHashFromStr(info.BestBlockHash)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	localTip, hasLocal := Header{}, false
	if len(c.headers) > 0 {
		localTip = c.headers[len(c.headers)-1]
		hasLocal = true
	}
	c.mu.RUnlock()

	if hasLocal && localTip.Hash == *tipHash {
		return &Delta{CommonAncestorHeight: localTip.Height}, nil // no change
	}

	// Walk backwards from the node's tip, collecting headers, until we hit a
	// hash already present in our local chain (or run out of local chain).
	var walked []Header
	cur := *tipHash
	var depth int64
	for {
		rh, err := c.client.GetBlockHeader(ctx, cur)
		if err != nil {
			return nil, err
		}
		h, err := toHeader(rh)
		if err != nil {
			return nil, err
		}
		walked = append(walked, h)

		if height, ok := c.HeightOf(h.PrevHash); ok || h.Height == 0 {
			// h.PrevHash is either already known locally, or h is genesis.
			ancestorHeight := height
			if h.Height == 0 {
				ancestorHeight = -1
			}
			reverseHeaders(walked)
			return c.applyWalk(ancestorHeight, walked)
		}

		prevHash, err := chainhash.NewHashFromStr(rh.PreviousHash)
		if err != nil {
			return nil, err
		}
		cur = *prevHash
		depth++
		if c.reorgLimit > 0 && depth > c.reorgLimit {
			return nil, fmt.Errorf("chain: reorg depth exceeded limit %d", c.reorgLimit)
		}
	}
}

// Bootstrap fills the chain from height 0 through the node's current tip by
// height, used once at startup after a bulk sync so Refresh's backward
// prev-hash walk has a local tip to meet instead of walking to genesis on
// its first call. Unlike Refresh it does not enforce reorgLimit: it always
// starts from an empty chain, so "depth" here is chain height, not reorg
// depth.
func (c *Chain) Bootstrap(ctx context.Context) (*Delta, error) {
	info, err := c.client.GetBlockchainInfo(ctx)
	if err != nil {
		return nil, err
	}

	var headers []Header
	for height := int64(0); height <= info.Blocks; height++ {
		hash, err := c.client.GetBlockHashByHeight(ctx, height)
		if err != nil {
			return nil, err
		}
		rh, err := c.client.GetBlockHeader(ctx, *hash)
		if err != nil {
			return nil, err
		}
		h, err := toHeader(rh)
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}
	return c.applyWalk(-1, headers)
}

func reverseHeaders(h []Header) {
	for i, j := 0, len(h)-1; i < j; i, j = i+1, j-1 {
		h[i], h[j] = h[j], h[i]
	}
}

func (c *Chain) applyWalk(commonAncestorHeight int64, ancestorFirst []Header) (*Delta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []Header
	if len(c.headers) > 0 {
		tipHeight := c.headers[len(c.headers)-1].Height
		for h := tipHeight; h > commonAncestorHeight; h-- {
			idx := h - c.baseHeight
			if idx < 0 || idx >= int64(len(c.headers)) {
				break
			}
			removed = append(removed, c.headers[idx])
			delete(c.byHash, c.headers[idx].Hash)
		}
		keep := commonAncestorHeight - c.baseHeight + 1
		if keep < 0 {
			keep = 0
		}
		c.headers = c.headers[:keep]
	}

	if len(c.headers) == 0 && len(ancestorFirst) > 0 {
		c.baseHeight = ancestorFirst[0].Height
	}
	for _, h := range ancestorFirst {
		c.headers = append(c.headers, h)
		c.byHash[h.Hash] = h.Height
	}

	return &Delta{
		CommonAncestorHeight: commonAncestorHeight,
		Removed:              removed,
		Added:                ancestorFirst,
	}, nil
}

func toHeader(rh *daemon.RawBlockHeader) (Header, error) {
	hash, err := chainhash.NewHashFromStr(rh.Hash)
	if err != nil {
		return Header{}, err
	}
	var prev chainhash.Hash
	if rh.PreviousHash != "" {
		p, err := chainhash.NewHashFromStr(rh.PreviousHash)
		if err != nil {
			return Header{}, err
		}
		prev = *p
	}
	var merkle chainhash.Hash
	if rh.MerkleRoot != "" {
		m, err := chainhash.NewHashFromStr(rh.MerkleRoot)
		if err != nil {
			return Header{}, err
		}
		merkle = *m
	}
	bits, err := parseBits(rh.Bits)
	if err != nil {
		return Header{}, err
	}
	return Header{
		Hash:       *hash,
		PrevHash:   prev,
		Height:     rh.Height,
		Version:    rh.Version,
		MerkleRoot: merkle,
		Time:       rh.Time,
		Bits:       bits,
		Nonce:      rh.Nonce,
	}, nil
}

// parseBits converts the node's hex-string "bits" (nBits, compact target
// encoding) into its numeric wire form.
func parseBits(hexBits string) (uint32, error) {
	if hexBits == "" {
		return 0, nil
	}
	var v uint32
	if _, err := fmt.Sscanf(hexBits, "%x", &v); err != nil {
		return 0, fmt.Errorf("parse bits %q: %w", hexBits, err)
	}
	return v, nil
}
