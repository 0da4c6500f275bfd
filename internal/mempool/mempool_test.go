package mempool

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

func hashFrom(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func newTracker() *Tracker {
	return New(nil)
}

func TestRegisterIndexesFundingAndSpending(t *testing.T) {
	tr := newTracker()
	sh := [32]byte{0x01}
	txid := hashFrom(0xAA)

	e := &Entry{
		Txid:    txid,
		Funding: []Funding{{ScriptHash: sh, Vout: 0, AmountSats: 1000}},
		Spending: []Spending{
			{PrevOutpoint: Outpoint{Hash: hashFrom(0xBB), Vout: 0}, ScriptHash: [32]byte{0x02}, HasScriptHash: true},
		},
	}

	touched := make(map[[32]byte]struct{})
	tr.register(e, touched)

	require.Contains(t, touched, sh)
	require.Contains(t, touched, [32]byte{0x02})

	found := tr.FindByScriptHash(sh)
	require.Len(t, found, 1)
	require.Equal(t, txid, found[0].Txid)

	spender, ok := tr.SpenderOf(Outpoint{Hash: hashFrom(0xBB), Vout: 0})
	require.True(t, ok)
	require.Equal(t, txid, spender)
}

func TestUnregisterRemovesAllIndexEntries(t *testing.T) {
	tr := newTracker()
	sh := [32]byte{0x01}
	txid := hashFrom(0xAA)
	prevOp := Outpoint{Hash: hashFrom(0xBB), Vout: 0}

	e := &Entry{
		Txid:     txid,
		Funding:  []Funding{{ScriptHash: sh, Vout: 0, AmountSats: 1000}},
		Spending: []Spending{{PrevOutpoint: prevOp, ScriptHash: [32]byte{0x02}, HasScriptHash: true}},
	}
	touched := make(map[[32]byte]struct{})
	tr.register(e, touched)

	touched2 := make(map[[32]byte]struct{})
	tr.unregister(txid, touched2)

	require.False(t, tr.Has(txid))
	require.Empty(t, tr.FindByScriptHash(sh))
	_, ok := tr.SpenderOf(prevOp)
	require.False(t, ok)
	require.Contains(t, touched2, sh)
}

func TestRecomputeUnconfirmedParentsDetectsChainedSpends(t *testing.T) {
	tr := newTracker()
	parentTxid := hashFrom(0x01)
	childTxid := hashFrom(0x02)

	touched := make(map[[32]byte]struct{})
	tr.register(&Entry{Txid: parentTxid}, touched)
	tr.register(&Entry{
		Txid:     childTxid,
		Spending: []Spending{{PrevOutpoint: Outpoint{Hash: parentTxid, Vout: 0}}},
	}, touched)

	tr.recomputeUnconfirmedParents()

	parent, _ := tr.Get(parentTxid)
	child, _ := tr.Get(childTxid)
	require.False(t, parent.UnconfirmedParents)
	require.True(t, child.UnconfirmedParents)
}

func TestFeeAndHas(t *testing.T) {
	tr := newTracker()
	txid := hashFrom(0x03)
	touched := make(map[[32]byte]struct{})
	tr.register(&Entry{Txid: txid, FeeSats: 500}, touched)

	require.True(t, tr.Has(txid))
	fee, ok := tr.Fee(txid)
	require.True(t, ok)
	require.EqualValues(t, 500, fee)

	_, ok = tr.Fee(hashFrom(0x99))
	require.False(t, ok)
}

func TestSizeReflectsRegisteredEntries(t *testing.T) {
	tr := newTracker()
	touched := make(map[[32]byte]struct{})
	require.Equal(t, 0, tr.Size())

	tr.register(&Entry{Txid: hashFrom(0x01)}, touched)
	tr.register(&Entry{Txid: hashFrom(0x02)}, touched)
	require.Equal(t, 2, tr.Size())
}
