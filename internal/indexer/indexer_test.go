package indexer

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/BitcoinUnlimited/electrscash/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestApplyLandsFundingSpendingTxRowsAtomically(t *testing.T) {
	st := openTestStore(t)
	idx := &Indexer{store: st}

	cb := coinbaseTx()
	spend := spendTx(wire.OutPoint{Hash: cb.TxHash(), Index: 0})
	blk := makeBlock(cb, spend)
	rows := BuildBlockRows(blk, 10, false)

	var committed *BlockRows
	idx.OnCommit = func(r *BlockRows) { committed = r }

	require.NoError(t, idx.Apply(rows))
	require.NotNil(t, committed)
	require.EqualValues(t, 10, committed.Height)

	fundingKey := store.KeyFunding(
		store.Prefix8(rows.Funding[0].ScriptHash[:]), 10,
		store.Prefix8(rows.Funding[0].Txid[:]), rows.Funding[0].Vout,
	)
	_, found, err := st.Get(fundingKey)
	require.NoError(t, err)
	require.True(t, found)

	spendingKey := store.KeySpending(
		store.Prefix8(rows.Spending[0].FundingTxid[:]), rows.Spending[0].FundingVout,
		store.Prefix8(rows.Spending[0].SpendingTxid[:]),
	)
	_, found, err = st.Get(spendingKey)
	require.NoError(t, err)
	require.True(t, found)

	_, found, err = st.Get(store.KeyTx(rows.Txs[1].Txid[:]))
	require.NoError(t, err)
	require.True(t, found)

	v, found, err := st.Get(store.KeyChainHeight(10))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, rows.Hash[:], v)

	v, found, err = st.Get(store.KeyBestIndexed())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, rows.Hash[:], v)
}
