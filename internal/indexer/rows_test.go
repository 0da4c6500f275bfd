package indexer

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func makeBlock(txs ...*wire.MsgTx) *btcutil.Block {
	msgBlock := &wire.MsgBlock{
		Header:       wire.BlockHeader{},
		Transactions: txs,
	}
	return btcutil.NewBlock(msgBlock)
}

func coinbaseTx() *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: 0xffffffff},
		SignatureScript:  []byte{0x01, 0x02},
	})
	tx.AddTxOut(&wire.TxOut{Value: 50_00000000, PkScript: []byte{0x76, 0xa9, 0x14, 0x01, 0x88, 0xac}})
	return tx
}

func spendTx(prevTxid wire.OutPoint) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: prevTxid})
	tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte{0x76, 0xa9, 0x14, 0x02, 0x88, 0xac}})
	return tx
}

func TestBuildBlockRowsCoinbaseHasNoSpendingRow(t *testing.T) {
	cb := coinbaseTx()
	blk := makeBlock(cb)

	rows := BuildBlockRows(blk, 100, false)

	require.Len(t, rows.Funding, 1)
	require.Empty(t, rows.Spending)
	require.Len(t, rows.Txs, 1)
	require.EqualValues(t, 100, rows.Txs[0].Height)
}

func TestBuildBlockRowsSpendingLinksToPreviousOutpoint(t *testing.T) {
	cb := coinbaseTx()
	spend := spendTx(wire.OutPoint{Hash: cb.TxHash(), Index: 0})
	blk := makeBlock(cb, spend)

	rows := BuildBlockRows(blk, 101, false)

	require.Len(t, rows.Funding, 2) // coinbase output + spend's own output
	require.Len(t, rows.Spending, 1)
	require.Equal(t, cb.TxHash(), rows.Spending[0].FundingTxid)
	require.EqualValues(t, 0, rows.Spending[0].FundingVout)
	require.Equal(t, spend.TxHash(), rows.Spending[0].SpendingTxid)
}

func TestBuildBlockRowsCashAccountGatedByActivation(t *testing.T) {
	tx := wire.NewMsgTx(wire.TxVersion)
	payload := append([]byte{0x6a}, encodeCashAccountScript("alice")...)
	tx.AddTxOut(&wire.TxOut{Value: 0, PkScript: payload})
	blk := makeBlock(tx)

	inactive := BuildBlockRows(blk, 100, false)
	require.Empty(t, inactive.Accounts)

	active := BuildBlockRows(blk, 100, true)
	require.Len(t, active.Accounts, 1)
	require.Equal(t, "alice", active.Accounts[0].Name)
}

// encodeCashAccountScript builds the OP_RETURN payload body (without the
// leading OP_RETURN byte) ParseCashAccountRegistration expects: protocol
// identifier push, then name push.
func encodeCashAccountScript(name string) []byte {
	var out []byte
	out = append(out, byte(len(cashAccountProtocolPrefix)))
	out = append(out, cashAccountProtocolPrefix[:]...)
	out = append(out, byte(len(name)))
	out = append(out, []byte(name)...)
	return out
}

func TestParseCashAccountRegistrationRejectsBadNames(t *testing.T) {
	tx := wire.NewMsgTx(wire.TxVersion)
	payload := append([]byte{0x6a}, encodeCashAccountScript("bad name!")...)
	tx.AddTxOut(&wire.TxOut{Value: 0, PkScript: payload})

	_, ok := ParseCashAccountRegistration(tx)
	require.False(t, ok)
}
