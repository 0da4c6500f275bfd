package store

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyFundingRoundTrip(t *testing.T) {
	sh := Prefix8(bytes.Repeat([]byte{0xAB}, 32))
	txid := Prefix8(bytes.Repeat([]byte{0xCD}, 32))

	k := KeyFunding(sh, 123, txid, 2)
	gotSH, gotHeight, gotTxid, gotVout := ParseFundingKey(k)

	require.Equal(t, sh, gotSH)
	require.EqualValues(t, 123, gotHeight)
	require.Equal(t, txid, gotTxid)
	require.EqualValues(t, 2, gotVout)
}

// TestFundingKeyOrdering checks that funding rows for one scripthash sort by
// ascending height regardless of insertion order, since a single prefix scan
// is what serves scripthash.get_history.
func TestFundingKeyOrdering(t *testing.T) {
	sh := Prefix8(bytes.Repeat([]byte{0x01}, 32))
	txidA := Prefix8(bytes.Repeat([]byte{0xAA}, 32))
	txidB := Prefix8(bytes.Repeat([]byte{0xBB}, 32))

	kHigh := KeyFunding(sh, 200, txidA, 0)
	kLow := KeyFunding(sh, 100, txidB, 0)

	require.Equal(t, -1, bytes.Compare(kLow, kHigh))
}

func TestKeySpendingRoundTrip(t *testing.T) {
	fundingTxid := Prefix8(bytes.Repeat([]byte{0x11}, 32))
	spendingTxid := Prefix8(bytes.Repeat([]byte{0x22}, 32))

	k := KeySpending(fundingTxid, 5, spendingTxid)
	gotFundingTxid, gotVout, gotSpendingTxid := ParseSpendingKey(k)

	require.Equal(t, fundingTxid, gotFundingTxid)
	require.EqualValues(t, 5, gotVout)
	require.Equal(t, spendingTxid, gotSpendingTxid)
}

func TestBoundsFundingByScripthashCoversOnlyThatPrefix(t *testing.T) {
	target := Prefix8(bytes.Repeat([]byte{0x01}, 32))
	other := Prefix8(bytes.Repeat([]byte{0x02}, 32))

	lb, ub := BoundsFundingByScripthash(target)

	inRange := KeyFunding(target, 10, Prefix8(bytes.Repeat([]byte{0x99}, 32)), 0)
	outOfRange := KeyFunding(other, 10, Prefix8(bytes.Repeat([]byte{0x99}, 32)), 0)

	require.True(t, bytes.Compare(lb, inRange) <= 0 && bytes.Compare(inRange, ub) < 0)
	require.False(t, bytes.Compare(lb, outOfRange) <= 0 && bytes.Compare(outOfRange, ub) < 0)
}

func TestValFundingAmountRoundTrip(t *testing.T) {
	for _, amt := range []uint64{0, 1, 546, 21_000_000_00000000} {
		v := ValFundingAmount(amt)
		got, err := ParseFundingAmount(v)
		require.NoError(t, err)
		require.Equal(t, amt, got)
	}
}

func TestScriptHashDeterministic(t *testing.T) {
	pk := []byte{0x76, 0xa9, 0x14, 0x01, 0x02, 0x88, 0xac}
	a := ScriptHash(pk)
	b := ScriptHash(pk)
	require.Equal(t, a, b)

	other := ScriptHash([]byte{0x00})
	require.NotEqual(t, a, other)
}

func TestAccountHash8Deterministic(t *testing.T) {
	a := AccountHash8("alice", 100)
	b := AccountHash8("alice", 100)
	require.Equal(t, a, b)
	require.Len(t, a, 8)

	c := AccountHash8("alice", 101)
	require.NotEqual(t, a, c)
}

func TestRowPrefixesAreDistinct(t *testing.T) {
	prefixes := []byte{
		PrefixFunding, PrefixSpending, PrefixTx, PrefixCashAccount,
		PrefixMeta, PrefixBlockHeader, PrefixChainHeight, PrefixChainBlock,
		PrefixBestIndexed,
	}
	seen := make(map[byte]bool)
	for _, p := range prefixes {
		require.False(t, seen[p], "duplicate prefix byte %q", p)
		seen[p] = true
	}
}
