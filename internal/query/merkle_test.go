package query

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

// TestMerkleBranchRoundTrip exercises spec.md §8 property 7: for every
// confirmed tx, verifying get_merkle against the known block root succeeds.
func TestMerkleBranchRoundTrip(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8, 9} {
		txids := make([]chainhash.Hash, n)
		for i := range txids {
			txids[i] = hashFrom(byte(i + 1))
		}
		root := merkleRoot(txids)

		for pos := range txids {
			branch := buildMerkleBranch(txids, pos)
			require.True(t, VerifyMerkleBranch(txids[pos], branch, pos, root),
				"n=%d pos=%d branch failed to verify", n, pos)
		}
	}
}

// merkleRoot computes the root the same way buildMerkleBranch's caller would
// observe it, by folding the branch construction's own pairwise hashing down
// to a single node, used only to give the round-trip test an independent
// target to verify against.
func merkleRoot(txids []chainhash.Hash) chainhash.Hash {
	level := append([]chainhash.Hash{}, txids...)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]chainhash.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = hashPair(level[i], level[i+1])
		}
		level = next
	}
	return level[0]
}
