package store

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenInitializesSchemaVersion(t *testing.T) {
	s := openTestStore(t)
	v, found, err := s.Get(KeyMeta(MetaSchemaVersion))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, SchemaVersion, beU32(v))
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)
	key := KeyTx([]byte("0123456789012345678901234567890a"))

	_, found, err := s.Get(key)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Put(key, ValTxHeight(42)))
	v, found, err := s.Get(key)
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 42, ParseTxHeight(v))

	require.NoError(t, s.Delete(key))
	_, found, err = s.Get(key)
	require.NoError(t, err)
	require.False(t, found)
}

func TestStageSetFlushesAtBatchSize(t *testing.T) {
	s := openTestStore(t)
	s.batchSize = 3

	for i := uint32(0); i < 3; i++ {
		key := KeyChainHeight(i)
		require.NoError(t, s.StageSet(key, ValTxHeight(i)))
	}

	// batchSize reached, so the batch should already be committed and visible
	// without an explicit Flush.
	v, found, err := s.Get(KeyChainHeight(0))
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 0, ParseTxHeight(v))
}

func TestFlushCommitsPendingBatch(t *testing.T) {
	s := openTestStore(t)
	s.batchSize = 100

	require.NoError(t, s.StageSet(KeyChainHeight(7), ValTxHeight(7)))
	require.NoError(t, s.Flush())

	v, found, err := s.Get(KeyChainHeight(7))
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 7, ParseTxHeight(v))
}

func TestWriteBatchCommitsAtomically(t *testing.T) {
	s := openTestStore(t)

	err := s.WriteBatch(func(b *pebble.Batch) error {
		if err := b.Set(KeyChainHeight(1), ValTxHeight(1), nil); err != nil {
			return err
		}
		return b.Set(KeyChainHeight(2), ValTxHeight(2), nil)
	})
	require.NoError(t, err)

	v, found, err := s.Get(KeyChainHeight(1))
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 1, ParseTxHeight(v))

	v, found, err = s.Get(KeyChainHeight(2))
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 2, ParseTxHeight(v))
}

// TestWriteBatchRollsBackOnError checks that a batch fn returning an error
// never reaches Commit, so none of its writes become visible.
func TestWriteBatchRollsBackOnError(t *testing.T) {
	s := openTestStore(t)

	wantErr := require.Error
	err := s.WriteBatch(func(b *pebble.Batch) error {
		if err := b.Set(KeyChainHeight(3), ValTxHeight(3), nil); err != nil {
			return err
		}
		return errBadVarint
	})
	wantErr(t, err)

	_, found, err := s.Get(KeyChainHeight(3))
	require.NoError(t, err)
	require.False(t, found)
}

func TestScanPrefixReturnsOnlyMatchingRows(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(KeyChainHeight(1), ValTxHeight(1)))
	require.NoError(t, s.Put(KeyChainHeight(2), ValTxHeight(2)))
	require.NoError(t, s.Put(KeyTx([]byte("xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx")), ValTxHeight(99)))

	lb, ub := BoundsChainHeight()
	rows, err := s.ScanPrefix(lb, ub)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}
