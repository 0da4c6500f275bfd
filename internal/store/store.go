// Package store wraps cockroachdb/pebble as the embedded ordered key-value
// index, following the batching/flush discipline of the teacher's
// internal/database/dbpebble package but keyed to the schema in schema.go.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/BitcoinUnlimited/electrscash/internal/logging"
)

var errBadVarint = errors.New("store: malformed varint value")

// Store is the typed façade over a pebble.DB used by every other package.
// Reads go straight to the DB (pebble snapshots give read-your-own-writes
// consistency without an explicit read lock); writes during bulk indexing
// are buffered into a batch and committed in bounded chunks.
type Store struct {
	db *pebble.DB

	mu        sync.Mutex
	batch     *pebble.Batch
	batchN    int
	batchSize int
}

// Close flushes any pending batch (synced, since this is a clean shutdown)
// and releases the database.
func (s *Store) Close() error {
	if err := s.FlushSync(); err != nil {
		return err
	}
	return s.db.Close()
}

// Get fetches a single value. The returned slice is only valid until the
// next Store call; callers that need to retain it must copy.
func (s *Store) Get(key []byte) (val []byte, found bool, err error) {
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte{}, v...)
	_ = closer.Close()
	return out, true, nil
}

// KV is one key/value pair returned by ScanPrefix.
type KV struct {
	Key []byte
	Val []byte
}

// ScanRange iterates [lb, ub) in ascending key order, calling fn for each
// pair. Iteration stops early if fn returns false.
func (s *Store) ScanRange(lb, ub []byte, fn func(k, v []byte) bool) error {
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lb, UpperBound: ub})
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		if !fn(it.Key(), it.Value()) {
			break
		}
	}
	return it.Error()
}

// ScanPrefix materializes every row under [lb, ub) into a slice. Convenience
// wrapper over ScanRange for the (common) case where the caller wants all
// rows rather than a streaming callback.
func (s *Store) ScanPrefix(lb, ub []byte) ([]KV, error) {
	var out []KV
	err := s.ScanRange(lb, ub, func(k, v []byte) bool {
		out = append(out, KV{Key: append([]byte{}, k...), Val: append([]byte{}, v...)})
		return true
	})
	return out, err
}

// Put writes a single key/value immediately, outside the batching path.
// Used for the rare single-row writes (best-indexed pointer, meta) that
// don't warrant batch buffering.
func (s *Store) Put(key, val []byte) error {
	return s.db.Set(key, val, pebble.NoSync)
}

func (s *Store) Delete(key []byte) error {
	return s.db.Delete(key, pebble.NoSync)
}

// WriteBatch runs fn against a fresh pebble batch and commits it atomically.
// This is the entry point for reorg rollback/reapply, where the whole delta
// must land or none of it does (SPEC_FULL.md §3 invariant 2).
func (s *Store) WriteBatch(fn func(b *pebble.Batch) error) error {
	b := s.db.NewBatch()
	if err := fn(b); err != nil {
		_ = b.Close()
		return err
	}
	return b.Commit(pebble.Sync)
}

// StageSet buffers a Set into the indexer's bulk batch, committing and
// rotating the batch once batchSize writes have accumulated. Used by the
// bulk indexing pipeline's single writer goroutine; not safe for concurrent
// callers (the writer is intentionally single-threaded, see internal/indexer).
func (s *Store) StageSet(key, val []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch == nil {
		s.batch = s.db.NewBatch()
	}
	if err := s.batch.Set(key, val, nil); err != nil {
		return err
	}
	s.batchN++
	if s.batchN >= s.batchSize {
		return s.flushLocked(pebble.NoSync)
	}
	return nil
}

// Flush commits any buffered StageSet writes without forcing an fsync,
// matching the unsynced per-batch commits the bulk indexing pipeline relies
// on for throughput.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(pebble.NoSync)
}

// FlushSync commits any buffered StageSet writes and forces an fsync. Used
// once at the end of a bulk sync run (and on Close) so a crash right after
// can't lose data pebble already reported as committed.
func (s *Store) FlushSync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(pebble.Sync)
}

func (s *Store) flushLocked(opts *pebble.WriteOptions) error {
	if s.batch == nil || s.batchN == 0 {
		return nil
	}
	start := time.Now()
	if err := s.batch.Commit(opts); err != nil {
		logging.L.Error().Err(err).Msg("store: batch commit failed")
		return err
	}
	logging.L.Debug().Dur("took", time.Since(start)).Int("rows", s.batchN).Msg("store: batch flushed")
	_ = s.batch.Close()
	s.batch = nil
	s.batchN = 0
	return nil
}

// Compact runs a manual compaction over [start, end), used by the indexer's
// periodic compaction hint during bulk sync to reclaim space promptly
// instead of waiting on pebble's background compaction heuristics.
func (s *Store) Compact(start, end []byte) error {
	return s.db.Compact(start, end, true)
}

// Metrics exposes pebble's internal counters (disk usage, compaction debt,
// cache hit rate); cmd/electrscash-db prints them. They are not exported to
// Prometheus.
func (s *Store) Metrics() *pebble.Metrics {
	return s.db.Metrics()
}

// DiskUsage reports approximate on-disk bytes. The /metrics endpoint does
// not publish it.
func (s *Store) DiskUsage() uint64 {
	m := s.db.Metrics()
	return m.DiskSpaceUsage()
}
