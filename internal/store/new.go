package store

import (
	"path/filepath"

	"github.com/cockroachdb/pebble"

	"github.com/BitcoinUnlimited/electrscash/internal/logging"
)

// Open opens (or creates) the pebble database rooted at dbPath, tuned the
// way the teacher's dbpebble.OpenDB tuned it for bulk sequential writes
// during indexing, and verifies the on-disk schema version.
func Open(dbPath string) (*Store, error) {
	opts := (&pebble.Options{}).EnsureDefaults()
	opts.Cache = pebble.NewCache(512 << 20) // 512 MiB block cache
	opts.BytesPerSync = 1 << 22
	opts.MaxConcurrentCompactions = func() int { return 10 }

	db, err := pebble.Open(filepath.Join(dbPath), opts)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, batchSize: 5000}
	if err := s.checkOrInitSchemaVersion(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) checkOrInitSchemaVersion() error {
	v, closer, err := s.db.Get(KeyMeta(MetaSchemaVersion))
	if err == pebble.ErrNotFound {
		buf := ValTxHeight(SchemaVersion) // reuse the 4-byte BE encoder
		return s.db.Set(KeyMeta(MetaSchemaVersion), buf, pebble.Sync)
	}
	if err != nil {
		return err
	}
	defer closer.Close()
	got := beU32(v)
	if got != SchemaVersion {
		logging.L.Fatal().Uint32("on_disk", got).Uint32("binary", SchemaVersion).
			Msg("schema version mismatch, reindex required")
	}
	return nil
}
