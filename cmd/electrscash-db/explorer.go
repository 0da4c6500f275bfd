package main

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/BitcoinUnlimited/electrscash/internal/store"
)

// DatabaseExplorer provides methods to explore the pebble database directly,
// bypassing the Store façade so a corrupted or unusual on-disk state can
// still be inspected.
type DatabaseExplorer struct {
	db *pebble.DB
}

func NewDatabaseExplorer(dbPath string) (*DatabaseExplorer, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &DatabaseExplorer{db: db}, nil
}

func (de *DatabaseExplorer) Close() error {
	return de.db.Close()
}

// CountKeysByType counts keys under a single row prefix. funding/spending/tx
// are height-independent prefix scans; chain-height supports a height range.
func (de *DatabaseExplorer) CountKeysByType(keyType string, startHeight, endHeight uint32) (int, error) {
	var lowerBound, upperBound []byte

	switch keyType {
	case "funding":
		lowerBound, upperBound = []byte{store.PrefixFunding}, []byte{store.PrefixFunding + 1}
	case "spending":
		lowerBound, upperBound = []byte{store.PrefixSpending}, []byte{store.PrefixSpending + 1}
	case "tx":
		lowerBound, upperBound = []byte{store.PrefixTx}, []byte{store.PrefixTx + 1}
	case "cashaccount":
		lowerBound, upperBound = []byte{store.PrefixCashAccount}, []byte{store.PrefixCashAccount + 1}
	case "block-header":
		lowerBound, upperBound = []byte{store.PrefixBlockHeader}, []byte{store.PrefixBlockHeader + 1}
	case "chain-height":
		lowerBound, upperBound = store.BoundsChainHeight()
		if endHeight > 0 || startHeight > 0 {
			lowerBound, upperBound = store.KeyChainHeight(startHeight), store.KeyChainHeight(endHeight+1)
		}
	case "chain-block":
		lowerBound, upperBound = []byte{store.PrefixChainBlock}, []byte{store.PrefixChainBlock + 1}
	default:
		return 0, fmt.Errorf("unsupported key type: %s", keyType)
	}

	iter, err := de.db.NewIter(&pebble.IterOptions{LowerBound: lowerBound, UpperBound: upperBound})
	if err != nil {
		return 0, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	if err := iter.Error(); err != nil {
		return 0, fmt.Errorf("iterator error: %w", err)
	}
	return count, nil
}

func (de *DatabaseExplorer) GetDatabaseStats() (*pebble.Metrics, error) {
	return de.db.Metrics(), nil
}

// ListAllKeyTypes returns a count of keys by row prefix byte.
func (de *DatabaseExplorer) ListAllKeyTypes() (map[byte]int, error) {
	keyCounts := make(map[byte]int)

	iter, err := de.db.NewIter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) > 0 {
			keyCounts[key[0]]++
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterator error: %w", err)
	}
	return keyCounts, nil
}

var prefixNames = map[byte]string{
	store.PrefixFunding:     "Funding",
	store.PrefixSpending:    "Spending",
	store.PrefixTx:          "Tx",
	store.PrefixCashAccount: "CashAccount",
	store.PrefixMeta:        "Meta",
	store.PrefixBlockHeader: "BlockHeader",
	store.PrefixChainHeight: "ChainHeight",
	store.PrefixChainBlock:  "ChainBlock",
	store.PrefixBestIndexed: "BestIndexed",
}

func (de *DatabaseExplorer) PrintKeyTypeSummary() error {
	keyCounts, err := de.ListAllKeyTypes()
	if err != nil {
		return err
	}

	fmt.Println("Database Key Type Summary:")
	fmt.Println("=========================")

	totalKeys := 0
	for prefix, count := range keyCounts {
		name := prefixNames[prefix]
		if name == "" {
			name = fmt.Sprintf("Unknown(0x%02X)", prefix)
		}
		fmt.Printf("%-16s: %d keys\n", name, count)
		totalKeys += count
	}
	fmt.Printf("%-16s: %d keys\n", "TOTAL", totalKeys)
	return nil
}

// GetHeightRange scans the ChainHeight row family for the lowest/highest
// indexed heights.
func (de *DatabaseExplorer) GetHeightRange() (uint32, uint32, error) {
	lb, ub := store.BoundsChainHeight()
	iter, err := de.db.NewIter(&pebble.IterOptions{LowerBound: lb, UpperBound: ub})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var minHeight, maxHeight uint32
	var found bool
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) < 1+store.SizeHeight {
			continue
		}
		height := uint32(key[1])<<24 | uint32(key[2])<<16 | uint32(key[3])<<8 | uint32(key[4])
		if !found {
			minHeight, maxHeight, found = height, height, true
			continue
		}
		if height < minHeight {
			minHeight = height
		}
		if height > maxHeight {
			maxHeight = height
		}
	}
	if err := iter.Error(); err != nil {
		return 0, 0, fmt.Errorf("iterator error: %w", err)
	}
	if !found {
		return 0, 0, fmt.Errorf("no chain-height rows found in database")
	}
	return minHeight, maxHeight, nil
}

func (de *DatabaseExplorer) PrintDatabaseInfo() error {
	fmt.Println("electrscash Database Information")
	fmt.Println("=================================")

	minHeight, maxHeight, err := de.GetHeightRange()
	if err != nil {
		fmt.Printf("Error getting height range: %v\n", err)
	} else {
		fmt.Printf("Height Range: %d - %d (%d blocks)\n", minHeight, maxHeight, maxHeight-minHeight+1)
	}

	fmt.Println()
	if err := de.PrintKeyTypeSummary(); err != nil {
		return fmt.Errorf("failed to print key type summary: %w", err)
	}

	fmt.Println()
	metrics, err := de.GetDatabaseStats()
	if err != nil {
		fmt.Printf("Error getting database metrics: %v\n", err)
	} else {
		fmt.Println("Database Metrics:")
		fmt.Printf("  Tombstones: %d\n", metrics.Keys.TombstoneCount)
		fmt.Printf("  Memtable Size: %d bytes\n", metrics.MemTable.Size)
		fmt.Printf("  Block Cache Size: %d bytes\n", metrics.BlockCache.Size)
		fmt.Printf("  WAL Files: %d\n", metrics.WAL.Files)
		fmt.Printf("  WAL Size: %d bytes\n", metrics.WAL.Size)
	}
	return nil
}
