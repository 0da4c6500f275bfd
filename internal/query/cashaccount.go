package query

import (
	"context"
	"regexp"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/BitcoinUnlimited/electrscash/internal/errs"
	"github.com/BitcoinUnlimited/electrscash/internal/indexer"
	"github.com/BitcoinUnlimited/electrscash/internal/store"
)

var accountNameRe = regexp.MustCompile(`^[A-Za-z0-9_]{1,99}$`)

// CashAccountResult is one entry of a cashaccount.lookup response.
type CashAccountResult struct {
	Txid   chainhash.Hash
	Height uint32
}

// CashAccountLookup implements spec.md §4.8's cashaccount.lookup(name, height).
// activationHeight/tipHeight bound the requested height per the validation
// rule `activation <= height <= tip_height`; offset supports pagination.
func (q *Query) CashAccountLookup(name string, height uint32, offset int, activationHeight uint32, tipHeight int64) ([]CashAccountResult, error) {
	if !accountNameRe.MatchString(name) {
		return nil, errs.New(errs.KindInvalidParams, "name does not match ^[A-Za-z0-9_]{1,99}$", nil)
	}
	if height < activationHeight || int64(height) > tipHeight {
		return nil, errs.New(errs.KindInvalidParams, "height outside valid activation/tip range", nil)
	}
	if offset < 0 {
		return nil, errs.New(errs.KindInvalidParams, "offset must be >= 0", nil)
	}

	hash8 := store.AccountHash8(name, height)
	lb, ub := store.BoundsCashAccountByHash(hash8)
	rows, err := q.Store.ScanPrefix(lb, ub)
	if err != nil {
		return nil, err
	}

	var results []CashAccountResult
	for _, kv := range rows {
		_, txidPrefix := store.ParseCashAccountKey(kv.Key)
		candidates, heights, err := q.candidateTxids(txidPrefix)
		if err != nil {
			return nil, err
		}
		for i, c := range candidates {
			if heights[i] != height {
				continue
			}
			// hash8 only narrows by (name, height); an 8-byte txid prefix
			// collision within that bucket must still be resolved by
			// re-parsing the candidate's own registration, the same way
			// disambiguateTxid re-checks funding rows against the output
			// script rather than trusting the stored prefix alone.
			raw, err := q.fetchRawTx(context.Background(), c, heights[i])
			if err != nil {
				continue
			}
			tx, err := decodeTx(raw)
			if err != nil {
				continue
			}
			got, ok := indexer.ParseCashAccountRegistration(tx)
			if !ok || got != name {
				continue
			}
			results = append(results, CashAccountResult{Txid: c, Height: heights[i]})
		}
	}

	sort.Slice(results, func(i, j int) bool { return lessTxidLE(results[i].Txid, results[j].Txid) })

	if offset >= len(results) {
		return nil, nil
	}
	return results[offset:], nil
}

// lessTxidLE compares txids in their little-endian display order (spec.md
// §4.8: "sort results by little-endian txid").
func lessTxidLE(a, b chainhash.Hash) bool {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
