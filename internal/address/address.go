// Package address implements the address→scripthash conversion layer
// spec.md §1 names explicitly as an external collaborator, not core: it
// exists so `blockchain.address.*` can delegate to the same scripthash
// logic as `blockchain.scripthash.*` without the query/store/mempool layers
// ever seeing an address. Only legacy base58 addresses are decoded — CashAddr
// support would need a dedicated codec no example repo in the corpus
// carries, and spec.md places address-format decoding outside the core's
// grounding requirement.
package address

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/BitcoinUnlimited/electrscash/internal/config"
	"github.com/BitcoinUnlimited/electrscash/internal/errs"
	"github.com/BitcoinUnlimited/electrscash/internal/store"
)

func paramsForChain() *chaincfg.Params {
	switch config.Chain {
	case config.Testnet:
		return &chaincfg.TestNet3Params
	case config.Regtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// ToScriptHash decodes addr and returns the scripthash of its corresponding
// output script, per spec.md §6's blockchain.address.* method family.
func ToScriptHash(addr string) ([32]byte, error) {
	decoded, err := btcutil.DecodeAddress(addr, paramsForChain())
	if err != nil {
		return [32]byte{}, errs.New(errs.KindInvalidParams, "bad address", err)
	}
	script, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return [32]byte{}, errs.New(errs.KindInvalidParams, "unsupported address type", err)
	}
	return store.ScriptHash(script), nil
}
