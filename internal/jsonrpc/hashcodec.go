package jsonrpc

import (
	"encoding/hex"

	"github.com/BitcoinUnlimited/electrscash/internal/errs"
)

var errBadHash = errs.New(errs.KindInvalidParams, "bad hash: expected 32-byte hex", nil)

// Electrum scripthashes are SHA-256(scriptPubKey) reversed for hex display,
// the same convention bitcoin uses for txids and block hashes, per
// original_source/src/rpc.rs::hash_from_value's reuse of the Sha256dHash
// hex codec for what's really a single SHA-256 digest.
func parseScriptHash(hexStr string) ([32]byte, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil || len(raw) != 32 {
		return [32]byte{}, errBadHash
	}
	var out [32]byte
	for i, b := range raw {
		out[31-i] = b
	}
	return out, nil
}

func formatScriptHash(sh [32]byte) string {
	rev := make([]byte, 32)
	for i, b := range sh {
		rev[31-i] = b
	}
	return hex.EncodeToString(rev)
}

// formatHash32 hex-encodes a status hash verbatim: unlike scripthashes,
// txids and block hashes, Electrum status hashes are not byte-reversed.
func formatHash32(h [32]byte) string {
	return hex.EncodeToString(h[:])
}
