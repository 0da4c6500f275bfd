package store

import (
	"crypto/sha256"
	"encoding/binary"
	"strconv"
)

// ScriptHash is the client-visible address surrogate: SHA-256 of the
// scriptPubKey (spec.md §3). Electrum's wire convention displays it
// byte-reversed; storage and internal comparisons use it as computed here.
func ScriptHash(pkScript []byte) [32]byte {
	return sha256.Sum256(pkScript)
}

// AccountHash8 implements the cashaccount lookup key from spec.md §4.8:
// hash8(name || '#' || height).
func AccountHash8(name string, height uint32) []byte {
	buf := []byte(name)
	buf = append(buf, '#')
	buf = append(buf, strconv.FormatUint(uint64(height), 10)...)
	sum := sha256.Sum256(buf)
	return sum[:8]
}

// Field widths, fixed per the on-disk schema (see SPEC_FULL.md §3/§4.2).
const (
	SizeHash   = 32 // full txid / scripthash / blockhash
	SizePrefix = 8  // truncated hash used inside keys
	SizeHeight = 4
	SizeVout   = 4
)

// Row prefix bytes. Chosen to match the letters the spec's wire-level
// description (§6) already uses for "Persisted state", one byte each so
// that a single iterator covers one logical table.
const (
	PrefixFunding     byte = 'O' // funding (output) rows
	PrefixSpending    byte = 'I' // spending (input) rows
	PrefixTx          byte = 'T' // txid -> confirmed height
	PrefixCashAccount byte = 'C' // cashaccount registration rows
	PrefixMeta        byte = 'M' // schema_version and other scalars
	PrefixBlockHeader byte = 'B' // blockhash -> raw header bytes
	PrefixChainHeight byte = 'H' // height -> blockhash
	PrefixChainBlock  byte = 'Z' // blockhash -> height
	PrefixBestIndexed byte = 'L' // single row: best indexed blockhash
)

func be32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func beU32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }

// Prefix8 truncates a 32-byte hash to the 8-byte prefix used inside keys.
// Ambiguity between distinct full hashes sharing a prefix is resolved at
// read time against TxRow (invariant 4 in SPEC_FULL.md §3).
func Prefix8(hash []byte) []byte {
	p := make([]byte, SizePrefix)
	copy(p, hash)
	return p
}

// ---------------- Funding rows ----------------
// Key: 'O' | scripthash_prefix(8) | height(4 BE) | txid_prefix(8) | vout(4 BE)
// Value: amount_sats (uvarint)
//
// Keying by (scripthash_prefix, height, txid_prefix) means a single prefix
// scan over scripthash_prefix returns funding rows in ascending confirmation
// order, as required by SPEC_FULL.md §4.2.

func KeyFunding(scripthashPrefix []byte, height uint32, txidPrefix []byte, vout uint32) []byte {
	k := make([]byte, 1+SizePrefix+SizeHeight+SizePrefix+SizeVout)
	i := 0
	k[i] = PrefixFunding
	i++
	copy(k[i:], scripthashPrefix)
	i += SizePrefix
	copy(k[i:], be32(height))
	i += SizeHeight
	copy(k[i:], txidPrefix)
	i += SizePrefix
	copy(k[i:], be32(vout))
	return k
}

// BoundsFundingByScripthash returns the [lower, upper) range covering every
// funding row for scripthashPrefix, in ascending height order.
func BoundsFundingByScripthash(scripthashPrefix []byte) (lb, ub []byte) {
	lb = append([]byte{PrefixFunding}, scripthashPrefix...)
	ub = append([]byte{PrefixFunding}, scripthashPrefix...)
	ub = append(ub, 0xFF)
	return
}

func ValFundingAmount(amountSats uint64) []byte {
	buf := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(buf, amountSats)
	return buf[:n]
}

func ParseFundingAmount(v []byte) (uint64, error) {
	amt, n := binary.Uvarint(v)
	if n <= 0 {
		return 0, errBadVarint
	}
	return amt, nil
}

// ParseFundingKey splits a funding key back into its components.
func ParseFundingKey(k []byte) (scripthashPrefix []byte, height uint32, txidPrefix []byte, vout uint32) {
	i := 1
	scripthashPrefix = k[i : i+SizePrefix]
	i += SizePrefix
	height = beU32(k[i : i+SizeHeight])
	i += SizeHeight
	txidPrefix = k[i : i+SizePrefix]
	i += SizePrefix
	vout = beU32(k[i : i+SizeVout])
	return
}

// ---------------- Spending rows ----------------
// Key: 'I' | funding_txid_prefix(8) | funding_vout(4 BE) | spending_txid_prefix(8)
// Value: spending_height (4 BE)

func KeySpending(fundingTxidPrefix []byte, fundingVout uint32, spendingTxidPrefix []byte) []byte {
	k := make([]byte, 1+SizePrefix+SizeVout+SizePrefix)
	i := 0
	k[i] = PrefixSpending
	i++
	copy(k[i:], fundingTxidPrefix)
	i += SizePrefix
	copy(k[i:], be32(fundingVout))
	i += SizeVout
	copy(k[i:], spendingTxidPrefix)
	return k
}

func BoundsSpendingByOutpoint(fundingTxidPrefix []byte, fundingVout uint32) (lb, ub []byte) {
	lb = make([]byte, 1+SizePrefix+SizeVout)
	lb[0] = PrefixSpending
	copy(lb[1:], fundingTxidPrefix)
	copy(lb[1+SizePrefix:], be32(fundingVout))
	ub = append([]byte{}, lb...)
	ub = append(ub, 0xFF)
	return
}

func ValSpendingHeight(height uint32) []byte { return be32(height) }

func ParseSpendingKey(k []byte) (fundingTxidPrefix []byte, fundingVout uint32, spendingTxidPrefix []byte) {
	i := 1
	fundingTxidPrefix = k[i : i+SizePrefix]
	i += SizePrefix
	fundingVout = beU32(k[i : i+SizeVout])
	i += SizeVout
	spendingTxidPrefix = k[i : i+SizePrefix]
	return
}

// ---------------- Tx rows ----------------
// Key: 'T' | txid(32)
// Value: confirmed height (4 BE)

func KeyTx(txid []byte) []byte {
	k := make([]byte, 1+SizeHash)
	k[0] = PrefixTx
	copy(k[1:], txid)
	return k
}

func BoundsTxByPrefix(txidPrefix []byte) (lb, ub []byte) {
	lb = append([]byte{PrefixTx}, txidPrefix...)
	ub = append([]byte{PrefixTx}, txidPrefix...)
	ub = append(ub, 0xFF)
	return
}

func ValTxHeight(height uint32) []byte { return be32(height) }
func ParseTxHeight(v []byte) uint32    { return beU32(v) }

// ---------------- CashAccount rows ----------------
// Key: 'C' | account_hash8(8) | txid_prefix(8)

func KeyCashAccount(accountHash8, txidPrefix []byte) []byte {
	k := make([]byte, 1+8+SizePrefix)
	k[0] = PrefixCashAccount
	copy(k[1:], accountHash8)
	copy(k[1+8:], txidPrefix)
	return k
}

func BoundsCashAccountByHash(accountHash8 []byte) (lb, ub []byte) {
	lb = append([]byte{PrefixCashAccount}, accountHash8...)
	ub = append([]byte{PrefixCashAccount}, accountHash8...)
	ub = append(ub, 0xFF)
	return
}

func ParseCashAccountKey(k []byte) (accountHash8, txidPrefix []byte) {
	accountHash8 = k[1:9]
	txidPrefix = k[9:17]
	return
}

// ---------------- Block headers / chain index ----------------

func KeyBlockHeader(blockHash []byte) []byte {
	k := make([]byte, 1+SizeHash)
	k[0] = PrefixBlockHeader
	copy(k[1:], blockHash)
	return k
}

func KeyChainHeight(height uint32) []byte {
	k := make([]byte, 1+SizeHeight)
	k[0] = PrefixChainHeight
	copy(k[1:], be32(height))
	return k
}

func KeyChainBlock(blockHash []byte) []byte {
	k := make([]byte, 1+SizeHash)
	k[0] = PrefixChainBlock
	copy(k[1:], blockHash)
	return k
}

func BoundsChainHeight() (lb, ub []byte) {
	lb = []byte{PrefixChainHeight, 0, 0, 0, 0}
	ub = []byte{PrefixChainHeight, 0xFF, 0xFF, 0xFF, 0xFF}
	return
}

// KeyBestIndexed is the single row holding the last fully-indexed blockhash
// (ported from original_source/src/index.rs::last_indexed_block), read at
// startup so the bulk sync resumes from the block after it. HeaderChain does
// not read it.
func KeyBestIndexed() []byte { return []byte{PrefixBestIndexed} }

// ---------------- Meta ----------------

func KeyMeta(name string) []byte {
	return append([]byte{PrefixMeta}, []byte(name)...)
}

const MetaSchemaVersion = "schema_version"

// SchemaVersion is the binary's compile-time schema constant (SPEC_FULL.md
// §3 invariant 5). Bump it whenever key/value layouts change; a mismatch on
// open triggers a full reindex.
const SchemaVersion uint32 = 1
