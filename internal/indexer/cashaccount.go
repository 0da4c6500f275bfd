package indexer

import (
	"github.com/btcsuite/btcd/wire"
)

// cashAccountProtocolPrefix is the 4-byte protocol identifier BitcoinFiles'
// CashAccounts registration protocol prepends to its OP_RETURN payload.
// Ported from the shape of original_source/src/cashaccount.rs's payload
// parse (identifier check, then name bytes) without depending on its
// cashaccount_sys CGo bindings — no CGo dependency exists anywhere in the
// example pack, so a native parse of this small, fully-specified binary
// format is the idiomatic choice (see DESIGN.md).
var cashAccountProtocolPrefix = [4]byte{0x01, 0x01, 0x00, 0x01}

const (
	opReturn    = 0x6a
	opPushdata1 = 0x4c
	opPushdata2 = 0x4d
	minNameLen  = 1
	maxNameLen  = 99
)

// ParseCashAccountRegistration inspects tx's outputs for a CashAccounts
// registration OP_RETURN and returns the registered name. Exported so
// internal/query can re-run the same parse to disambiguate a txid-prefix
// collision by name rather than height alone.
func ParseCashAccountRegistration(tx *wire.MsgTx) (string, bool) {
	for _, out := range tx.TxOut {
		script := out.PkScript
		if len(script) < 1+1+4+1+minNameLen || script[0] != opReturn {
			continue
		}
		payload, ok := firstPush(script[1:])
		if !ok || len(payload) < 4 || [4]byte(payload[:4]) != cashAccountProtocolPrefix {
			continue
		}
		name, ok := secondPush(script[1:])
		if !ok {
			continue
		}
		if len(name) < minNameLen || len(name) > maxNameLen || !isValidAccountName(string(name)) {
			continue
		}
		return string(name), true
	}
	return "", false
}

// firstPush decodes the first data push in a script fragment (no opcode
// interpretation beyond direct-push and PUSHDATA1/2 — sufficient for the
// fully-specified CashAccounts payload shape).
func firstPush(script []byte) ([]byte, bool) {
	data, _, ok := nextPush(script)
	return data, ok
}

func secondPush(script []byte) ([]byte, bool) {
	_, rest, ok := nextPush(script)
	if !ok {
		return nil, false
	}
	data, _, ok := nextPush(rest)
	return data, ok
}

func nextPush(script []byte) (data, rest []byte, ok bool) {
	if len(script) == 0 {
		return nil, nil, false
	}
	op := script[0]
	switch {
	case op >= 1 && op <= 75:
		if len(script) < 1+int(op) {
			return nil, nil, false
		}
		return script[1 : 1+int(op)], script[1+int(op):], true
	case op == opPushdata1:
		if len(script) < 2 {
			return nil, nil, false
		}
		n := int(script[1])
		if len(script) < 2+n {
			return nil, nil, false
		}
		return script[2 : 2+n], script[2+n:], true
	case op == opPushdata2:
		if len(script) < 3 {
			return nil, nil, false
		}
		n := int(script[1]) | int(script[2])<<8
		if len(script) < 3+n {
			return nil, nil, false
		}
		return script[3 : 3+n], script[3+n:], true
	default:
		return nil, nil, false
	}
}

// isValidAccountName enforces spec.md §4.8's `^[A-Za-z0-9_]{1,99}$`.
func isValidAccountName(name string) bool {
	if len(name) < 1 || len(name) > 99 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
