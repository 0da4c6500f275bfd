package query

import (
	"crypto/sha256"
	"fmt"
	"strconv"
)

// StatusHash implements spec.md §4.8's status hash: SHA-256 of the ASCII
// string formed by concatenating "{txid}:{height}:" for each history entry
// in order, matching the Electrum protocol specification exactly. This is
// what Subscriptions compares against a subscriber's last delivered value.
func (q *Query) StatusHash(sh [32]byte) ([32]byte, bool, error) {
	history, err := q.History(sh)
	if err != nil {
		return [32]byte{}, false, err
	}
	if len(history) == 0 {
		return [32]byte{}, false, nil
	}
	h := sha256.New()
	for _, e := range history {
		fmt.Fprintf(h, "%s:%s:", e.Txid.String(), strconv.FormatInt(e.Height, 10))
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, true, nil
}
