package query

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/BitcoinUnlimited/electrscash/internal/daemon"
	"github.com/BitcoinUnlimited/electrscash/internal/mempool"
	"github.com/BitcoinUnlimited/electrscash/internal/store"
)

func hashFrom(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

// seedConfirmedFunding writes a funding row plus its TxRow directly, the
// shape one BuildBlockRows-produced block contributes.
func seedConfirmedFunding(t *testing.T, st *store.Store, sh [32]byte, txid chainhash.Hash, height uint32, vout uint32, amount uint64) {
	t.Helper()
	key := store.KeyFunding(store.Prefix8(sh[:]), height, store.Prefix8(txid[:]), vout)
	require.NoError(t, st.Put(key, store.ValFundingAmount(amount)))
	require.NoError(t, st.Put(store.KeyTx(txid[:]), store.ValTxHeight(height)))
}

func newTestQuery(t *testing.T) (*Query, *store.Store, *mempool.Tracker) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	mp := mempool.New(nil)
	q := &Query{Store: st, Mempool: mp}
	return q, st, mp
}

func TestBalanceConfirmedOnly(t *testing.T) {
	q, st, _ := newTestQuery(t)
	sh := [32]byte{0x11}
	txid := hashFrom(0xA1)
	seedConfirmedFunding(t, st, sh, txid, 100, 0, 5000)

	bal, err := q.Balance(sh)
	require.NoError(t, err)
	require.EqualValues(t, 5000, bal.Confirmed)
	require.EqualValues(t, 0, bal.Unconfirmed)
}

func TestBalanceExcludesConfirmedSpentOutput(t *testing.T) {
	q, st, _ := newTestQuery(t)
	sh := [32]byte{0x22}
	txid := hashFrom(0xB1)
	seedConfirmedFunding(t, st, sh, txid, 100, 0, 5000)

	spenderTxid := hashFrom(0xB2)
	spendKey := store.KeySpending(store.Prefix8(txid[:]), 0, store.Prefix8(spenderTxid[:]))
	require.NoError(t, st.Put(spendKey, store.ValSpendingHeight(101)))

	bal, err := q.Balance(sh)
	require.NoError(t, err)
	require.EqualValues(t, 0, bal.Confirmed)
}

func TestListUnspentExcludesSpentOutputs(t *testing.T) {
	q, st, _ := newTestQuery(t)
	sh := [32]byte{0x33}
	unspentTxid := hashFrom(0xC1)
	spentTxid := hashFrom(0xC2)

	seedConfirmedFunding(t, st, sh, unspentTxid, 100, 0, 1000)
	seedConfirmedFunding(t, st, sh, spentTxid, 100, 0, 2000)
	spenderTxid := hashFrom(0xC3)
	spendKey := store.KeySpending(store.Prefix8(spentTxid[:]), 0, store.Prefix8(spenderTxid[:]))
	require.NoError(t, st.Put(spendKey, store.ValSpendingHeight(101)))

	utxos, err := q.ListUnspent(sh)
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	require.Equal(t, unspentTxid, utxos[0].Txid)
}

func TestGetFirstUsePicksLowestHeightThenLowestTxid(t *testing.T) {
	q, st, _ := newTestQuery(t)
	sh := [32]byte{0x55}
	later := hashFrom(0xE2)
	earlier := hashFrom(0xE1)

	seedConfirmedFunding(t, st, sh, later, 200, 0, 1000)
	seedConfirmedFunding(t, st, sh, earlier, 100, 0, 2000)

	first, ok, err := q.GetFirstUse(sh)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, earlier, first.Txid)
}

// --- mempool-backed scenarios, driven through a real Tracker.Poll against a
// mocked bitcoind JSON-RPC endpoint, exercising the actual add/diff path
// rather than reaching into Tracker's unexported state. ---

type rpcCall struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

// newMockDaemon serves a fixed single-tx mempool: one unconfirmed tx paying
// sh, with the given fee/vsize.
func newMockDaemon(t *testing.T, tx *wire.MsgTx, feeBTC float64, vsize int64) *daemon.Client {
	t.Helper()
	var rawBuf bytes.Buffer
	require.NoError(t, tx.Serialize(&rawBuf))
	rawHex := hex.EncodeToString(rawBuf.Bytes())
	txid := tx.TxHash().String()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call rpcCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))

		var result any
		switch call.Method {
		case "getrawmempool":
			result = []string{txid}
		case "getrawtransaction":
			result = rawHex
		case "getmempoolentry":
			result = map[string]any{"fee": feeBTC, "vsize": vsize}
		default:
			t.Fatalf("unexpected rpc method %q", call.Method)
		}

		resp := map[string]any{"result": result, "error": nil}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)

	return daemon.NewClient(srv.URL, "user", "pass")
}

// newMockDaemonMultiTx serves a fixed unconfirmed mempool of several txs,
// all with the given fee/vsize, keyed by hex-encoded raw tx.
func newMockDaemonMultiTx(t *testing.T, txs []*wire.MsgTx, feeBTC float64, vsize int64) *daemon.Client {
	t.Helper()
	rawByTxid := make(map[string]string, len(txs))
	txids := make([]string, len(txs))
	for i, tx := range txs {
		var buf bytes.Buffer
		require.NoError(t, tx.Serialize(&buf))
		txid := tx.TxHash().String()
		rawByTxid[txid] = hex.EncodeToString(buf.Bytes())
		txids[i] = txid
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call rpcCall
		require.NoError(t, json.NewDecoder(r.Body).Decode(&call))

		var result any
		switch call.Method {
		case "getrawmempool":
			result = txids
		case "getrawtransaction":
			var txid string
			require.NoError(t, json.Unmarshal(call.Params[0], &txid))
			result = rawByTxid[txid]
		case "getmempoolentry":
			result = map[string]any{"fee": feeBTC, "vsize": vsize}
		default:
			t.Fatalf("unexpected rpc method %q", call.Method)
		}

		resp := map[string]any{"result": result, "error": nil}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)

	return daemon.NewClient(srv.URL, "user", "pass")
}

func polledMempoolQuery(t *testing.T, pkScript []byte, amount int64, feeBTC float64) (*Query, chainhash.Hash) {
	t.Helper()
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(&wire.TxOut{Value: amount, PkScript: pkScript})

	client := newMockDaemon(t, tx, feeBTC, 200)
	mp := mempool.New(client)
	require.NoError(t, mp.Poll(context.Background()))

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	q := &Query{Store: st, Mempool: mp}
	return q, tx.TxHash()
}

func TestListUnspentIncludesUnconfirmedFunding(t *testing.T) {
	pkScript := []byte{0x76, 0xa9, 0x14, 0x99, 0x88, 0xac}
	sh := store.ScriptHash(pkScript)
	q, txid := polledMempoolQuery(t, pkScript, 700, 0.00001)

	utxos, err := q.ListUnspent(sh)
	require.NoError(t, err)
	require.Len(t, utxos, 1)
	require.Equal(t, txid, utxos[0].Txid)
	require.EqualValues(t, 0, utxos[0].Height)
	require.EqualValues(t, 700, utxos[0].AmountSats)
}

func TestHistorySortsConfirmedBeforeUnconfirmed(t *testing.T) {
	pkScript := []byte{0x76, 0xa9, 0x14, 0x98, 0x88, 0xac}
	sh := store.ScriptHash(pkScript)
	q, unconfirmedTxid := polledMempoolQuery(t, pkScript, 500, 0.00001)

	confirmedTxid := hashFrom(0xF1)
	seedConfirmedFunding(t, q.Store, sh, confirmedTxid, 100, 0, 1000)

	history, err := q.History(sh)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, confirmedTxid, history[0].Txid)
	require.True(t, history[0].Height > 0)
	require.Equal(t, unconfirmedTxid, history[1].Txid)
	require.True(t, history[1].Unconfirmed)
}

func TestGetMempoolReturnsOnlyUnconfirmedEntries(t *testing.T) {
	pkScript := []byte{0x76, 0xa9, 0x14, 0x97, 0x88, 0xac}
	sh := store.ScriptHash(pkScript)
	const feeBTC = 0.0000025
	q, unconfirmedTxid := polledMempoolQuery(t, pkScript, 900, feeBTC)

	seedConfirmedFunding(t, q.Store, sh, hashFrom(0x01), 50, 0, 1000)

	mempoolHistory, err := q.GetMempool(sh)
	require.NoError(t, err)
	require.Len(t, mempoolHistory, 1)
	require.Equal(t, unconfirmedTxid, mempoolHistory[0].Txid)
	require.EqualValues(t, int64(feeBTC*1e8), mempoolHistory[0].FeeSats)
}

// TestHistoryOrdersUnconfirmedEntriesDeterministically guards against
// StatusHash flipping with no underlying state change: Mempool.FindByScriptHash
// returns entries via Go map iteration, so History's sort must give every
// pair of unconfirmed entries a total order rather than treating them as
// already equal.
func TestHistoryOrdersUnconfirmedEntriesDeterministically(t *testing.T) {
	pkScript := []byte{0x76, 0xa9, 0x14, 0x96, 0x88, 0xac}
	sh := store.ScriptHash(pkScript)

	txs := make([]*wire.MsgTx, 8)
	for i := range txs {
		tx := wire.NewMsgTx(wire.TxVersion)
		tx.AddTxOut(&wire.TxOut{Value: int64(100 + i), PkScript: pkScript})
		tx.LockTime = uint32(i) // vary txid across otherwise-identical outputs
		txs[i] = tx
	}

	client := newMockDaemonMultiTx(t, txs, 0.00001, 200)
	mp := mempool.New(client)
	require.NoError(t, mp.Poll(context.Background()))

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	q := &Query{Store: st, Mempool: mp}

	first, err := q.History(sh)
	require.NoError(t, err)
	require.Len(t, first, len(txs))

	for attempt := 0; attempt < 20; attempt++ {
		got, err := q.History(sh)
		require.NoError(t, err)
		require.Equal(t, first, got, "History order must be deterministic across calls")
	}

	for i := 1; i < len(first); i++ {
		require.True(t, lessTxid(first[i-1].Txid, first[i].Txid),
			"unconfirmed entries must be sorted by ascending txid")
	}
}
