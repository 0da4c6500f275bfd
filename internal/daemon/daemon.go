// Package daemon implements the request/response contract the core depends
// on from the full node: a bitcoind-style JSON-RPC 1.0 client, pooled the
// way the teacher pools its REST client in internal/indexer/rest.go, with
// transient-failure retry via cenkalti/backoff.
package daemon

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/cenkalti/backoff/v4"

	"github.com/BitcoinUnlimited/electrscash/internal/errs"
	"github.com/BitcoinUnlimited/electrscash/internal/logging"
)

// httpClient is shared and pooled the same way the teacher's rest.go pools
// its transport for repeated calls to the same node.
var httpClient = &http.Client{
	Timeout: 30 * time.Second,
	Transport: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	},
}

// Client talks bitcoind's JSON-RPC 1.0 dialect over HTTP.
type Client struct {
	endpoint string
	user     string
	pass     string
	reqID    atomic.Uint64
}

func NewClient(endpoint, user, pass string) *Client {
	return &Client{endpoint: endpoint, user: user, pass: pass}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// permanent error codes per bitcoind's rpc/protocol.h; anything else is
// treated as transient and retried.
const (
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
)

// call issues a single JSON-RPC request with exponential backoff+jitter on
// transient failure (connection refused, 5xx, timeout), capped, per
// spec.md §4.3. Permanent failures (auth, bad method) surface immediately.
func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 30 * time.Second
	bo := backoff.WithContext(b, ctx)

	op := func() error {
		err := c.callOnce(ctx, method, params, out)
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		logging.L.Debug().Err(err).Str("method", method).Msg("daemon: transient failure, retrying")
		return err
	}

	if err := backoff.Retry(op, bo); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return errs.New(errs.KindDaemonUnavailable, method, err)
	}
	return nil
}

func (c *Client) callOnce(ctx context.Context, method string, params []any, out any) error {
	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "1.0",
		ID:      c.reqID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.user, c.pass)

	resp, err := httpClient.Do(req)
	if err != nil {
		return transientErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return permanentErr(fmt.Errorf("daemon auth rejected: %s", resp.Status))
	}
	if resp.StatusCode >= 500 {
		return transientErr(fmt.Errorf("daemon returned %s", resp.Status))
	}
	if resp.StatusCode != http.StatusOK {
		return permanentErr(fmt.Errorf("daemon returned %s", resp.Status))
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return transientErr(err)
	}
	if rr.Error != nil {
		switch rr.Error.Code {
		case rpcMethodNotFound, rpcInvalidRequest, rpcInvalidParams:
			return permanentErr(errors.New(rr.Error.Message))
		default:
			return errors.New(rr.Error.Message)
		}
	}
	if out == nil || len(rr.Result) == 0 {
		return nil
	}
	return json.Unmarshal(rr.Result, out)
}

type taggedErr struct {
	permanent bool
	err       error
}

func (t *taggedErr) Error() string { return t.err.Error() }
func (t *taggedErr) Unwrap() error { return t.err }

func permanentErr(err error) error { return &taggedErr{permanent: true, err: err} }
func transientErr(err error) error { return &taggedErr{permanent: false, err: err} }

func isPermanent(err error) bool {
	var t *taggedErr
	if errors.As(err, &t) {
		return t.permanent
	}
	return false
}

// GetBlockchainInfo implements the {best_hash, tip_height, ibd, chain} contract.
func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	var info BlockchainInfo
	if err := c.call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) GetBlockHeader(ctx context.Context, hash chainhash.Hash) (*RawBlockHeader, error) {
	var hdr RawBlockHeader
	if err := c.call(ctx, "getblockheader", []any{hash.String(), true}, &hdr); err != nil {
		return nil, err
	}
	return &hdr, nil
}

func (c *Client) GetBlockHashByHeight(ctx context.Context, height int64) (*chainhash.Hash, error) {
	var s string
	if err := c.call(ctx, "getblockhash", []any{height}, &s); err != nil {
		return nil, err
	}
	return chainhash.NewHashFromStr(s)
}

// GetBlock fetches a full block by hash and decodes it. When blocksDir is
// configured the indexer instead reads the on-disk blk*.dat file directly
// (see ReadBlockFromFile); this method always goes over RPC.
func (c *Client) GetBlock(ctx context.Context, hash chainhash.Hash) (*btcutil.Block, error) {
	var hexStr string
	if err := c.call(ctx, "getblock", []any{hash.String(), 0}, &hexStr); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, err
	}
	return btcutil.NewBlockFromBytes(raw)
}

// GetRawTransaction fetches a transaction. blockHash must be supplied
// whenever the node lacks txindex (spec.md §4.3).
func (c *Client) GetRawTransaction(ctx context.Context, txid chainhash.Hash, blockHash *chainhash.Hash) (*wire.MsgTx, error) {
	params := []any{txid.String(), false}
	if blockHash != nil {
		params = append(params, blockHash.String())
	}
	var hexStr string
	if err := c.call(ctx, "getrawtransaction", params, &hexStr); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	// Bitcoin Cash has no segwit: decode without witness-marker detection so
	// a zero-input transaction is not misread as a witness one.
	if err := tx.DeserializeNoWitness(bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return tx, nil
}

func (c *Client) GetMempoolTxids(ctx context.Context) ([]chainhash.Hash, error) {
	var ids []string
	if err := c.call(ctx, "getrawmempool", []any{false}, &ids); err != nil {
		return nil, err
	}
	out := make([]chainhash.Hash, 0, len(ids))
	for _, s := range ids {
		h, err := chainhash.NewHashFromStr(s)
		if err != nil {
			continue
		}
		out = append(out, *h)
	}
	return out, nil
}

func (c *Client) GetMempoolEntry(ctx context.Context, txid chainhash.Hash) (*MempoolEntry, error) {
	var e MempoolEntry
	if err := c.call(ctx, "getmempoolentry", []any{txid.String()}, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) Broadcast(ctx context.Context, rawTx []byte) (*chainhash.Hash, error) {
	var s string
	if err := c.call(ctx, "sendrawtransaction", []any{hex.EncodeToString(rawTx)}, &s); err != nil {
		return nil, err
	}
	return chainhash.NewHashFromStr(s)
}

// EstimateRelayFee returns sats/kB, converting from the node's BCH/kB units.
func (c *Client) EstimateRelayFee(ctx context.Context) (int64, error) {
	var info struct {
		RelayFee float64 `json:"relayfee"`
	}
	if err := c.call(ctx, "getnetworkinfo", nil, &info); err != nil {
		return 0, err
	}
	return int64(info.RelayFee * 1e8), nil
}

// EstimateFee returns a fee rate in BCH/kB targeting confirmation within
// blocksCount blocks, or -1 when the node has insufficient data — the
// Electrum protocol's own convention for "no estimate available", used
// verbatim rather than substituting the relay fee as original_source's
// blockchain_estimatefee never actually calls this RPC (it inherited the
// upstream Electrum server's own estimatefee); ours does since the node
// exposes it.
func (c *Client) EstimateFee(ctx context.Context, blocksCount int) (float64, error) {
	var result struct {
		FeeRate float64  `json:"feerate"`
		Errors  []string `json:"errors,omitempty"`
	}
	if err := c.call(ctx, "estimatesmartfee", []any{blocksCount}, &result); err != nil {
		return 0, err
	}
	if len(result.Errors) > 0 || result.FeeRate <= 0 {
		return -1, nil
	}
	return result.FeeRate, nil
}
