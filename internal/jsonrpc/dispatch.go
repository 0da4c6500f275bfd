package jsonrpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/BitcoinUnlimited/electrscash/internal/address"
	"github.com/BitcoinUnlimited/electrscash/internal/config"
	"github.com/BitcoinUnlimited/electrscash/internal/errs"
	"github.com/BitcoinUnlimited/electrscash/internal/logging"
	"github.com/BitcoinUnlimited/electrscash/internal/metrics"
	"github.com/BitcoinUnlimited/electrscash/internal/query"
	"github.com/BitcoinUnlimited/electrscash/internal/subscribe"
)

const (
	serverName      = "electrscash"
	serverVersion   = "1.0"
	protocolVersion = "1.4.2"
	hashFunction    = "sha256"
)

// connState is the per-connection dispatch context: everything a handler
// needs beyond its own params, ported from original_source/src/rpc.rs's
// Connection struct (there also holding status_hashes/last_header_entry;
// here that state lives in subscribe.Connection instead).
type connState struct {
	srv        *Server
	sub        *subscribe.Connection
	remoteAddr string
}

// dispatchLine parses one JSON-RPC request line and returns its response.
// A parse failure or an unknown method still returns a well-formed
// JSON-RPC error, never a disconnect, per spec.md §6.
func (c *connState) dispatchLine(ctx context.Context, line []byte) response {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		return errorResponse(nil, errs.KindInvalidParams.RPCCode(), "invalid JSON request")
	}
	p, err := parseParams(req.Params)
	if err != nil {
		return errorResponse(req.ID, errs.KindOf(err).RPCCode(), err.Error())
	}

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout())
	defer cancel()

	start := time.Now()
	result, err := c.dispatchMethod(reqCtx, req.Method, p)
	metrics.RPCRequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	if err != nil {
		kind := errs.KindOf(err)
		metrics.RPCRequestErrors.WithLabelValues(kind.String()).Inc()
		logging.L.Debug().Str("method", req.Method).Err(err).Msg("jsonrpc: request failed")
		return errorResponse(req.ID, kind.RPCCode(), err.Error())
	}
	return resultResponse(req.ID, result)
}

func (c *connState) dispatchMethod(ctx context.Context, method string, p params) (interface{}, error) {
	switch method {
	case "server.version":
		return []string{serverName + " " + serverVersion, protocolVersion}, nil
	case "server.ping":
		return nil, nil
	case "server.banner":
		return config.BannerText, nil
	case "server.donation_address":
		return nil, nil
	case "server.peers.subscribe":
		return []interface{}{}, nil
	case "server.features":
		return c.serverFeatures()
	case "blockchain.headers.subscribe":
		return c.headersSubscribe()
	case "blockchain.block.header":
		return c.blockHeader(p)
	case "blockchain.estimatefee":
		return c.estimateFee(ctx, p)
	case "blockchain.relayfee":
		return c.relayFee(ctx)
	case "blockchain.transaction.broadcast":
		return c.broadcast(ctx, p)
	case "blockchain.transaction.get":
		return c.transactionGet(ctx, p)
	case "blockchain.transaction.get_merkle":
		return c.transactionGetMerkle(ctx, p)
	case "blockchain.transaction.get_confirmed_blockhash":
		return c.transactionGetConfirmedBlockhash(p)
	case "blockchain.scripthash.get_balance":
		return c.scripthashGetBalance(p)
	case "blockchain.scripthash.get_history":
		return c.scripthashGetHistory(p)
	case "blockchain.scripthash.get_mempool":
		return c.scripthashGetMempool(p)
	case "blockchain.scripthash.listunspent":
		return c.scripthashListUnspent(p)
	case "blockchain.scripthash.get_first_use":
		return c.scripthashGetFirstUse(p)
	case "blockchain.scripthash.subscribe":
		return c.scripthashSubscribe(p)
	case "blockchain.scripthash.unsubscribe":
		return c.scripthashUnsubscribe(p)
	case "blockchain.address.get_balance":
		return c.addressGetBalance(p)
	case "blockchain.address.get_history":
		return c.addressGetHistory(p)
	case "blockchain.address.get_mempool":
		return c.addressGetMempool(p)
	case "blockchain.address.listunspent":
		return c.addressListUnspent(p)
	case "blockchain.address.subscribe":
		return c.addressSubscribe(p)
	case "blockchain.address.unsubscribe":
		return c.addressUnsubscribe(p)
	case "blockchain.utxo.get":
		return c.utxoGet(p)
	case "blockchain.cashaccount.lookup":
		return c.cashaccountLookup(p)
	default:
		return nil, errs.New(errs.KindInvalidParams, "unknown method: "+method, nil)
	}
}

func (c *connState) serverFeatures() (interface{}, error) {
	genesis, ok := c.srv.Chain.HeaderAt(0)
	genesisHash := ""
	if ok {
		genesisHash = genesis.Hash.String()
	}
	return map[string]interface{}{
		"genesis_hash":   genesisHash,
		"hash_function":  hashFunction,
		"protocol_max":   protocolVersion,
		"protocol_min":   protocolVersion,
		"pruning":        nil,
		"server_version": serverName + " " + serverVersion,
	}, nil
}

func (c *connState) headersSubscribe() (interface{}, error) {
	tip, ok := c.srv.Chain.Tip()
	if !ok {
		return nil, errs.New(errs.KindNotFound, "no headers indexed yet", nil)
	}
	return map[string]interface{}{
		"hex":    hex.EncodeToString(tip.Serialize()),
		"height": tip.Height,
	}, nil
}

func (c *connState) blockHeader(p params) (interface{}, error) {
	height, err := p.uint32(0, "height")
	if err != nil {
		return nil, err
	}
	hdr, ok := c.srv.Chain.HeaderAt(int64(height))
	if !ok {
		return nil, errs.New(errs.KindNotFound, "header not held for that height", nil)
	}
	return hex.EncodeToString(hdr.Serialize()), nil
}

func (c *connState) estimateFee(ctx context.Context, p params) (interface{}, error) {
	blocks := p.intOr(0, 6)
	fee, err := c.srv.Client.EstimateFee(ctx, blocks)
	if err != nil {
		return nil, err
	}
	return fee, nil
}

func (c *connState) relayFee(ctx context.Context) (interface{}, error) {
	sats, err := c.srv.Client.EstimateRelayFee(ctx)
	if err != nil {
		return nil, err
	}
	return float64(sats) / 1e8, nil
}

func (c *connState) broadcast(ctx context.Context, p params) (interface{}, error) {
	rawHex, err := p.str(0, "tx")
	if err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, errs.New(errs.KindInvalidParams, "non-hex tx", err)
	}
	txid, err := c.srv.Client.Broadcast(ctx, raw)
	if err != nil {
		return nil, err
	}
	return txid.String(), nil
}

func txidParam(p params, i int, name string) (chainhash.Hash, error) {
	s, err := p.str(i, name)
	if err != nil {
		return chainhash.Hash{}, err
	}
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return chainhash.Hash{}, errs.New(errs.KindInvalidParams, "bad "+name, err)
	}
	return *h, nil
}

func (c *connState) transactionGet(ctx context.Context, p params) (interface{}, error) {
	txid, err := txidParam(p, 0, "tx_hash")
	if err != nil {
		return nil, err
	}
	verbose := p.boolOr(1, false)
	return c.srv.Query.GetTransaction(ctx, txid, verbose)
}

func (c *connState) transactionGetMerkle(ctx context.Context, p params) (interface{}, error) {
	txid, err := txidParam(p, 0, "tx_hash")
	if err != nil {
		return nil, err
	}
	height := p.int64Or(1, 0)
	proof, err := c.srv.Query.GetMerkle(ctx, txid, height)
	if err != nil {
		return nil, err
	}
	branch := make([]string, len(proof.Branch))
	for i, h := range proof.Branch {
		branch[i] = h.String()
	}
	return map[string]interface{}{
		"block_height": proof.BlockHeight,
		"merkle":       branch,
		"pos":          proof.Pos,
	}, nil
}

func (c *connState) transactionGetConfirmedBlockhash(p params) (interface{}, error) {
	txid, err := txidParam(p, 0, "tx_hash")
	if err != nil {
		return nil, err
	}
	hash, err := c.srv.Query.GetConfirmedBlockhash(txid)
	if err != nil {
		return nil, err
	}
	return hash.String(), nil
}

func scriptHashParam(p params, i int) ([32]byte, error) {
	s, err := p.str(i, "scripthash")
	if err != nil {
		return [32]byte{}, err
	}
	return parseScriptHash(s)
}

func (c *connState) scripthashGetBalance(p params) (interface{}, error) {
	sh, err := scriptHashParam(p, 0)
	if err != nil {
		return nil, err
	}
	return balanceResult(c.srv.Query, sh)
}

func balanceResult(q *query.Query, sh [32]byte) (interface{}, error) {
	bal, err := q.Balance(sh)
	if err != nil {
		return nil, err
	}
	return map[string]int64{"confirmed": bal.Confirmed, "unconfirmed": bal.Unconfirmed}, nil
}

func (c *connState) scripthashGetHistory(p params) (interface{}, error) {
	sh, err := scriptHashParam(p, 0)
	if err != nil {
		return nil, err
	}
	return historyResult(c.srv.Query, sh)
}

func historyResult(q *query.Query, sh [32]byte) (interface{}, error) {
	entries, err := q.History(sh)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, len(entries))
	for i, e := range entries {
		m := map[string]interface{}{"height": e.Height, "tx_hash": e.Txid.String()}
		if e.Unconfirmed {
			m["fee"] = e.FeeSats
		}
		out[i] = m
	}
	return out, nil
}

func (c *connState) scripthashGetMempool(p params) (interface{}, error) {
	sh, err := scriptHashParam(p, 0)
	if err != nil {
		return nil, err
	}
	entries, err := c.srv.Query.GetMempool(sh)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, len(entries))
	for i, e := range entries {
		out[i] = map[string]interface{}{"height": e.Height, "tx_hash": e.Txid.String(), "fee": e.FeeSats}
	}
	return out, nil
}

func (c *connState) scripthashListUnspent(p params) (interface{}, error) {
	sh, err := scriptHashParam(p, 0)
	if err != nil {
		return nil, err
	}
	return unspentResult(c.srv.Query, sh)
}

func unspentResult(q *query.Query, sh [32]byte) (interface{}, error) {
	utxos, err := q.ListUnspent(sh)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, len(utxos))
	for i, u := range utxos {
		out[i] = map[string]interface{}{
			"height":  u.Height,
			"tx_pos":  u.Vout,
			"tx_hash": u.Txid.String(),
			"value":   u.AmountSats,
		}
	}
	return out, nil
}

func (c *connState) scripthashGetFirstUse(p params) (interface{}, error) {
	sh, err := scriptHashParam(p, 0)
	if err != nil {
		return nil, err
	}
	u, found, err := c.srv.Query.GetFirstUse(sh)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return map[string]interface{}{"height": u.Height, "tx_hash": u.Txid.String()}, nil
}

func (c *connState) scripthashSubscribe(p params) (interface{}, error) {
	sh, err := scriptHashParam(p, 0)
	if err != nil {
		return nil, err
	}
	hash, has, err := c.srv.Subs.Subscribe(c.sub, sh, 0)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	return formatHash32(hash), nil
}

func (c *connState) scripthashUnsubscribe(p params) (interface{}, error) {
	sh, err := scriptHashParam(p, 0)
	if err != nil {
		return nil, err
	}
	return c.srv.Subs.Unsubscribe(c.sub, sh), nil
}

func addressScriptHashParam(p params, i int) ([32]byte, error) {
	addr, err := p.str(i, "address")
	if err != nil {
		return [32]byte{}, err
	}
	return address.ToScriptHash(addr)
}

func (c *connState) addressGetBalance(p params) (interface{}, error) {
	sh, err := addressScriptHashParam(p, 0)
	if err != nil {
		return nil, err
	}
	return balanceResult(c.srv.Query, sh)
}

func (c *connState) addressGetHistory(p params) (interface{}, error) {
	sh, err := addressScriptHashParam(p, 0)
	if err != nil {
		return nil, err
	}
	return historyResult(c.srv.Query, sh)
}

func (c *connState) addressGetMempool(p params) (interface{}, error) {
	sh, err := addressScriptHashParam(p, 0)
	if err != nil {
		return nil, err
	}
	entries, err := c.srv.Query.GetMempool(sh)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, len(entries))
	for i, e := range entries {
		out[i] = map[string]interface{}{"height": e.Height, "tx_hash": e.Txid.String(), "fee": e.FeeSats}
	}
	return out, nil
}

func (c *connState) addressListUnspent(p params) (interface{}, error) {
	sh, err := addressScriptHashParam(p, 0)
	if err != nil {
		return nil, err
	}
	return unspentResult(c.srv.Query, sh)
}

func (c *connState) addressSubscribe(p params) (interface{}, error) {
	addr, err := p.str(0, "address")
	if err != nil {
		return nil, err
	}
	sh, err := address.ToScriptHash(addr)
	if err != nil {
		return nil, err
	}
	hash, has, err := c.srv.Subs.Subscribe(c.sub, sh, len(addr))
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	return formatHash32(hash), nil
}

func (c *connState) addressUnsubscribe(p params) (interface{}, error) {
	sh, err := addressScriptHashParam(p, 0)
	if err != nil {
		return nil, err
	}
	return c.srv.Subs.Unsubscribe(c.sub, sh), nil
}

func (c *connState) utxoGet(p params) (interface{}, error) {
	txid, err := txidParam(p, 0, "tx_hash")
	if err != nil {
		return nil, err
	}
	vout, err := p.uint32(1, "vout")
	if err != nil {
		return nil, err
	}
	info, err := c.srv.Query.UtxoGet(txid, vout)
	if err != nil {
		return nil, err
	}
	result := map[string]interface{}{
		"state":      info.State,
		"height":     info.Height,
		"value_sats": info.AmountSats,
		"scripthash": formatScriptHash(info.ScriptHash),
	}
	if info.SpenderTxid != nil {
		result["spender_txhash"] = info.SpenderTxid.String()
	}
	return result, nil
}

func (c *connState) cashaccountLookup(p params) (interface{}, error) {
	name, err := p.str(0, "name")
	if err != nil {
		return nil, err
	}
	height, err := p.uint32(1, "height")
	if err != nil {
		return nil, err
	}
	offset := p.intOr(2, 0)
	if offset < 0 {
		return nil, errs.New(errs.KindInvalidParams, "offset must be >= 0", nil)
	}
	tip, ok := c.srv.Chain.Tip()
	if !ok {
		return nil, errs.New(errs.KindNotFound, "no headers indexed yet", nil)
	}
	results, err := c.srv.Query.CashAccountLookup(name, height, offset, config.CashAccountActivationHeight, tip.Height)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, len(results))
	for i, r := range results {
		out[i] = map[string]interface{}{"height": r.Height, "tx_hash": r.Txid.String()}
	}
	return map[string]interface{}{"results": out}, nil
}
