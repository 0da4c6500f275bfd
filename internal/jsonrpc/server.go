package jsonrpc

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/BitcoinUnlimited/electrscash/internal/chain"
	"github.com/BitcoinUnlimited/electrscash/internal/config"
	"github.com/BitcoinUnlimited/electrscash/internal/daemon"
	"github.com/BitcoinUnlimited/electrscash/internal/logging"
	"github.com/BitcoinUnlimited/electrscash/internal/metrics"
	"github.com/BitcoinUnlimited/electrscash/internal/query"
	"github.com/BitcoinUnlimited/electrscash/internal/subscribe"
)

// Server dispatches spec.md §6's method table over both transports and
// enforces the connection-count and per-request-timeout limits of §5.
type Server struct {
	Query  *query.Query
	Chain  *chain.Chain
	Client *daemon.Client
	Subs   *subscribe.Manager

	admission *admission
	upgrader  websocket.Upgrader
}

func NewServer(q *query.Query, ch *chain.Chain, client *daemon.Client, subs *subscribe.Manager) *Server {
	return &Server{
		Query:     q,
		Chain:     ch,
		Client:    client,
		Subs:      subs,
		admission: newAdmission(config.RPCMaxConnections, config.RPCMaxConnectionsSharedPrefix),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ListenTCP serves newline-delimited JSON-RPC on addr until ctx is
// cancelled, grounded on original_source/src/rpc.rs::RPC::start_acceptor's
// accept loop shape (one goroutine per connection instead of one thread).
func (s *Server) ListenTCP(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	logging.L.Info().Str("addr", addr).Msg("jsonrpc: TCP listener up")
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				logging.L.Warn().Err(err).Msg("jsonrpc: accept failed")
				return err
			}
		}
		go s.handle(ctx, newTCPFrameConn(conn), conn.RemoteAddr().String(), "tcp")
	}
}

// ListenWS serves the WebSocket transport on addr, upgrading every request
// to a persistent connection driven by the same dispatch loop as TCP.
func (s *Server) ListenWS(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go s.handle(ctx, newWSFrameConn(conn), r.RemoteAddr, "websocket")
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	logging.L.Info().Str("addr", addr).Msg("jsonrpc: WebSocket listener up")
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// handle drives one connection end to end: admission, subscription
// registration, the read/dispatch/write loop, and teardown.
func (s *Server) handle(ctx context.Context, fc frameConn, remoteAddr string, transport string) {
	release, ok := s.admission.tryAdmit(remoteAddr)
	if !ok {
		logging.L.Debug().Str("addr", remoteAddr).Msg("jsonrpc: connection rejected, over limit")
		metrics.RPCConnectionsRejected.Inc()
		fc.Close()
		return
	}
	defer release()

	metrics.RPCConnectionsActive.WithLabelValues(transport).Inc()
	defer metrics.RPCConnectionsActive.WithLabelValues(transport).Dec()

	connID := uuid.NewString()
	sc := s.Subs.Register(connID, config.RPCBufferSize)
	defer s.Subs.Unregister(connID)
	defer sc.Close()
	defer fc.Close()

	var writeMu sync.Mutex
	writeFrame := func(v response) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = fc.WriteFrame(data)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case n, ok := <-sc.Notifications():
				if !ok {
					return
				}
				var statusVal interface{}
				if n.HasStatus {
					statusVal = formatHash32(n.StatusHash)
				}
				writeFrame(notification("blockchain.scripthash.subscribe",
					[]interface{}{formatScriptHash(n.ScriptHash), statusVal}))
			case <-done:
				return
			}
		}
	}()

	logging.L.Debug().Str("addr", remoteAddr).Str("conn", connID).Msg("jsonrpc: connected")
	c := &connState{srv: s, sub: sc, remoteAddr: remoteAddr}
	for {
		line, err := fc.ReadFrame()
		if err != nil {
			break
		}
		trimmed := trimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		writeFrame(c.dispatchLine(ctx, trimmed))
	}
	logging.L.Debug().Str("addr", remoteAddr).Str("conn", connID).Msg("jsonrpc: disconnected")
}

func trimSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	for len(b) > 0 {
		last := b[len(b)-1]
		if last == ' ' || last == '\t' || last == '\r' || last == '\n' {
			b = b[:len(b)-1]
			continue
		}
		break
	}
	return b
}

func requestTimeout() time.Duration {
	return time.Duration(config.RPCTimeoutSecs) * time.Second
}
