package jsonrpc

import (
	"bufio"
	"bytes"
	"errors"
	"net"

	"github.com/gorilla/websocket"
)

// errNotUTF8Line ends a connection whose input is not a JSON-RPC text line.
// tcpFrameConn.ReadFrame returns it only for a line that starts with a TLS
// handshake; lines are not otherwise checked for valid UTF-8.
var errNotUTF8Line = errors.New("jsonrpc: invalid line")

// sslHandshakePrefix is TLS's ContentType=handshake(22), Version 3.1 — the
// same "naive SSL handshake detection" original_source/src/rpc.rs uses to
// give a clearer error than a JSON parse failure when a TLS client dials
// the plaintext port by mistake.
var sslHandshakePrefix = []byte{22, 3, 1}

// frameConn abstracts the two transports spec.md §6 requires: newline-
// delimited plaintext TCP and WebSocket text frames. Both carry the same
// JSON-RPC 2.0 payloads, so the dispatch loop in server.go is transport
// agnostic.
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(payload []byte) error
	RemoteAddr() string
	Close() error
}

type tcpFrameConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newTCPFrameConn(conn net.Conn) *tcpFrameConn {
	return &tcpFrameConn{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *tcpFrameConn) ReadFrame() ([]byte, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	if bytes.HasPrefix(line, sslHandshakePrefix) {
		return nil, errNotUTF8Line
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func (c *tcpFrameConn) WriteFrame(payload []byte) error {
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	_, err := c.conn.Write(buf)
	return err
}

func (c *tcpFrameConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }
func (c *tcpFrameConn) Close() error       { return c.conn.Close() }

type wsFrameConn struct {
	conn *websocket.Conn
}

func newWSFrameConn(conn *websocket.Conn) *wsFrameConn {
	return &wsFrameConn{conn: conn}
}

func (c *wsFrameConn) ReadFrame() ([]byte, error) {
	_, payload, err := c.conn.ReadMessage()
	return payload, err
}

func (c *wsFrameConn) WriteFrame(payload []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsFrameConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }
func (c *wsFrameConn) Close() error       { return c.conn.Close() }
