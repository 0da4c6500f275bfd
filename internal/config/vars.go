package config

const (
	ConfigFileName       string = "electrscash.toml"
	DefaultBaseDirectory string = "~/.electrscash"
)

type Network int

const (
	Unknown Network = iota
	Mainnet
	Testnet
	Regtest
)

func (n Network) String() string {
	switch n {
	case Mainnet:
		return "main"
	case Testnet:
		return "testnet"
	case Regtest:
		return "regtest"
	default:
		return "unknown"
	}
}

// General
var (
	BaseDirectory string
	DBPath        string
	LogsPath      string
	LogLevel      = "info"
	LogToConsole  = true
)

// Network
var (
	Chain = Mainnet

	// RPCHost is the plain-TCP JSON-RPC bind address.
	RPCHost = "0.0.0.0:50001"
	// WSHost is the WebSocket JSON-RPC bind address.
	WSHost = "0.0.0.0:50003"
	// MonitoringHost serves Prometheus metrics.
	MonitoringHost = "127.0.0.1:4224"
)

// Daemon / full-node RPC
var (
	DaemonRPCEndpoint = "http://127.0.0.1:8332"
	CookiePath        = ""
	RPCUser           = ""
	RPCPass           = ""
	BlocksDir         = "" // optional path to blk*.dat for the fast-path block fetch
)

// Indexer
var (
	IndexBatchSize                     = 100
	BulkIndexThreads                   = 0 // 0 => logical CPU count
	WaitDurationSecs                   = 10
	CashAccountActivationHeight uint32 = 563620
	ReorgLimit                         = 1000
)

// Mempool
var (
	MempoolPollIntervalSecs = 5
)

// Caches
var (
	TxCacheBytes         int64 = 250 << 20
	BlockTxidsCacheBytes int64 = 50 << 20
	StatusHashCacheLimit       = 200_000
)

// DoS / connection admission
var (
	RPCTimeoutSecs                      = 30
	RPCMaxConnections                   = 10_000
	RPCMaxConnectionsSharedPrefix       = 10
	ScripthashSubscriptionLimit         = 10_000
	ScripthashAliasBytesLimit     int64 = 1 << 20
	RPCBufferSize                       = 1000
	// TxidLimit exists for config-file compatibility only; it must have no
	// runtime effect (see spec Open Question #2).
	TxidLimit = 500
)

// BannerText is returned verbatim by server.banner.
var BannerText = "Welcome to electrscash, a Bitcoin Cash Electrum index server."

func ChainToString(c Network) string { return c.String() }
