package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/BitcoinUnlimited/electrscash/internal/logging"
)

// LoadConfigs reads pathToConfig (if present), applies defaults, binds
// environment variables, and populates the package-level vars.
func LoadConfigs(pathToConfig string) {
	viper.SetConfigFile(pathToConfig)
	if err := viper.ReadInConfig(); err != nil {
		logging.L.Warn().Err(err).Msg("no config file detected, using defaults")
	}

	viper.SetDefault("chain", "main")
	viper.SetDefault("rpc_host", RPCHost)
	viper.SetDefault("ws_host", WSHost)
	viper.SetDefault("monitoring_host", MonitoringHost)
	viper.SetDefault("daemon_rpc_endpoint", DaemonRPCEndpoint)
	viper.SetDefault("cookie_path", CookiePath)
	viper.SetDefault("rpc_user", RPCUser)
	viper.SetDefault("rpc_pass", RPCPass)
	viper.SetDefault("blocks_dir", BlocksDir)
	viper.SetDefault("index_batch_size", IndexBatchSize)
	viper.SetDefault("bulk_index_threads", BulkIndexThreads)
	viper.SetDefault("wait_duration_secs", WaitDurationSecs)
	viper.SetDefault("cashaccount_activation_height", CashAccountActivationHeight)
	viper.SetDefault("reorg_limit", ReorgLimit)
	viper.SetDefault("mempool_poll_interval_secs", MempoolPollIntervalSecs)
	viper.SetDefault("tx_cache_mb", TxCacheBytes/(1<<20))
	viper.SetDefault("block_txids_cache_mb", BlockTxidsCacheBytes/(1<<20))
	viper.SetDefault("status_hash_cache_limit", StatusHashCacheLimit)
	viper.SetDefault("rpc_timeout_secs", RPCTimeoutSecs)
	viper.SetDefault("rpc_max_connections", RPCMaxConnections)
	viper.SetDefault("rpc_max_connections_shared_prefix", RPCMaxConnectionsSharedPrefix)
	viper.SetDefault("scripthash_subscription_limit", ScripthashSubscriptionLimit)
	viper.SetDefault("scripthash_alias_bytes_limit", ScripthashAliasBytesLimit)
	viper.SetDefault("rpc_buffer_size", RPCBufferSize)
	viper.SetDefault("txid_limit", TxidLimit)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_path", "")
	viper.SetDefault("log_to_console", true)

	viper.AutomaticEnv()
	for _, key := range []string{
		"chain", "rpc_host", "ws_host", "monitoring_host",
		"daemon_rpc_endpoint", "cookie_path", "rpc_user", "rpc_pass", "blocks_dir",
		"index_batch_size", "bulk_index_threads", "wait_duration_secs",
		"cashaccount_activation_height", "reorg_limit", "mempool_poll_interval_secs",
		"tx_cache_mb", "block_txids_cache_mb", "status_hash_cache_limit",
		"rpc_timeout_secs", "rpc_max_connections", "rpc_max_connections_shared_prefix",
		"scripthash_subscription_limit", "scripthash_alias_bytes_limit",
		"rpc_buffer_size", "txid_limit", "log_level", "log_path", "log_to_console",
	} {
		_ = viper.BindEnv(key, "ELECTRSCASH_"+strings.ToUpper(key))
	}

	switch viper.GetString("chain") {
	case "main":
		Chain = Mainnet
	case "testnet":
		Chain = Testnet
	case "regtest":
		Chain = Regtest
	default:
		logging.L.Fatal().Str("chain", viper.GetString("chain")).Msg("unknown chain")
		return
	}

	RPCHost = viper.GetString("rpc_host")
	WSHost = viper.GetString("ws_host")
	MonitoringHost = viper.GetString("monitoring_host")

	DaemonRPCEndpoint = viper.GetString("daemon_rpc_endpoint")
	CookiePath = viper.GetString("cookie_path")
	RPCUser = viper.GetString("rpc_user")
	RPCPass = viper.GetString("rpc_pass")
	BlocksDir = viper.GetString("blocks_dir")

	IndexBatchSize = viper.GetInt("index_batch_size")
	BulkIndexThreads = viper.GetInt("bulk_index_threads")
	WaitDurationSecs = viper.GetInt("wait_duration_secs")
	CashAccountActivationHeight = viper.GetUint32("cashaccount_activation_height")
	ReorgLimit = viper.GetInt("reorg_limit")

	MempoolPollIntervalSecs = viper.GetInt("mempool_poll_interval_secs")

	TxCacheBytes = viper.GetInt64("tx_cache_mb") << 20
	BlockTxidsCacheBytes = viper.GetInt64("block_txids_cache_mb") << 20
	StatusHashCacheLimit = viper.GetInt("status_hash_cache_limit")

	RPCTimeoutSecs = viper.GetInt("rpc_timeout_secs")
	RPCMaxConnections = viper.GetInt("rpc_max_connections")
	RPCMaxConnectionsSharedPrefix = viper.GetInt("rpc_max_connections_shared_prefix")
	ScripthashSubscriptionLimit = viper.GetInt("scripthash_subscription_limit")
	ScripthashAliasBytesLimit = viper.GetInt64("scripthash_alias_bytes_limit")
	RPCBufferSize = viper.GetInt("rpc_buffer_size")
	TxidLimit = viper.GetInt("txid_limit") // accepted, never consulted — see spec Open Question #2

	LogLevel = viper.GetString("log_level")
	LogsPath = viper.GetString("log_path")
	LogToConsole = viper.GetBool("log_to_console")

	switch LogLevel {
	case "trace":
		logging.SetLogLevel(zerolog.TraceLevel)
	case "debug":
		logging.SetLogLevel(zerolog.DebugLevel)
	case "info":
		logging.SetLogLevel(zerolog.InfoLevel)
	case "warn":
		logging.SetLogLevel(zerolog.WarnLevel)
	case "error":
		logging.SetLogLevel(zerolog.ErrorLevel)
	}

	if CookiePath != "" {
		data, err := os.ReadFile(CookiePath)
		if err != nil {
			logging.L.Fatal().Err(err).Msg("error reading cookie file")
			return
		}
		credentials := strings.SplitN(strings.TrimSpace(string(data)), ":", 2)
		if len(credentials) != 2 {
			logging.L.Fatal().Msg("cookie file is invalid")
			return
		}
		RPCUser = credentials[0]
		RPCPass = credentials[1]
	}

	if RPCUser == "" || RPCPass == "" {
		logging.L.Warn().Msg("daemon rpc_user/rpc_pass not set; requests to the node will likely be rejected")
	}
}

// SetDirectories resolves BaseDirectory (expanding "~") and derives DBPath.
func SetDirectories() {
	BaseDirectory = resolvePath(BaseDirectory)
	DBPath = filepath.Join(BaseDirectory, "db", Chain.String())
}

func resolvePath(p string) string {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	return abs
}
