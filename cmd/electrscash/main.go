package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/BitcoinUnlimited/electrscash/internal/cache"
	"github.com/BitcoinUnlimited/electrscash/internal/chain"
	"github.com/BitcoinUnlimited/electrscash/internal/config"
	"github.com/BitcoinUnlimited/electrscash/internal/daemon"
	"github.com/BitcoinUnlimited/electrscash/internal/indexer"
	"github.com/BitcoinUnlimited/electrscash/internal/jsonrpc"
	"github.com/BitcoinUnlimited/electrscash/internal/logging"
	"github.com/BitcoinUnlimited/electrscash/internal/mempool"
	"github.com/BitcoinUnlimited/electrscash/internal/metrics"
	"github.com/BitcoinUnlimited/electrscash/internal/query"
	"github.com/BitcoinUnlimited/electrscash/internal/store"
	"github.com/BitcoinUnlimited/electrscash/internal/subscribe"
)

var (
	displayVersion bool
	Version        = "0.0.0"
)

func init() {
	flag.StringVar(
		&config.BaseDirectory,
		"datadir",
		config.DefaultBaseDirectory,
		"Set the base directory for electrscash. Default directory is ~/.electrscash",
	)
	flag.BoolVar(
		&displayVersion,
		"version",
		false,
		"show version of electrscash",
	)
	flag.Parse()

	if displayVersion {
		return
	}

	config.SetDirectories()

	if err := os.MkdirAll(config.BaseDirectory, 0750); err != nil && !errors.Is(err, os.ErrExist) {
		logging.L.Fatal().Err(err).Msg("error creating base directory")
	}

	logging.L.Info().Str("dir", config.BaseDirectory).Msg("base directory")

	config.LoadConfigs(path.Join(config.BaseDirectory, config.ConfigFileName))

	if err := os.MkdirAll(config.DBPath, 0750); err != nil && !strings.Contains(err.Error(), "file exists") {
		logging.L.Fatal().Err(err).Msg("error creating db path")
	}

	if config.LogsPath != "" {
		if err := logging.SetLogOutput(config.LogsPath, "electrscash.log"); err != nil {
			logging.L.Warn().Err(err).Msg("failed to initialize file logging")
		}
	}
}

func main() {
	if displayVersion {
		fmt.Println("electrscash version:", Version)
		os.Exit(0)
	}
	defer logging.L.Info().Msg("program shut down")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logging.L.Info().Str("chain", config.Chain.String()).Msg("program started")

	metricsSvc := metrics.New(config.MonitoringHost)
	metricsSvc.Start()
	defer metricsSvc.Stop()

	st, err := store.Open(config.DBPath)
	if err != nil {
		logging.L.Fatal().Err(err).Msg("failed opening store")
	}
	defer st.Close()

	client := daemon.NewClient(config.DaemonRPCEndpoint, config.RPCUser, config.RPCPass)
	ch := chain.New(client, int64(config.ReorgLimit))
	mp := mempool.New(client)

	idx := indexer.New(st, client, ch, indexer.Config{
		BatchSize:                   config.IndexBatchSize,
		Threads:                     config.BulkIndexThreads,
		CashAccountActivationHeight: config.CashAccountActivationHeight,
		BlocksDir:                   config.BlocksDir,
		CompactEvery:                config.IndexBatchSize * 10,
	})

	txCache := cache.NewTxCache(config.TxCacheBytes)
	blkCache := cache.NewBlockTxidsCache(config.BlockTxidsCacheBytes)
	statusCache := cache.NewStatusHashCache(config.StatusHashCacheLimit)

	q := &query.Query{
		Store:    st,
		Mempool:  mp,
		Chain:    ch,
		Client:   client,
		TxCache:  txCache,
		BlkCache: blkCache,
	}

	subs := subscribe.New(q, statusCache)

	idx.OnCommit = func(rows *indexer.BlockRows) {
		subs.NotifyTouched(q.AffectedScriptHashes(rows))
	}
	mp.OnDiff = subs.NotifyTouched

	if err := catchUp(ctx, st, client, ch, idx); err != nil {
		logging.L.Fatal().Err(err).Msg("initial sync failed")
	}

	rpcSrv := jsonrpc.NewServer(q, ch, client, subs)

	errChan := make(chan error, 8)
	go func() {
		if err := rpcSrv.ListenTCP(ctx, config.RPCHost); err != nil {
			errChan <- fmt.Errorf("tcp listener: %w", err)
		}
	}()
	go func() {
		if err := rpcSrv.ListenWS(ctx, config.WSHost); err != nil {
			errChan <- fmt.Errorf("websocket listener: %w", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)

	ticker := time.NewTicker(time.Duration(config.WaitDurationSecs) * time.Second)
	defer ticker.Stop()
	mempoolTicker := time.NewTicker(time.Duration(config.MempoolPollIntervalSecs) * time.Second)
	defer mempoolTicker.Stop()

	for {
		select {
		case s := <-sig:
			switch s {
			case syscall.SIGUSR1:
				logging.L.Info().Msg("received SIGUSR1, forcing tip and mempool refresh")
				if err := idx.Incremental(ctx); err != nil {
					logging.L.Warn().Err(err).Msg("forced incremental sync failed")
				}
				if err := mp.Poll(ctx); err != nil {
					logging.L.Warn().Err(err).Msg("forced mempool poll failed")
				}
			default:
				logging.L.Info().Str("signal", s.String()).Msg("shutting down")
				cancel()
				return
			}
		case err := <-errChan:
			logging.L.Error().Err(err).Msg("server failed")
			cancel()
			return
		case <-ticker.C:
			if err := idx.Incremental(ctx); err != nil {
				logging.L.Warn().Err(err).Msg("incremental sync failed")
			}
		case <-mempoolTicker.C:
			if err := mp.Poll(ctx); err != nil {
				logging.L.Warn().Err(err).Msg("mempool poll failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

// catchUp brings the store and in-memory chain to the node's current tip,
// resuming a bulk sync from the last committed height (store.KeyBestIndexed)
// instead of restarting from genesis, per spec.md §4.5's bulk-then-incremental
// handoff.
func catchUp(ctx context.Context, st *store.Store, client *daemon.Client, ch *chain.Chain, idx *indexer.Indexer) error {
	info, err := client.GetBlockchainInfo(ctx)
	if err != nil {
		return err
	}

	fromHeight := int64(0)
	if v, found, err := st.Get(store.KeyBestIndexed()); err == nil && found {
		if hv, hfound, err := st.Get(store.KeyChainBlock(v)); err == nil && hfound {
			fromHeight = int64(store.ParseTxHeight(hv)) + 1
		}
	}

	if fromHeight <= info.Blocks {
		logging.L.Info().Int64("from", fromHeight).Int64("to", info.Blocks).Msg("bulk syncing")
		if err := idx.BulkSync(ctx, fromHeight, info.Blocks); err != nil {
			return err
		}
	}

	logging.L.Info().Msg("bootstrapping header chain")
	if _, err := ch.Bootstrap(ctx); err != nil {
		return err
	}
	return nil
}
