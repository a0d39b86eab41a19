package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/betbot/autotrader/internal/broker"
	"github.com/betbot/autotrader/internal/connector"
	"github.com/betbot/autotrader/internal/dispatch"
	"github.com/betbot/autotrader/internal/filter"
	"github.com/betbot/autotrader/internal/gate"
	"github.com/betbot/autotrader/internal/health"
	"github.com/betbot/autotrader/internal/indicator"
	"github.com/betbot/autotrader/internal/journal"
	"github.com/betbot/autotrader/internal/metrics"
	"github.com/betbot/autotrader/internal/orchestrator"
	"github.com/betbot/autotrader/internal/signer"
	"github.com/betbot/autotrader/internal/worker"
	"github.com/betbot/autotrader/pkg/config"
	"github.com/betbot/autotrader/pkg/logger"
	"github.com/betbot/autotrader/pkg/persistence"
	"github.com/betbot/autotrader/pkg/shutdown"
	"github.com/betbot/autotrader/pkg/syncgroup"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（.yaml/.yml）")
	seedNonces := flag.Bool("seed-nonces", false, "启动时用链上 pending nonce 初始化各钱包的 nonce 表")
	shutdownTimeout := flag.Duration("shutdown-timeout", 10*time.Second, "优雅关闭超时")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
		JSON:       cfg.LogJSON,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	log := logger.WithField("component", "exec")
	if f := logger.GetCurrentLogFile(); f != "" {
		log.Infof("日志写入文件: %s", f)
	}

	ctx, stop := shutdown.SignalContext(context.Background())
	defer stop()
	sm := shutdown.NewManager()

	keys, err := signer.LoadKeys(cfg.Keystore)
	if err != nil {
		log.Fatalf("加载密钥失败: %v", err)
	}
	ks, err := signer.NewMemoryKeystore(keys)
	if err != nil {
		log.Fatalf("创建密钥库失败: %v", err)
	}
	log.Infof("已加载 %d 个签名钱包: %v", len(keys), ks.Aliases())

	var dispatcher orchestrator.Dispatcher
	if cfg.ConnectorEnabled() {
		d, client, err := buildDispatcher(ctx, cfg, ks, *seedNonces)
		if err != nil {
			log.Fatalf("初始化连接器失败: %v", err)
		}
		dispatcher = d
		sm.OnShutdown("ethclient", func(context.Context) { client.Close() })
	} else {
		log.Warn("未配置连接器（rpc_url/router/quote_token），放行的交易将报错")
	}

	ta := indicator.NewClient(cfg.TAServiceURL, indicator.Options{
		Timeout:  cfg.TATimeout,
		CacheTTL: cfg.SignalsCacheTTL,
	})
	sm.OnShutdown("indicator", func(context.Context) { ta.Close() })

	var snapshot persistence.Store
	if cfg.FilterSnapshotDir != "" {
		snapshot = filter.NewSnapshotStore(persistence.NewJSONFileService(cfg.FilterSnapshotDir))
	}
	registry := filter.NewRegistry(snapshot)
	if err := registry.Restore(); err != nil {
		log.Warnf("恢复过滤器快照失败，从空表开始: %v", err)
	} else if registry.Len() > 0 {
		log.Infof("已恢复 %d 个过滤器", registry.Len())
	}

	var rec journal.Recorder
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			log.Fatalf("打开执行日志失败: %v", err)
		}
		rec = j
		sm.OnShutdown("journal", func(context.Context) {
			if err := j.Close(); err != nil {
				log.Warnf("关闭执行日志失败: %v", err)
			}
		})
	}

	orch := orchestrator.New(registry, gate.New(registry, filter.NewEvaluator(ta)), orchestrator.Options{
		DryRun:     cfg.DryRun,
		DedupeTTL:  cfg.DedupeTTL,
		Dispatcher: dispatcher,
		Journal:    rec,
	})

	rdb, err := broker.Dial(ctx, cfg.Redis.URL)
	if err != nil {
		log.Fatalf("连接 Redis 失败: %v", err)
	}
	sm.OnShutdown("redis", func(context.Context) { _ = rdb.Close() })

	stream := broker.NewRedisStream(rdb, broker.Options{
		Stream:   cfg.Redis.Stream,
		Group:    cfg.Redis.Group,
		Consumer: cfg.Redis.Consumer,
		Count:    cfg.Redis.ReadCount,
		Block:    cfg.Redis.ReadBlock,
	})
	if err := stream.EnsureGroup(ctx); err != nil {
		log.Fatalf("创建消费组失败: %v", err)
	}

	if _, err := health.NewServer(registry).StartAsync(ctx, cfg.HTTPAddr); err != nil {
		log.Fatalf("健康检查端口绑定失败 %s: %v", cfg.HTTPAddr, err)
	}
	if _, err := metrics.StartAsync(ctx, cfg.MetricsAddr); err != nil {
		log.Fatalf("指标端口绑定失败 %s: %v", cfg.MetricsAddr, err)
	}

	log.WithFields(logrus.Fields{
		"stream":   cfg.Redis.Stream,
		"group":    cfg.Redis.Group,
		"consumer": cfg.Redis.Consumer,
		"dry_run":  cfg.DryRun,
	}).Info("执行服务已启动")

	sg := syncgroup.NewSyncGroup()
	sg.Add("worker", func() {
		if err := worker.New(stream, orch, cfg.Redis.ReadBackoff).Run(ctx); err != nil {
			logger.Errorf("worker 退出: %v", err)
		}
	})
	sg.Add("pending", func() { worker.ReportPending(ctx, stream, 15*time.Second) })
	sg.Run()

	<-ctx.Done()
	log.Info("收到退出信号，等待在途消息处理完成")
	sg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
	defer cancel()
	if err := sm.Shutdown(shutdownCtx); err != nil {
		log.Warnf("优雅关闭未完成: %v", err)
	}
	log.Info("执行服务已退出")
}

func buildDispatcher(ctx context.Context, cfg *config.Config, ks *signer.MemoryKeystore, seed bool) (*dispatch.Dispatcher, *ethclient.Client, error) {
	cc := cfg.Connector

	dialCtx, cancel := context.WithTimeout(ctx, cc.RPCTimeout)
	defer cancel()
	client, err := ethclient.DialContext(dialCtx, cc.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("连接 RPC %s: %w", cc.RPCURL, err)
	}

	if seed {
		if err := seedNonces(dialCtx, client, ks); err != nil {
			client.Close()
			return nil, nil, err
		}
	}

	router := common.HexToAddress(cc.Router)
	quote := common.HexToAddress(cc.QuoteToken)
	conn, err := connector.NewUniswapV2(connector.UniswapV2Config{
		Router:     router,
		Safelist:   connector.NewSafelist(append([]string{cc.QuoteToken}, cc.Safelist...)),
		GasLimit:   cc.GasLimit,
		GasTipCap:  connector.GweiToWei(cc.TipGwei),
		GasFeeCap:  connector.GweiToWei(cc.MaxFeeGwei),
		RPCTimeout: cc.RPCTimeout,
	}, client, ks)
	if err != nil {
		client.Close()
		return nil, nil, err
	}

	tokenDecimals := make(map[common.Address]int32, len(cc.TokenDecimals))
	for token, dec := range cc.TokenDecimals {
		tokenDecimals[common.HexToAddress(token)] = dec
	}

	return dispatch.New(dispatch.Config{
		Router:        router,
		QuoteToken:    quote,
		Decimals:      cc.Decimals,
		TokenDecimals: tokenDecimals,
		Deadline:      cc.Deadline,
		DefaultWallet: cc.DefaultWallet,
		Wallets:       cc.Wallets,
	}, conn), client, nil
}

// seedNonces 仅在启动时执行一次，之后完全以本地 nonce 表为准
func seedNonces(ctx context.Context, client *ethclient.Client, ks *signer.MemoryKeystore) error {
	for _, alias := range ks.Aliases() {
		addr, err := ks.Address(alias)
		if err != nil {
			return err
		}
		nonce, err := client.PendingNonceAt(ctx, addr)
		if err != nil {
			return fmt.Errorf("查询 %s pending nonce: %w", alias, err)
		}
		ks.Seed(addr, nonce)
		logger.WithFields(logrus.Fields{"alias": alias, "address": addr.Hex(), "nonce": nonce}).Info("nonce 已初始化")
	}
	return nil
}
