// candles 订阅 Uniswap V2 池子的 Swap 日志，按周期聚合 K线并输出到日志。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/betbot/autotrader/internal/marketdata"
	"github.com/betbot/autotrader/pkg/config"
	"github.com/betbot/autotrader/pkg/logger"
	"github.com/betbot/autotrader/pkg/shutdown"
)

func main() {
	var (
		configPath = flag.String("config", "", "配置文件路径（读取 marketdata 设置）")
		rpcURL     = flag.String("rpc", "", "ws/ipc RPC 地址，覆盖配置")
		pools      = flag.String("pools", "", "池子地址（逗号分隔），覆盖配置")
		interval   = flag.Duration("interval", 0, "K线周期，覆盖配置")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, OutputFile: cfg.LogFile, JSON: cfg.LogJSON}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	log := logrus.WithField("component", "candles")

	md := cfg.MarketData
	if *rpcURL != "" {
		md.RPCURL = *rpcURL
	}
	if *pools != "" {
		md.Pools = strings.Split(*pools, ",")
	}
	if *interval > 0 {
		md.Interval = *interval
	}
	if md.RPCURL == "" {
		log.Fatal("未配置 RPC 地址（marketdata.rpc_url 或 -rpc）")
	}

	addrs := make([]common.Address, 0, len(md.Pools))
	for _, p := range md.Pools {
		p = strings.TrimSpace(p)
		if !common.IsHexAddress(p) {
			log.Fatalf("无效的池子地址: %q", p)
		}
		addrs = append(addrs, common.HexToAddress(p))
	}

	ctx, stop := shutdown.SignalContext(context.Background())
	defer stop()

	client, err := ethclient.DialContext(ctx, md.RPCURL)
	if err != nil {
		log.Fatalf("连接 RPC 失败: %v", err)
	}
	defer client.Close()

	collector, err := marketdata.Start(ctx, client, marketdata.Config{
		Pools:    addrs,
		Interval: md.Interval,
		Buffer:   md.Buffer,
	})
	if err != nil {
		log.Fatalf("启动采集失败: %v", err)
	}
	log.Infof("开始采集 %d 个池子，周期 %s", len(addrs), md.Interval)

	go func() {
		<-ctx.Done()
		collector.Close()
	}()

	for c := range collector.Candles() {
		log.WithFields(logrus.Fields{
			"pool":   c.Pool.Hex(),
			"start":  c.Start.Format("15:04:05"),
			"open":   c.Open.String(),
			"high":   c.High.String(),
			"low":    c.Low.String(),
			"close":  c.Close.String(),
			"volume": c.Volume.String(),
			"trades": c.Trades,
		}).Info("K线")
	}
	log.Info("采集已停止")
}
