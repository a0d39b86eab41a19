// intentctl 向执行服务的消息流发布 intent（调试和运维用）。
//
//	intentctl -principal alice filter -expr "rsi<30" -interval 5m
//	intentctl -principal alice filter -disable
//	intentctl -principal alice trade -token 0x... -size 1.5 -side buy -slippage 50
//	intentctl indicator -pair PEPE -interval 5m
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/betbot/autotrader/internal/broker"
	"github.com/betbot/autotrader/internal/indicator"
	"github.com/betbot/autotrader/internal/intent"
	"github.com/betbot/autotrader/pkg/config"
	"github.com/betbot/autotrader/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "配置文件路径（读取 redis 设置）")
		principal  = flag.String("principal", "", "intent 所属 principal")
		maxLen     = flag.Int64("maxlen", 0, "XADD MAXLEN ~ 上限，0 表示不裁剪")
	)
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}
	if err := logger.InitDefault(); err != nil {
		fatal(err)
	}

	if flag.Arg(0) == "indicator" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		if err := queryIndicators(cfg, flag.Args()[1:]); err != nil {
			fatal(err)
		}
		return
	}
	if strings.TrimSpace(*principal) == "" {
		usage()
		os.Exit(2)
	}

	payload, err := buildPayload(flag.Arg(0), flag.Args()[1:])
	if err != nil {
		fatal(err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rdb, err := broker.Dial(ctx, cfg.Redis.URL)
	if err != nil {
		fatal(err)
	}
	defer rdb.Close()

	stream := broker.NewRedisStream(rdb, broker.Options{Stream: cfg.Redis.Stream, MaxLen: *maxLen})
	id, err := stream.Publish(ctx, *principal, payload)
	if err != nil {
		fatal(err)
	}
	fmt.Println(id)
}

func buildPayload(cmd string, args []string) (interface{}, error) {
	switch cmd {
	case "filter":
		fs := flag.NewFlagSet("filter", flag.ExitOnError)
		expr := fs.String("expr", "", "过滤表达式，如 rsi<30")
		interval := fs.String("interval", intent.DefaultInterval, "K线周期")
		disable := fs.Bool("disable", false, "清除过滤器")
		_ = fs.Parse(args)

		settings := intent.FilterSettings{Enabled: !*disable, Expression: *expr, Interval: *interval}
		if settings.Enabled && strings.TrimSpace(settings.Expression) == "" {
			return nil, fmt.Errorf("filter: -expr 不能为空（或使用 -disable）")
		}
		return map[string]interface{}{
			"action":  intent.ActionSetAutoTradeFilter,
			"payload": settings,
		}, nil

	case "trade":
		fs := flag.NewFlagSet("trade", flag.ExitOnError)
		token := fs.String("token", "", "交易代币地址")
		size := fs.Float64("size", 0, "数量")
		side := fs.String("side", "buy", "buy 或 sell")
		slippage := fs.Int64("slippage", 50, "滑点（bps）")
		mode := fs.String("mode", "auto", "模式")
		trigger := fs.String("trigger", "manual", "触发来源")
		paper := fs.Bool("paper", false, "纸交易：只报价不发送")
		interval := fs.String("interval", "", "过滤器周期，空表示使用默认值")
		force := fs.Bool("force", false, "跳过过滤器")
		_ = fs.Parse(args)

		if *token == "" || *size <= 0 {
			return nil, fmt.Errorf("trade: 需要 -token 和正数 -size")
		}
		req := intent.TradeRequest{
			Mode:         *mode,
			Token:        *token,
			Size:         *size,
			SlippageBps:  *slippage,
			Side:         *side,
			Trigger:      *trigger,
			PaperTrading: *paper,
		}
		if *interval != "" {
			req.Interval = interval
		}
		if *force {
			req.Force = force
		}
		return req, nil
	}
	return nil, fmt.Errorf("未知子命令: %s", cmd)
}

// queryIndicators 打印 pair 当前的 RSI、MACD 和聚合信号，用于调试过滤表达式
func queryIndicators(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("indicator", flag.ExitOnError)
	pair := fs.String("pair", "", "交易对/代币")
	interval := fs.String("interval", intent.DefaultInterval, "K线周期")
	_ = fs.Parse(args)
	if *pair == "" {
		return fmt.Errorf("indicator: -pair 不能为空")
	}

	c := indicator.NewClient(cfg.TAServiceURL, indicator.Options{Timeout: cfg.TATimeout})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*cfg.TATimeout)
	defer cancel()

	rsi, err := c.RSI(ctx, *pair, *interval)
	if err != nil {
		return err
	}
	macd, err := c.MACD(ctx, *pair, *interval)
	if err != nil {
		return err
	}
	signals, err := c.Signals(ctx, *pair, *interval)
	if err != nil {
		return err
	}

	fmt.Printf("rsi\t%.4f\n", rsi)
	fmt.Printf("macd\t%.6f signal=%.6f histogram=%.6f\n", macd.MACD, macd.Signal, macd.Histogram)
	names := make([]string, 0, len(signals))
	for name := range signals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("signal.%s\t%.6f\n", name, signals[name])
	}
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, "用法: %s [-config file] -principal <id> (filter|trade) [flags]\n       %s [-config file] indicator -pair <pair> [-interval 1m]\n", os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
