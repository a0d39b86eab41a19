// Package orchestrator 处理单个 intent：分类后更新过滤器，或经 gate 放行交易。
package orchestrator

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/autotrader/internal/dispatch"
	"github.com/betbot/autotrader/internal/filter"
	"github.com/betbot/autotrader/internal/gate"
	"github.com/betbot/autotrader/internal/intent"
	"github.com/betbot/autotrader/internal/journal"
	"github.com/betbot/autotrader/internal/metrics"
)

// ErrNoDispatcher 放行的交易没有可用的连接器
var ErrNoDispatcher = errors.New("no dispatcher configured")

// 处理结果，写入指标和执行日志
const (
	OutcomeFilterSet     = "filter_set"
	OutcomeFilterCleared = "filter_cleared"
	OutcomeActionIgnored = "action_ignored"
	OutcomeExecuted      = "executed"
	OutcomePaper         = "paper"
	OutcomeDuplicate     = "duplicate"
	OutcomeInvalid       = "invalid"
	OutcomeError         = "error"
)

// Dispatcher 执行放行的交易
type Dispatcher interface {
	Execute(ctx context.Context, principal string, trade *intent.TradeRequest) (*dispatch.Result, error)
}

// Options 构造参数
type Options struct {
	DryRun     bool
	DedupeTTL  time.Duration
	Dispatcher Dispatcher       // nil 时 Proceed 返回 ErrNoDispatcher
	Journal    journal.Recorder // nil 时不记录
}

// Orchestrator 实现 worker.Handler
type Orchestrator struct {
	registry   *filter.Registry
	gate       *gate.Gate
	dispatcher Dispatcher
	journal    journal.Recorder
	dedupe     *InFlightDeduper
	dryRun     bool
	now        func() time.Time
}

func New(registry *filter.Registry, g *gate.Gate, opts Options) *Orchestrator {
	rec := opts.Journal
	if rec == nil {
		rec = journal.Nop{}
	}
	return &Orchestrator{
		registry:   registry,
		gate:       g,
		dispatcher: opts.Dispatcher,
		journal:    rec,
		dedupe:     NewInFlightDeduper(opts.DedupeTTL, 0),
		dryRun:     opts.DryRun,
		now:        time.Now,
	}
}

// Handle 处理一个 intent。错误原样返回，由调用方记录并 ack。
// 处理失败时释放去重 key，同一 id 重新发布后可再次处理。
func (o *Orchestrator) Handle(ctx context.Context, in *intent.Intent) (err error) {
	start := o.now()
	defer func() { metrics.HandleSeconds.Observe(o.now().Sub(start).Seconds()) }()

	entry := logrus.WithFields(logrus.Fields{
		"component": "orchestrator",
		"intent_id": in.ID,
		"principal": in.Principal,
	})

	if o.dedupe.TryAcquire(in.ID) != nil {
		entry.Warn("重复的 intent，已忽略")
		o.record(ctx, in, "unknown", OutcomeDuplicate, "")
		return nil
	}
	defer func() {
		if err != nil {
			o.dedupe.Release(in.ID)
		}
	}()

	entry.WithField("age", in.Age(start).String()).Info("处理 intent")

	kind, err := in.Parse()
	if err != nil {
		o.record(ctx, in, "unknown", OutcomeInvalid, err.Error())
		return err
	}

	switch k := kind.(type) {
	case *intent.ControlAction:
		return o.handleAction(ctx, entry, in, k)
	case *intent.TradeRequest:
		return o.handleTrade(ctx, entry, in, k)
	default:
		return errors.Errorf("unexpected payload kind %T", kind)
	}
}

func (o *Orchestrator) handleAction(ctx context.Context, entry *logrus.Entry, in *intent.Intent, a *intent.ControlAction) error {
	entry = entry.WithField("action", a.Action)
	if a.Action != intent.ActionSetAutoTradeFilter {
		entry.Info("收到控制指令")
		o.record(ctx, in, "action", OutcomeActionIgnored, a.Action)
		return nil
	}

	settings := a.FilterSettings()
	if !settings.Enabled || settings.Expression == "" {
		err := o.registry.Clear(in.Principal)
		entry.Info("自动交易过滤器已清除")
		o.record(ctx, in, "action", OutcomeFilterCleared, "")
		return err
	}

	err := o.registry.Set(in.Principal, filter.AutoTradeFilter{
		Expression: settings.Expression,
		Interval:   settings.Interval,
	})
	entry.WithFields(logrus.Fields{"expr": settings.Expression, "interval": settings.Interval}).Info("自动交易过滤器已设置")
	o.record(ctx, in, "action", OutcomeFilterSet, settings.Expression)
	return err
}

func (o *Orchestrator) handleTrade(ctx context.Context, entry *logrus.Entry, in *intent.Intent, t *intent.TradeRequest) error {
	entry = entry.WithFields(logrus.Fields{"token": t.Token, "side": t.Side, "size": t.Size})

	decision, err := o.gate.Decide(ctx, t, in.Principal, o.dryRun)
	if err != nil {
		o.record(ctx, in, "trade", OutcomeError, err.Error())
		return err
	}

	switch decision {
	case gate.SkipBlocked:
		entry.Info("交易被自动交易过滤器拦截")
		o.record(ctx, in, "trade", decision.String(), "")
		return nil
	case gate.SkipDryRun:
		entry.Info("dry run 模式，跳过广播")
		o.record(ctx, in, "trade", decision.String(), "")
		return nil
	}

	if o.dispatcher == nil {
		o.record(ctx, in, "trade", OutcomeError, ErrNoDispatcher.Error())
		return ErrNoDispatcher
	}
	res, err := o.dispatcher.Execute(ctx, in.Principal, t)
	if err != nil {
		o.record(ctx, in, "trade", OutcomeError, err.Error())
		return errors.Wrapf(err, "dispatch intent %s", in.ID)
	}
	if res.Paper {
		o.record(ctx, in, "trade", OutcomePaper, res.Quote.String())
		return nil
	}
	metrics.SignedTxTotal.WithLabelValues(res.Wallet).Inc()
	o.record(ctx, in, "trade", OutcomeExecuted, res.TxHash.Hex())
	return nil
}

// record 计数并写执行日志；日志写入失败只记录，不影响处理结果
func (o *Orchestrator) record(ctx context.Context, in *intent.Intent, kind, outcome, detail string) {
	metrics.IntentsTotal.WithLabelValues(kind, outcome).Inc()
	err := o.journal.Record(ctx, journal.Outcome{
		IntentID:  in.ID,
		Principal: in.Principal,
		Kind:      kind,
		Outcome:   outcome,
		Detail:    detail,
		CreatedAt: o.now(),
	})
	if err != nil {
		logrus.WithField("intent_id", in.ID).Warnf("写入执行日志失败: %v", err)
	}
}
