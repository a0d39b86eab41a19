// Package gate 决定一笔交易请求是否放行。
package gate

import (
	"context"

	"github.com/pkg/errors"

	"github.com/betbot/autotrader/internal/filter"
	"github.com/betbot/autotrader/internal/intent"
)

// Decision 放行结果
type Decision int

const (
	Proceed Decision = iota
	SkipBlocked
	SkipDryRun
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case SkipBlocked:
		return "skip_blocked"
	case SkipDryRun:
		return "skip_dry_run"
	default:
		return "unknown"
	}
}

// FilterLookup 注册表的只读视图
type FilterLookup interface {
	Get(principal string) (filter.AutoTradeFilter, bool)
}

// FilterEvaluator 过滤器求值
type FilterEvaluator interface {
	Evaluate(ctx context.Context, f filter.AutoTradeFilter, pair string) (bool, error)
}

// Gate 依次检查：force -> 过滤器 -> dry run
type Gate struct {
	filters   FilterLookup
	evaluator FilterEvaluator
}

func New(filters FilterLookup, evaluator FilterEvaluator) *Gate {
	return &Gate{filters: filters, evaluator: evaluator}
}

// Decide force 只跳过过滤器，不跳过 dry run。求值错误直接返回。
func (g *Gate) Decide(ctx context.Context, trade *intent.TradeRequest, principal string, dryRun bool) (Decision, error) {
	if !trade.ForceOrDefault() {
		if f, ok := g.filters.Get(principal); ok {
			allowed, err := g.evaluator.Evaluate(ctx, f, trade.Token)
			if err != nil {
				return SkipBlocked, errors.Wrapf(err, "evaluate filter for %s", principal)
			}
			if !allowed {
				return SkipBlocked, nil
			}
		}
	}
	if dryRun {
		return SkipDryRun, nil
	}
	return Proceed, nil
}
