package filter

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidExpression 表达式不是 "<指标> <|> <数值>" 形式
	ErrInvalidExpression = errors.New("invalid filter expression")
	// ErrIndicatorNotFound 信号中没有表达式引用的指标
	ErrIndicatorNotFound = errors.New("indicator not found")
)

// SignalSource 按交易对和周期获取指标快照（指标名 -> 数值）
type SignalSource interface {
	Signals(ctx context.Context, pair, interval string) (map[string]float64, error)
}

// Evaluator 针对指标服务对过滤器求值
type Evaluator struct {
	source SignalSource
}

func NewEvaluator(source SignalSource) *Evaluator {
	return &Evaluator{source: source}
}

// Evaluate 获取 pair 在过滤器周期上的信号并求值。获取失败原样返回。
func (e *Evaluator) Evaluate(ctx context.Context, f AutoTradeFilter, pair string) (bool, error) {
	signals, err := e.source.Signals(ctx, pair, f.Interval)
	if err != nil {
		return false, errors.Wrapf(err, "fetch signals %s/%s", pair, f.Interval)
	}
	return EvaluateExpression(f.Expression, signals)
}

// EvaluateExpression 求值单个严格比较：恰好一个 '<' 或 '>'。
// 指标名不区分大小写（信号 key 需为小写）。
func EvaluateExpression(expression string, signals map[string]float64) (bool, error) {
	expr := strings.ToLower(strings.TrimSpace(expression))

	if strings.Count(expr, "<")+strings.Count(expr, ">") != 1 {
		return false, errors.Wrapf(ErrInvalidExpression, "%q", expression)
	}

	op := "<"
	idx := strings.Index(expr, "<")
	if idx < 0 {
		op = ">"
		idx = strings.Index(expr, ">")
	}

	indicator := strings.TrimSpace(expr[:idx])
	if indicator == "" {
		return false, errors.Wrapf(ErrInvalidExpression, "%q: missing indicator", expression)
	}
	threshold, err := strconv.ParseFloat(strings.TrimSpace(expr[idx+1:]), 64)
	if err != nil {
		return false, errors.Wrapf(ErrInvalidExpression, "%q: bad threshold", expression)
	}

	value, ok := signals[indicator]
	if !ok {
		return false, errors.Wrapf(ErrIndicatorNotFound, "%s", indicator)
	}

	if op == "<" {
		return value < threshold, nil
	}
	return value > threshold, nil
}
