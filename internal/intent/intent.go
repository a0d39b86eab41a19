// Package intent 定义从消息流取出的执行意图及其两种负载形态。
package intent

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidPayload 负载无法解析（格式错误，重试也不会成功）
var ErrInvalidPayload = errors.New("invalid intent payload")

const (
	// DefaultInterval 未指定周期时使用的默认K线周期
	DefaultInterval = "1m"

	// ActionSetAutoTradeFilter 设置/清除自动交易过滤器
	ActionSetAutoTradeFilter = "set-autotrade-filter"
)

// Intent 一次处理单元。收到后不可变。
type Intent struct {
	ID        string          `json:"id"`
	Principal string          `json:"principal"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode 解析流中 intent 字段的原始内容，四个字段缺一不可
func Decode(raw []byte) (*Intent, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, errors.Wrap(ErrInvalidPayload, err.Error())
	}
	for _, field := range []string{"id", "principal", "payload", "created_at"} {
		if isNull(probe[field]) {
			return nil, errors.Wrapf(ErrInvalidPayload, "intent: missing field %q", field)
		}
	}
	var in Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, errors.Wrap(ErrInvalidPayload, err.Error())
	}
	return &in, nil
}

// Age 距创建时间的时长
func (in *Intent) Age(now time.Time) time.Duration {
	return now.Sub(in.CreatedAt)
}

// TradeRequest 交易请求负载
type TradeRequest struct {
	Mode         string  `json:"mode"`
	Token        string  `json:"token"`
	Size         float64 `json:"size"`
	SlippageBps  int64   `json:"slippage_bps"`
	Side         string  `json:"side"`
	Trigger      string  `json:"trigger"`
	PaperTrading bool    `json:"paper_trading"`
	Interval     *string `json:"interval,omitempty"`
	Force        *bool   `json:"force,omitempty"`
}

// IsBuy side 是否为买入（大小写不敏感）
func (t *TradeRequest) IsBuy() bool {
	return strings.EqualFold(t.Side, "buy")
}

// IntervalOrDefault 周期，未指定时为 1m
func (t *TradeRequest) IntervalOrDefault() string {
	if t.Interval == nil {
		return DefaultInterval
	}
	return *t.Interval
}

// ForceOrDefault 是否跳过过滤器，未指定时为 false
func (t *TradeRequest) ForceOrDefault() bool {
	return t.Force != nil && *t.Force
}

// ControlAction 控制指令负载
type ControlAction struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// FilterSettings set-autotrade-filter 的子字段
type FilterSettings struct {
	Enabled    bool   `json:"enabled"`
	Expression string `json:"expression"`
	Interval   string `json:"interval"`
}

// FilterSettings 解析过滤器设置，缺省字段使用默认值；字段类型不符时按缺省处理
func (a *ControlAction) FilterSettings() FilterSettings {
	out := FilterSettings{Enabled: true, Interval: DefaultInterval}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(a.Payload, &fields); err != nil {
		return out
	}
	if raw, ok := fields["enabled"]; ok {
		var v bool
		if json.Unmarshal(raw, &v) == nil {
			out.Enabled = v
		}
	}
	if raw, ok := fields["expression"]; ok {
		var v string
		if json.Unmarshal(raw, &v) == nil {
			out.Expression = v
		}
	}
	if raw, ok := fields["interval"]; ok {
		var v string
		if json.Unmarshal(raw, &v) == nil {
			out.Interval = v
		}
	}
	return out
}

// Kind 负载的标签联合：*ControlAction 或 *TradeRequest
type Kind interface {
	kind() string
}

func (*ControlAction) kind() string { return "action" }
func (*TradeRequest) kind() string  { return "trade" }

// KindName 负载类型名，用于日志和指标
func KindName(k Kind) string {
	if k == nil {
		return "unknown"
	}
	return k.kind()
}

var emptyObject = json.RawMessage(`{}`)

// requiredTradeFields interval/force 之外的字段都必须出现
var requiredTradeFields = []string{"mode", "token", "size", "slippage_bps", "side", "trigger", "paper_trading"}

// Parse 一次性检查负载：含字符串 action 字段即为控制指令，否则按交易请求解析
func Parse(payload json.RawMessage) (Kind, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil, errors.Wrap(ErrInvalidPayload, err.Error())
	}

	if raw, ok := probe["action"]; ok {
		var action string
		if err := json.Unmarshal(raw, &action); err == nil {
			nested := probe["payload"]
			if isNull(nested) {
				nested = emptyObject
			}
			return &ControlAction{Action: action, Payload: nested}, nil
		}
	}

	for _, field := range requiredTradeFields {
		if isNull(probe[field]) {
			return nil, errors.Wrapf(ErrInvalidPayload, "trade request: missing field %q", field)
		}
	}
	var trade TradeRequest
	if err := json.Unmarshal(payload, &trade); err != nil {
		return nil, errors.Wrapf(ErrInvalidPayload, "trade request: %v", err)
	}
	return &trade, nil
}

// isNull 字段缺失或为 null
func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Parse 解析本 intent 的负载
func (in *Intent) Parse() (Kind, error) {
	return Parse(in.Payload)
}
