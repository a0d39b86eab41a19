// Package dispatch 把放行的交易请求换算成链上兑换参数并执行。
package dispatch

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/autotrader/internal/connector"
	"github.com/betbot/autotrader/internal/intent"
)

// ErrInvalidTrade 交易请求无法换算成兑换参数
var ErrInvalidTrade = errors.New("invalid trade request")

const bpsDenominator = 10000

// Config 换算参数
type Config struct {
	Router        common.Address
	QuoteToken    common.Address // 买入时支付、卖出时收到
	Decimals      int32                    // 未单独配置的代币使用该精度
	TokenDecimals map[common.Address]int32 // 按代币覆盖精度
	Deadline      time.Duration
	DefaultWallet string
	Wallets       map[string]string // principal -> alias
}

// Result 一次执行结果
type Result struct {
	Params connector.SwapParams
	Quote  *big.Int
	TxHash common.Hash
	Wallet string
	Paper  bool // 纸交易：只报价不发送
}

// Dispatcher 执行放行后的交易
type Dispatcher struct {
	cfg       Config
	connector connector.Connector
	now       func() time.Time
}

func New(cfg Config, conn connector.Connector) *Dispatcher {
	return &Dispatcher{cfg: cfg, connector: conn, now: time.Now}
}

// WalletFor principal 对应的签名 alias
func (d *Dispatcher) WalletFor(principal string) string {
	if alias, ok := d.cfg.Wallets[principal]; ok && alias != "" {
		return alias
	}
	return d.cfg.DefaultWallet
}

func (d *Dispatcher) decimalsFor(token common.Address) int32 {
	if dec, ok := d.cfg.TokenDecimals[token]; ok {
		return dec
	}
	return d.cfg.Decimals
}

// Execute 报价 -> 计算最小成交量 -> 兑换
func (d *Dispatcher) Execute(ctx context.Context, principal string, trade *intent.TradeRequest) (*Result, error) {
	if !common.IsHexAddress(trade.Token) {
		return nil, errors.Wrapf(ErrInvalidTrade, "token %q is not an address", trade.Token)
	}
	if trade.Size <= 0 {
		return nil, errors.Wrapf(ErrInvalidTrade, "size %v", trade.Size)
	}
	if trade.SlippageBps < 0 || trade.SlippageBps > bpsDenominator {
		return nil, errors.Wrapf(ErrInvalidTrade, "slippage_bps %d", trade.SlippageBps)
	}

	wallet := d.WalletFor(principal)
	if wallet == "" {
		return nil, errors.Errorf("no wallet configured for principal %s", principal)
	}

	token := common.HexToAddress(trade.Token)
	tokenIn, tokenOut := d.cfg.QuoteToken, token
	if !trade.IsBuy() {
		tokenIn, tokenOut = token, d.cfg.QuoteToken
	}

	// size 以输入代币计：买入为计价代币，卖出为交易代币
	amountIn := decimal.NewFromFloat(trade.Size).Shift(d.decimalsFor(tokenIn)).BigInt()
	if amountIn.Sign() <= 0 {
		return nil, errors.Wrapf(ErrInvalidTrade, "size %v below token precision", trade.Size)
	}

	quote, err := d.connector.Quote(ctx, tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, errors.Wrap(err, "quote")
	}

	params := connector.SwapParams{
		Router:   d.cfg.Router,
		TokenIn:  tokenIn,
		TokenOut: tokenOut,
		AmountIn: amountIn,
		MinOut:   MinOut(quote, trade.SlippageBps),
		Deadline: big.NewInt(d.now().Add(d.cfg.Deadline).Unix()),
	}
	res := &Result{Params: params, Quote: quote, Wallet: wallet, Paper: trade.PaperTrading}

	entry := logrus.WithFields(logrus.Fields{
		"component": "dispatch",
		"principal": principal,
		"wallet":    wallet,
		"side":      trade.Side,
		"amount_in": amountIn.String(),
		"min_out":   params.MinOut.String(),
	})
	if trade.PaperTrading {
		entry.Info("纸交易：已报价，不发送")
		return res, nil
	}

	hash, err := d.connector.ExecuteSwap(ctx, wallet, params)
	if err != nil {
		return nil, errors.Wrap(err, "execute swap")
	}
	res.TxHash = hash
	entry.WithField("tx_hash", hash.Hex()).Info("交易已执行")
	return res, nil
}

// MinOut quote × (10000 − bps) / 10000，向下取整
func MinOut(quote *big.Int, slippageBps int64) *big.Int {
	out := new(big.Int).Mul(quote, big.NewInt(bpsDenominator-slippageBps))
	return out.Quo(out, big.NewInt(bpsDenominator))
}
