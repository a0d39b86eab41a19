// Package connector 定义 DEX 连接能力及其 EVM（Uniswap V2 路由）实现。
package connector

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrTokenNotSafelisted 代币不在白名单
	ErrTokenNotSafelisted = errors.New("token not safelisted")
	// ErrRouterNotSupported 参数中的路由不是本连接器配置的路由
	ErrRouterNotSupported = errors.New("router not supported")
)

// SwapParams 一次 exact-in 兑换
type SwapParams struct {
	Router   common.Address
	TokenIn  common.Address
	TokenOut common.Address
	AmountIn *big.Int
	MinOut   *big.Int
	Deadline *big.Int // unix 秒
}

// Connector 报价与执行兑换
type Connector interface {
	Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error)
	ExecuteSwap(ctx context.Context, wallet string, params SwapParams) (common.Hash, error)
}

// Safelist 允许交易的代币集合
type Safelist map[common.Address]struct{}

// NewSafelist 由 hex 地址列表构造
func NewSafelist(addrs []string) Safelist {
	s := make(Safelist, len(addrs))
	for _, a := range addrs {
		s[common.HexToAddress(a)] = struct{}{}
	}
	return s
}

// Check 两个代币都必须在白名单
func (s Safelist) Check(tokens ...common.Address) error {
	for _, t := range tokens {
		if _, ok := s[t]; !ok {
			return errors.Wrapf(ErrTokenNotSafelisted, "%s", t.Hex())
		}
	}
	return nil
}

// GweiToWei 配置中的 gwei 浮点数转 wei
func GweiToWei(gwei float64) *big.Int {
	return decimal.NewFromFloat(gwei).Shift(9).BigInt()
}
