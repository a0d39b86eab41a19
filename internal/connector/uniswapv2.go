package connector

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/autotrader/internal/signer"
)

// UniswapV2RouterABI 只包含用到的两个方法
const UniswapV2RouterABI = `[
  {"name":"getAmountsOut","type":"function","stateMutability":"view",
   "inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],
   "outputs":[{"name":"amounts","type":"uint256[]"}]},
  {"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},
             {"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],
   "outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

// Backend 链上访问，*ethclient.Client 满足该接口
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// UniswapV2Config 连接器参数。gas 参数为固定配置，不做估算。
type UniswapV2Config struct {
	Router     common.Address
	Safelist   Safelist
	GasLimit   uint64
	GasTipCap  *big.Int
	GasFeeCap  *big.Int
	RPCTimeout time.Duration
}

// UniswapV2 通过 Uniswap V2 路由报价和兑换。单次尝试，不重试。
type UniswapV2 struct {
	cfg      UniswapV2Config
	backend  Backend
	keystore signer.Keystore
	abi      abi.ABI
	log      *logrus.Entry
}

func NewUniswapV2(cfg UniswapV2Config, backend Backend, keystore signer.Keystore) (*UniswapV2, error) {
	parsed, err := abi.JSON(strings.NewReader(UniswapV2RouterABI))
	if err != nil {
		return nil, errors.Wrap(err, "parse router abi")
	}
	if cfg.RPCTimeout <= 0 {
		cfg.RPCTimeout = 15 * time.Second
	}
	return &UniswapV2{
		cfg:      cfg,
		backend:  backend,
		keystore: keystore,
		abi:      parsed,
		log:      logrus.WithFields(logrus.Fields{"component": "connector", "router": cfg.Router.Hex()}),
	}, nil
}

// Router 配置的路由地址
func (u *UniswapV2) Router() common.Address {
	return u.cfg.Router
}

// Quote getAmountsOut(amountIn, [tokenIn, tokenOut]) 的最后一项
func (u *UniswapV2) Quote(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int) (*big.Int, error) {
	if err := u.cfg.Safelist.Check(tokenIn, tokenOut); err != nil {
		return nil, err
	}

	data, err := u.abi.Pack("getAmountsOut", amountIn, []common.Address{tokenIn, tokenOut})
	if err != nil {
		return nil, errors.Wrap(err, "pack getAmountsOut")
	}

	ctx, cancel := context.WithTimeout(ctx, u.cfg.RPCTimeout)
	defer cancel()

	router := u.cfg.Router
	result, err := u.backend.CallContract(ctx, ethereum.CallMsg{To: &router, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "call getAmountsOut")
	}

	out, err := u.abi.Unpack("getAmountsOut", result)
	if err != nil {
		return nil, errors.Wrap(err, "unpack getAmountsOut")
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, errors.New("getAmountsOut returned no amounts")
	}
	quote := amounts[len(amounts)-1]
	u.log.WithFields(logrus.Fields{"token_in": tokenIn.Hex(), "token_out": tokenOut.Hex(), "amount_in": amountIn, "quote": quote}).Debug("报价完成")
	return quote, nil
}

// ExecuteSwap 构造 swapExactTokensForTokens，经 keystore 签名后广播，返回交易哈希
func (u *UniswapV2) ExecuteSwap(ctx context.Context, wallet string, params SwapParams) (common.Hash, error) {
	if err := u.cfg.Safelist.Check(params.TokenIn, params.TokenOut); err != nil {
		return common.Hash{}, err
	}
	if params.Router != u.cfg.Router {
		return common.Hash{}, errors.Wrapf(ErrRouterNotSupported, "%s", params.Router.Hex())
	}

	recipient, err := u.keystore.Address(wallet)
	if err != nil {
		return common.Hash{}, err
	}

	data, err := u.abi.Pack("swapExactTokensForTokens",
		params.AmountIn,
		params.MinOut,
		[]common.Address{params.TokenIn, params.TokenOut},
		recipient,
		params.Deadline,
	)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "pack swapExactTokensForTokens")
	}

	router := params.Router
	signed, err := u.keystore.Sign(ctx, wallet, signer.UnsignedTx{
		To:        &router,
		Data:      data,
		Gas:       u.cfg.GasLimit,
		GasTipCap: u.cfg.GasTipCap,
		GasFeeCap: u.cfg.GasFeeCap,
	})
	if err != nil {
		return common.Hash{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, u.cfg.RPCTimeout)
	defer cancel()

	if err := u.backend.SendTransaction(ctx, signed.Tx); err != nil {
		return common.Hash{}, errors.Wrapf(err, "send swap tx nonce %d", signed.Nonce)
	}

	hash := signed.Tx.Hash()
	u.log.WithFields(logrus.Fields{
		"wallet":  wallet,
		"nonce":   signed.Nonce,
		"tx_hash": hash.Hex(),
	}).Info("兑换交易已广播")
	return hash, nil
}
