package connector

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/autotrader/internal/signer"
)

var (
	router = common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	weth   = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	pepe   = common.HexToAddress("0x6982508145454Ce325dDbE47a25d4ec3d2311933")
	rogue  = common.HexToAddress("0x000000000000000000000000000000000000dEaD")
)

type fakeBackend struct {
	mu      sync.Mutex
	amounts []*big.Int
	callErr error
	sendErr error
	calls   []ethereum.CallMsg
	sent    []*types.Transaction
	u       *UniswapV2
}

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.u.abi.Methods["getAmountsOut"].Outputs.Pack(f.amounts)
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func newTestConnector(t *testing.T) (*UniswapV2, *fakeBackend, *signer.MemoryKeystore) {
	t.Helper()
	pk, err := crypto.GenerateKey()
	require.NoError(t, err)
	ks, err := signer.NewMemoryKeystore([]signer.Key{{Alias: "hot", PrivateKey: pk, ChainID: 1}})
	require.NoError(t, err)

	backend := &fakeBackend{amounts: []*big.Int{big.NewInt(1000), big.NewInt(987654)}}
	u, err := NewUniswapV2(UniswapV2Config{
		Router:    router,
		Safelist:  NewSafelist([]string{weth.Hex(), pepe.Hex()}),
		GasLimit:  250000,
		GasTipCap: GweiToWei(1.5),
		GasFeeCap: GweiToWei(30),
	}, backend, ks)
	require.NoError(t, err)
	backend.u = u
	return u, backend, ks
}

func TestQuote(t *testing.T) {
	u, backend, _ := newTestConnector(t)

	out, err := u.Quote(context.Background(), weth, pepe, big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(987654), out)

	require.Len(t, backend.calls, 1)
	assert.Equal(t, router, *backend.calls[0].To)

	args, err := u.abi.Methods["getAmountsOut"].Inputs.Unpack(backend.calls[0].Data[4:])
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), args[0])
	assert.Equal(t, []common.Address{weth, pepe}, args[1])
}

func TestQuote_Safelist(t *testing.T) {
	u, backend, _ := newTestConnector(t)

	_, err := u.Quote(context.Background(), weth, rogue, big.NewInt(1))
	assert.True(t, errors.Is(err, ErrTokenNotSafelisted))
	_, err = u.Quote(context.Background(), rogue, pepe, big.NewInt(1))
	assert.True(t, errors.Is(err, ErrTokenNotSafelisted))
	assert.Empty(t, backend.calls, "白名单检查在任何 RPC 之前")
}

func TestQuote_BackendError(t *testing.T) {
	u, backend, _ := newTestConnector(t)
	backend.callErr = errors.New("rpc down")

	_, err := u.Quote(context.Background(), weth, pepe, big.NewInt(1))
	assert.Error(t, err)
}

func TestExecuteSwap(t *testing.T) {
	u, backend, ks := newTestConnector(t)

	params := SwapParams{
		Router:   router,
		TokenIn:  weth,
		TokenOut: pepe,
		AmountIn: big.NewInt(1000),
		MinOut:   big.NewInt(900),
		Deadline: big.NewInt(1_700_000_000),
	}
	hash, err := u.ExecuteSwap(context.Background(), "hot", params)
	require.NoError(t, err)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, tx.Hash(), hash)
	assert.Equal(t, router, *tx.To())
	assert.Equal(t, uint64(250000), tx.Gas())
	assert.Equal(t, big.NewInt(1_500_000_000), tx.GasTipCap())
	assert.Equal(t, big.NewInt(30_000_000_000), tx.GasFeeCap())

	method, err := u.abi.MethodById(tx.Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "swapExactTokensForTokens", method.Name)

	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	from, _ := ks.Address("hot")
	assert.Equal(t, big.NewInt(900), args[1])
	assert.Equal(t, from, args[3], "收款地址为签名钱包")

	hash2, err := u.ExecuteSwap(context.Background(), "hot", params)
	require.NoError(t, err)
	assert.NotEqual(t, hash, hash2)
	assert.Equal(t, uint64(1), backend.sent[1].Nonce())
}

func TestExecuteSwap_Rejects(t *testing.T) {
	u, backend, _ := newTestConnector(t)
	base := SwapParams{Router: router, TokenIn: weth, TokenOut: pepe, AmountIn: big.NewInt(1), MinOut: big.NewInt(1), Deadline: big.NewInt(1)}

	p := base
	p.TokenOut = rogue
	_, err := u.ExecuteSwap(context.Background(), "hot", p)
	assert.True(t, errors.Is(err, ErrTokenNotSafelisted))

	p = base
	p.Router = rogue
	_, err = u.ExecuteSwap(context.Background(), "hot", p)
	assert.True(t, errors.Is(err, ErrRouterNotSupported))

	_, err = u.ExecuteSwap(context.Background(), "cold", base)
	assert.True(t, errors.Is(err, signer.ErrUnknownAlias))

	backend.sendErr = errors.New("nonce too low")
	_, err = u.ExecuteSwap(context.Background(), "hot", base)
	assert.Error(t, err)
	assert.Empty(t, backend.sent)
}

func TestGweiToWei(t *testing.T) {
	assert.Equal(t, big.NewInt(1_500_000_000), GweiToWei(1.5))
	assert.Equal(t, big.NewInt(0), GweiToWei(0))
}
