package marketdata

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pool = common.HexToAddress("0xA43fe16908251ee70EF74718545e4FE6C5cCEc9f")

func swapLog(addr common.Address, a0In, a1In, a0Out, a1Out int64) types.Log {
	data := make([]byte, 0, 128)
	for _, v := range []int64{a0In, a1In, a0Out, a1Out} {
		data = append(data, common.LeftPadBytes(big.NewInt(v).Bytes(), 32)...)
	}
	return types.Log{Address: addr, Topics: []common.Hash{SwapTopic}, Data: data}
}

type fakeFilterer struct {
	mu    sync.Mutex
	sink  chan<- types.Log
	subs  int
	ready chan struct{}
}

func (f *fakeFilterer) FilterLogs(context.Context, ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeFilterer) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	f.sink = ch
	f.subs++
	f.mu.Unlock()
	select {
	case f.ready <- struct{}{}:
	default:
	}
	return event.NewSubscription(func(quit <-chan struct{}) error {
		<-quit
		return nil
	}), nil
}

func TestIngest_BuildsOHLCV(t *testing.T) {
	c := newCollector(nil, Config{Pools: []common.Address{pool}, Interval: time.Minute, Buffer: 4})
	now := time.Date(2024, 5, 1, 10, 0, 5, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.ingest(swapLog(pool, 100, 0, 0, 200)) // 2
	c.ingest(swapLog(pool, 0, 300, 100, 0)) // 3
	c.ingest(swapLog(pool, 100, 0, 0, 150)) // 1.5
	c.ingest(swapLog(pool, 0, 0, 0, 0))     // 无效，忽略
	c.ingest(types.Log{Address: pool})      // 非 Swap，忽略

	_, ok := c.Poll()
	assert.False(t, ok, "周期未结束前没有收盘K线")

	now = now.Add(time.Minute)
	c.ingest(swapLog(pool, 10, 0, 0, 40)) // 新周期，上一根收盘

	candle, ok := c.Poll()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), candle.Start)
	assert.True(t, candle.Open.Equal(decimal.NewFromInt(2)))
	assert.True(t, candle.High.Equal(decimal.NewFromInt(3)))
	assert.True(t, candle.Low.Equal(decimal.NewFromFloat(1.5)))
	assert.True(t, candle.Close.Equal(decimal.NewFromFloat(1.5)))
	assert.True(t, candle.Volume.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, 3, candle.Trades)

	select {
	case <-c.Updated():
	default:
		t.Fatal("expected update signal")
	}

	now = now.Add(2 * time.Minute)
	c.flush(now)
	candle, ok = c.Poll()
	require.True(t, ok)
	assert.True(t, candle.Open.Equal(decimal.NewFromInt(4)))
}

func TestIngest_BufferFullDrops(t *testing.T) {
	c := newCollector(nil, Config{Pools: []common.Address{pool}, Interval: time.Minute, Buffer: 1})
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		c.ingest(swapLog(pool, 1, 0, 0, 1))
		now = now.Add(time.Minute)
	}
	c.flush(time.Time{})
	assert.Len(t, c.candles, 1)
}

func TestStart_StreamsUntilClose(t *testing.T) {
	ff := &fakeFilterer{ready: make(chan struct{}, 1)}
	c, err := Start(context.Background(), ff, Config{Pools: []common.Address{pool}, Interval: time.Hour})
	require.NoError(t, err)

	select {
	case <-ff.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("no subscription")
	}

	ff.mu.Lock()
	sink := ff.sink
	ff.mu.Unlock()
	sink <- swapLog(pool, 100, 0, 0, 250)

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.open[pool] != nil
	}, 5*time.Second, 10*time.Millisecond)

	c.Close()
	c.Close()

	candle, ok := <-c.Candles()
	require.True(t, ok, "Close 时收盘未完成的K线")
	assert.True(t, candle.Close.Equal(decimal.NewFromFloat(2.5)))

	_, ok = <-c.Candles()
	assert.False(t, ok)
}

func TestStart_RequiresPools(t *testing.T) {
	_, err := Start(context.Background(), &fakeFilterer{}, Config{})
	assert.Error(t, err)
}
