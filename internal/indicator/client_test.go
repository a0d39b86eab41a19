package indicator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTAServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/indicators/rsi/PEPE/5m", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":27.5}`))
	})
	mux.HandleFunc("/v1/indicators/macd/PEPE/5m", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"macd":1.5,"signal":1.2,"histogram":0.3}`))
	})
	mux.HandleFunc("/v1/indicators/signals/PEPE/5m", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signals":{"rsi":27.5,"macd":1.5}}`))
	})
	mux.HandleFunc("/v1/indicators/signals/DOWN/5m", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_RSIAndMACD(t *testing.T) {
	var hits int32
	srv := newTAServer(t, &hits)
	c := NewClient(srv.URL+"/", Options{Timeout: time.Second})
	defer c.Close()

	rsi, err := c.RSI(context.Background(), "PEPE", "5m")
	require.NoError(t, err)
	assert.Equal(t, 27.5, rsi)

	macd, err := c.MACD(context.Background(), "PEPE", "5m")
	require.NoError(t, err)
	assert.Equal(t, MACDResponse{MACD: 1.5, Signal: 1.2, Histogram: 0.3}, macd)
}

func TestClient_Signals(t *testing.T) {
	var hits int32
	srv := newTAServer(t, &hits)
	c := NewClient(srv.URL, Options{Timeout: time.Second})
	defer c.Close()

	signals, err := c.Signals(context.Background(), "PEPE", "5m")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"rsi": 27.5, "macd": 1.5}, signals)

	_, err = c.Signals(context.Background(), "PEPE", "5m")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits), "未开启缓存时每次都请求")
}

func TestClient_SignalsCached(t *testing.T) {
	var hits int32
	srv := newTAServer(t, &hits)
	c := NewClient(srv.URL, Options{Timeout: time.Second, CacheTTL: time.Minute})
	defer c.Close()

	for i := 0; i < 3; i++ {
		_, err := c.Signals(context.Background(), "PEPE", "5m")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestClient_ErrorStatus(t *testing.T) {
	var hits int32
	srv := newTAServer(t, &hits)
	c := NewClient(srv.URL, Options{Timeout: time.Second})
	defer c.Close()

	_, err := c.Signals(context.Background(), "DOWN", "5m")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStatus))

	_, err = c.RSI(context.Background(), "NOPE", "1m")
	assert.True(t, errors.Is(err, ErrStatus), "404 也是错误")
}

func TestClient_NonSuccessStatus(t *testing.T) {
	for _, code := range []int{http.StatusMultipleChoices, http.StatusFound, http.StatusNotModified} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(code)
			_, _ = w.Write([]byte(`{"signals":{"rsi":10},"value":10}`))
		}))
		c := NewClient(srv.URL, Options{Timeout: time.Second})

		signals, err := c.Signals(context.Background(), "PEPE", "5m")
		assert.True(t, errors.Is(err, ErrStatus), "status %d: %v", code, err)
		assert.Nil(t, signals)

		_, err = c.RSI(context.Background(), "PEPE", "5m")
		assert.True(t, errors.Is(err, ErrStatus), "status %d: %v", code, err)

		c.Close()
		srv.Close()
	}
}

func TestClient_Unreachable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", Options{Timeout: 200 * time.Millisecond})
	defer c.Close()

	_, err := c.Signals(context.Background(), "PEPE", "1m")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrStatus))
}
