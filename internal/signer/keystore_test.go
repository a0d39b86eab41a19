package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sort"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustKey(t *testing.T, alias string, chainID uint64) Key {
	t.Helper()
	pk, err := crypto.GenerateKey()
	require.NoError(t, err)
	return Key{Alias: alias, PrivateKey: pk, ChainID: chainID}
}

func sampleTx() UnsignedTx {
	to := common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	return UnsignedTx{
		To:        &to,
		Data:      []byte{0x01, 0x02},
		Gas:       21000,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(30_000_000_000),
	}
}

func TestSign_ConcurrentNoncesAreContiguous(t *testing.T) {
	ks, err := NewMemoryKeystore([]Key{mustKey(t, "hot", 137)})
	require.NoError(t, err)

	const n = 64
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		nonces []uint64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			signed, err := ks.Sign(context.Background(), "hot", sampleTx())
			assert.NoError(t, err)
			if signed == nil {
				return
			}
			mu.Lock()
			nonces = append(nonces, signed.Nonce)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, nonces, n)
	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	for i, nonce := range nonces {
		assert.Equal(t, uint64(i), nonce, "nonce 必须连续且不重复")
	}

	addr, err := ks.Address("hot")
	require.NoError(t, err)
	assert.Equal(t, uint64(n), ks.NextNonce(addr))
}

func TestSign_ProducesRecoverableDynamicFeeTx(t *testing.T) {
	key := mustKey(t, "hot", 137)
	ks, err := NewMemoryKeystore([]Key{key})
	require.NoError(t, err)

	signed, err := ks.Sign(context.Background(), "hot", sampleTx())
	require.NoError(t, err)

	assert.Equal(t, uint8(types.DynamicFeeTxType), signed.Tx.Type())
	assert.Equal(t, big.NewInt(137), signed.Tx.ChainId())
	assert.Equal(t, uint64(0), signed.Tx.Nonce())

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(137)), signed.Tx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PrivateKey.PublicKey), from)
	assert.Equal(t, from, signed.From)
}

func TestSign_DefaultChainID(t *testing.T) {
	ks, err := NewMemoryKeystore([]Key{mustKey(t, "hot", 0)})
	require.NoError(t, err)

	signed, err := ks.Sign(context.Background(), "hot", sampleTx())
	require.NoError(t, err)
	assert.Equal(t, DefaultChainID, signed.ChainID)
	assert.Equal(t, big.NewInt(1), signed.Tx.ChainId())
}

func TestSign_UnknownAlias(t *testing.T) {
	ks, err := NewMemoryKeystore([]Key{mustKey(t, "hot", 1)})
	require.NoError(t, err)

	_, err = ks.Sign(context.Background(), "cold", sampleTx())
	assert.True(t, errors.Is(err, ErrUnknownAlias))
	_, err = ks.Address("cold")
	assert.True(t, errors.Is(err, ErrUnknownAlias))
}

func TestSign_FailureConsumesNonce(t *testing.T) {
	fail := true
	ks, err := NewMemoryKeystore([]Key{mustKey(t, "hot", 1)}, WithTxSigner(
		func(tx *types.Transaction, chainID *big.Int, key *ecdsa.PrivateKey) (*types.Transaction, error) {
			if fail {
				return nil, errors.New("hsm unavailable")
			}
			return defaultTxSigner(tx, chainID, key)
		}))
	require.NoError(t, err)

	_, err = ks.Sign(context.Background(), "hot", sampleTx())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSigningFailed))

	fail = false
	signed, err := ks.Sign(context.Background(), "hot", sampleTx())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), signed.Nonce, "失败的签名不回收 nonce")
}

func TestSeed(t *testing.T) {
	ks, err := NewMemoryKeystore([]Key{mustKey(t, "hot", 1)})
	require.NoError(t, err)
	addr, _ := ks.Address("hot")

	ks.Seed(addr, 42)
	signed, err := ks.Sign(context.Background(), "hot", sampleTx())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), signed.Nonce)
	assert.Equal(t, uint64(43), ks.NextNonce(addr))
}

func TestNewMemoryKeystore_Rejects(t *testing.T) {
	k := mustKey(t, "hot", 1)
	_, err := NewMemoryKeystore([]Key{k, k})
	assert.Error(t, err)

	_, err = NewMemoryKeystore([]Key{{Alias: "empty"}})
	assert.Error(t, err)
}

func TestNoncesAreIndependentPerAddress(t *testing.T) {
	ks, err := NewMemoryKeystore([]Key{mustKey(t, "a", 1), mustKey(t, "b", 1)})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := ks.Sign(context.Background(), "a", sampleTx())
		require.NoError(t, err)
	}
	signed, err := ks.Sign(context.Background(), "b", sampleTx())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), signed.Nonce)
}
