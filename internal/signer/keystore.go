// Package signer 持有签名密钥，为每个地址分配严格递增的 nonce 并签名 EIP-1559 交易。
package signer

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownAlias 没有该 alias 的密钥
	ErrUnknownAlias = errors.New("key alias not found")
	// ErrSigningFailed 底层签名失败；已分配的 nonce 不回收
	ErrSigningFailed = errors.New("signing failed")
)

// DefaultChainID 密钥未指定链时使用
const DefaultChainID uint64 = 1

var log = logrus.WithField("component", "signer")

// Key 一个命名签名密钥
type Key struct {
	Alias      string
	PrivateKey *ecdsa.PrivateKey
	ChainID    uint64 // 0 表示 DefaultChainID
}

// UnsignedTx 调用方填写的交易内容；链 ID 和 nonce 由 keystore 决定
type UnsignedTx struct {
	To        *common.Address
	Value     *big.Int
	Data      []byte
	Gas       uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
}

// SignedTx 签名结果
type SignedTx struct {
	Tx      *types.Transaction
	From    common.Address
	Nonce   uint64
	ChainID uint64
}

// Keystore 签名能力
type Keystore interface {
	Sign(ctx context.Context, alias string, tx UnsignedTx) (*SignedTx, error)
	Address(alias string) (common.Address, error)
}

// TxSigner 底层签名函数，测试可替换
type TxSigner func(tx *types.Transaction, chainID *big.Int, key *ecdsa.PrivateKey) (*types.Transaction, error)

func defaultTxSigner(tx *types.Transaction, chainID *big.Int, key *ecdsa.PrivateKey) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}

type entry struct {
	key     Key
	address common.Address
}

// MemoryKeystore 内存密钥 + 进程内 nonce 表。
// 整张 nonce 表由一把锁保护，只覆盖“读-分配-递增”，签名在锁外进行。
type MemoryKeystore struct {
	keys     map[string]entry
	txSigner TxSigner

	mu     sync.Mutex
	nonces map[common.Address]uint64
}

// Option MemoryKeystore 选项
type Option func(*MemoryKeystore)

// WithTxSigner 替换底层签名函数
func WithTxSigner(fn TxSigner) Option {
	return func(m *MemoryKeystore) { m.txSigner = fn }
}

// NewMemoryKeystore 创建 keystore；alias 重复或密钥为空时报错
func NewMemoryKeystore(keys []Key, opts ...Option) (*MemoryKeystore, error) {
	m := &MemoryKeystore{
		keys:     make(map[string]entry, len(keys)),
		txSigner: defaultTxSigner,
		nonces:   make(map[common.Address]uint64),
	}
	for _, k := range keys {
		if k.Alias == "" || k.PrivateKey == nil {
			return nil, errors.Errorf("invalid key %q", k.Alias)
		}
		if _, dup := m.keys[k.Alias]; dup {
			return nil, errors.Errorf("duplicate key alias %q", k.Alias)
		}
		m.keys[k.Alias] = entry{key: k, address: crypto.PubkeyToAddress(k.PrivateKey.PublicKey)}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Aliases 已加载的 alias
func (m *MemoryKeystore) Aliases() []string {
	out := make([]string, 0, len(m.keys))
	for alias := range m.keys {
		out = append(out, alias)
	}
	return out
}

func (m *MemoryKeystore) lookup(alias string) (entry, error) {
	e, ok := m.keys[alias]
	if !ok {
		return entry{}, errors.Wrapf(ErrUnknownAlias, "%s", alias)
	}
	return e, nil
}

// Address alias 对应的地址
func (m *MemoryKeystore) Address(alias string) (common.Address, error) {
	e, err := m.lookup(alias)
	if err != nil {
		return common.Address{}, err
	}
	return e.address, nil
}

// Sign 分配 nonce 并签名。签名失败时 nonce 仍然视为已消耗。
func (m *MemoryKeystore) Sign(ctx context.Context, alias string, utx UnsignedTx) (*SignedTx, error) {
	e, err := m.lookup(alias)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chainID := e.key.ChainID
	if chainID == 0 {
		chainID = DefaultChainID
	}

	m.mu.Lock()
	nonce := m.nonces[e.address]
	m.nonces[e.address] = nonce + 1
	m.mu.Unlock()

	value := utx.Value
	if value == nil {
		value = new(big.Int)
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(chainID),
		Nonce:     nonce,
		GasTipCap: utx.GasTipCap,
		GasFeeCap: utx.GasFeeCap,
		Gas:       utx.Gas,
		To:        utx.To,
		Value:     value,
		Data:      utx.Data,
	})

	signed, err := m.txSigner(tx, new(big.Int).SetUint64(chainID), e.key.PrivateKey)
	if err != nil {
		log.WithFields(logrus.Fields{"alias": alias, "nonce": nonce}).Warnf("签名失败，nonce 不回收: %v", err)
		return nil, errors.Wrapf(ErrSigningFailed, "%s nonce %d: %v", alias, nonce, err)
	}

	log.WithFields(logrus.Fields{"alias": alias, "nonce": nonce, "chain_id": chainID}).Debug("已签名 EIP-1559 交易")
	return &SignedTx{Tx: signed, From: e.address, Nonce: nonce, ChainID: chainID}, nil
}

// NextNonce 下一次将分配给该地址的 nonce
func (m *MemoryKeystore) NextNonce(address common.Address) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonces[address]
}

// Seed 启动时由运维按链上状态对齐 nonce，不做自动对账
func (m *MemoryKeystore) Seed(address common.Address, nonce uint64) {
	m.mu.Lock()
	m.nonces[address] = nonce
	m.mu.Unlock()
	log.WithFields(logrus.Fields{"address": address.Hex(), "nonce": nonce}).Info("nonce 已对齐")
}
