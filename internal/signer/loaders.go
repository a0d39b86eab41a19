package signer

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/pkg/errors"

	"github.com/betbot/autotrader/pkg/config"
	"github.com/betbot/autotrader/pkg/secretstore"
)

// SecretKeyPrefix secretstore 中私钥的 key 前缀：keys/<alias>
const SecretKeyPrefix = "keys/"

// LoadKeyDir 读取目录下的加密 keyfile，文件名 <alias>.json
func LoadKeyDir(dir, passphrase string, chainID uint64) ([]Key, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, errors.Wrapf(err, "scan key dir %s", dir)
	}
	sort.Strings(paths)

	keys := make([]Key, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read keyfile %s", path)
		}
		k, err := keystore.DecryptKey(data, passphrase)
		if err != nil {
			return nil, errors.Wrapf(err, "decrypt keyfile %s", path)
		}
		alias := strings.TrimSuffix(filepath.Base(path), ".json")
		keys = append(keys, Key{Alias: alias, PrivateKey: k.PrivateKey, ChainID: chainID})
	}
	return keys, nil
}

// LoadSecretStore 读取 secretstore 中 keys/<alias> 下的 hex 私钥
func LoadSecretStore(store *secretstore.Store, chainID uint64) ([]Key, error) {
	raw, err := store.Scan(SecretKeyPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "scan secret store")
	}
	return ParseHexKeys(raw, chainID)
}

// ParseHexKeys alias -> hex 私钥（可带 0x）
func ParseHexKeys(hexKeys map[string]string, chainID uint64) ([]Key, error) {
	aliases := make([]string, 0, len(hexKeys))
	for alias := range hexKeys {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	keys := make([]Key, 0, len(aliases))
	for _, alias := range aliases {
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKeys[alias]), "0x"))
		if err != nil {
			return nil, errors.Wrapf(err, "parse private key %q", alias)
		}
		keys = append(keys, Key{Alias: alias, PrivateKey: pk, ChainID: chainID})
	}
	return keys, nil
}

// DeriveMnemonic 按 alias -> 派生路径 从助记词派生密钥
func DeriveMnemonic(mnemonic string, accounts map[string]string, chainID uint64) ([]Key, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	if mnemonic == "" {
		return nil, errors.New("mnemonic is required")
	}
	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, errors.Wrap(err, "invalid mnemonic")
	}

	aliases := make([]string, 0, len(accounts))
	for alias := range accounts {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	keys := make([]Key, 0, len(aliases))
	for _, alias := range aliases {
		path, err := hdwallet.ParseDerivationPath(strings.TrimSpace(accounts[alias]))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid derivation path for %q", alias)
		}
		acct, err := w.Derive(path, false)
		if err != nil {
			return nil, errors.Wrapf(err, "derive %q", alias)
		}
		pk, err := w.PrivateKey(acct)
		if err != nil {
			return nil, errors.Wrapf(err, "private key %q", alias)
		}
		keys = append(keys, Key{Alias: alias, PrivateKey: pk, ChainID: chainID})
	}
	return keys, nil
}

// LoadKeys 汇总配置中的所有密钥来源
func LoadKeys(cfg config.KeystoreConfig) ([]Key, error) {
	var all []Key

	if cfg.KeyDir != "" {
		keys, err := LoadKeyDir(cfg.KeyDir, cfg.Passphrase, cfg.ChainID)
		if err != nil {
			return nil, err
		}
		all = append(all, keys...)
	}

	if cfg.SecretDB != "" {
		encKey, err := secretstore.ParseKey(cfg.SecretKey)
		if err != nil {
			return nil, errors.Wrap(err, "parse secret db key")
		}
		store, err := secretstore.Open(secretstore.OpenOptions{Path: cfg.SecretDB, EncryptionKey: encKey, ReadOnly: true})
		if err != nil {
			return nil, errors.Wrapf(err, "open secret db %s", cfg.SecretDB)
		}
		keys, err := LoadSecretStore(store, cfg.ChainID)
		_ = store.Close()
		if err != nil {
			return nil, err
		}
		all = append(all, keys...)
	}

	if cfg.Mnemonic != "" && len(cfg.Accounts) > 0 {
		keys, err := DeriveMnemonic(cfg.Mnemonic, cfg.Accounts, cfg.ChainID)
		if err != nil {
			return nil, err
		}
		all = append(all, keys...)
	}

	if len(cfg.HexKeys) > 0 {
		keys, err := ParseHexKeys(cfg.HexKeys, cfg.ChainID)
		if err != nil {
			return nil, err
		}
		all = append(all, keys...)
	}

	log.Infof("已加载 %d 个签名密钥", len(all))
	return all, nil
}
