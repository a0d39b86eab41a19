package signer

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/autotrader/pkg/config"
	"github.com/betbot/autotrader/pkg/secretstore"
)

const testMnemonic = "tag volcano eight thank tide danger coast health above argue embrace heavy"

func TestLoadKeyDir(t *testing.T) {
	dir := t.TempDir()
	pk, err := crypto.GenerateKey()
	require.NoError(t, err)

	key := &keystore.Key{
		Id:         uuid.New(),
		Address:    crypto.PubkeyToAddress(pk.PublicKey),
		PrivateKey: pk,
	}
	blob, err := keystore.EncryptKey(key, "secret", keystore.LightScryptN, keystore.LightScryptP)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hot.json"), blob, 0o600))

	keys, err := LoadKeyDir(dir, "secret", 10)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "hot", keys[0].Alias)
	assert.Equal(t, uint64(10), keys[0].ChainID)
	assert.Equal(t, key.Address, crypto.PubkeyToAddress(keys[0].PrivateKey.PublicKey))

	_, err = LoadKeyDir(dir, "wrong", 10)
	assert.Error(t, err)
}

func TestDeriveMnemonic(t *testing.T) {
	keys, err := DeriveMnemonic(testMnemonic, map[string]string{
		"first":  "m/44'/60'/0'/0/0",
		"second": "m/44'/60'/0'/0/1",
	}, 1)
	require.NoError(t, err)
	require.Len(t, keys, 2)

	assert.Equal(t, "first", keys[0].Alias)
	assert.Equal(t, "0xC49926C4124cEe1cbA0Ea94Ea31a6c12318df947", crypto.PubkeyToAddress(keys[0].PrivateKey.PublicKey).Hex())
	assert.Equal(t, "0x8230645aC28A4EdD1b0B53E7Cd8019744E9dD559", crypto.PubkeyToAddress(keys[1].PrivateKey.PublicKey).Hex())

	_, err = DeriveMnemonic("", map[string]string{"a": "m/44'/60'/0'/0/0"}, 1)
	assert.Error(t, err)
	_, err = DeriveMnemonic(testMnemonic, map[string]string{"a": "not-a-path"}, 1)
	assert.Error(t, err)
}

func TestLoadSecretStore(t *testing.T) {
	store, err := secretstore.Open(secretstore.OpenOptions{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	pk, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, store.SetString(SecretKeyPrefix+"hot", "0x"+hex.EncodeToString(crypto.FromECDSA(pk))))
	require.NoError(t, store.SetString("other/ignored", "x"))

	keys, err := LoadSecretStore(store, 137)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "hot", keys[0].Alias)
	assert.Equal(t, crypto.PubkeyToAddress(pk.PublicKey), crypto.PubkeyToAddress(keys[0].PrivateKey.PublicKey))
}

func TestLoadKeys_Combined(t *testing.T) {
	pk, err := crypto.GenerateKey()
	require.NoError(t, err)

	keys, err := LoadKeys(config.KeystoreConfig{
		Mnemonic: testMnemonic,
		Accounts: map[string]string{"derived": "m/44'/60'/0'/0/0"},
		HexKeys:  map[string]string{"inline": hex.EncodeToString(crypto.FromECDSA(pk))},
		ChainID:  5,
	})
	require.NoError(t, err)
	require.Len(t, keys, 2)

	ks, err := NewMemoryKeystore(keys)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"derived", "inline"}, ks.Aliases())

	_, err = ParseHexKeys(map[string]string{"bad": "zz"}, 1)
	assert.Error(t, err)
}
