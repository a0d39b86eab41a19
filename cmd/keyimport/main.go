package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"

	"github.com/betbot/autotrader/internal/signer"
	"github.com/betbot/autotrader/pkg/config"
	"github.com/betbot/autotrader/pkg/secretstore"
)

// 从 .env 风格文件（ALIAS=hex私钥）导入签名密钥到 badger 密钥库，
// 执行服务通过 keystore.secret_db 读取。
func main() {
	var (
		inPath    = flag.String("in", "keys.env", "输入文件，每行 alias=私钥hex")
		dbPath    = flag.String("badger", getenv(config.EnvPrefix+"SECRET_DB", "data/secrets.badger"), "badger 密钥库路径")
		secretKey = flag.String("secret-key", getenv(config.EnvPrefix+"SECRET_KEY", ""), "badger 加密密钥（32字节 base64/hex）")
		list      = flag.Bool("list", false, "只列出已导入的 alias 和地址")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("secret key is required: set %sSECRET_KEY or pass -secret-key", config.EnvPrefix))
	}

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
		ReadOnly:      *list,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	if *list {
		keys, err := signer.LoadSecretStore(ss, 0)
		if err != nil {
			fatal(err)
		}
		for _, k := range keys {
			fmt.Printf("%s\t%s\n", k.Alias, crypto.PubkeyToAddress(k.PrivateKey.PublicKey).Hex())
		}
		return
	}

	kv, err := godotenv.Read(*inPath)
	if err != nil {
		fatal(err)
	}

	// 先全部校验，避免导入一半
	parsed, err := signer.ParseHexKeys(kv, 0)
	if err != nil {
		fatal(err)
	}
	for _, k := range parsed {
		if err := ss.SetString(signer.SecretKeyPrefix+k.Alias, kv[k.Alias]); err != nil {
			fatal(err)
		}
		fmt.Fprintf(os.Stderr, "%s -> %s\n", k.Alias, crypto.PubkeyToAddress(k.PrivateKey.PublicKey).Hex())
	}

	fmt.Fprintf(os.Stderr, "已导入 %d 个密钥到 badger：%s（前缀 %s）\n", len(parsed), *dbPath, signer.SecretKeyPrefix)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
