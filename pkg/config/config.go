package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "TG_TRADER_EXEC_"

// RedisConfig 消息流（Redis Streams）配置
type RedisConfig struct {
	URL         string        // redis://host:port/db
	Stream      string        // 流名称
	Group       string        // 消费组名称
	Consumer    string        // 本进程消费者标识
	ReadCount   int64         // 单次最多读取条数
	ReadBlock   time.Duration // 阻塞读取超时
	ReadBackoff time.Duration // 读取失败后的退避时间
}

// KeystoreConfig 签名密钥来源配置
type KeystoreConfig struct {
	KeyDir     string            // 加密 JSON keyfile 目录（<alias>.json）
	Passphrase string            // keyfile 解密口令
	SecretDB   string            // badger 密钥库路径
	SecretKey  string            // badger 加密密钥（32字节 base64/hex）
	Mnemonic   string            // 助记词
	Accounts   map[string]string // alias -> 派生路径（配合 Mnemonic）
	HexKeys    map[string]string // alias -> 私钥 hex（仅开发环境）
	ChainID    uint64            // 默认链 ID，0 表示 1
}

// ConnectorConfig DEX 连接器配置
type ConnectorConfig struct {
	RPCURL        string
	Router        string
	QuoteToken    string            // 计价代币（买入时支付、卖出时收到）
	Decimals      int32             // 下单数量精度（默认）
	TokenDecimals map[string]int32  // 代币地址 -> 精度，覆盖 Decimals
	Safelist      []string          // 允许报价/交易的代币
	GasLimit      uint64            // 固定 gas 上限（不做估算）
	MaxFeeGwei    float64           // EIP-1559 maxFeePerGas
	TipGwei       float64           // EIP-1559 maxPriorityFeePerGas
	Deadline      time.Duration     // swap 截止时间窗口
	DefaultWallet string            // 默认签名 alias
	Wallets       map[string]string // principal -> alias
	RPCTimeout    time.Duration
}

// MarketDataConfig K线采集工具配置
type MarketDataConfig struct {
	RPCURL   string
	Pools    []string
	Interval time.Duration
	Buffer   int
}

// Config 应用配置
type Config struct {
	Redis             RedisConfig
	HTTPAddr          string        // 健康检查监听地址
	MetricsAddr       string        // 指标监听地址
	DryRun            bool          // 纸交易模式：只记录，不签名不广播
	TAServiceURL      string        // 指标服务地址
	TATimeout         time.Duration // 指标服务请求超时
	SignalsCacheTTL   time.Duration // 指标信号缓存时长，0 表示关闭
	DedupeTTL         time.Duration // 同一 intent id 的去重窗口
	JournalPath       string        // sqlite 执行日志路径，空表示关闭
	FilterSnapshotDir string        // 过滤器快照目录，空表示关闭
	LogLevel          string
	LogFile           string
	LogJSON           bool
	Keystore          KeystoreConfig
	Connector         ConnectorConfig
	MarketData        MarketDataConfig
}

// ConfigFile 配置文件结构（用于 YAML 解析）
type ConfigFile struct {
	Redis struct {
		URL         string        `yaml:"url"`
		Stream      string        `yaml:"stream"`
		Group       string        `yaml:"group"`
		Consumer    string        `yaml:"consumer"`
		ReadCount   int64         `yaml:"read_count"`
		ReadBlock   time.Duration `yaml:"read_block"`
		ReadBackoff time.Duration `yaml:"read_backoff"`
	} `yaml:"redis"`
	HTTPAddr          string        `yaml:"http_addr"`
	MetricsAddr       string        `yaml:"metrics_addr"`
	DryRun            *bool         `yaml:"dry_run"` // 指针：区分“未配置”和 false
	TAServiceURL      string        `yaml:"ta_service_url"`
	TATimeout         time.Duration `yaml:"ta_timeout"`
	SignalsCacheTTL   time.Duration `yaml:"signals_cache_ttl"`
	DedupeTTL         time.Duration `yaml:"dedupe_ttl"`
	JournalPath       string        `yaml:"journal_path"`
	FilterSnapshotDir string        `yaml:"filter_snapshot_dir"`
	LogLevel          string        `yaml:"log_level"`
	LogFile           string        `yaml:"log_file"`
	LogJSON           bool          `yaml:"log_json"`
	Keystore          struct {
		KeyDir     string            `yaml:"key_dir"`
		Passphrase string            `yaml:"passphrase"`
		SecretDB   string            `yaml:"secret_db"`
		SecretKey  string            `yaml:"secret_key"`
		Mnemonic   string            `yaml:"mnemonic"`
		Accounts   map[string]string `yaml:"accounts"`
		HexKeys    map[string]string `yaml:"hex_keys"`
		ChainID    uint64            `yaml:"chain_id"`
	} `yaml:"keystore"`
	Connector struct {
		RPCURL        string            `yaml:"rpc_url"`
		Router        string            `yaml:"router"`
		QuoteToken    string            `yaml:"quote_token"`
		Decimals      int32             `yaml:"decimals"`
		TokenDecimals map[string]int32  `yaml:"token_decimals"`
		Safelist      []string          `yaml:"safelist"`
		GasLimit      uint64            `yaml:"gas_limit"`
		MaxFeeGwei    float64           `yaml:"max_fee_gwei"`
		TipGwei       float64           `yaml:"tip_gwei"`
		Deadline      time.Duration     `yaml:"deadline"`
		DefaultWallet string            `yaml:"default_wallet"`
		Wallets       map[string]string `yaml:"wallets"`
		RPCTimeout    time.Duration     `yaml:"rpc_timeout"`
	} `yaml:"connector"`
	MarketData struct {
		RPCURL   string        `yaml:"rpc_url"`
		Pools    []string      `yaml:"pools"`
		Interval time.Duration `yaml:"interval"`
		Buffer   int           `yaml:"buffer"`
	} `yaml:"marketdata"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Redis: RedisConfig{
			URL:         "redis://127.0.0.1:6379",
			Stream:      "trade-intents",
			Group:       "exec",
			Consumer:    fmt.Sprintf("exec-%d", os.Getpid()),
			ReadCount:   1,
			ReadBlock:   5 * time.Second,
			ReadBackoff: time.Second,
		},
		HTTPAddr:     "0.0.0.0:8081",
		MetricsAddr:  "0.0.0.0:9101",
		DryRun:       true,
		TAServiceURL: "http://ta-service:9100",
		TATimeout:    5 * time.Second,
		DedupeTTL:    10 * time.Minute,
		LogLevel:     "info",
		Keystore: KeystoreConfig{
			Accounts: map[string]string{},
			HexKeys:  map[string]string{},
		},
		Connector: ConnectorConfig{
			Decimals:   18,
			GasLimit:   250000,
			MaxFeeGwei: 30,
			TipGwei:    1.5,
			Deadline:   2 * time.Minute,
			Wallets:    map[string]string{},
			RPCTimeout: 15 * time.Second,
		},
		MarketData: MarketDataConfig{
			Interval: time.Minute,
			Buffer:   1024,
		},
	}
}

// Load 加载配置：默认值 <- 配置文件 <- 环境变量（含 .env）
func Load(filePath string) (*Config, error) {
	// .env 不存在时直接使用真实环境变量
	_ = godotenv.Load()

	cfg := Default()
	if filePath != "" {
		cf, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		cfg.applyFile(cf)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// loadConfigFile 加载 YAML 配置文件
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(filePath))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("不支持的配置文件格式: %s", ext)
	}
	var cf ConfigFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("解析 YAML 失败: %w", err)
	}
	return &cf, nil
}

func (c *Config) applyFile(cf *ConfigFile) {
	c.Redis.URL = pickString(cf.Redis.URL, c.Redis.URL)
	c.Redis.Stream = pickString(cf.Redis.Stream, c.Redis.Stream)
	c.Redis.Group = pickString(cf.Redis.Group, c.Redis.Group)
	c.Redis.Consumer = pickString(cf.Redis.Consumer, c.Redis.Consumer)
	if cf.Redis.ReadCount > 0 {
		c.Redis.ReadCount = cf.Redis.ReadCount
	}
	c.Redis.ReadBlock = pickDuration(cf.Redis.ReadBlock, c.Redis.ReadBlock)
	c.Redis.ReadBackoff = pickDuration(cf.Redis.ReadBackoff, c.Redis.ReadBackoff)

	c.HTTPAddr = pickString(cf.HTTPAddr, c.HTTPAddr)
	c.MetricsAddr = pickString(cf.MetricsAddr, c.MetricsAddr)
	if cf.DryRun != nil {
		c.DryRun = *cf.DryRun
	}
	c.TAServiceURL = pickString(cf.TAServiceURL, c.TAServiceURL)
	c.TATimeout = pickDuration(cf.TATimeout, c.TATimeout)
	c.SignalsCacheTTL = pickDuration(cf.SignalsCacheTTL, c.SignalsCacheTTL)
	c.DedupeTTL = pickDuration(cf.DedupeTTL, c.DedupeTTL)
	c.JournalPath = pickString(cf.JournalPath, c.JournalPath)
	c.FilterSnapshotDir = pickString(cf.FilterSnapshotDir, c.FilterSnapshotDir)
	c.LogLevel = pickString(cf.LogLevel, c.LogLevel)
	c.LogFile = pickString(cf.LogFile, c.LogFile)
	c.LogJSON = c.LogJSON || cf.LogJSON

	ks := &c.Keystore
	ks.KeyDir = pickString(cf.Keystore.KeyDir, ks.KeyDir)
	ks.Passphrase = pickString(cf.Keystore.Passphrase, ks.Passphrase)
	ks.SecretDB = pickString(cf.Keystore.SecretDB, ks.SecretDB)
	ks.SecretKey = pickString(cf.Keystore.SecretKey, ks.SecretKey)
	ks.Mnemonic = pickString(cf.Keystore.Mnemonic, ks.Mnemonic)
	mergeMap(ks.Accounts, cf.Keystore.Accounts)
	mergeMap(ks.HexKeys, cf.Keystore.HexKeys)
	if cf.Keystore.ChainID > 0 {
		ks.ChainID = cf.Keystore.ChainID
	}

	cc := &c.Connector
	cc.RPCURL = pickString(cf.Connector.RPCURL, cc.RPCURL)
	cc.Router = pickString(cf.Connector.Router, cc.Router)
	cc.QuoteToken = pickString(cf.Connector.QuoteToken, cc.QuoteToken)
	if cf.Connector.Decimals > 0 {
		cc.Decimals = cf.Connector.Decimals
	}
	for token, dec := range cf.Connector.TokenDecimals {
		if cc.TokenDecimals == nil {
			cc.TokenDecimals = map[string]int32{}
		}
		cc.TokenDecimals[token] = dec
	}
	if len(cf.Connector.Safelist) > 0 {
		cc.Safelist = cf.Connector.Safelist
	}
	if cf.Connector.GasLimit > 0 {
		cc.GasLimit = cf.Connector.GasLimit
	}
	if cf.Connector.MaxFeeGwei > 0 {
		cc.MaxFeeGwei = cf.Connector.MaxFeeGwei
	}
	if cf.Connector.TipGwei > 0 {
		cc.TipGwei = cf.Connector.TipGwei
	}
	cc.Deadline = pickDuration(cf.Connector.Deadline, cc.Deadline)
	cc.DefaultWallet = pickString(cf.Connector.DefaultWallet, cc.DefaultWallet)
	mergeMap(cc.Wallets, cf.Connector.Wallets)
	cc.RPCTimeout = pickDuration(cf.Connector.RPCTimeout, cc.RPCTimeout)

	md := &c.MarketData
	md.RPCURL = pickString(cf.MarketData.RPCURL, md.RPCURL)
	if len(cf.MarketData.Pools) > 0 {
		md.Pools = cf.MarketData.Pools
	}
	md.Interval = pickDuration(cf.MarketData.Interval, md.Interval)
	if cf.MarketData.Buffer > 0 {
		md.Buffer = cf.MarketData.Buffer
	}
}

func (c *Config) applyEnv() {
	c.Redis.URL = getEnv("REDIS_URL", c.Redis.URL)
	c.Redis.Stream = getEnv("STREAM", c.Redis.Stream)
	c.Redis.Group = getEnv("GROUP", c.Redis.Group)
	c.Redis.Consumer = getEnv("CONSUMER", c.Redis.Consumer)
	c.Redis.ReadCount = int64(parseIntEnv("READ_COUNT", int(c.Redis.ReadCount)))
	c.Redis.ReadBlock = parseDurationEnv("READ_BLOCK", c.Redis.ReadBlock)
	c.Redis.ReadBackoff = parseDurationEnv("READ_BACKOFF", c.Redis.ReadBackoff)

	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.DryRun = parseBoolEnv("DRY_RUN", c.DryRun)
	c.TAServiceURL = getEnv("TA_SERVICE_URL", c.TAServiceURL)
	c.TATimeout = parseDurationEnv("TA_TIMEOUT", c.TATimeout)
	c.SignalsCacheTTL = parseDurationEnv("SIGNALS_CACHE_TTL", c.SignalsCacheTTL)
	c.DedupeTTL = parseDurationEnv("DEDUPE_TTL", c.DedupeTTL)
	c.JournalPath = getEnv("JOURNAL_PATH", c.JournalPath)
	c.FilterSnapshotDir = getEnv("FILTER_SNAPSHOT_DIR", c.FilterSnapshotDir)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.LogJSON = parseBoolEnv("LOG_JSON", c.LogJSON)

	ks := &c.Keystore
	ks.KeyDir = getEnv("KEYSTORE_DIR", ks.KeyDir)
	ks.Passphrase = getEnv("KEYSTORE_PASSPHRASE", ks.Passphrase)
	ks.SecretDB = getEnv("SECRET_DB", ks.SecretDB)
	ks.SecretKey = getEnv("SECRET_KEY", ks.SecretKey)
	ks.Mnemonic = getEnv("MNEMONIC", ks.Mnemonic)
	mergeMap(ks.Accounts, parsePairsEnv("ACCOUNTS"))
	mergeMap(ks.HexKeys, parsePairsEnv("HEX_KEYS"))
	ks.ChainID = uint64(parseIntEnv("CHAIN_ID", int(ks.ChainID)))

	cc := &c.Connector
	cc.RPCURL = getEnv("RPC_URL", cc.RPCURL)
	cc.Router = getEnv("ROUTER", cc.Router)
	cc.QuoteToken = getEnv("QUOTE_TOKEN", cc.QuoteToken)
	if list := parseListEnv("SAFELIST"); len(list) > 0 {
		cc.Safelist = list
	}
	cc.DefaultWallet = getEnv("DEFAULT_WALLET", cc.DefaultWallet)
	mergeMap(cc.Wallets, parsePairsEnv("WALLETS"))

	md := &c.MarketData
	md.RPCURL = getEnv("MARKETDATA_RPC_URL", md.RPCURL)
	if list := parseListEnv("MARKETDATA_POOLS"); len(list) > 0 {
		md.Pools = list
	}
	md.Interval = parseDurationEnv("MARKETDATA_INTERVAL", md.Interval)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Redis.Stream) == "" {
		return fmt.Errorf("stream 不能为空")
	}
	if strings.TrimSpace(c.Redis.Group) == "" {
		return fmt.Errorf("group 不能为空")
	}
	if strings.TrimSpace(c.Redis.Consumer) == "" {
		return fmt.Errorf("consumer 不能为空")
	}
	if c.Redis.ReadCount <= 0 {
		return fmt.Errorf("read_count 必须大于0")
	}
	// BLOCK 0 在 Redis 中表示无限阻塞
	if c.Redis.ReadBlock <= 0 {
		return fmt.Errorf("read_block 必须大于0")
	}
	if c.TATimeout <= 0 {
		return fmt.Errorf("ta_timeout 必须大于0")
	}
	for _, addr := range append([]string{c.Connector.Router, c.Connector.QuoteToken}, c.Connector.Safelist...) {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("无效的地址: %s", addr)
		}
	}
	for token, dec := range c.Connector.TokenDecimals {
		if !common.IsHexAddress(token) {
			return fmt.Errorf("无效的代币地址: %s", token)
		}
		if dec < 0 || dec > 36 {
			return fmt.Errorf("代币 %s 精度无效: %d", token, dec)
		}
	}
	for _, pool := range c.MarketData.Pools {
		if !common.IsHexAddress(pool) {
			return fmt.Errorf("无效的池子地址: %s", pool)
		}
	}
	return nil
}

// ConnectorEnabled 是否配置了链上连接器
func (c *Config) ConnectorEnabled() bool {
	return c.Connector.RPCURL != "" && c.Connector.Router != "" && c.Connector.QuoteToken != ""
}
