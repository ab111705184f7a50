package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// 集群名称 -> RPC 地址
var clusterURLs = map[string]string{
	"mainnet":      "https://api.mainnet-beta.solana.com",
	"mainnet-beta": "https://api.mainnet-beta.solana.com",
	"devnet":       "https://api.devnet.solana.com",
	"testnet":      "https://api.testnet.solana.com",
	"localnet":     "http://127.0.0.1:8899",
}

// 主网默认程序地址
const (
	defaultZoProgramID    = "Zo1ggzTUKMY5bYnDvT5mtVeZxzf2FaLTbKkmvGUhUQk"
	defaultDexProgramID   = "ZDx8a8jBqGmJyxi1whFxxCo5vG6Q9t4hTzW2GSixMKK"
	defaultSerumProgramID = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
)

// SolanaConfig 链连接配置
type SolanaConfig struct {
	Cluster           string  // 集群名称或 RPC URL
	RPCURL            string  // 解析后的 RPC 地址
	WSURL             string  // 可选，配置后用 signatureSubscribe 等待确认
	PayerKey          string  // 付款人密钥（64 字节 JSON 数组），优先级低于 PayerFile
	PayerFile         string  // 付款人密钥文件
	Commitment        string  // 默认 confirmed
	RequestsPerSecond float64 // RPC 限速，0 表示不限
	ConfirmTimeout    time.Duration
}

// ZoConfig 交易所程序配置
type ZoConfig struct {
	StateKey       solana.PublicKey
	ProgramID      solana.PublicKey
	DexProgramID   solana.PublicKey
	SerumProgramID solana.PublicKey
	// SwapMarkets 抵押品下标 -> Serum 市场
	SwapMarkets map[int]solana.PublicKey
	// SlippageBps 再平衡兑换与平仓单的滑点（基点）
	SlippageBps int
}

// KeeperConfig 扫描与清算参数
type KeeperConfig struct {
	WorkerCount       int
	WorkerIndex       int
	DBPath            string
	ScanInterval      time.Duration
	RefreshInterval   time.Duration
	RefreshRetryDelay time.Duration
	MaxSendAttempts   int
	MaxReductions     int
	BatchSize         int
	Concurrency       int
}

// SecretStoreConfig badger 密钥库（付款人密钥的第三个来源）
type SecretStoreConfig struct {
	Path          string
	EncryptionKey string // base64/hex 32 字节
	KeyName       string
}

// Config 应用配置
type Config struct {
	Solana      SolanaConfig
	Zo          ZoConfig
	Keeper      KeeperConfig
	SecretStore SecretStoreConfig
	LogLevel    string
	LogFormat   string // text 或 json
	LogFile     string
	MetricsAddr string // 为空则不启动 metrics 服务
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	Solana struct {
		Cluster           string  `yaml:"cluster" json:"cluster"`
		WSURL             string  `yaml:"ws_url" json:"ws_url"`
		PayerFile         string  `yaml:"payer_file" json:"payer_file"`
		Commitment        string  `yaml:"commitment" json:"commitment"`
		RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
		ConfirmTimeoutSec int     `yaml:"confirm_timeout_seconds" json:"confirm_timeout_seconds"`
	} `yaml:"solana" json:"solana"`
	Zo struct {
		State          string         `yaml:"state" json:"state"`
		ProgramID      string         `yaml:"program_id" json:"program_id"`
		DexProgramID   string         `yaml:"dex_program_id" json:"dex_program_id"`
		SerumProgramID string         `yaml:"serum_program_id" json:"serum_program_id"`
		SwapMarkets    map[int]string `yaml:"swap_markets" json:"swap_markets"` // 抵押品下标 -> Serum 市场地址
		SlippageBps    int            `yaml:"slippage_bps" json:"slippage_bps"`
	} `yaml:"zo" json:"zo"`
	Keeper struct {
		WorkerCount          int    `yaml:"worker_count" json:"worker_count"`
		WorkerIndex          int    `yaml:"worker_index" json:"worker_index"`
		DBPath               string `yaml:"db_path" json:"db_path"`
		ScanIntervalMs       int    `yaml:"scan_interval_ms" json:"scan_interval_ms"`
		RefreshIntervalSec   int    `yaml:"refresh_interval_seconds" json:"refresh_interval_seconds"`
		RefreshRetryDelaySec int    `yaml:"refresh_retry_delay_seconds" json:"refresh_retry_delay_seconds"`
		MaxSendAttempts      int    `yaml:"max_send_attempts" json:"max_send_attempts"`
		MaxReductions        int    `yaml:"max_reductions" json:"max_reductions"`
		BatchSize            int    `yaml:"batch_size" json:"batch_size"`
		Concurrency          int    `yaml:"concurrency" json:"concurrency"`
	} `yaml:"keeper" json:"keeper"`
	SecretStore struct {
		Path          string `yaml:"path" json:"path"`
		EncryptionKey string `yaml:"encryption_key" json:"encryption_key"`
		KeyName       string `yaml:"key_name" json:"key_name"`
	} `yaml:"secret_store" json:"secret_store"`
	LogLevel    string `yaml:"log_level" json:"log_level"`
	LogFormat   string `yaml:"log_format" json:"log_format"`
	LogFile     string `yaml:"log_file" json:"log_file"`
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
}

// LoadFromFile 从指定文件加载配置（filePath 为空时只使用环境变量与默认值）。
// 优先级：环境变量 > 配置文件 > 默认值
func LoadFromFile(filePath string) (*Config, error) {
	cf := &ConfigFile{}
	if filePath != "" {
		var err error
		cf, err = loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	}

	cluster := getEnv("SOLANA_CLUSTER", orString(cf.Solana.Cluster, "mainnet"))
	c := &Config{
		Solana: SolanaConfig{
			Cluster:           cluster,
			RPCURL:            ResolveCluster(cluster),
			WSURL:             getEnv("SOLANA_WS_URL", cf.Solana.WSURL),
			PayerKey:          getEnv("SOLANA_PAYER_KEY", ""),
			PayerFile:         getEnv("SOLANA_PAYER_FILE", cf.Solana.PayerFile),
			Commitment:        getEnv("SOLANA_COMMITMENT", orString(cf.Solana.Commitment, "confirmed")),
			RequestsPerSecond: parseFloatEnv("SOLANA_RPS", cf.Solana.RequestsPerSecond),
			ConfirmTimeout:    time.Duration(parseIntEnv("SOLANA_CONFIRM_TIMEOUT_SECONDS", orInt(cf.Solana.ConfirmTimeoutSec, 30))) * time.Second,
		},
		Zo: ZoConfig{
			SlippageBps: parseIntEnv("ZO_SLIPPAGE_BPS", orInt(cf.Zo.SlippageBps, 100)),
		},
		Keeper: KeeperConfig{
			WorkerCount:       parseIntEnv("KEEPER_WORKER_COUNT", orInt(cf.Keeper.WorkerCount, 1)),
			WorkerIndex:       parseIntEnv("KEEPER_WORKER_INDEX", cf.Keeper.WorkerIndex),
			DBPath:            getEnv("KEEPER_DB_PATH", orString(cf.Keeper.DBPath, "data/keeper.db")),
			ScanInterval:      time.Duration(parseIntEnv("KEEPER_SCAN_INTERVAL_MS", orInt(cf.Keeper.ScanIntervalMs, 250))) * time.Millisecond,
			RefreshInterval:   time.Duration(parseIntEnv("KEEPER_REFRESH_INTERVAL_SECONDS", orInt(cf.Keeper.RefreshIntervalSec, 6000))) * time.Second,
			RefreshRetryDelay: time.Duration(parseIntEnv("KEEPER_REFRESH_RETRY_DELAY_SECONDS", orInt(cf.Keeper.RefreshRetryDelaySec, 30))) * time.Second,
			MaxSendAttempts:   parseIntEnv("KEEPER_MAX_SEND_ATTEMPTS", orInt(cf.Keeper.MaxSendAttempts, 5)),
			MaxReductions:     parseIntEnv("KEEPER_MAX_REDUCTIONS", orInt(cf.Keeper.MaxReductions, 5)),
			BatchSize:         parseIntEnv("KEEPER_BATCH_SIZE", orInt(cf.Keeper.BatchSize, 50)),
			Concurrency:       parseIntEnv("KEEPER_CONCURRENCY", orInt(cf.Keeper.Concurrency, 4)),
		},
		SecretStore: SecretStoreConfig{
			Path:          getEnv("SECRET_STORE_PATH", cf.SecretStore.Path),
			EncryptionKey: getEnv("SECRET_STORE_KEY", cf.SecretStore.EncryptionKey),
			KeyName:       getEnv("SECRET_STORE_KEY_NAME", orString(cf.SecretStore.KeyName, "payer")),
		},
		LogLevel:    getEnv("LOG_LEVEL", orString(cf.LogLevel, "info")),
		LogFormat:   getEnv("LOG_FORMAT", orString(cf.LogFormat, "text")),
		LogFile:     getEnv("LOG_FILE", cf.LogFile),
		MetricsAddr: getEnv("METRICS_ADDR", cf.MetricsAddr),
	}

	var err error
	if c.Zo.StateKey, err = parseKey("ZO_STATE_PUBKEY", getEnv("ZO_STATE_PUBKEY", cf.Zo.State), ""); err != nil {
		return nil, err
	}
	if c.Zo.ProgramID, err = parseKey("ZO_PROGRAM_ID", getEnv("ZO_PROGRAM_ID", cf.Zo.ProgramID), defaultZoProgramID); err != nil {
		return nil, err
	}
	if c.Zo.DexProgramID, err = parseKey("ZO_DEX_PROGRAM_ID", getEnv("ZO_DEX_PROGRAM_ID", cf.Zo.DexProgramID), defaultDexProgramID); err != nil {
		return nil, err
	}
	if c.Zo.SerumProgramID, err = parseKey("SERUM_DEX_PROGRAM_ID", getEnv("SERUM_DEX_PROGRAM_ID", cf.Zo.SerumProgramID), defaultSerumProgramID); err != nil {
		return nil, err
	}
	if c.Zo.SwapMarkets, err = parseSwapMarkets(cf.Zo.SwapMarkets); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return c, nil
}

// ResolveCluster 集群名称映射为 RPC 地址，其他值原样作为 URL
func ResolveCluster(cluster string) string {
	if u, ok := clusterURLs[strings.ToLower(strings.TrimSpace(cluster))]; ok {
		return u
	}
	return strings.TrimSpace(cluster)
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Solana.RPCURL == "" {
		return fmt.Errorf("SOLANA_CLUSTER 未配置")
	}
	if !strings.HasPrefix(c.Solana.RPCURL, "http://") && !strings.HasPrefix(c.Solana.RPCURL, "https://") {
		return fmt.Errorf("无效的 RPC 地址: %s", c.Solana.RPCURL)
	}
	switch c.Solana.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("无效的 commitment: %s", c.Solana.Commitment)
	}
	if c.Zo.StateKey.IsZero() {
		return fmt.Errorf("ZO_STATE_PUBKEY 未配置")
	}
	if c.Zo.SlippageBps < 0 || c.Zo.SlippageBps >= 10000 {
		return fmt.Errorf("slippage_bps 必须在 [0, 10000) 范围内: %d", c.Zo.SlippageBps)
	}
	if c.Keeper.WorkerCount <= 0 {
		return fmt.Errorf("worker_count 必须大于 0: %d", c.Keeper.WorkerCount)
	}
	if c.Keeper.WorkerIndex < 0 || c.Keeper.WorkerIndex >= c.Keeper.WorkerCount {
		return fmt.Errorf("worker_index 必须在 [0, %d) 范围内: %d", c.Keeper.WorkerCount, c.Keeper.WorkerIndex)
	}
	if c.Keeper.DBPath == "" {
		return fmt.Errorf("KEEPER_DB_PATH 未配置")
	}
	if c.Keeper.ScanInterval <= 0 || c.Keeper.RefreshInterval <= 0 || c.Keeper.RefreshRetryDelay <= 0 {
		return fmt.Errorf("扫描与刷新间隔必须大于 0")
	}
	if c.Keeper.MaxSendAttempts <= 0 {
		return fmt.Errorf("max_send_attempts 必须大于 0")
	}
	if c.Keeper.MaxReductions < 0 {
		return fmt.Errorf("max_reductions 不能为负数")
	}
	if c.Keeper.BatchSize <= 0 || c.Keeper.BatchSize > 100 {
		return fmt.Errorf("batch_size 必须在 (0, 100] 范围内: %d", c.Keeper.BatchSize)
	}
	for idx := range c.Zo.SwapMarkets {
		if idx <= 0 {
			return fmt.Errorf("swap_markets 下标必须大于 0（下标 0 为报价资产）: %d", idx)
		}
	}
	return nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	ext := strings.ToLower(filepath.Ext(filePath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}

	return &configFile, nil
}

func parseKey(name, value, def string) (solana.PublicKey, error) {
	value = orString(strings.TrimSpace(value), def)
	if value == "" {
		return solana.PublicKey{}, nil
	}
	k, err := solana.PublicKeyFromBase58(value)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%s 无效: %w", name, err)
	}
	return k, nil
}

func parseSwapMarkets(raw map[int]string) (map[int]solana.PublicKey, error) {
	out := make(map[int]solana.PublicKey, len(raw))
	for idx, v := range raw {
		k, err := parseKey(fmt.Sprintf("swap_markets[%d]", idx), v, "")
		if err != nil {
			return nil, err
		}
		if !k.IsZero() {
			out[idx] = k
		}
	}
	return out, nil
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseFloatEnv 解析浮点数环境变量
func parseFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}
