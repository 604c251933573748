package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config 应用配置结构
type Config struct {
	Chain        ChainConfig        `mapstructure:"chain" yaml:"chain"`
	Routers      RoutersConfig      `mapstructure:"routers" yaml:"routers"`
	Trading      TradingConfig      `mapstructure:"trading" yaml:"trading"`
	Storage      StorageConfig      `mapstructure:"storage" yaml:"storage"`
	Redis        RedisConfig        `mapstructure:"redis" yaml:"redis"`
	Oracle       OracleConfig       `mapstructure:"oracle" yaml:"oracle"`
	Notification NotificationConfig `mapstructure:"notification" yaml:"notification"`
	System       SystemConfig       `mapstructure:"system" yaml:"system"`
}

// ChainConfig 链配置
type ChainConfig struct {
	RPCURL         string `mapstructure:"rpc_url" yaml:"rpc_url"`
	ChainID        int64  `mapstructure:"chain_id" yaml:"chain_id"`
	PrivateKey     string `mapstructure:"private_key" yaml:"-"` // 只从环境变量读取
	WrappedNative  string `mapstructure:"wrapped_native" yaml:"wrapped_native"`
	NativeSymbol   string `mapstructure:"native_symbol" yaml:"native_symbol"`
	NativeDecimals int32  `mapstructure:"native_decimals" yaml:"native_decimals"`
}

// RoutersConfig 两个版本的路由合约
type RoutersConfig struct {
	V2Router   string  `mapstructure:"v2_router" yaml:"v2_router"`
	V3Router   string  `mapstructure:"v3_router" yaml:"v3_router"`
	V3Quoter   string  `mapstructure:"v3_quoter" yaml:"v3_quoter"`
	V3FeeTiers []int64 `mapstructure:"v3_fee_tiers" yaml:"v3_fee_tiers"`
}

// TradingConfig 交易配置
type TradingConfig struct {
	SlippagePercent     float64 `mapstructure:"slippage_percent" yaml:"slippage_percent"`
	DeadlineMinutes     int     `mapstructure:"deadline_minutes" yaml:"deadline_minutes"`
	QuoteTimeoutSeconds int     `mapstructure:"quote_timeout_seconds" yaml:"quote_timeout_seconds"`
	GasLimitMultiplier  float64 `mapstructure:"gas_limit_multiplier" yaml:"gas_limit_multiplier"`
}

// StorageConfig 账本存储配置
type StorageConfig struct {
	Backend        string `mapstructure:"backend" yaml:"backend"` // file 或 redis
	DataDir        string `mapstructure:"data_dir" yaml:"data_dir"`
	LedgerFile     string `mapstructure:"ledger_file" yaml:"ledger_file"`
	WatchedFile    string `mapstructure:"watched_file" yaml:"watched_file"`
	LockTTLSeconds int    `mapstructure:"lock_ttl_seconds" yaml:"lock_ttl_seconds"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	Password  string `mapstructure:"password" yaml:"-"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// OracleConfig 参考价格配置
type OracleConfig struct {
	Exchange       string `mapstructure:"exchange" yaml:"exchange"` // 目前支持 binance
	Symbol         string `mapstructure:"symbol" yaml:"symbol"`
	FallbackURL    string `mapstructure:"fallback_url" yaml:"fallback_url"`
	FallbackCoinID string `mapstructure:"fallback_coin_id" yaml:"fallback_coin_id"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// NotificationConfig 通知配置
type NotificationConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
	Queue    QueueConfig    `mapstructure:"queue" yaml:"queue"`
}

// TelegramConfig Telegram配置
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	BotToken string `mapstructure:"bot_token" yaml:"-"` // 从环境变量读取
	ChatID   string `mapstructure:"chat_id" yaml:"chat_id"`
	APIURL   string `mapstructure:"api_url" yaml:"api_url"`
}

// QueueConfig 把通知推入Redis队列，由独立进程投递
type QueueConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	LogLevel      string `mapstructure:"log_level" yaml:"log_level"`
	LogDir        string `mapstructure:"log_dir" yaml:"log_dir"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups" yaml:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days" yaml:"log_max_age_days"`
}

// LoadConfig 从文件加载配置，环境变量可覆盖
func LoadConfig(filePath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(filePath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 例如 DEXTRADER_TRADING_SLIPPAGE_PERCENT
	v.SetEnvPrefix("DEXTRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 敏感信息只从环境变量读取
	if key := os.Getenv("WALLET_PRIVATE_KEY"); key != "" {
		v.Set("chain.private_key", key)
	}
	if rpc := os.Getenv("RPC_URL"); rpc != "" {
		v.Set("chain.rpc_url", rpc)
	}
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		v.Set("notification.telegram.bot_token", token)
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		v.Set("notification.telegram.chat_id", chatID)
	}
	if pwd := os.Getenv("REDIS_PASSWORD"); pwd != "" {
		v.Set("redis.password", pwd)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &config, nil
}

// LoadConfigFromYAML 不经过viper直接解析YAML（不读取环境变量）
func LoadConfigFromYAML(filePath string) (*Config, error) {
	yamlFile, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	config := GetDefaultConfig()
	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return config, nil
}

// setDefaults 以默认配置作为viper的缺省值
func setDefaults(v *viper.Viper) {
	d := GetDefaultConfig()

	v.SetDefault("chain.chain_id", d.Chain.ChainID)
	v.SetDefault("chain.wrapped_native", d.Chain.WrappedNative)
	v.SetDefault("chain.native_symbol", d.Chain.NativeSymbol)
	v.SetDefault("chain.native_decimals", d.Chain.NativeDecimals)
	v.SetDefault("routers.v2_router", d.Routers.V2Router)
	v.SetDefault("routers.v3_router", d.Routers.V3Router)
	v.SetDefault("routers.v3_quoter", d.Routers.V3Quoter)
	v.SetDefault("routers.v3_fee_tiers", d.Routers.V3FeeTiers)
	v.SetDefault("trading.slippage_percent", d.Trading.SlippagePercent)
	v.SetDefault("trading.deadline_minutes", d.Trading.DeadlineMinutes)
	v.SetDefault("trading.quote_timeout_seconds", d.Trading.QuoteTimeoutSeconds)
	v.SetDefault("trading.gas_limit_multiplier", d.Trading.GasLimitMultiplier)
	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.data_dir", d.Storage.DataDir)
	v.SetDefault("storage.ledger_file", d.Storage.LedgerFile)
	v.SetDefault("storage.watched_file", d.Storage.WatchedFile)
	v.SetDefault("storage.lock_ttl_seconds", d.Storage.LockTTLSeconds)
	v.SetDefault("redis.host", d.Redis.Host)
	v.SetDefault("redis.port", d.Redis.Port)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)
	v.SetDefault("oracle.exchange", d.Oracle.Exchange)
	v.SetDefault("oracle.symbol", d.Oracle.Symbol)
	v.SetDefault("oracle.fallback_url", d.Oracle.FallbackURL)
	v.SetDefault("oracle.fallback_coin_id", d.Oracle.FallbackCoinID)
	v.SetDefault("oracle.timeout_seconds", d.Oracle.TimeoutSeconds)
	v.SetDefault("notification.telegram.api_url", d.Notification.Telegram.APIURL)
	v.SetDefault("system.log_level", d.System.LogLevel)
	v.SetDefault("system.log_dir", d.System.LogDir)
	v.SetDefault("system.log_max_size_mb", d.System.LogMaxSizeMB)
	v.SetDefault("system.log_max_backups", d.System.LogMaxBackups)
	v.SetDefault("system.log_max_age_days", d.System.LogMaxAgeDays)
}

// validateConfig 验证配置有效性
func validateConfig(config *Config) error {
	if config.Chain.ChainID <= 0 {
		return fmt.Errorf("chain_id必须大于0")
	}
	if !common.IsHexAddress(config.Chain.WrappedNative) {
		return fmt.Errorf("无效的wrapped_native地址: %q", config.Chain.WrappedNative)
	}
	if config.Chain.NativeDecimals <= 0 || config.Chain.NativeDecimals > 36 {
		return fmt.Errorf("native_decimals超出范围")
	}

	for name, addr := range map[string]string{
		"v2_router": config.Routers.V2Router,
		"v3_router": config.Routers.V3Router,
		"v3_quoter": config.Routers.V3Quoter,
	} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("无效的%s地址: %q", name, addr)
		}
	}
	if len(config.Routers.V3FeeTiers) == 0 {
		return fmt.Errorf("至少需要一个V3费率档位")
	}
	for _, fee := range config.Routers.V3FeeTiers {
		if fee <= 0 || fee >= 1_000_000 {
			return fmt.Errorf("无效的V3费率档位: %d", fee)
		}
	}

	if config.Trading.SlippagePercent <= 0 || config.Trading.SlippagePercent > 50 {
		return fmt.Errorf("滑点必须在0到50之间")
	}
	if config.Trading.DeadlineMinutes <= 0 {
		return fmt.Errorf("交易截止时间必须大于0")
	}
	if config.Trading.GasLimitMultiplier < 1 {
		return fmt.Errorf("gas_limit_multiplier不能小于1")
	}

	switch config.Storage.Backend {
	case "file":
		if config.Storage.LedgerFile == "" || config.Storage.WatchedFile == "" {
			return fmt.Errorf("文件存储需要配置ledger_file和watched_file")
		}
	case "redis":
		if config.Redis.Host == "" {
			return fmt.Errorf("Redis主机不能为空")
		}
		if config.Redis.Port <= 0 || config.Redis.Port > 65535 {
			return fmt.Errorf("无效的Redis端口")
		}
	default:
		return fmt.Errorf("不支持的存储类型: %q", config.Storage.Backend)
	}

	// 为空时不使用交易所行情
	if ex := config.Oracle.Exchange; ex != "" && ex != "binance" {
		return fmt.Errorf("不支持的行情交易所: %q", ex)
	}

	if config.Notification.Telegram.Enabled {
		if config.Notification.Telegram.BotToken == "" || config.Notification.Telegram.ChatID == "" {
			return fmt.Errorf("Telegram已启用，但bot_token或chat_id未配置")
		}
	}
	if config.Notification.Queue.Enabled && config.Storage.Backend != "redis" && config.Redis.Host == "" {
		return fmt.Errorf("通知队列需要Redis配置")
	}

	return nil
}

// GetDefaultConfig 获取默认配置（BSC + PancakeSwap）
func GetDefaultConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			RPCURL:         "https://bsc-dataseed.bnbchain.org",
			ChainID:        56,
			WrappedNative:  "0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c",
			NativeSymbol:   "BNB",
			NativeDecimals: 18,
		},
		Routers: RoutersConfig{
			V2Router:   "0x10ED43C718714eb63d5aA57B78B54704E256024E",
			V3Router:   "0x13f4EA83D0bd40E75C8222255bc855a974568Dd4",
			V3Quoter:   "0xB048Bbc1Ee6b733FFfCFb9e9CeF7375a0e1fE6B5",
			V3FeeTiers: []int64{500, 2500, 10000},
		},
		Trading: TradingConfig{
			SlippagePercent:     1,
			DeadlineMinutes:     20,
			QuoteTimeoutSeconds: 10,
			GasLimitMultiplier:  1.2,
		},
		Storage: StorageConfig{
			Backend:        "file",
			DataDir:        "./data",
			LedgerFile:     "./data/trades.json",
			WatchedFile:    "./data/watched_tokens.json",
			LockTTLSeconds: 30,
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			DB:        0,
			KeyPrefix: "dextrader:",
		},
		Oracle: OracleConfig{
			Exchange:       "binance",
			Symbol:         "BNB/USDT",
			FallbackURL:    "https://api.coingecko.com/api/v3",
			FallbackCoinID: "binancecoin",
			TimeoutSeconds: 10,
		},
		Notification: NotificationConfig{
			Telegram: TelegramConfig{
				APIURL: "https://api.telegram.org",
			},
		},
		System: SystemConfig{
			LogLevel:      "info",
			LogDir:        "./logs",
			LogMaxSizeMB:  50,
			LogMaxBackups: 5,
			LogMaxAgeDays: 30,
		},
	}
}

// SaveConfigToFile 将配置保存为YAML（敏感字段不会写出）
func SaveConfigToFile(config *Config, filePath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}
	return os.WriteFile(filePath, data, 0o644)
}
