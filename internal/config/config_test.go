package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, validateConfig(cfg))
	assert.Equal(t, int64(56), cfg.Chain.ChainID)
	assert.Equal(t, []int64{500, 2500, 10000}, cfg.Routers.V3FeeTiers)
	assert.Equal(t, 1.0, cfg.Trading.SlippagePercent)
	assert.Equal(t, 20, cfg.Trading.DeadlineMinutes)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"链ID无效", func(c *Config) { c.Chain.ChainID = 0 }},
		{"包装币地址无效", func(c *Config) { c.Chain.WrappedNative = "wbnb" }},
		{"精度越界", func(c *Config) { c.Chain.NativeDecimals = 40 }},
		{"路由地址无效", func(c *Config) { c.Routers.V3Quoter = "" }},
		{"没有费率档位", func(c *Config) { c.Routers.V3FeeTiers = nil }},
		{"费率档位无效", func(c *Config) { c.Routers.V3FeeTiers = []int64{500, 0} }},
		{"滑点为0", func(c *Config) { c.Trading.SlippagePercent = 0 }},
		{"滑点过大", func(c *Config) { c.Trading.SlippagePercent = 60 }},
		{"截止时间无效", func(c *Config) { c.Trading.DeadlineMinutes = 0 }},
		{"gas倍数过小", func(c *Config) { c.Trading.GasLimitMultiplier = 0.9 }},
		{"未知存储", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"文件路径为空", func(c *Config) { c.Storage.LedgerFile = "" }},
		{"Redis端口无效", func(c *Config) {
			c.Storage.Backend = "redis"
			c.Redis.Port = 70000
		}},
		{"Telegram缺少token", func(c *Config) {
			c.Notification.Telegram.Enabled = true
			c.Notification.Telegram.ChatID = "1"
		}},
		{"行情交易所不支持", func(c *Config) { c.Oracle.Exchange = "okx" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, validateConfig(cfg))
		})
	}
}

func TestValidateConfig_OracleExchange(t *testing.T) {
	for _, ex := range []string{"", "binance"} {
		cfg := GetDefaultConfig()
		cfg.Oracle.Exchange = ex
		assert.NoError(t, validateConfig(cfg), "exchange=%q", ex)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", `
chain:
  rpc_url: "https://rpc.example"
trading:
  slippage_percent: 2
storage:
  backend: file
  ledger_file: /tmp/ledger.json
  watched_file: /tmp/watched.json
`)
	t.Setenv("WALLET_PRIVATE_KEY", "0xabc")
	t.Setenv("TELEGRAM_BOT_TOKEN", "bot-token")
	t.Setenv("DEXTRADER_TRADING_DEADLINE_MINUTES", "5")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://rpc.example", cfg.Chain.RPCURL)
	assert.Equal(t, "0xabc", cfg.Chain.PrivateKey)
	assert.Equal(t, "bot-token", cfg.Notification.Telegram.BotToken)
	assert.Equal(t, 2.0, cfg.Trading.SlippagePercent)
	assert.Equal(t, 5, cfg.Trading.DeadlineMinutes)
	assert.Equal(t, int64(56), cfg.Chain.ChainID, "未配置的字段使用默认值")
	assert.Equal(t, []int64{500, 2500, 10000}, cfg.Routers.V3FeeTiers)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeFile(t, "bad.yaml", "trading:\n  slippage_percent: 80\n")
	_, err = LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "配置验证失败")
}

func TestSaveConfigToFile_OmitsSecrets(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Chain.PrivateKey = "0xsecret"
	cfg.Notification.Telegram.BotToken = "bot-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.Trading.SlippagePercent = 3

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, SaveConfigToFile(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")

	loaded, err := LoadConfigFromYAML(path)
	require.NoError(t, err)
	assert.Equal(t, 3.0, loaded.Trading.SlippagePercent)
	assert.Empty(t, loaded.Chain.PrivateKey)
	assert.Equal(t, cfg.Routers, loaded.Routers)
}
