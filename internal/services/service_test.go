package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/life2you_mini/dextrader/internal/accounting"
	"github.com/life2you_mini/dextrader/internal/config"
	"github.com/life2you_mini/dextrader/internal/notify"
)

func fileConfig(t *testing.T) *config.Config {
	cfg := config.GetDefaultConfig()
	dir := t.TempDir()
	cfg.Storage.LedgerFile = filepath.Join(dir, "trades.json")
	cfg.Storage.WatchedFile = filepath.Join(dir, "watched.json")
	return cfg
}

func withRedis(t *testing.T, cfg *config.Config) *miniredis.Miniredis {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg.Redis.Host = mr.Host()
	cfg.Redis.Port = port
	return mr
}

func TestDexTraderService_LedgerOnly(t *testing.T) {
	ctx := context.Background()
	service, err := NewDexTraderService(ctx, fileConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer service.Close()

	_, err = service.Positions().RecordBuy(ctx, accounting.BuyFill{
		TokenAddress: "0xAA",
		TokenSymbol:  "CAKE",
		NativeAmount: decimal.RequireFromString("0.1"),
		TokenAmount:  decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	stats := service.Positions().GetStatistics(ctx)
	assert.Equal(t, 1, stats.BuyCount)
	assert.IsType(t, notify.Nop{}, service.notifier, "未启用通知时不投递")
	assert.Empty(t, service.Watched().List(ctx))
}

func TestDexTraderService_QueueNotifier(t *testing.T) {
	cfg := fileConfig(t)
	cfg.Notification.Queue.Enabled = true
	mr := withRedis(t, cfg)

	service, err := NewDexTraderService(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer service.Close()

	msg := notify.Message{ID: "m-1", Kind: notify.KindBuy, Text: "hello"}
	res, err := service.notifier.Publish(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "m-1", res.ID)

	items, err := mr.List("dextrader:notifications")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDexTraderService_TelegramFallsBackToQueue(t *testing.T) {
	var down atomic.Bool
	var sent atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if down.Load() {
			_, _ = w.Write([]byte(`{"ok":false,"description":"Too Many Requests"}`))
			return
		}
		sent.Add(1)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":9}}`))
	}))
	defer server.Close()

	cfg := fileConfig(t)
	cfg.Notification.Telegram = config.TelegramConfig{
		Enabled:  true,
		BotToken: "bot-token",
		ChatID:   "1",
		APIURL:   server.URL,
	}
	cfg.Notification.Queue.Enabled = true
	mr := withRedis(t, cfg)

	service, err := NewDexTraderService(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer service.Close()
	assert.IsType(t, &notify.Multi{}, service.notifier)

	res, err := service.notifier.Publish(context.Background(), notify.Message{ID: "m-1", Text: "直接发送"})
	require.NoError(t, err)
	assert.Equal(t, "9", res.ID)
	assert.Equal(t, int32(1), sent.Load())
	assert.False(t, mr.Exists("dextrader:notifications"), "直接发送成功时不入队")

	down.Store(true)
	res, err = service.notifier.Publish(context.Background(), notify.Message{ID: "m-2", Text: "走队列"})
	require.NoError(t, err)
	assert.Equal(t, "m-2", res.ID)
	items, err := mr.List("dextrader:notifications")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestNewNotifyWorkerService_RequiresTelegram(t *testing.T) {
	_, err := NewNotifyWorkerService(context.Background(), fileConfig(t), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestNotifyWorkerService_DeliversQueuedMessages(t *testing.T) {
	var delivered atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botbot-token/sendMessage", r.URL.Path)
		delivered.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7}}`))
	}))
	defer server.Close()

	cfg := fileConfig(t)
	cfg.Notification.Telegram = config.TelegramConfig{
		Enabled:  true,
		BotToken: "bot-token",
		ChatID:   "1",
		APIURL:   server.URL,
	}
	mr := withRedis(t, cfg)

	data, err := json.Marshal(notify.Message{ID: "m-1", Kind: notify.KindSell, Text: "卖出成功"})
	require.NoError(t, err)
	mr.Lpush("dextrader:notifications:failed", string(data))

	service, err := NewNotifyWorkerService(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, service.Start())

	assert.Eventually(t, func() bool { return delivered.Load() == 1 }, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	assert.NoError(t, service.Stop(ctx))
	assert.False(t, mr.Exists("dextrader:notifications:failed"), "失败通知已重新投递")
}
