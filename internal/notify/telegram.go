package notify

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/life2you_mini/dextrader/internal/config"
)

// TelegramNotifier 通过 Bot API 的 sendMessage 投递
type TelegramNotifier struct {
	client *resty.Client
	token  string
	chatID string
	logger *zap.Logger
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// NewTelegramNotifier 创建Telegram通知
func NewTelegramNotifier(cfg config.TelegramConfig, logger *zap.Logger) *TelegramNotifier {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.APIURL, "/")).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &TelegramNotifier{
		client: client,
		token:  cfg.BotToken,
		chatID: cfg.ChatID,
		logger: logger,
	}
}

// Publish 发送文本消息，返回Telegram消息ID
func (t *TelegramNotifier) Publish(ctx context.Context, msg Message) (PublishResult, error) {
	var out telegramResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetPathParam("token", t.token).
		SetBody(map[string]interface{}{
			"chat_id":                  t.chatID,
			"text":                     msg.Text,
			"disable_web_page_preview": true,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/bot{token}/sendMessage")
	if err != nil {
		return PublishResult{}, fmt.Errorf("发送Telegram消息失败: %w", err)
	}
	if resp.IsError() || !out.OK {
		return PublishResult{}, fmt.Errorf("Telegram API错误: 状态 %d %s", resp.StatusCode(), out.Description)
	}

	t.logger.Debug("Telegram消息已发送", zap.String("message_id", msg.ID), zap.Int64("telegram_id", out.Result.MessageID))
	return PublishResult{ID: strconv.FormatInt(out.Result.MessageID, 10)}, nil
}
