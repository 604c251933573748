package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/life2you_mini/dextrader/internal/accounting"
	"github.com/life2you_mini/dextrader/internal/config"
	"github.com/life2you_mini/dextrader/internal/exchange"
	"github.com/life2you_mini/dextrader/internal/notify"
	"github.com/life2you_mini/dextrader/internal/oracle"
	"github.com/life2you_mini/dextrader/internal/quote"
	_redisClient "github.com/life2you_mini/dextrader/internal/redis"
	"github.com/life2you_mini/dextrader/internal/storage"
	"github.com/life2you_mini/dextrader/internal/trading"
)

// DexTraderService 按配置组装账本、报价、交易执行器和通知
//
// 链上客户端在第一次需要交易执行器时才连接，只查询账本的命令不需要私钥。
type DexTraderService struct {
	ctx       context.Context
	cfg       *config.Config
	logger    *zap.Logger
	stores    *storage.Stores
	positions *accounting.PositionManager
	prices    oracle.Provider
	notifier  notify.Notifier

	client *exchange.EVMClient
	trader *trading.Trader
}

// NewDexTraderService 创建服务，只初始化存储相关组件
func NewDexTraderService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DexTraderService, error) {
	stores, err := storage.NewStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	positions := accounting.NewPositionManager(logger, stores.Ledger, stores.Locker)

	return &DexTraderService{
		ctx:       ctx,
		cfg:       cfg,
		logger:    logger,
		stores:    stores,
		positions: positions,
		prices:    oracle.NewFromConfig(cfg.Oracle, logger),
		notifier:  buildNotifier(cfg, stores, logger),
	}, nil
}

// buildNotifier 按配置组合 Telegram 与 Redis 队列通道
//
// 两者都启用时先直接发 Telegram，失败才推入队列由 notify-worker 补发，
// 同一条消息不会被投递两次。
func buildNotifier(cfg *config.Config, stores *storage.Stores, logger *zap.Logger) notify.Notifier {
	var sinks []notify.Notifier
	if cfg.Notification.Telegram.Enabled {
		sinks = append(sinks, notify.NewTelegramNotifier(cfg.Notification.Telegram, logger))
	}
	if cfg.Notification.Queue.Enabled && stores.Redis != nil {
		queue := _redisClient.NewQueueService(stores.Redis, cfg.Redis.KeyPrefix)
		sinks = append(sinks, notify.NewQueueNotifier(queue))
	}
	return notify.NewMulti(logger, sinks...)
}

// Positions 仓位核算引擎
func (s *DexTraderService) Positions() *accounting.PositionManager {
	return s.positions
}

// Watched 观察列表
func (s *DexTraderService) Watched() storage.WatchedTokenStore {
	return s.stores.Watched
}

// Trader 返回交易执行器，首次调用时连接链上节点
func (s *DexTraderService) Trader() (*trading.Trader, error) {
	if s.trader != nil {
		return s.trader, nil
	}

	client, err := exchange.NewEVMClient(s.ctx, s.logger, s.cfg.Chain, s.cfg.Routers, s.cfg.Trading.GasLimitMultiplier)
	if err != nil {
		return nil, fmt.Errorf("初始化链上客户端失败: %w", err)
	}
	s.client = client

	quoteTimeout := time.Duration(s.cfg.Trading.QuoteTimeoutSeconds) * time.Second
	aggregator := quote.NewAggregator(client, s.cfg.Routers.V3FeeTiers, quoteTimeout, s.logger)

	s.trader = trading.NewTrader(s.cfg, s.logger, client, aggregator, s.positions, s.stores.Watched, s.prices, s.notifier)
	return s.trader, nil
}

// Close 释放链上连接与存储连接
func (s *DexTraderService) Close() {
	if s.client != nil {
		s.client.Close()
	}
	if err := s.stores.Close(); err != nil {
		s.logger.Error("关闭存储连接失败", zap.Error(err))
	}
}

// NotifyWorkerService 常驻进程：从Redis队列取出通知发送到Telegram
type NotifyWorkerService struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	stores *storage.Stores
	queue  *_redisClient.QueueService
	worker *notify.QueueWorker
}

// NewNotifyWorkerService 创建通知投递服务，需要启用Telegram并配置Redis
func NewNotifyWorkerService(parentCtx context.Context, cfg *config.Config, logger *zap.Logger) (*NotifyWorkerService, error) {
	if !cfg.Notification.Telegram.Enabled {
		return nil, fmt.Errorf("通知投递进程需要启用Telegram")
	}

	ctx, cancel := context.WithCancel(parentCtx)

	// 投递进程总是需要Redis，即使账本使用文件存储
	workerCfg := *cfg
	workerCfg.Notification.Queue.Enabled = true
	stores, err := storage.NewStores(ctx, &workerCfg, logger)
	if err != nil {
		cancel()
		return nil, err
	}

	queue := _redisClient.NewQueueService(stores.Redis, cfg.Redis.KeyPrefix)
	telegram := notify.NewTelegramNotifier(cfg.Notification.Telegram, logger)

	return &NotifyWorkerService{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		stores: stores,
		queue:  queue,
		worker: notify.NewQueueWorker(ctx, queue, telegram, logger),
	}, nil
}

// Start 把上次投递失败的通知放回队列，然后启动投递
func (s *NotifyWorkerService) Start() error {
	s.logger.Info("启动通知投递服务")

	moved, err := s.queue.Requeue(s.ctx, _redisClient.QueueNotifications)
	if err != nil {
		s.logger.Error("重新入队失败通知出错", zap.Error(err))
	} else if moved > 0 {
		s.logger.Info("已重新入队失败通知", zap.Int("count", moved))
	}

	return s.worker.Start()
}

// Stop 停止服务
func (s *NotifyWorkerService) Stop(ctx context.Context) error {
	s.logger.Info("停止通知投递服务")

	if err := s.worker.Stop(); err != nil {
		s.logger.Error("停止通知投递进程失败", zap.Error(err))
	}

	s.cancel()

	if err := s.stores.Close(); err != nil {
		s.logger.Error("关闭Redis连接失败", zap.Error(err))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
