package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	_redisClient "github.com/life2you_mini/dextrader/internal/redis"
)

const (
	popTimeout       = 5 * time.Second
	deliveryTimeout  = 30 * time.Second
	errorBackoff     = 100 * time.Millisecond
	stopWaitDuration = 5 * time.Second
)

// QueueWorker 从Redis队列取出通知并投递到 sink
type QueueWorker struct {
	ctx       context.Context
	cancel    context.CancelFunc
	queue     *_redisClient.QueueService
	sink      Notifier
	logger    *zap.Logger
	wg        sync.WaitGroup
	isRunning bool
	mutex     sync.Mutex
}

// NewQueueWorker 创建通知投递进程
func NewQueueWorker(parentCtx context.Context, queue *_redisClient.QueueService, sink Notifier, logger *zap.Logger) *QueueWorker {
	ctx, cancel := context.WithCancel(parentCtx)
	return &QueueWorker{
		ctx:    ctx,
		cancel: cancel,
		queue:  queue,
		sink:   sink,
		logger: logger.With(zap.String("component", "notify_worker")),
	}
}

// Start 启动投递协程
func (w *QueueWorker) Start() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.isRunning {
		return fmt.Errorf("通知投递进程已在运行")
	}

	w.logger.Info("启动通知投递进程")
	w.isRunning = true

	w.wg.Add(1)
	go w.processNotifications()
	return nil
}

// Stop 停止并等待当前投递结束
func (w *QueueWorker) Stop() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.isRunning {
		return nil
	}

	w.logger.Info("停止通知投递进程")
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("通知投递进程已停止")
	case <-time.After(stopWaitDuration):
		w.logger.Warn("通知投递进程停止超时")
	}

	w.isRunning = false
	return nil
}

func (w *QueueWorker) processNotifications() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		if _, err := w.ProcessOne(w.ctx); err != nil {
			if w.ctx.Err() == nil {
				w.logger.Error("处理通知失败", zap.Error(err))
			}
			time.Sleep(errorBackoff)
		}
	}
}

// ProcessOne 取出并投递一条通知；队列为空时返回 false
func (w *QueueWorker) ProcessOne(ctx context.Context) (bool, error) {
	data, err := w.queue.Pop(ctx, _redisClient.QueueNotifications, popTimeout)
	if err != nil {
		return false, fmt.Errorf("从通知队列获取任务失败: %w", err)
	}
	if data == nil {
		return false, nil
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		w.logger.Error("解析通知失败，丢弃", zap.Error(err), zap.String("data", string(data)))
		return true, nil
	}

	deliverCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	result, err := w.sink.Publish(deliverCtx, msg)
	if err != nil {
		if markErr := w.queue.MarkFailed(ctx, _redisClient.QueueNotifications, data); markErr != nil {
			w.logger.Error("保存失败通知出错，通知已丢失", zap.String("message_id", msg.ID), zap.Error(markErr))
		}
		return true, fmt.Errorf("投递通知 %s 失败: %w", msg.ID, err)
	}
	w.logger.Info("通知已投递",
		zap.String("message_id", msg.ID),
		zap.String("kind", string(msg.Kind)),
		zap.String("delivery_id", result.ID))
	return true, nil
}
