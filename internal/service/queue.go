package service

import (
	"context"
	"courseforge_backend/internal/config"
	"courseforge_backend/pkg/logger"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TypeCourseFulfillment 课程配图后台任务类型
const TypeCourseFulfillment = "course:fulfillment"

type fulfillmentPayload struct {
	CourseID string `json:"course_id"`
}

// FulfillmentDispatcher 把配图任务投到当前请求之外异步执行。
// 课程创建接口只负责投递，立刻返回 generating 状态的课程。
type FulfillmentDispatcher interface {
	Dispatch(courseID string) error
}

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// AsynqDispatcher 基于 Redis 队列的任务投递。进程重启不丢任务，
// 配合课程级锁与状态守卫，任务重复投递也是安全的。
type AsynqDispatcher struct {
	client *asynq.Client
}

func NewAsynqDispatcher(cfg config.RedisConfig) *AsynqDispatcher {
	return &AsynqDispatcher{client: asynq.NewClient(redisOpt(cfg))}
}

func (d *AsynqDispatcher) Dispatch(courseID string) error {
	payload, err := json.Marshal(fulfillmentPayload{CourseID: courseID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TypeCourseFulfillment, payload)
	info, err := d.client.Enqueue(task,
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Minute),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("enqueue fulfillment task: %w", err)
	}
	logger.Log.Info("课程配图任务已入队",
		zap.String("course_id", courseID),
		zap.String("task_id", info.ID))
	return nil
}

func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}

// FulfillmentWorker 配图任务的消费端
type FulfillmentWorker struct {
	server *asynq.Server
	svc    *FulfillmentService
}

func NewFulfillmentWorker(cfg config.RedisConfig, svc *FulfillmentService, concurrency int) *FulfillmentWorker {
	if concurrency <= 0 {
		concurrency = 4
	}
	server := asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{"default": 1},
	})
	return &FulfillmentWorker{server: server, svc: svc}
}

// Start 启动消费循环，内部起独立 goroutine，不阻塞调用方
func (w *FulfillmentWorker) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeCourseFulfillment, w.handleFulfillment)
	return w.server.Start(mux)
}

func (w *FulfillmentWorker) Shutdown() {
	w.server.Shutdown()
}

func (w *FulfillmentWorker) handleFulfillment(ctx context.Context, t *asynq.Task) error {
	var payload fulfillmentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("bad fulfillment payload: %v: %w", err, asynq.SkipRetry)
	}
	return w.svc.Run(ctx, payload.CourseID)
}
