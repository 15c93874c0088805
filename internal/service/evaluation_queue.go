package service

import (
	"context"
	"sync"

	"prepwise_backend/pkg/logger"

	"go.uber.org/zap"
)

// EvaluationJob 标识一次待评估的作答版本
type EvaluationJob struct {
	ResponseID uint
	Revision   int
}

// EvaluationQueue 有界队列加固定数量的工作协程
type EvaluationQueue struct {
	jobs    chan EvaluationJob
	handler func(ctx context.Context, job EvaluationJob)

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewEvaluationQueue(size int, handler func(ctx context.Context, job EvaluationJob)) *EvaluationQueue {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &EvaluationQueue{
		jobs:    make(chan EvaluationJob, size),
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (q *EvaluationQueue) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.work(i)
	}
	logger.Log.Info("Evaluation workers started", zap.Int("workers", workers), zap.Int("queue_size", cap(q.jobs)))
}

func (q *EvaluationQueue) work(id int) {
	defer q.wg.Done()
	for job := range q.jobs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Log.Error("Evaluation worker panic", zap.Int("worker", id), zap.Any("panic", r), zap.Uint("response_id", job.ResponseID))
				}
			}()
			q.handler(q.ctx, job)
		}()
	}
}

// Enqueue 队列已满或已关闭时返回 false，不阻塞请求
func (q *EvaluationQueue) Enqueue(job EvaluationJob) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// Stop 停止接收新任务并等待已入队任务处理完
func (q *EvaluationQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
}
