package workerpool

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrPoolStopped = errors.New("worker pool stopped")
	ErrQueueFull   = errors.New("worker pool queue full")
)

// WorkerPool 通用协程池, 固定数量的 worker 消费一个有界任务队列
type WorkerPool struct {
	jobs      chan func()
	workerNum int
	logger    *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// New 创建协程池, 需调用 Start 启动
func New(workerNum, queueSize int, logger *zap.Logger) *WorkerPool {
	if workerNum <= 0 {
		workerNum = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkerPool{
		jobs:      make(chan func(), queueSize),
		workerNum: workerNum,
		logger:    logger,
	}
}

// Start 启动所有 worker
func (p *WorkerPool) Start() {
	for i := 0; i < p.workerNum; i++ {
		p.wg.Add(1)
		go p.work(i)
	}
	p.logger.Info("worker pool started", zap.Int("workers", p.workerNum), zap.Int("queue", cap(p.jobs)))
}

func (p *WorkerPool) work(workerID int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(workerID, job)
	}
}

// run 单个任务 panic 不会导致 worker 退出
func (p *WorkerPool) run(workerID int, job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker job panicked", zap.Int("worker", workerID), zap.Any("panic", r))
		}
	}()
	job()
}

// TrySubmit 提交任务, 队列满时立即返回 ErrQueueFull
func (p *WorkerPool) TrySubmit(job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop 拒绝新任务, 执行完队列中剩余的任务后返回
func (p *WorkerPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}
