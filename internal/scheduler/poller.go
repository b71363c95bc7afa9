// Package scheduler 定时拉取收件箱。
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DrainFunc 一次轮询；返回处理的邮件数
type DrainFunc func(ctx context.Context) (int, error)

// Poller 按固定间隔执行 DrainFunc，上一轮未结束时跳过本轮
type Poller struct {
	interval time.Duration
	drain    DrainFunc
	logger   *zap.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPoller 创建轮询器
func NewPoller(interval time.Duration, drain DrainFunc, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{interval: interval, drain: drain, logger: logger.Named("poller")}
}

// Start 启动定时任务
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cron != nil {
		return nil
	}

	clog := cronLogger{logger: p.logger}
	c := cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))
	p.ctx, p.cancel = context.WithCancel(ctx)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", p.interval), p.tick); err != nil {
		p.cancel()
		return fmt.Errorf("schedule poll: %w", err)
	}
	c.Start()
	p.cron = c
	p.logger.Info("poller started", zap.Duration("interval", p.interval))
	return nil
}

// Stop 停止并等待进行中的轮询结束
func (p *Poller) Stop() {
	p.mu.Lock()
	c := p.cron
	cancel := p.cancel
	p.cron = nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	p.logger.Info("poller stopped")
}

// RunOnce 立即执行一轮
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	return p.drain(ctx)
}

func (p *Poller) tick() {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	n, err := p.drain(ctx)
	if err != nil && ctx.Err() == nil {
		p.logger.Warn("poll failed", zap.Error(err))
		return
	}
	if n > 0 {
		p.logger.Info("poll processed messages", zap.Int("count", n))
	}
}

// cronLifecycle cron 调度循环自身的日志；"stop" 会在 Stop 返回后才由 cron 的 goroutine 写出
var cronLifecycle = map[string]bool{
	"start":    true,
	"stop":     true,
	"wake":     true,
	"run":      true,
	"schedule": true,
	"added":    true,
	"removed":  true,
}

// cronLogger 把 cron 的日志接到 zap，丢弃调度循环的生命周期消息
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	if cronLifecycle[msg] {
		return
	}
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
