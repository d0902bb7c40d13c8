// Package shutdown 处理中断信号并按顺序释放资源。
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序
const (
	OrderCloseJournal    = 10 // 关闭部署记录
	OrderCloseConnection = 20 // 关闭节点连接
	OrderCleanup         = 30 // 其他清理
)

// Func 停机处理函数
type Func struct {
	Name  string
	Func  func(ctx context.Context) error
	Order int // 数字越小越早执行
}

// GracefulShutdown 停机管理器。收到信号时取消运行上下文，Close 时执行清理。
type GracefulShutdown struct {
	logger     *logrus.Logger
	timeout    time.Duration
	funcs      []Func
	mu         sync.Mutex
	signalChan chan os.Signal
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	closed     bool
	signaled   os.Signal
}

// NewGracefulShutdown 创建停机管理器
func NewGracefulShutdown(parent context.Context, timeout time.Duration, logger *logrus.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(parent)

	gs := &GracefulShutdown{
		logger:     logger,
		timeout:    timeout,
		signalChan: make(chan os.Signal, 1),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}

	signal.Notify(gs.signalChan, syscall.SIGINT, syscall.SIGTERM)
	return gs
}

// Register 注册停机处理函数
func (gs *GracefulShutdown) Register(name string, fn func(ctx context.Context) error, order int) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.funcs = append(gs.funcs, Func{Name: name, Func: fn, Order: order})
	gs.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// Start 启动信号监听
func (gs *GracefulShutdown) Start() {
	go gs.signalHandler()
}

func (gs *GracefulShutdown) signalHandler() {
	select {
	case sig := <-gs.signalChan:
		gs.mu.Lock()
		gs.signaled = sig
		gs.mu.Unlock()
		// 已广播的交易无法撤回，这里只停止后续步骤与轮询
		gs.logger.Warnf("收到停机信号: %v，停止后续步骤", sig)
		gs.cancel()
	case <-gs.done:
	}
}

// Context 运行上下文，收到信号后被取消
func (gs *GracefulShutdown) Context() context.Context {
	return gs.ctx
}

// Signaled 收到的信号，未收到时为nil
func (gs *GracefulShutdown) Signaled() os.Signal {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.signaled
}

// Registered 已注册的停机函数名，按执行顺序
func (gs *GracefulShutdown) Registered() []string {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	gs.sortFuncs()
	names := make([]string, len(gs.funcs))
	for i, fn := range gs.funcs {
		names[i] = fn.Name
	}
	return names
}

func (gs *GracefulShutdown) sortFuncs() {
	sort.SliceStable(gs.funcs, func(i, j int) bool {
		return gs.funcs[i].Order < gs.funcs[j].Order
	})
}

// Close 停止监听信号并按顺序执行停机函数，可重复调用
func (gs *GracefulShutdown) Close() error {
	gs.mu.Lock()
	if gs.closed {
		gs.mu.Unlock()
		return nil
	}
	gs.closed = true
	gs.sortFuncs()
	funcs := append([]Func(nil), gs.funcs...)
	gs.mu.Unlock()

	signal.Stop(gs.signalChan)
	close(gs.done)
	gs.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	var errs []error
	for _, fn := range funcs {
		start := time.Now()
		if err := fn.Func(ctx); err != nil {
			gs.logger.Errorf("停机处理 '%s' 失败 (耗时: %v): %v", fn.Name, time.Since(start), err)
			errs = append(errs, fmt.Errorf("%s: %w", fn.Name, err))
		} else {
			gs.logger.Debugf("停机处理 '%s' 完成 (耗时: %v)", fn.Name, time.Since(start))
		}

		if ctx.Err() != nil {
			gs.logger.Warn("停机超时，跳过剩余处理")
			errs = append(errs, ctx.Err())
			break
		}
	}

	return errors.Join(errs...)
}
