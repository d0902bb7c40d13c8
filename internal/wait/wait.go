// Package wait 轮询交易回执直到交易被打包。只查询，不重发任何交易。
package wait

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// ErrTimeout 超时仍未查到回执
var ErrTimeout = errors.New("等待交易打包超时")

// Config 轮询配置
type Config struct {
	Timeout             time.Duration `json:"timeout"`              // 总超时，0 表示只受上下文控制
	InitialInterval     time.Duration `json:"initial_interval"`     // 初始轮询间隔
	MaxInterval         time.Duration `json:"max_interval"`         // 最大轮询间隔
	BackoffFactor       float64       `json:"backoff_factor"`       // 退避因子
	RandomizationFactor float64       `json:"randomization_factor"` // 随机化因子
	EnableJitter        bool          `json:"enable_jitter"`        // 启用抖动
}

// DefaultConfig 默认轮询配置
var DefaultConfig = &Config{
	Timeout:             5 * time.Minute,
	InitialInterval:     time.Second,
	MaxInterval:         15 * time.Second,
	BackoffFactor:       1.5,
	RandomizationFactor: 0.1,
	EnableJitter:        true,
}

// ReceiptBackend 查询回执的能力
type ReceiptBackend interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Waiter 回执轮询器
type Waiter struct {
	config *Config
	logger *logrus.Logger
	rand   *rand.Rand
}

// NewWaiter 创建轮询器
func NewWaiter(config *Config, logger *logrus.Logger) *Waiter {
	if config == nil {
		config = DefaultConfig
	}

	return &Waiter{
		config: config,
		logger: logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WaitMined 等待交易被打包并返回回执
func (w *Waiter) WaitMined(ctx context.Context, backend ReceiptBackend, hash common.Hash) (*types.Receipt, error) {
	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()
	}

	for attempt := 1; ; attempt++ {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if err == nil {
			if attempt > 1 {
				w.logger.Debugf("交易 %s 在第 %d 次查询后打包", hash.Hex(), attempt)
			}
			return receipt, nil
		}

		// 未打包之外的错误直接返回
		if !errors.Is(err, ethereum.NotFound) {
			if ctx.Err() != nil {
				return nil, w.contextErr(ctx, hash)
			}
			return nil, fmt.Errorf("查询交易回执失败: %w", err)
		}

		delay := w.calculateDelay(attempt)
		w.logger.Debugf("交易 %s 尚未打包，%v 后再次查询", hash.Hex(), delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, w.contextErr(ctx, hash)
		}
	}
}

func (w *Waiter) contextErr(ctx context.Context, hash common.Hash) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, hash.Hex())
	}
	return ctx.Err()
}

// calculateDelay 计算延迟时间
func (w *Waiter) calculateDelay(attempt int) time.Duration {
	// 指数退避计算
	delay := float64(w.config.InitialInterval) * math.Pow(w.config.BackoffFactor, float64(attempt-1))

	// 限制最大延迟
	if delay > float64(w.config.MaxInterval) {
		delay = float64(w.config.MaxInterval)
	}

	// 添加抖动
	if w.config.EnableJitter {
		jitter := delay * w.config.RandomizationFactor
		delay = delay - jitter + (w.rand.Float64() * jitter * 2)

		if delay < 0 {
			delay = float64(w.config.InitialInterval)
		}
	}

	return time.Duration(delay)
}

// GetConfig 获取轮询配置
func (w *Waiter) GetConfig() *Config {
	return w.config
}
