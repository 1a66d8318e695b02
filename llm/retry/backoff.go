package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/eg9y/chat-api-plugins/llm"
)

// RetryPolicy 定义重试策略配置
type RetryPolicy struct {
	MaxRetries   int                                               // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration                                     // 初始延迟时间
	MaxDelay     time.Duration                                     // 最大延迟时间
	Multiplier   float64                                           // 延迟时间倍增因子（指数退避）
	Jitter       bool                                              // 是否添加随机抖动
	ShouldRetry  func(err error) bool                              // 判断错误是否可重试，nil 时使用 IsRetryable
	OnRetry      func(attempt int, err error, delay time.Duration) // 重试回调
}

// DefaultRetryPolicy 返回默认的重试策略
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   2,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// IsRetryable reports whether err is an *llm.Error marked retryable.
// Context errors are never retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var llmErr *llm.Error
	return errors.As(err, &llmErr) && llmErr.Retryable
}

// Retryer 基于指数退避的重试器
type Retryer struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewRetryer 创建指数退避重试器
func NewRetryer(policy *RetryPolicy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	p := *policy

	// 参数校验
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 1 * time.Second
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier < 1.0 {
		p.Multiplier = 2.0
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = IsRetryable
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Retryer{policy: p, logger: logger}
}

// Do 执行函数，失败时根据策略重试
func (r *Retryer) Do(ctx context.Context, fn func() error) error {
	_, err := Do(ctx, r, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Do runs fn under r's policy and returns its result.
// The last error is returned unwrapped so callers keep its type.
func Do[T any](ctx context.Context, r *Retryer, fn func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("重试中",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, ctx.Err()
			case <-timer.C:
			}
		}

		result, err := fn()
		if err == nil {
			if attempt > 0 {
				r.logger.Info("重试成功", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !r.policy.ShouldRetry(err) {
			return zero, err
		}
	}

	r.logger.Warn("重试次数耗尽",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return zero, lastErr
}

// calculateDelay 计算延迟时间: initial * multiplier^(attempt-1)，可选 ±25% 抖动
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	// 确保延迟不小于初始延迟
	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}

	return time.Duration(delay)
}

// Provider retries Completion calls that fail with a retryable llm.Error.
type Provider struct {
	inner   llm.Provider
	retryer *Retryer
}

// WrapProvider wraps p. A policy with MaxRetries 0 returns p unchanged.
func WrapProvider(p llm.Provider, policy *RetryPolicy, logger *zap.Logger) llm.Provider {
	if policy != nil && policy.MaxRetries <= 0 {
		return p
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		inner:   p,
		retryer: NewRetryer(policy, logger.With(zap.String("component", "llm_retry"), zap.String("provider", p.Name()))),
	}
}

func (p *Provider) Name() string { return p.inner.Name() }

func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := Do(ctx, p.retryer, func() (*llm.ChatResponse, error) {
		return p.inner.Completion(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("%s completion: %w", p.inner.Name(), err)
	}
	return resp, nil
}
