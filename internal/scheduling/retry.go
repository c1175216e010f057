package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// 重试配置默认值
const (
	DefaultMaxRetries     = 1
	DefaultRetryBaseDelay = 2 * time.Second
	DefaultRetryMaxDelay  = 15 * time.Second
	DefaultAttemptTimeout = 20 * time.Second
)

// RetryPolicy 重试策略
type RetryPolicy struct {
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
}

// DefaultRetryPolicy 默认重试一次
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultRetryBaseDelay,
		MaxDelay:       DefaultRetryMaxDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// RetryingGateway 对提供方故障做指数退避重试，其余错误直接返回
type RetryingGateway struct {
	next   Gateway
	policy RetryPolicy
}

// NewRetryingGateway 包装网关
func NewRetryingGateway(next Gateway, policy RetryPolicy) *RetryingGateway {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &RetryingGateway{next: next, policy: policy}
}

// CreateMeeting 创建会议，每次尝试使用相同的 RequestID
func (g *RetryingGateway) CreateMeeting(ctx context.Context, req MeetingRequest) (*Meeting, error) {
	meeting, err := g.attempt(ctx, req)
	if err == nil || !isRetryableError(err) {
		return meeting, err
	}

	lastErr := err
	for i := 1; i <= g.policy.MaxRetries; i++ {
		// 指数退避：baseDelay * 2^(i-1)，上限 MaxDelay
		delay := g.policy.BaseDelay * time.Duration(1<<(i-1))
		if g.policy.MaxDelay > 0 && delay > g.policy.MaxDelay {
			delay = g.policy.MaxDelay
		}
		log.Warn("create meeting retry %d/%d after %v, last error: %v", i, g.policy.MaxRetries, delay, lastErr)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, ctx.Err())
		case <-time.After(delay):
		}

		meeting, err = g.attempt(ctx, req)
		if err == nil {
			log.Info("create meeting retry %d/%d succeeded", i, g.policy.MaxRetries)
			return meeting, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("after %d retries: %w", g.policy.MaxRetries, lastErr)
}

// attempt 单次尝试，超时转换为 ErrProviderUnavailable
func (g *RetryingGateway) attempt(ctx context.Context, req MeetingRequest) (*Meeting, error) {
	attemptCtx := ctx
	if g.policy.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, g.policy.AttemptTimeout)
		defer cancel()
	}
	meeting, err := g.next.CreateMeeting(attemptCtx, req)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) && !errors.Is(err, ErrProviderUnavailable) {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return meeting, err
}

// isRetryableError 只有提供方故障可重试
func isRetryableError(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}
