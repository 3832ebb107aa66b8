package catalog

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/TIANLI0/CardKit/metrics"
	"golang.org/x/time/rate"
)

const (
	InitialBackoff = 200 * time.Millisecond
	MaxBackoff     = 2 * time.Second
)

// Limiter 进程内共享的令牌桶，所有请求与区域的目录调用都经它放行
type Limiter struct {
	bucket *rate.Limiter
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait 阻塞直到拿到令牌。ctx取消时放弃排队并归还预留，不影响其他等待者。
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	err := l.bucket.Wait(ctx)
	metrics.LimiterWait.Observe(time.Since(start).Seconds())
	return err
}

// SleepWithContext 等待d，ctx取消时提前返回
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoff(attempt int) time.Duration {
	d := InitialBackoff << attempt
	if d > MaxBackoff || d <= 0 {
		return MaxBackoff
	}
	return d
}

// IsRetriable 限流、5xx、超时与连接错误可重试
func IsRetriable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrNotFound) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == 429 || se.Code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, token := range []string{"connection reset", "connection refused", "temporary failure", "eof"} {
		if strings.Contains(message, token) {
			return true
		}
	}
	return false
}
