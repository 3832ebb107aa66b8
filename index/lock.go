package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/TIANLI0/CardKit/utils"
	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

// ErrLocked 建库程序持有排他锁，超时仍未释放
var ErrLocked = errors.New("index artifact is locked by a writer")

const lockRetryDelay = 100 * time.Millisecond

// withReadLock 在 <path>.lock 上持共享锁执行fn。
// 锁文件无法创建(如只读目录)时不加锁继续读取。
func withReadLock(ctx context.Context, path string, timeout time.Duration, fn func() error) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	lock := flock.New(path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locked, err := lock.TryRLockContext(lockCtx, lockRetryDelay)
	switch {
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)):
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", ErrLocked, path)
	case err != nil:
		utils.L(ctx).Warn("artifact read lock unavailable, reading unlocked", zap.String("path", path), zap.Error(err))
		return fn()
	case !locked:
		return fmt.Errorf("%w: %s", ErrLocked, path)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			utils.Logger.Warn("failed to release artifact read lock", zap.String("path", path), zap.Error(err))
		}
	}()
	return fn()
}
