package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// =============================================================================
// 🔁 写入重试
// =============================================================================

// retryPolicy 指数退避重试，第 n 次重试前等待 base * 2^(n-1)
type retryPolicy struct {
	attempts int
	base     time.Duration
}

var defaultRetryPolicy = retryPolicy{attempts: 3, base: 100 * time.Millisecond}

func (p retryPolicy) do(ctx context.Context, logger *zap.Logger, fn func() error) error {
	attempts := max(p.attempts, 1)

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := p.base << (i - 1)
			logger.Warn("retrying database write",
				zap.Int("attempt", i+1),
				zap.Duration("backoff", wait),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(wait):
			}
		}
		if err = fn(); err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

// retryable 识别死锁、序列化冲突、锁等待超时与断连
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		// serialization_failure, deadlock_detected, lock_not_available
		case "40001", "40P01", "55P03":
			return true
		}
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// ER_LOCK_WAIT_TIMEOUT, ER_LOCK_DEADLOCK
		return myErr.Number == 1205 || myErr.Number == 1213
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	// sqlite 驱动只给出文本
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
