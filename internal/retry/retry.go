// Package retry は外部呼び出しを指数バックオフと全体の期限付きで再試行する。
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy は再試行の方針。
type Policy struct {
	// MaxAttempts は初回を含む最大試行回数。1以下の場合は再試行しない。
	MaxAttempts int
	// Timeout は再試行を含む呼び出し全体の期限。0の場合は呼び出し元のctxのみに従う。
	Timeout time.Duration
	// InitialInterval は初回の再試行までの待機時間。
	InitialInterval time.Duration
	// MaxInterval は再試行間隔の上限。
	MaxInterval time.Duration
}

// DefaultPolicy は外部呼び出しの既定の方針を返す。
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		Timeout:         30 * time.Second,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// ExhaustedError は再試行を尽くしても外部呼び出しが成功しなかったことを表す。
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Permanent は再試行しても結果が変わらないエラーを表す。
// fnがこれを返すと即座に再試行を打ち切る。
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do はfnをpolicyに従って実行する。
// fnに渡すctxはpolicy.Timeoutで打ち切られる。
// 失敗時は常に*ExhaustedErrorを返す。
func Do[T any](ctx context.Context, policy Policy, logger *slog.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}

	attempts := 0
	operation := func() (T, error) {
		attempts++
		return fn(ctx)
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(maxAttempts)),
	}
	if logger != nil {
		opts = append(opts, backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("external call failed, retrying",
				slog.String("op", op),
				slog.Int("attempt", attempts),
				slog.Duration("next_in", next),
				slog.String("error", err.Error()),
			)
		}))
	}

	result, err := backoff.Retry(ctx, operation, opts...)
	if err != nil {
		var zero T
		return zero, &ExhaustedError{Op: op, Attempts: attempts, Err: unwrapPermanent(err)}
	}
	return result, nil
}

func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Unwrap()
	}
	return err
}
