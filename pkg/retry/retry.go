package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Action 分类器对一次失败给出的处置方式。
type Action int

const (
	// Abort 终止，错误原样返回给调用方
	Abort Action = iota
	// Retry 保持当前规模重新执行
	Retry
	// Shrink 规模减半后重新执行
	Shrink
)

func (a Action) String() string {
	switch a {
	case Retry:
		return "retry"
	case Shrink:
		return "shrink"
	default:
		return "abort"
	}
}

// Classifier 把一次失败映射为处置方式。
type Classifier func(err error) Action

var (
	// ErrAttemptsExhausted 同一规模下的重试次数用尽
	ErrAttemptsExhausted = errors.New("retry: attempts exhausted")
	// ErrReductionsExhausted 减半次数用尽
	ErrReductionsExhausted = errors.New("retry: reductions exhausted")
)

// Event 每次重试/减半前回调给调用方（用于日志和指标）。
type Event struct {
	Attempt   int   // 当前规模下已失败的次数（从 1 开始）
	Reduction int   // 已完成的减半次数
	Size      int64 // 失败时使用的规模
	NextSize  int64 // 下一次执行使用的规模
	Action    Action
	Err       error
}

// Policy 重试策略。
//
// 约定：
// - MaxAttempts 是同一规模下的最大执行次数（含首次），<= 0 视为 1
// - MaxReductions 是最多允许的减半次数，耗尽后下一次 Shrink 即终止
// - Classify 为 nil 时所有错误都视为 Abort
type Policy struct {
	MaxAttempts   int
	MaxReductions int
	Backoff       time.Duration
	Classify      Classifier
	OnRetry       func(Event)
}

// Run 以 size 为初始规模执行 op，按分类结果重试、减半或终止。
//
// 减半是精确的整数除法：第 k 次减半后规模为 floor(size / 2^k)。
// Shrink 会重置当前规模下的尝试计数。
func Run[T any](ctx context.Context, p Policy, size int64, op func(ctx context.Context, size int64) (T, error)) (T, error) {
	var zero T
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	attempt := 0
	reduction := 0
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		out, err := op(ctx, size)
		if err == nil {
			return out, nil
		}
		attempt++

		action := Abort
		if p.Classify != nil {
			action = p.Classify(err)
		}

		switch action {
		case Retry:
			if attempt >= maxAttempts {
				return zero, fmt.Errorf("%w (%d attempts): %w", ErrAttemptsExhausted, attempt, err)
			}
			p.notify(Event{Attempt: attempt, Reduction: reduction, Size: size, NextSize: size, Action: action, Err: err})
			if werr := p.wait(ctx); werr != nil {
				return zero, werr
			}
		case Shrink:
			if reduction >= p.MaxReductions {
				return zero, fmt.Errorf("%w (%d reductions): %w", ErrReductionsExhausted, reduction, err)
			}
			next := size / 2
			p.notify(Event{Attempt: attempt, Reduction: reduction + 1, Size: size, NextSize: next, Action: action, Err: err})
			size = next
			reduction++
			attempt = 0
		default:
			return zero, err
		}
	}
}

// Do 不涉及规模的普通重试（Shrink 按 Abort 处理）。
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	classify := p.Classify
	p.MaxReductions = 0
	p.Classify = func(err error) Action {
		if classify == nil {
			return Abort
		}
		if a := classify(err); a == Retry {
			return Retry
		}
		return Abort
	}
	return Run(ctx, p, 0, func(ctx context.Context, _ int64) (T, error) {
		return op(ctx)
	})
}

func (p Policy) notify(e Event) {
	if p.OnRetry != nil {
		p.OnRetry(e)
	}
}

func (p Policy) wait(ctx context.Context) error {
	if p.Backoff <= 0 {
		return nil
	}
	t := time.NewTimer(p.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
