package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/liqprotocol/zo-keeper/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name string
	fn   Handler
}

// Manager 优雅关闭管理器
type Manager struct {
	callbacks []namedHandler
	mu        sync.Mutex
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, fn: handler})
}

// Shutdown 并发执行所有关闭回调（阻塞调用），返回所有回调的错误。
// ctx 应该是一个带超时的 context，避免无限等待
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	callbacks := m.callbacks
	m.callbacks = nil
	m.mu.Unlock()

	if len(callbacks) == 0 {
		return nil
	}

	logger.Infof("🛑 开始优雅关闭，共 %d 个回调", len(callbacks))

	var (
		wg   sync.WaitGroup
		errs = make([]error, len(callbacks))
	)
	for i, cb := range callbacks {
		wg.Add(1)
		go func(i int, h namedHandler) {
			defer wg.Done()
			if err := h.fn(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", h.name, err)
			}
		}(i, cb)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("✅ 所有关闭回调已完成")
		return errors.Join(errs...)
	case <-ctx.Done():
		logger.Warnf("关闭超时: %v", ctx.Err())
		return ctx.Err()
	}
}
