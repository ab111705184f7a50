package liquidator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/liqprotocol/zo-keeper/internal/metrics"
)

// LoopConfig 扫描节奏
type LoopConfig struct {
	// Interval 两轮检查的最小间隔；检查耗时超过间隔时错过的节拍直接丢弃
	Interval time.Duration
	// RefreshInterval 重新拉取账户全集的周期
	RefreshInterval time.Duration
	// RefreshRetryDelay 刷新失败后的重试间隔
	RefreshRetryDelay time.Duration
}

// DefaultLoopConfig 250ms 检查、6000s 刷新
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Interval:          250 * time.Millisecond,
		RefreshInterval:   6000 * time.Second,
		RefreshRetryDelay: 30 * time.Second,
	}
}

// ScanLoop 周期性检查所有账户，并定期刷新账户全集
type ScanLoop struct {
	provider AccountProvider
	cfg      LoopConfig
	now      func() time.Time
}

// NewScanLoop 创建扫描循环
func NewScanLoop(provider AccountProvider, cfg LoopConfig) *ScanLoop {
	def := DefaultLoopConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.RefreshRetryDelay <= 0 {
		cfg.RefreshRetryDelay = def.RefreshRetryDelay
	}
	return &ScanLoop{provider: provider, cfg: cfg, now: time.Now}
}

// Run 阻塞运行直到 ctx 取消。
// 调用方应在启动前完成首次刷新；单轮检查的错误只记录，不终止循环，刷新在节拍之间内联执行。
func (l *ScanLoop) Run(ctx context.Context) error {
	log.WithFields(logrus.Fields{
		"interval": l.cfg.Interval.String(),
		"refresh":  l.cfg.RefreshInterval.String(),
	}).Info("🚀 扫描循环启动")

	nextRefresh := l.now().Add(l.cfg.RefreshInterval)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("🛑 扫描循环退出")
			return ctx.Err()
		case <-ticker.C:
		}

		if !l.now().Before(nextRefresh) {
			nextRefresh = l.refresh(ctx)
		}
		l.check(ctx)
	}
}

// refresh 刷新账户全集，返回下一次刷新时间
func (l *ScanLoop) refresh(ctx context.Context) time.Time {
	metrics.RefreshRuns.Add(1)
	if err := l.provider.RefreshAccounts(ctx); err != nil {
		metrics.RefreshErrors.Add(1)
		log.WithError(err).WithField("retry_in", l.cfg.RefreshRetryDelay.String()).Error("❌ 刷新账户列表失败")
		return l.now().Add(l.cfg.RefreshRetryDelay)
	}
	return l.now().Add(l.cfg.RefreshInterval)
}

func (l *ScanLoop) check(ctx context.Context) {
	entry := log.WithField("cycle", uuid.NewString())
	start := time.Now()
	n, err := l.provider.CheckAllAccounts(ctx)
	elapsed := time.Since(start)

	metrics.ScanCycles.Add(1)
	metrics.CycleDuration.Observe(elapsed.Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.ScanErrors.Add(1)
		entry.WithError(err).Error("❌ 账户检查失败")
		return
	}
	entry.WithFields(logrus.Fields{"accounts": n, "elapsed": elapsed.String()}).Debug("检查完成")
}
