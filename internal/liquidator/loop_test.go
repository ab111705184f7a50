package liquidator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	checks     atomic.Int32
	refreshes  atomic.Int32
	checkDelay time.Duration
	checkErr   error

	mu         sync.Mutex
	refreshErr []error
}

func (f *fakeProvider) CheckAllAccounts(ctx context.Context) (int, error) {
	f.checks.Add(1)
	if f.checkDelay > 0 {
		select {
		case <-time.After(f.checkDelay):
		case <-ctx.Done():
		}
	}
	return 3, f.checkErr
}

func (f *fakeProvider) RefreshAccounts(context.Context) error {
	f.refreshes.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.refreshErr) > 0 {
		err := f.refreshErr[0]
		f.refreshErr = f.refreshErr[1:]
		return err
	}
	return nil
}

func runFor(t *testing.T, l *ScanLoop, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	err := l.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScanLoopChecksEveryTick(t *testing.T) {
	p := &fakeProvider{}
	l := NewScanLoop(p, LoopConfig{Interval: 10 * time.Millisecond, RefreshInterval: time.Hour})

	runFor(t, l, 120*time.Millisecond)
	assert.GreaterOrEqual(t, p.checks.Load(), int32(5))
	assert.Zero(t, p.refreshes.Load(), "首次刷新由调用方完成")
}

func TestScanLoopDropsMissedTicks(t *testing.T) {
	p := &fakeProvider{checkDelay: 50 * time.Millisecond}
	l := NewScanLoop(p, LoopConfig{Interval: 5 * time.Millisecond, RefreshInterval: time.Hour})

	runFor(t, l, 200*time.Millisecond)
	// 每轮 50ms，错过的节拍不补跑
	assert.LessOrEqual(t, p.checks.Load(), int32(5))
	assert.GreaterOrEqual(t, p.checks.Load(), int32(2))
}

func TestScanLoopSurvivesCheckErrors(t *testing.T) {
	p := &fakeProvider{checkErr: errors.New("rpc timeout")}
	l := NewScanLoop(p, LoopConfig{Interval: 10 * time.Millisecond, RefreshInterval: time.Hour})

	runFor(t, l, 80*time.Millisecond)
	assert.GreaterOrEqual(t, p.checks.Load(), int32(3))
}

func TestScanLoopRefreshesPeriodically(t *testing.T) {
	p := &fakeProvider{}
	l := NewScanLoop(p, LoopConfig{Interval: 10 * time.Millisecond, RefreshInterval: 30 * time.Millisecond})

	runFor(t, l, 150*time.Millisecond)
	assert.GreaterOrEqual(t, p.refreshes.Load(), int32(3))
}

func TestScanLoopRetriesFailedRefresh(t *testing.T) {
	p := &fakeProvider{refreshErr: []error{errors.New("getProgramAccounts 429")}}
	l := NewScanLoop(p, LoopConfig{
		Interval:          10 * time.Millisecond,
		RefreshInterval:   60 * time.Millisecond,
		RefreshRetryDelay: 10 * time.Millisecond,
	})

	runFor(t, l, 110*time.Millisecond)
	// ~60ms 失败 -> ~70ms 重试成功 -> 下一次要到 ~130ms
	assert.Equal(t, int32(2), p.refreshes.Load())
	assert.Greater(t, p.checks.Load(), int32(0), "刷新失败不阻止检查")
}

func TestDefaultLoopConfig(t *testing.T) {
	l := NewScanLoop(&fakeProvider{}, LoopConfig{})
	assert.Equal(t, 250*time.Millisecond, l.cfg.Interval)
	assert.Equal(t, 6000*time.Second, l.cfg.RefreshInterval)
}
