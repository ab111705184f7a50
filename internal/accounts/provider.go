package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/liqprotocol/zo-keeper/internal/liquidator"
	"github.com/liqprotocol/zo-keeper/internal/metrics"
	"github.com/liqprotocol/zo-keeper/internal/zo"
	"github.com/liqprotocol/zo-keeper/pkg/cache"
)

var log = logrus.WithField("component", "accounts")

// ErrLiquidatorMarginNotFound 付款人还没有 zo 保证金账户
var ErrLiquidatorMarginNotFound = errors.New("liquidator margin account not found")

// RPC 账户读取
type RPC interface {
	GetMultipleAccounts(ctx context.Context, keys []solana.PublicKey) ([]*rpc.Account, error)
	GetProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...rpc.RPCFilter) (rpc.GetProgramAccountsResult, error)
}

// Liquidator 对单个候选账户做处置
type Liquidator interface {
	Liquidate(ctx context.Context, snap *liquidator.Snapshot, target *liquidator.Account) (liquidator.Branch, error)
}

// Config 账户提供者配置
type Config struct {
	StateKey solana.PublicKey
	Programs zo.Programs
	// Payer 清算人（交易签名者）
	Payer       solana.PublicKey
	WorkerCount int
	WorkerIndex int
	// SwapMarkets 抵押品下标 -> Serum 现货市场地址
	SwapMarkets map[int]solana.PublicKey
	// BatchSize 单次 getMultipleAccounts 的账户数
	BatchSize int
	// Concurrency 并发拉取的批次数
	Concurrency int
	// MarketCacheTTL Serum 市场元数据缓存时长；zo dex 市场每轮重新读取
	MarketCacheTTL time.Duration
}

// Provider 跟踪账户全集，按分片检查并把候选账户交给清算引擎
type Provider struct {
	cfg    Config
	rpc    RPC
	store  *Store
	engine Liquidator

	serumMarkets *cache.InMemoryCache[solana.PublicKey, liquidator.SwapMarket]

	mu    sync.RWMutex
	liqor *Tracked
}

// NewProvider 创建账户提供者
func NewProvider(cfg Config, client RPC, store *Store, engine Liquidator) *Provider {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MarketCacheTTL <= 0 {
		cfg.MarketCacheTTL = 10 * time.Minute
	}
	return &Provider{
		cfg:          cfg,
		rpc:          client,
		store:        store,
		engine:       engine,
		serumMarkets: cache.NewInMemoryCache[solana.PublicKey, liquidator.SwapMarket](cfg.MarketCacheTTL),
	}
}

// RefreshAccounts 用 getProgramAccounts 重新拉取全部保证金账户并写入账户库
func (p *Provider) RefreshAccounts(ctx context.Context) error {
	start := time.Now()
	disc := zo.MarginDiscriminator()
	keyed, err := p.rpc.GetProgramAccounts(ctx, p.cfg.Programs.Zo,
		rpc.RPCFilter{DataSize: uint64(zo.MarginSize())},
		rpc.RPCFilter{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(disc[:])}},
	)
	if err != nil {
		return fmt.Errorf("get margin accounts: %w", err)
	}

	rows := make([]Tracked, 0, len(keyed))
	var liqor *Tracked
	for _, ka := range keyed {
		if ka.Account == nil {
			continue
		}
		m, err := zo.DecodeMargin(ka.Account.Data.GetBinary())
		if err != nil {
			log.WithError(err).WithField("margin", ka.Pubkey.String()).Warn("⚠️ 无法解析保证金账户，跳过")
			continue
		}
		if m.State != p.cfg.StateKey {
			continue
		}
		t := Tracked{Margin: ka.Pubkey, Authority: m.Authority, Control: m.Control}
		if m.Authority == p.cfg.Payer {
			liqor = &t
		}
		rows = append(rows, t)
	}
	if liqor == nil {
		return fmt.Errorf("%w: payer %s", ErrLiquidatorMarginNotFound, p.cfg.Payer)
	}

	if err := p.store.Replace(ctx, rows); err != nil {
		return fmt.Errorf("store margins: %w", err)
	}
	p.mu.Lock()
	p.liqor = liqor
	p.mu.Unlock()

	metrics.TrackedAccounts.Set(int64(len(rows)))
	log.WithFields(logrus.Fields{
		"accounts": len(rows),
		"elapsed":  time.Since(start).String(),
	}).Info("📥 账户列表已刷新")
	return nil
}

// CheckAllAccounts 检查本分片的全部账户，返回检查数量。
// 单个账户的清算失败只记录日志，不影响其余账户。
func (p *Provider) CheckAllAccounts(ctx context.Context) (int, error) {
	rows, err := p.store.Shard(ctx, p.cfg.WorkerCount, p.cfg.WorkerIndex)
	if err != nil {
		return 0, fmt.Errorf("load shard: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	snap, err := p.loadSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	targets, err := p.loadAccounts(ctx, rows)
	if err != nil {
		return 0, err
	}

	checked := 0
	for _, target := range targets {
		if ctx.Err() != nil {
			return checked, ctx.Err()
		}
		checked++
		if target.Key == snap.Liquidator.Key || target.Authority() == p.cfg.Payer {
			continue
		}

		entry := log.WithField("authority", target.Authority().String())
		health, err := Assess(target.Margin, target.Control, snap.State, snap.Cache)
		if err != nil {
			entry.WithError(err).Warn("⚠️ 无法评估账户健康度")
			continue
		}
		if !health.Liquidatable() {
			continue
		}

		metrics.Candidates.Inc()
		entry.WithFields(logrus.Fields{
			"value":       health.Value.String(),
			"requirement": health.Requirement.String(),
		}).Info("🚨 发现可清算账户")
		if _, err := p.engine.Liquidate(ctx, snap, target); err != nil {
			// 引擎内部已记录详细日志
			continue
		}

		// 清算改变了清算人自己的保证金与仓位，后续账户要基于新状态计算
		liq, err := p.liquidatorAccount(ctx)
		if err != nil {
			entry.WithError(err).Warn("⚠️ 重新读取清算人账户失败，沿用本轮快照")
			continue
		}
		next := *snap
		next.Liquidator = *liq
		snap = &next
	}
	metrics.AccountsChecked.Add(float64(checked))
	return checked, nil
}

// loadAccounts 分批并发拉取 margin 与 control 账户；已关闭的账户被跳过
func (p *Provider) loadAccounts(ctx context.Context, rows []Tracked) ([]*liquidator.Account, error) {
	batches := (len(rows) + p.cfg.BatchSize - 1) / p.cfg.BatchSize
	results := make([][]*liquidator.Account, batches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for b := 0; b < batches; b++ {
		b := b
		lo := b * p.cfg.BatchSize
		hi := min(lo+p.cfg.BatchSize, len(rows))
		chunk := rows[lo:hi]
		g.Go(func() error {
			accs, err := p.loadBatch(gctx, chunk)
			if err != nil {
				return err
			}
			results[b] = accs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*liquidator.Account, 0, len(rows))
	for _, accs := range results {
		out = append(out, accs...)
	}
	return out, nil
}

func (p *Provider) loadBatch(ctx context.Context, rows []Tracked) ([]*liquidator.Account, error) {
	keys := make([]solana.PublicKey, 0, 2*len(rows))
	for _, r := range rows {
		keys = append(keys, r.Margin, r.Control)
	}
	infos, err := p.rpc.GetMultipleAccounts(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("get margin batch: %w", err)
	}
	if len(infos) != len(keys) {
		return nil, fmt.Errorf("get margin batch: expected %d accounts, got %d", len(keys), len(infos))
	}

	out := make([]*liquidator.Account, 0, len(rows))
	for i, r := range rows {
		mi, ci := infos[2*i], infos[2*i+1]
		if mi == nil || ci == nil {
			continue
		}
		m, err := zo.DecodeMargin(mi.Data.GetBinary())
		if err != nil {
			log.WithError(err).WithField("margin", r.Margin.String()).Warn("⚠️ 无法解析保证金账户")
			continue
		}
		c, err := zo.DecodeControl(ci.Data.GetBinary())
		if err != nil {
			log.WithError(err).WithField("control", r.Control.String()).Warn("⚠️ 无法解析 control 账户")
			continue
		}
		out = append(out, &liquidator.Account{Key: r.Margin, Margin: m, Control: c})
	}
	return out, nil
}
