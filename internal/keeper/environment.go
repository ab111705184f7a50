// Package keeper 负责把配置装配成一个可运行的清算进程。
package keeper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/liqprotocol/zo-keeper/internal/accounts"
	"github.com/liqprotocol/zo-keeper/internal/liquidator"
	"github.com/liqprotocol/zo-keeper/internal/metrics"
	"github.com/liqprotocol/zo-keeper/internal/zo"
	"github.com/liqprotocol/zo-keeper/pkg/chain"
	"github.com/liqprotocol/zo-keeper/pkg/config"
	"github.com/liqprotocol/zo-keeper/pkg/secretstore"
	"github.com/liqprotocol/zo-keeper/pkg/shutdown"
)

var log = logrus.WithField("component", "keeper")

// ErrNoPayer 三个来源都没有配置付款人密钥
var ErrNoPayer = errors.New("payer keypair not configured")

// Environment 进程内所有协作者，由 NewEnvironment 一次性装配
type Environment struct {
	Config   *config.Config
	Payer    solana.PrivateKey
	RPC      *chain.Client
	Sender   *chain.TxSender
	Store    *accounts.Store
	Engine   *liquidator.Engine
	Provider *accounts.Provider
	Loop     *liquidator.ScanLoop

	shutdown *shutdown.Manager
}

// NewEnvironment 按配置装配；任何一步失败都会释放已打开的资源
func NewEnvironment(cfg *config.Config) (_ *Environment, err error) {
	env := &Environment{Config: cfg, shutdown: shutdown.NewManager()}
	defer func() {
		if err != nil {
			_ = env.Close(context.Background())
		}
	}()

	env.Payer, err = LoadPayer(cfg)
	if err != nil {
		return nil, err
	}

	commitment := rpc.CommitmentType(cfg.Solana.Commitment)
	env.RPC = chain.NewClient(cfg.Solana.RPCURL, chain.ClientOptions{
		Commitment:        commitment,
		RequestsPerSecond: cfg.Solana.RequestsPerSecond,
		HTTPRetries:       3,
	})
	env.Sender = chain.NewTxSender(env.RPC, env.Payer, chain.TxSenderOptions{
		Confirm:        commitment,
		ConfirmTimeout: cfg.Solana.ConfirmTimeout,
		WSURL:          strings.TrimSpace(cfg.Solana.WSURL),
	})

	env.Store, err = accounts.OpenStore(cfg.Keeper.DBPath)
	if err != nil {
		return nil, err
	}
	env.shutdown.OnShutdown("account-store", func(context.Context) error { return env.Store.Close() })

	programs := zo.Programs{Zo: cfg.Zo.ProgramID, Dex: cfg.Zo.DexProgramID, Serum: cfg.Zo.SerumProgramID}

	// 兑换需要清算人最新的余额，而余额由 Provider 读取；Provider 又依赖 Engine，这里用闭包打破循环
	var provider *accounts.Provider
	swapper := liquidator.NewSerumSwapper(programs, env.Sender, func(ctx context.Context) (*zo.Margin, error) {
		return provider.LiquidatorMargin(ctx)
	}, int64(cfg.Zo.SlippageBps))

	env.Engine = liquidator.NewEngine(programs, env.Sender, swapper, liquidator.Config{
		MaxSendAttempts: cfg.Keeper.MaxSendAttempts,
		MaxReductions:   cfg.Keeper.MaxReductions,
	})
	provider = accounts.NewProvider(accounts.Config{
		StateKey:    cfg.Zo.StateKey,
		Programs:    programs,
		Payer:       env.Payer.PublicKey(),
		WorkerCount: cfg.Keeper.WorkerCount,
		WorkerIndex: cfg.Keeper.WorkerIndex,
		SwapMarkets: cfg.Zo.SwapMarkets,
		BatchSize:   cfg.Keeper.BatchSize,
		Concurrency: cfg.Keeper.Concurrency,
	}, env.RPC, env.Store, env.Engine)
	env.Provider = provider

	env.Loop = liquidator.NewScanLoop(provider, liquidator.LoopConfig{
		Interval:          cfg.Keeper.ScanInterval,
		RefreshInterval:   cfg.Keeper.RefreshInterval,
		RefreshRetryDelay: cfg.Keeper.RefreshRetryDelay,
	})

	log.WithFields(logrus.Fields{
		"rpc":    cfg.Solana.RPCURL,
		"ws":     cfg.Solana.WSURL,
		"payer":  env.Payer.PublicKey().String(),
		"state":  cfg.Zo.StateKey.String(),
		"worker": fmt.Sprintf("%d/%d", cfg.Keeper.WorkerIndex, cfg.Keeper.WorkerCount),
	}).Info("🧩 环境装配完成")
	return env, nil
}

// Run 先做一次账户全集刷新（失败直接返回），再并行运行扫描循环与 metrics 服务，直到 ctx 结束
func (e *Environment) Run(ctx context.Context) error {
	if err := e.RPC.GetHealth(ctx); err != nil {
		log.WithError(err).Warn("⚠️ RPC 节点健康检查未通过")
	}
	if err := e.Provider.RefreshAccounts(ctx); err != nil {
		return fmt.Errorf("initial account refresh: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Loop.Run(gctx)
	})
	if addr := strings.TrimSpace(e.Config.MetricsAddr); addr != "" {
		g.Go(func() error {
			log.Infof("📊 metrics/pprof 启用: listen=%s", addr)
			return metrics.Serve(gctx, addr)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Close 释放资源
func (e *Environment) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	return e.shutdown.Shutdown(ctx)
}

// LoadPayer 付款人密钥来源优先级：密钥文件 > SOLANA_PAYER_KEY > 加密密钥库
func LoadPayer(cfg *config.Config) (solana.PrivateKey, error) {
	if p := strings.TrimSpace(cfg.Solana.PayerFile); p != "" {
		kp, err := solana.PrivateKeyFromSolanaKeygenFile(p)
		if err != nil {
			return nil, fmt.Errorf("load payer file: %w", err)
		}
		return kp, nil
	}
	if raw := strings.TrimSpace(cfg.Solana.PayerKey); raw != "" {
		kp, err := chain.ParseKeypairJSON(raw)
		if err != nil {
			return nil, fmt.Errorf("parse SOLANA_PAYER_KEY: %w", err)
		}
		return kp, nil
	}
	if cfg.SecretStore.Path == "" {
		return nil, ErrNoPayer
	}

	encKey, err := secretstore.ParseKey(cfg.SecretStore.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("secret store key: %w", err)
	}
	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          cfg.SecretStore.Path,
		EncryptionKey: encKey,
		ReadOnly:      true,
	})
	if err != nil {
		return nil, err
	}
	defer ss.Close()

	kp, err := ss.LoadKeypair(cfg.SecretStore.KeyName)
	if err != nil {
		if errors.Is(err, secretstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrNoPayer, err)
		}
		return nil, err
	}
	return kp, nil
}
