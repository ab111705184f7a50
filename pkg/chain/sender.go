package chain

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/sirupsen/logrus"

	"github.com/liqprotocol/zo-keeper/pkg/retry"
)

// TxSenderOptions 发送参数
type TxSenderOptions struct {
	// Confirm 确认等级，默认 confirmed
	Confirm rpc.CommitmentType
	// ConfirmTimeout 等待确认的最长时间
	ConfirmTimeout time.Duration
	// PollInterval 轮询 getSignatureStatuses 的间隔
	PollInterval time.Duration
	// Backoff 两次发送之间的等待
	Backoff time.Duration
	// WSURL 非空时同时用 signatureSubscribe 等待确认，订阅失败退回轮询
	WSURL string
}

// TxSender 构建 -> 签名 -> 发送 -> 等待确认，按错误分类重试
type TxSender struct {
	rpc   *Client
	payer solana.PrivateKey
	opts  TxSenderOptions
}

// NewTxSender 创建发送器
func NewTxSender(c *Client, payer solana.PrivateKey, opts TxSenderOptions) *TxSender {
	if opts.Confirm == "" {
		opts.Confirm = c.Commitment()
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 30 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &TxSender{rpc: c, payer: payer, opts: opts}
}

// Payer 付费/签名账户
func (s *TxSender) Payer() solana.PublicKey { return s.payer.PublicKey() }

// RetrySend 每次尝试都重新 build（拿最新区块哈希），最多 maxAttempts 次。
// 程序拒绝（ProgramError / TransactionError）立即返回，不重试。
func (s *TxSender) RetrySend(ctx context.Context, build func() ([]solana.Instruction, error), maxAttempts int) (solana.Signature, error) {
	policy := retry.Policy{
		MaxAttempts: maxAttempts,
		Backoff:     s.opts.Backoff,
		Classify:    Classify,
		OnRetry: func(e retry.Event) {
			log.WithFields(logrus.Fields{
				"attempt": e.Attempt,
				"error":   e.Err,
			}).Warn("⚠️ 交易发送失败，重试")
		},
	}
	return retry.Do(ctx, policy, func(ctx context.Context) (solana.Signature, error) {
		ixs, err := build()
		if err != nil {
			return solana.Signature{}, err
		}
		return s.SendAndConfirm(ctx, ixs)
	})
}

// SendAndConfirm 发送一次并等待确认
func (s *TxSender) SendAndConfirm(ctx context.Context, ixs []solana.Instruction) (solana.Signature, error) {
	blockhash, err := s.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, err
	}
	payer := s.payer.PublicKey()
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return solana.Signature{}, err
	}
	if _, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(payer) {
			return &s.payer
		}
		return nil
	}); err != nil {
		return solana.Signature{}, err
	}

	sig, err := s.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	return sig, s.waitConfirmed(ctx, sig)
}

// waitConfirmed 订阅与轮询并行，先得出结论的一方生效
func (s *TxSender) waitConfirmed(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.ConfirmTimeout)
	defer cancel()

	done := make(chan error, 2)
	if s.opts.WSURL != "" {
		go s.watchSignature(ctx, sig, done)
	}
	go func() { done <- s.pollSignature(ctx, sig) }()

	err := <-done
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrConfirmTimeout
	}
	return err
}

// watchSignature 只在收到通知时写 done；连接或订阅失败静默退出，由轮询兜底
func (s *TxSender) watchSignature(ctx context.Context, sig solana.Signature, done chan<- error) {
	client, err := ws.ConnectWithOptions(ctx, s.opts.WSURL, &ws.Options{HandshakeTimeout: 5 * time.Second})
	if err != nil {
		log.WithError(err).Debug("websocket 连接失败，改用轮询")
		return
	}
	defer client.Close()

	sub, err := client.SignatureSubscribe(sig, s.opts.Confirm)
	if err != nil {
		log.WithError(err).Debug("signatureSubscribe 失败，改用轮询")
		return
	}
	defer sub.Unsubscribe()

	res, err := sub.Recv(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.WithError(err).Debug("签名订阅中断，改用轮询")
		}
		return
	}
	done <- statusError(res.Value.Err)
}

func (s *TxSender) pollSignature(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		statuses, err := s.rpc.GetSignatureStatuses(ctx, sig)
		if err != nil {
			log.WithError(err).Debug("查询交易状态失败")
		} else if len(statuses) == 1 && statuses[0] != nil {
			st := statuses[0]
			if terr := statusError(st.Err); terr != nil {
				return terr
			}
			if Reached(st, s.opts.Confirm) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
