// Package chain 在 solana-go 之上补齐清算进程需要的链路能力：
// resty 传输层重试、按方法限流、错误分类，以及带确认的交易发送。
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/liqprotocol/zo-keeper/pkg/ratelimit"
)

var log = logrus.WithField("component", "solana_rpc")

// 单次 getMultipleAccounts 的地址上限
const maxMultipleAccounts = 100

// ClientOptions RPC 客户端参数
type ClientOptions struct {
	Timeout    time.Duration
	Commitment rpc.CommitmentType
	// RequestsPerSecond <= 0 表示不限流
	RequestsPerSecond float64
	// HTTPRetries 传输层（连接失败 / 429 / 5xx）重试次数
	HTTPRetries int
}

// Client 包装 rpc.Client，统一 commitment 与错误类型
type Client struct {
	endpoint   string
	rpc        *rpc.Client
	commitment rpc.CommitmentType
}

// NewClient 创建客户端
func NewClient(endpoint string, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Commitment == "" {
		opts.Commitment = rpc.CommitmentConfirmed
	}

	// resty 会自动从环境变量读取代理配置（HTTP_PROXY, HTTPS_PROXY）
	hc := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.HTTPRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("User-Agent", "zo-keeper").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		}).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			// 遇到 429 限流，使用 Retry-After 头
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if ra := resp.Header().Get("Retry-After"); ra != "" {
					if d, err := time.ParseDuration(ra + "s"); err == nil {
						return d, nil
					}
				}
				return 2 * time.Second, nil
			}
			return 0, nil
		})

	limiter := ratelimit.NewMethodLimiter(opts.RequestsPerSecond)
	// getProgramAccounts 很重，单独限流
	limiter.Set("getProgramAccounts", ratelimit.NewTokenBucket(1, 0.2))

	inner := jsonrpc.NewClientWithOpts(endpoint, &jsonrpc.RPCClientOpts{HTTPClient: restyDoer{hc}})
	return &Client{
		endpoint:   endpoint,
		rpc:        rpc.NewWithCustomRPCClient(&transport{inner: inner, limiter: limiter}),
		commitment: opts.Commitment,
	}
}

// Endpoint RPC 地址
func (c *Client) Endpoint() string { return c.endpoint }

// Commitment 查询使用的确认等级
func (c *Client) Commitment() rpc.CommitmentType { return c.commitment }

// restyDoer 让 jsonrpc 客户端的 HTTP 请求走 resty，复用其重试与 Retry-After 处理
type restyDoer struct {
	c *resty.Client
}

func (d restyDoer) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = b
	}

	r := d.c.R().SetContext(req.Context()).SetBody(body)
	for k, vs := range req.Header {
		for _, v := range vs {
			r.Header.Add(k, v)
		}
	}
	resp, err := r.Execute(req.Method, req.URL.String())
	if err != nil {
		return nil, err
	}
	raw := resp.RawResponse
	// resty 已读完并关闭原始 body，这里重新包装给 jsonrpc 解码
	raw.Body = io.NopCloser(bytes.NewReader(resp.Body()))
	return raw, nil
}

func (d restyDoer) CloseIdleConnections() {
	d.c.GetClient().CloseIdleConnections()
}

// transport 在每次调用前按方法限流，并把 JSON-RPC 错误转换为 *RPCError
type transport struct {
	inner   rpc.JSONRPCClient
	limiter *ratelimit.MethodLimiter
}

func (t *transport) CallForInto(ctx context.Context, out interface{}, method string, params []interface{}) error {
	if err := t.limiter.Wait(ctx, method); err != nil {
		return err
	}
	return convertError(t.inner.CallForInto(ctx, out, method, params))
}

func (t *transport) CallWithCallback(ctx context.Context, method string, params []interface{}, cb func(*http.Request, *http.Response) error) error {
	if err := t.limiter.Wait(ctx, method); err != nil {
		return err
	}
	return convertError(t.inner.CallWithCallback(ctx, method, params, cb))
}

func (t *transport) CallBatch(ctx context.Context, reqs jsonrpc.RPCRequests) (jsonrpc.RPCResponses, error) {
	for _, r := range reqs {
		if err := t.limiter.Wait(ctx, r.Method); err != nil {
			return nil, err
		}
	}
	return t.inner.CallBatch(ctx, reqs)
}

func convertError(err error) error {
	var je *jsonrpc.RPCError
	if !errors.As(err, &je) {
		return err
	}
	re := &RPCError{Code: je.Code, Message: je.Message}
	if je.Data != nil {
		if raw, merr := json.Marshal(je.Data); merr == nil {
			re.Data = raw
		}
	}
	return re
}

// GetMultipleAccounts 批量读取，结果与 keys 对齐，不存在的账户为 nil
func (c *Client) GetMultipleAccounts(ctx context.Context, keys []solana.PublicKey) ([]*rpc.Account, error) {
	res := make([]*rpc.Account, 0, len(keys))
	for start := 0; start < len(keys); start += maxMultipleAccounts {
		end := start + maxMultipleAccounts
		if end > len(keys) {
			end = len(keys)
		}
		out, err := c.rpc.GetMultipleAccountsWithOpts(ctx, keys[start:end], &rpc.GetMultipleAccountsOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
		if err != nil {
			return nil, errors.Wrap(err, "getMultipleAccounts")
		}
		if len(out.Value) != end-start {
			return nil, errors.Errorf("getMultipleAccounts: 返回数量不匹配 want=%d got=%d", end-start, len(out.Value))
		}
		res = append(res, out.Value...)
	}
	return res, nil
}

// GetProgramAccounts 查询程序下满足过滤条件的账户
func (c *Client) GetProgramAccounts(ctx context.Context, program solana.PublicKey, filters ...rpc.RPCFilter) (rpc.GetProgramAccountsResult, error) {
	out, err := c.rpc.GetProgramAccountsWithOpts(ctx, program, &rpc.GetProgramAccountsOpts{
		Commitment: c.commitment,
		Encoding:   solana.EncodingBase64,
		Filters:    filters,
	})
	if err != nil {
		return nil, errors.Wrap(err, "getProgramAccounts")
	}
	return out, nil
}

// GetLatestBlockhash 最新区块哈希
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, err
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, errors.New("getLatestBlockhash: empty result")
	}
	return out.Value.Blockhash, nil
}

// SendTransaction 带预检发送；预检失败转换为 ProgramError / TransactionError
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	// 节点不代为重发，重发由 TxSender 带新区块哈希完成
	maxRetries := uint(0)
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: c.commitment,
		MaxRetries:          &maxRetries,
	})
	if err != nil {
		var re *RPCError
		if errors.As(err, &re) {
			return solana.Signature{}, preflightError(re)
		}
		return solana.Signature{}, err
	}
	return sig, nil
}

// Reached 状态是否已达到给定确认等级
func Reached(st *rpc.SignatureStatusesResult, level rpc.CommitmentType) bool {
	if st == nil {
		return false
	}
	switch level {
	case rpc.CommitmentFinalized:
		return st.ConfirmationStatus == rpc.ConfirmationStatusFinalized
	case rpc.CommitmentConfirmed:
		return st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			st.ConfirmationStatus == rpc.ConfirmationStatusFinalized
	default:
		return st.ConfirmationStatus != ""
	}
}

// GetSignatureStatuses 查询交易状态，结果与 sigs 对齐，未知交易为 nil
func (c *Client) GetSignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*rpc.SignatureStatusesResult, error) {
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sigs...)
	if err != nil {
		return nil, err
	}
	return out.Value, nil
}

// GetHealth 节点健康检查（启动时确认链路可用）
func (c *Client) GetHealth(ctx context.Context) error {
	out, err := c.rpc.GetHealth(ctx)
	if err != nil {
		return err
	}
	if out != rpc.HealthOk {
		log.Warnf("⚠️ 节点状态异常: %s", out)
	}
	return nil
}
