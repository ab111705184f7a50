package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/liqprotocol/zo-keeper/pkg/retry"
)

var (
	// ErrBlockhashNotFound 区块哈希过期，重新取哈希后重发即可
	ErrBlockhashNotFound = errors.New("solana: blockhash not found")
	// ErrConfirmTimeout 已发送但在等待时间内未确认
	ErrConfirmTimeout = errors.New("solana: confirmation timeout")
)

// 节点返回的 JSON-RPC 错误码
const (
	rpcCodeInvalidRequest                  = -32600
	rpcCodeMethodNotFound                  = -32601
	rpcCodeInvalidParams                   = -32602
	rpcCodeSendTransactionPreflightFailure = -32002
)

// RPCError JSON-RPC 层错误
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// ProgramError 某条指令被程序拒绝
type ProgramError struct {
	Instruction int
	// Code 自定义错误码（Kind 为 "Custom" 时有效）
	Code uint32
	// Kind 指令错误类型，如 "Custom"、"InvalidAccountData"
	Kind string
	Logs []string
}

func (e *ProgramError) Error() string {
	if e.Kind == "Custom" {
		return fmt.Sprintf("instruction %d: custom program error: 0x%x", e.Instruction, e.Code)
	}
	return fmt.Sprintf("instruction %d: %s", e.Instruction, e.Kind)
}

// IsCustom 是否为指定的自定义错误码
func (e *ProgramError) IsCustom(code uint32) bool {
	return e != nil && e.Kind == "Custom" && e.Code == code
}

// TransactionError 交易级错误（非指令错误）
type TransactionError struct {
	Kind string
	Raw  json.RawMessage
	Logs []string
}

func (e *TransactionError) Error() string {
	return "transaction error: " + e.Kind
}

// ParseTransactionError 解析 TransactionError JSON（simulate / getSignatureStatuses 返回的 err 字段）。
// raw 为空或 null 时返回 nil。
func ParseTransactionError(raw json.RawMessage, logs []string) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var kind string
	if err := json.Unmarshal(raw, &kind); err == nil {
		if kind == "BlockhashNotFound" {
			return ErrBlockhashNotFound
		}
		return &TransactionError{Kind: kind, Raw: raw, Logs: logs}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return &TransactionError{Kind: string(raw), Raw: raw, Logs: logs}
	}
	ixRaw, ok := obj["InstructionError"]
	if !ok {
		for k := range obj {
			return &TransactionError{Kind: k, Raw: raw, Logs: logs}
		}
		return &TransactionError{Kind: string(raw), Raw: raw, Logs: logs}
	}

	var pair []json.RawMessage
	if err := json.Unmarshal(ixRaw, &pair); err != nil || len(pair) != 2 {
		return &TransactionError{Kind: "InstructionError", Raw: raw, Logs: logs}
	}
	pe := &ProgramError{Logs: logs}
	if err := json.Unmarshal(pair[0], &pe.Instruction); err != nil {
		return &TransactionError{Kind: "InstructionError", Raw: raw, Logs: logs}
	}
	if err := json.Unmarshal(pair[1], &pe.Kind); err == nil {
		return pe
	}
	var detail map[string]json.RawMessage
	if err := json.Unmarshal(pair[1], &detail); err == nil {
		if c, ok := detail["Custom"]; ok {
			pe.Kind = "Custom"
			_ = json.Unmarshal(c, &pe.Code)
			return pe
		}
		for k := range detail {
			pe.Kind = k
		}
	}
	return pe
}

// statusError getSignatureStatuses / signatureNotification 的 err 字段已被解码为 interface{}，
// 重新编码后按 TransactionError JSON 解析
func statusError(v interface{}) error {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return &TransactionError{Kind: fmt.Sprint(v)}
	}
	return ParseTransactionError(raw, nil)
}

// preflightError 把 sendTransaction 的预检失败转换为 ProgramError / TransactionError
func preflightError(e *RPCError) error {
	if e.Code != rpcCodeSendTransactionPreflightFailure || len(e.Data) == 0 {
		if strings.Contains(e.Message, "BlockhashNotFound") || strings.Contains(e.Message, "Blockhash not found") {
			return ErrBlockhashNotFound
		}
		return e
	}
	var data struct {
		Err  json.RawMessage `json:"err"`
		Logs []string        `json:"logs"`
	}
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return e
	}
	if perr := ParseTransactionError(data.Err, data.Logs); perr != nil {
		return perr
	}
	return e
}

// Classify 发送重试的分类：网络/过期哈希/确认超时可重试，程序拒绝直接终止
func Classify(err error) retry.Action {
	var pe *ProgramError
	var te *TransactionError
	switch {
	case err == nil:
		return retry.Abort
	case errors.Is(err, ErrBlockhashNotFound), errors.Is(err, ErrConfirmTimeout):
		return retry.Retry
	case errors.As(err, &pe), errors.As(err, &te):
		return retry.Abort
	}
	var re *RPCError
	if errors.As(err, &re) {
		switch re.Code {
		case rpcCodeInvalidRequest, rpcCodeMethodNotFound, rpcCodeInvalidParams:
			// 请求本身有误，重试也不会成功
			return retry.Abort
		}
	}
	return retry.Retry
}

// Logs 取出错误附带的程序日志
func Logs(err error) []string {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe.Logs
	}
	var te *TransactionError
	if errors.As(err, &te) {
		return te.Logs
	}
	return nil
}
