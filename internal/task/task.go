package task

import (
	stdErrors "errors"

	"github.com/snehendu098/rayfine/internal/agent"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/network"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// DefaultMaxRetries 为 1：链上操作在失败后从不自动重新执行。
const DefaultMaxRetries = 1

// Task 描述了排队执行的一次链上操作。
type Task struct {
	ID            string              `json:"id"`
	Request       agent.ActionRequest `json:"request"`
	Network       network.ID          `json:"network"`
	Status        Status              `json:"status"`
	Attempts      int                 `json:"attempts"`
	MaxRetries    int                 `json:"max_retries"`
	LastError     string              `json:"last_error,omitempty"`
	ErrorCode     string              `json:"error_code,omitempty"`
	ErrorMetadata map[string]string   `json:"error_metadata,omitempty"`
	Receipt       *agent.Receipt      `json:"receipt,omitempty"`
	CreatedAt     int64               `json:"created_at"`
	UpdatedAt     int64               `json:"updated_at"`
}

// TxHash 返回已知的交易哈希：成功时来自回执，等待确认被中断时来自错误元数据。
func (t *Task) TxHash() string {
	if t == nil {
		return ""
	}
	if t.Receipt != nil {
		return t.Receipt.TxHash
	}
	return t.ErrorMetadata["tx_hash"]
}

// Done 表示任务已到达终态。
func (t *Task) Done() bool {
	return t != nil && (t.Status == StatusSucceeded || t.Status == StatusFailed)
}

// Failure 描述任务失败时需要记录的分类错误。
type Failure struct {
	Code     xerrors.Code
	Message  string
	Metadata map[string]string
}

// FailureOf 将分类错误转为 Failure。
func FailureOf(err error) Failure {
	e, ok := xerrors.From(err)
	if !ok {
		return Failure{Code: xerrors.CodeUnknown, Message: err.Error()}
	}
	return Failure{Code: e.Code(), Message: e.Message(), Metadata: e.Metadata()}
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrTaskCompleted 表示任务已经到达终态。
	ErrTaskCompleted = xerrors.New(CodeTaskCompleted, "task already completed", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodeTaskNotFound  = xerrors.CodeNotFound
	CodeTaskConflict  = xerrors.CodeConflict
	CodeTaskCompleted = xerrors.CodeAlreadyCompleted
	CodeTaskPublish   = xerrors.CodeQueueFailure
)

// IsTaskError 判断错误是否为统一任务错误。
func IsTaskError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch {
	case stdErrors.Is(err, ErrTaskNotFound):
		return target == CodeTaskNotFound
	case stdErrors.Is(err, ErrTaskConflict):
		return target == CodeTaskConflict
	case stdErrors.Is(err, ErrTaskCompleted):
		return target == CodeTaskCompleted
	}
	return false
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneTask(task *Task) *Task {
	clone := *task
	if task.Receipt != nil {
		receipt := *task.Receipt
		clone.Receipt = &receipt
	}
	clone.ErrorMetadata = cloneStrings(task.ErrorMetadata)
	return &clone
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}
