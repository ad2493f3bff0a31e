package vault

import (
	"context"
	"sync"

	xerrors "github.com/snehendu098/rayfine/internal/errors"
)

// RevealState 是一次查看私钥流程的状态，只存在于内存中。
type RevealState int

const (
	Locked RevealState = iota
	Unlocked
)

func (s RevealState) String() string {
	if s == Unlocked {
		return "unlocked"
	}
	return "locked"
}

// RevealSession 控制单次查看私钥的流程。每次查看都应创建新的会话。
type RevealSession struct {
	vault *Vault

	mu    sync.Mutex
	state RevealState
}

// Reveal 开始一次查看流程。未设置密码门时直接处于 Unlocked 状态。
func (v *Vault) Reveal(ctx context.Context) (*RevealSession, error) {
	gated, err := v.GateEnabled(ctx)
	if err != nil {
		return nil, err
	}
	state := Locked
	if !gated {
		state = Unlocked
	}
	return &RevealSession{vault: v, state: state}, nil
}

// State 返回当前状态。
func (r *RevealSession) State() RevealState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Unlock 校验密码，成功后进入 Unlocked 状态。
func (r *RevealSession) Unlock(ctx context.Context, password string) (bool, error) {
	ok, err := r.vault.Verify(ctx, password)
	if err != nil || !ok {
		return false, err
	}
	r.mu.Lock()
	r.state = Unlocked
	r.mu.Unlock()
	return true, nil
}

// PrivateKey 在 Unlocked 状态下返回十六进制私钥。
func (r *RevealSession) PrivateKey(ctx context.Context) (string, error) {
	if r.State() != Unlocked {
		return "", xerrors.New(xerrors.CodeValidation, "需要先验证密码", xerrors.WithField("password", "需要先验证密码"))
	}
	key, ok, err := r.vault.Current(ctx)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", xerrors.New(xerrors.CodeValidation, "未连接钱包", xerrors.WithField("wallet", "未连接钱包"))
	}
	return encodeKey(key), nil
}
