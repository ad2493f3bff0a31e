package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/snehendu098/rayfine/internal/adapter"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/network"
	"github.com/snehendu098/rayfine/internal/vault"
	"github.com/snehendu098/rayfine/pkg/logger"
)

// Manager 维护当前会话。私钥或网络变化时同步丢弃缓存的会话，下次访问重新绑定。
type Manager struct {
	vault    *vault.Vault
	selector *network.Selector
	chains   ChainSource
	factory  adapter.Factory
	logger   *slog.Logger

	mu         sync.Mutex
	current    *Session
	generation uint64
	listeners  []func()
}

// NewManager 创建会话管理器并订阅私钥与网络的变更。
func NewManager(v *vault.Vault, selector *network.Selector, chains ChainSource, factory adapter.Factory) *Manager {
	m := &Manager{vault: v, selector: selector, chains: chains, factory: factory, logger: logger.Named("session")}
	v.OnChange(func(e vault.Event) {
		// 密码门不影响已绑定的私钥
		if e != vault.EventPasswordChanged {
			m.Invalidate()
		}
	})
	selector.OnChange(func(network.Profile) { m.Invalidate() })
	return m
}

// OnInvalidate 注册会话失效回调，用于下游缓存同步失效。
func (m *Manager) OnInvalidate(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Invalidate 丢弃当前会话。
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.current = nil
	m.generation++
	listeners := append([]func(){}, m.listeners...)
	m.mu.Unlock()

	m.logger.Debug("会话已失效")
	for _, fn := range listeners {
		fn()
	}
}

// Current 返回当前会话，必要时重新绑定。未连接钱包时返回校验错误。
func (m *Manager) Current(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	if m.current != nil {
		s := m.current
		m.mu.Unlock()
		return s, nil
	}
	generation := m.generation
	m.mu.Unlock()

	key, ok, err := m.vault.Current(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, xerrors.New(xerrors.CodeValidation, "未连接钱包", xerrors.WithField("wallet", "请先生成或导入钱包"))
	}
	profile, err := m.selector.Current(ctx)
	if err != nil {
		return nil, err
	}
	s, err := Bind(ctx, key, profile, m.chains, m.factory)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation == generation {
		m.current = s
	}
	return s, nil
}

// Selector 返回网络选择器。
func (m *Manager) Selector() *network.Selector { return m.selector }

// Vault 返回凭据保管库。
func (m *Manager) Vault() *vault.Vault { return m.vault }
