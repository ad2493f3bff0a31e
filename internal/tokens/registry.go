package tokens

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/snehendu098/rayfine/internal/adapter"
	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/session"
	"github.com/snehendu098/rayfine/pkg/logger"
)

const defaultCacheSize = 32

// Registry 缓存每个 (地址, 链) 的资产列表。
type Registry struct {
	cache      *lru.Cache[string, []adapter.Token]
	logger     *slog.Logger
	onFallback func(error)
}

// Option 定义可选配置。
type Option func(*Registry)

// WithFallbackHook 在资产列表获取失败而降级时回调，用于指标统计。
func WithFallbackHook(fn func(error)) Option {
	return func(r *Registry) { r.onFallback = fn }
}

// NewRegistry 创建资产注册表，size 为缓存条目数。
func NewRegistry(size int, opts ...Option) (*Registry, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, []adapter.Token](size)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建资产缓存失败")
	}
	r := &Registry{cache: cache, logger: logger.Named("tokens")}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Resolve 返回会话可用的资产列表：原生资产在首位，其后为适配器提供的去重列表。
// 适配器失败时降级为只含原生资产的列表，且不写入缓存。
func (r *Registry) Resolve(ctx context.Context, s *session.Session) []adapter.Token {
	if cached, ok := r.cache.Get(s.Identity()); ok {
		return clone(cached)
	}
	return r.load(ctx, s)
}

// Refresh 忽略缓存重新加载。
func (r *Registry) Refresh(ctx context.Context, s *session.Session) []adapter.Token {
	r.cache.Remove(s.Identity())
	return r.load(ctx, s)
}

// Invalidate 清空所有缓存。
func (r *Registry) Invalidate() {
	r.cache.Purge()
}

func (r *Registry) load(ctx context.Context, s *session.Session) []adapter.Token {
	native := adapter.NativeToken(s.Profile())
	lister := s.Adapters().Tokens
	if lister == nil {
		return []adapter.Token{native}
	}
	listed, err := lister.Tokens(ctx)
	if err != nil {
		r.logger.Warn("获取资产列表失败，仅返回原生资产",
			slog.String("network", string(s.Profile().ID)),
			slog.String("error", err.Error()),
		)
		if r.onFallback != nil {
			r.onFallback(err)
		}
		return []adapter.Token{native}
	}
	merged := Merge(native, listed)
	r.cache.Add(s.Identity(), merged)
	return clone(merged)
}

// Merge 把原生资产放在首位，过滤掉表示原生资产的条目以及重复地址。
func Merge(native adapter.Token, listed []adapter.Token) []adapter.Token {
	out := make([]adapter.Token, 0, len(listed)+1)
	out = append(out, native)
	seen := map[common.Address]struct{}{native.Address: {}}
	for _, t := range listed {
		if t.IsNative() || (native.Symbol != "" && t.MatchesSymbol(native.Symbol)) {
			continue
		}
		if _, dup := seen[t.Address]; dup {
			continue
		}
		seen[t.Address] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Lookup 按地址或符号查找资产。未在列表中的地址会读取链上 ERC-20 元数据。
func (r *Registry) Lookup(ctx context.Context, s *session.Session, ref string) (adapter.Token, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return adapter.Token{}, xerrors.New(xerrors.CodeValidation, "未指定资产", xerrors.WithField("token", "请选择资产"))
	}
	list := r.Resolve(ctx, s)
	native := list[0]
	if strings.EqualFold(ref, "native") || native.MatchesSymbol(ref) {
		return native, nil
	}

	if common.IsHexAddress(ref) {
		addr := common.HexToAddress(ref)
		if adapter.IsNativeAddress(addr) {
			return native, nil
		}
		for _, t := range list {
			if t.Address == addr {
				return t, nil
			}
		}
		meta, err := s.Chain().TokenMetadata(ctx, addr)
		if err != nil {
			return adapter.Token{}, xerrors.Wrap(xerrors.CodeResolution, err, "无法读取代币信息", xerrors.WithMetadata("token", addr.Hex()))
		}
		symbol := meta.Symbol
		if symbol == "" {
			symbol = addr.Hex()[:8]
		}
		return adapter.Token{Symbol: symbol, Name: meta.Name, Address: addr, Decimals: meta.Decimals}, nil
	}
	if strings.HasPrefix(strings.ToLower(ref), "0x") {
		return adapter.Token{}, xerrors.New(xerrors.CodeValidation, "代币地址格式无效", xerrors.WithField("token", "代币地址格式无效"))
	}

	for _, t := range list {
		if t.MatchesSymbol(ref) {
			return t, nil
		}
	}
	return adapter.Token{}, xerrors.New(xerrors.CodeResolution, "未知资产: "+ref, xerrors.WithMetadata("token", ref))
}

func clone(tokens []adapter.Token) []adapter.Token {
	return append([]adapter.Token(nil), tokens...)
}
