package vault

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/storage"
	"github.com/snehendu098/rayfine/pkg/logger"
)

// Event 描述凭据的变更类型。
type Event string

const (
	EventGenerated       Event = "generated"
	EventImported        Event = "imported"
	EventCleared         Event = "cleared"
	EventPasswordChanged Event = "password_changed"
)

// Listener 在凭据变更并持久化后被同步调用。
type Listener func(Event)

var privateKeyPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// Vault 持有唯一的签名私钥以及可选的密码门。
//
// 私钥只在首次需要时从存储中读取一次，之后在进程内缓存，Clear 时重置。
type Vault struct {
	store  storage.Store
	hasher hasher
	logger *slog.Logger

	mu        sync.Mutex
	loaded    bool
	key       *ecdsa.PrivateKey
	listeners []Listener
}

// Option 定义可选配置。
type Option func(*Vault)

// WithHashCost 调整密码门 argon2id 的参数，time 为迭代次数，memoryKB 为内存开销。
func WithHashCost(time, memoryKB uint32) Option {
	return func(v *Vault) {
		if time > 0 {
			v.hasher.time = time
		}
		if memoryKB > 0 {
			v.hasher.memoryKB = memoryKB
		}
	}
}

// New 创建凭据保管库。
func New(store storage.Store, opts ...Option) *Vault {
	v := &Vault{store: store, hasher: defaultHasher(), logger: logger.Named("vault")}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// SetupOption 用于生成或导入时附带设置。
type SetupOption func(*setup)

type setup struct {
	password string
}

// WithPassword 在生成或导入的同一次写入中设置密码门。
func WithPassword(password string) SetupOption {
	return func(s *setup) { s.password = password }
}

// OnChange 注册变更监听器。
func (v *Vault) OnChange(fn Listener) {
	if fn == nil {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.listeners = append(v.listeners, fn)
}

// ValidatePrivateKey 检查候选私钥的格式，返回带字段信息的校验错误。
func ValidatePrivateKey(candidate string) error {
	candidate = strings.TrimSpace(candidate)
	var msg string
	switch {
	case candidate == "":
		msg = "Private key is required"
	case !strings.HasPrefix(candidate, "0x"):
		msg = "Private key must start with 0x"
	case !privateKeyPattern.MatchString(candidate):
		msg = "Private key must be 64 hex characters (32 bytes)"
	default:
		return nil
	}
	return xerrors.New(xerrors.CodeValidation, msg, xerrors.WithField("private_key", msg))
}

// Generate 生成新的 secp256k1 私钥并持久化，返回对应地址。
func (v *Vault) Generate(ctx context.Context, opts ...SetupOption) (common.Address, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return common.Address{}, xerrors.Wrap(xerrors.CodeUnknown, err, "生成私钥失败")
	}
	return v.install(ctx, key, EventGenerated, opts)
}

// Import 校验并持久化外部私钥。
func (v *Vault) Import(ctx context.Context, candidate string, opts ...SetupOption) (common.Address, error) {
	if err := ValidatePrivateKey(candidate); err != nil {
		return common.Address{}, err
	}
	key, err := parseKey(strings.TrimSpace(candidate))
	if err != nil {
		msg := "Private key is not a valid secp256k1 key"
		return common.Address{}, xerrors.New(xerrors.CodeValidation, msg, xerrors.WithField("private_key", msg))
	}
	return v.install(ctx, key, EventImported, opts)
}

func (v *Vault) install(ctx context.Context, key *ecdsa.PrivateKey, event Event, opts []SetupOption) (common.Address, error) {
	var cfg setup
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	var gate string
	if cfg.password != "" {
		hashed, err := v.hasher.hash(cfg.password)
		if err != nil {
			return common.Address{}, err
		}
		gate = hashed
	}

	v.mu.Lock()
	err := v.store.Update(ctx, func(w storage.Writer) error {
		w.Set(storage.SlotPrivateKey, encodeKey(key))
		if gate != "" {
			w.Set(storage.SlotPasswordHash, gate)
		} else {
			w.Delete(storage.SlotPasswordHash)
		}
		return nil
	})
	if err != nil {
		v.mu.Unlock()
		return common.Address{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存私钥失败")
	}
	v.key = key
	v.loaded = true
	listeners := append([]Listener(nil), v.listeners...)
	v.mu.Unlock()

	address := crypto.PubkeyToAddress(key.PublicKey)
	v.logger.Info("钱包已就绪", slog.String("event", string(event)), slog.String("address", address.Hex()), slog.Bool("gated", gate != ""))
	for _, fn := range listeners {
		fn(event)
	}
	return address, nil
}

// SetPasswordGate 设置或替换密码门。
func (v *Vault) SetPasswordGate(ctx context.Context, password string) error {
	if strings.TrimSpace(password) == "" {
		return xerrors.New(xerrors.CodeValidation, "密码不能为空", xerrors.WithField("password", "密码不能为空"))
	}
	hashed, err := v.hasher.hash(password)
	if err != nil {
		return err
	}
	v.mu.Lock()
	if err := v.store.Update(ctx, func(w storage.Writer) error {
		w.Set(storage.SlotPasswordHash, hashed)
		return nil
	}); err != nil {
		v.mu.Unlock()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存密码失败")
	}
	listeners := append([]Listener(nil), v.listeners...)
	v.mu.Unlock()

	v.logger.Info("密码门已更新")
	for _, fn := range listeners {
		fn(EventPasswordChanged)
	}
	return nil
}

// GateEnabled 判断是否设置了密码门。
func (v *Vault) GateEnabled(ctx context.Context) (bool, error) {
	_, ok, err := storage.Get(ctx, v.store, storage.SlotPasswordHash)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取密码失败")
	}
	return ok, nil
}

// Verify 当且仅当 password 与最近一次设置的密码完全一致时返回 true。
// 未设置密码门时返回 false。
func (v *Vault) Verify(ctx context.Context, password string) (bool, error) {
	stored, ok, err := storage.Get(ctx, v.store, storage.SlotPasswordHash)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取密码失败")
	}
	if !ok {
		return false, nil
	}
	return v.hasher.verify(stored, password), nil
}

// Clear 在一次写入中删除私钥与密码门，并通知监听器。
func (v *Vault) Clear(ctx context.Context) error {
	v.mu.Lock()
	err := v.store.Update(ctx, func(w storage.Writer) error {
		w.Delete(storage.SlotPrivateKey)
		w.Delete(storage.SlotPasswordHash)
		return nil
	})
	if err != nil {
		v.mu.Unlock()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清除钱包失败")
	}
	v.key = nil
	v.loaded = true
	listeners := append([]Listener(nil), v.listeners...)
	v.mu.Unlock()

	v.logger.Info("钱包已清除")
	for _, fn := range listeners {
		fn(EventCleared)
	}
	return nil
}

// Current 返回当前私钥；未连接钱包时第二个返回值为 false。
func (v *Vault) Current(ctx context.Context) (*ecdsa.PrivateKey, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.loaded {
		return v.key, v.key != nil, nil
	}

	raw, ok, err := storage.Get(ctx, v.store, storage.SlotPrivateKey)
	if err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取私钥失败")
	}
	if ok {
		key, err := parseKey(raw)
		if err != nil {
			return nil, false, xerrors.New(xerrors.CodeStorageFailure, "存储中的私钥已损坏")
		}
		v.key = key
	}
	v.loaded = true
	return v.key, v.key != nil, nil
}

// IsConnected 判断是否存在私钥。
func (v *Vault) IsConnected(ctx context.Context) (bool, error) {
	_, ok, err := v.Current(ctx)
	return ok, err
}

// Address 返回当前私钥对应的地址。
func (v *Vault) Address(ctx context.Context) (common.Address, bool, error) {
	key, ok, err := v.Current(ctx)
	if err != nil || !ok {
		return common.Address{}, false, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), true, nil
}

func parseKey(encoded string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(encoded), "0x"))
}

func encodeKey(key *ecdsa.PrivateKey) string {
	return "0x" + hex.EncodeToString(crypto.FromECDSA(key))
}
