package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/storage"
)

// maxWatchAttempts bounds optimistic-lock retries when another writer
// touches the hash between WATCH and EXEC.
const maxWatchAttempts = 3

// Config 描述 Redis 槽位存储的连接参数。
type Config struct {
	Address  string
	Username string
	Password string
	DB       int
	Key      string
}

// SlotStore 将槽位保存为一个 Redis hash 的字段。
type SlotStore struct {
	client redis.UniversalClient
	key    string
	owned  bool
}

var _ storage.Store = (*SlotStore)(nil)

// NewSlotStore 创建客户端并检查连通性。
func NewSlotStore(ctx context.Context, cfg Config) (*SlotStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	store := NewSlotStoreWithClient(client, cfg.Key)
	store.owned = true
	return store, nil
}

// NewSlotStoreWithClient 复用已有客户端，Close 不会关闭该客户端。
func NewSlotStoreWithClient(client redis.UniversalClient, key string) *SlotStore {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "rayfine:wallet"
	}
	return &SlotStore{client: client, key: key}
}

// View 读取整个 hash。
func (s *SlotStore) View(ctx context.Context, fn func(storage.Reader) error) error {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 Redis 槽位失败")
	}
	return fn(storage.NewTxn(toSlots(values)))
}

// Update 在 WATCH 下读取 hash，回调成功后用 MULTI/EXEC 写回变更。
func (s *SlotStore) Update(ctx context.Context, fn func(storage.Writer) error) error {
	var callbackErr error
	txf := func(tx *redis.Tx) error {
		values, err := tx.HGetAll(ctx, s.key).Result()
		if err != nil {
			return err
		}
		txn := storage.NewTxn(toSlots(values))
		if err := fn(txn); err != nil {
			callbackErr = err
			return err
		}
		if !txn.Dirty() {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, change := range txn.Changes() {
				if change.Deleted {
					pipe.HDel(ctx, s.key, string(change.Slot))
					continue
				}
				pipe.HSet(ctx, s.key, string(change.Slot), change.Value)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxWatchAttempts; attempt++ {
		callbackErr = nil
		err := s.client.Watch(ctx, txf, s.key)
		if callbackErr != nil {
			return callbackErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 Redis 槽位失败")
		}
		return nil
	}
	return xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("Redis 槽位并发冲突，已尝试 %d 次", maxWatchAttempts))
}

// Close 关闭由本存储创建的客户端。
func (s *SlotStore) Close() error {
	if s == nil || s.client == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}

func toSlots(values map[string]string) map[storage.Slot]string {
	out := make(map[storage.Slot]string, len(values))
	for k, v := range values {
		out[storage.Slot(k)] = v
	}
	return out
}
