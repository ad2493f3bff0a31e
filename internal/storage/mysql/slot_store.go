package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/storage"
)

const defaultNamespace = "default"

// SlotStore 将钱包槽位保存在 wallet_slots 表中。
type SlotStore struct {
	db        *sql.DB
	namespace string
	now       func() time.Time
}

var _ storage.Store = (*SlotStore)(nil)

// NewSlotStore 建立连接池并执行迁移。
func NewSlotStore(ctx context.Context, cfg Config) (*SlotStore, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newSlotStore(db, cfg.Namespace), nil
}

// NewSlotStoreWithDB 复用已经迁移过的连接池，Close 时会关闭该连接池。
func NewSlotStoreWithDB(db *sql.DB, namespace string) *SlotStore {
	return newSlotStore(db, namespace)
}

func newSlotStore(db *sql.DB, namespace string) *SlotStore {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &SlotStore{db: db, namespace: namespace, now: time.Now}
}

// View 读取当前命名空间下的全部槽位。
func (s *SlotStore) View(ctx context.Context, fn func(storage.Reader) error) error {
	slots, err := s.load(ctx, s.db, selectSlotsSQL)
	if err != nil {
		return err
	}
	return fn(storage.NewTxn(slots))
}

// Update 在事务中锁定槽位行、执行回调并提交变更；回调失败或提交前出错时回滚。
func (s *SlotStore) Update(ctx context.Context, fn func(storage.Writer) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启槽位事务失败")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	slots, err := s.load(ctx, tx, selectSlotsSQL+" FOR UPDATE")
	if err != nil {
		return err
	}
	txn := storage.NewTxn(slots)
	if err := fn(txn); err != nil {
		return err
	}

	now := s.now().Unix()
	for _, change := range txn.Changes() {
		if change.Deleted {
			if _, err := tx.ExecContext(ctx, deleteSlotSQL, s.namespace, string(change.Slot)); err != nil {
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("删除槽位 %s 失败", change.Slot))
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertSlotSQL, s.namespace, string(change.Slot), change.Value, now); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("写入槽位 %s 失败", change.Slot))
		}
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交槽位事务失败")
	}
	committed = true
	return nil
}

// Close 关闭连接池。
func (s *SlotStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SlotStore) load(ctx context.Context, q querier, query string) (map[storage.Slot]string, error) {
	rows, err := q.QueryContext(ctx, query, s.namespace)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询槽位失败")
	}
	defer rows.Close()

	slots := make(map[storage.Slot]string)
	for rows.Next() {
		var slot, value string
		if err := rows.Scan(&slot, &value); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析槽位失败")
		}
		slots[storage.Slot(slot)] = value
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历槽位失败")
	}
	return slots, nil
}

const (
	selectSlotsSQL = `SELECT slot, value FROM wallet_slots WHERE namespace = ?`
	deleteSlotSQL  = `DELETE FROM wallet_slots WHERE namespace = ? AND slot = ?`
	upsertSlotSQL  = `INSERT INTO wallet_slots (namespace, slot, value, updated_at) VALUES (?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`
)
