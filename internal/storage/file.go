package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	xerrors "github.com/snehendu098/rayfine/internal/errors"
)

const lockRetryDelay = 25 * time.Millisecond

type fileDocument struct {
	Version int             `json:"version"`
	Slots   map[Slot]string `json:"slots"`
}

// FileStore persists slots as a JSON document. When a secret is configured the
// document is sealed with XChaCha20-Poly1305 under an argon2id-derived key.
// A lock file serialises access across processes (CLI and daemon); sem
// serialises goroutines within one process, since a flock.Flock held by this
// process reports success to every caller.
type FileStore struct {
	path   string
	secret string
	kdf    kdfParams
	sem    chan struct{}
	lock   *flock.Flock
}

// FileOption customises a FileStore.
type FileOption func(*FileStore)

// WithSecret seals the document with the given secret.
func WithSecret(secret string) FileOption {
	return func(f *FileStore) {
		f.secret = strings.TrimSpace(secret)
	}
}

// NewFileStore prepares a store at path. The file is created on first Update.
func NewFileStore(path string, opts ...FileOption) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "存储文件路径不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建存储目录失败")
	}
	store := &FileStore{path: path, kdf: defaultKDF, sem: make(chan struct{}, 1), lock: flock.New(path + ".lock")}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Path returns the document location.
func (f *FileStore) Path() string { return f.path }

// Sealed reports whether the document is encrypted at rest.
func (f *FileStore) Sealed() bool { return f.secret != "" }

// View implements Store.
func (f *FileStore) View(ctx context.Context, fn func(Reader) error) error {
	if err := f.acquire(ctx); err != nil {
		return err
	}
	defer f.release()

	slots, err := f.read()
	if err != nil {
		return err
	}
	return fn(NewTxn(slots))
}

// Update implements Store.
func (f *FileStore) Update(ctx context.Context, fn func(Writer) error) error {
	if err := f.acquire(ctx); err != nil {
		return err
	}
	defer f.release()

	slots, err := f.read()
	if err != nil {
		return err
	}
	txn := NewTxn(slots)
	if err := fn(txn); err != nil {
		return err
	}
	if !txn.Dirty() {
		return nil
	}
	return f.write(txn.Result())
}

// Close implements Store.
func (f *FileStore) Close() error {
	return f.lock.Close()
}

func (f *FileStore) acquire(ctx context.Context) error {
	select {
	case f.sem <- struct{}{}:
	case <-ctx.Done():
		return xerrors.Wrap(xerrors.CodeStorageFailure, ctx.Err(), "获取存储文件锁失败")
	}
	locked, err := f.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		<-f.sem
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取存储文件锁失败")
	}
	if !locked {
		<-f.sem
		return xerrors.New(xerrors.CodeStorageFailure, "获取存储文件锁失败")
	}
	return nil
}

func (f *FileStore) release() {
	_ = f.lock.Unlock()
	<-f.sem
}

func (f *FileStore) read() (map[Slot]string, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[Slot]string{}, nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取存储文件失败")
	}
	if isSealed(raw) {
		if f.secret == "" {
			return nil, xerrors.New(xerrors.CodeInitializationFailure, "存储文件已加密，但未配置密钥")
		}
		raw, err = unseal(f.secret, raw)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解密存储文件失败")
		}
	}
	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析存储文件失败")
	}
	if doc.Slots == nil {
		doc.Slots = map[Slot]string{}
	}
	return doc.Slots, nil
}

func (f *FileStore) write(slots map[Slot]string) error {
	payload, err := json.Marshal(fileDocument{Version: 1, Slots: slots})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化存储文件失败")
	}
	if f.secret != "" {
		payload, err = seal(f.secret, payload, f.kdf)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "加密存储文件失败")
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建临时文件失败")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "设置文件权限失败")
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入临时文件失败")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "刷新临时文件失败")
	}
	if err := tmp.Close(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "关闭临时文件失败")
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("替换存储文件 %s 失败", filepath.Base(f.path)))
	}
	return nil
}
