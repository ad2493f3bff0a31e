package network

import (
	"context"
	"log/slog"
	"sync"

	xerrors "github.com/snehendu098/rayfine/internal/errors"
	"github.com/snehendu098/rayfine/internal/storage"
	"github.com/snehendu098/rayfine/pkg/logger"
)

// Listener is notified after a new profile has been persisted.
type Listener func(Profile)

// Selector owns the persisted network choice.
type Selector struct {
	store   storage.Store
	catalog *Catalog
	logger  *slog.Logger

	mu        sync.Mutex
	current   *Profile
	listeners []Listener
}

// NewSelector binds the selector to a slot store. A nil catalog means the
// built-in profiles.
func NewSelector(store storage.Store, catalog *Catalog) *Selector {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Selector{store: store, catalog: catalog, logger: logger.Named("network")}
}

// Catalog exposes the available profiles.
func (s *Selector) Catalog() *Catalog { return s.catalog }

// OnChange registers a listener. Listeners run synchronously on the
// goroutine that called Select, after the lock is released.
func (s *Selector) OnChange(fn Listener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Current returns the persisted profile, or the default when nothing valid
// has been stored.
func (s *Selector) Current(ctx context.Context) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Selector) loadLocked(ctx context.Context) (Profile, error) {
	if s.current != nil {
		return *s.current, nil
	}

	raw, ok, err := storage.Get(ctx, s.store, storage.SlotNetwork)
	if err != nil {
		return Profile{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取网络配置失败")
	}
	id := Default
	if ok {
		parsed, perr := ParseID(raw)
		if perr != nil {
			s.logger.Warn("忽略无法识别的网络配置", slog.String("value", raw))
		} else {
			id = parsed
		}
	}
	profile, found := s.catalog.Profile(id)
	if !found {
		return Profile{}, xerrors.New(xerrors.CodeResolution, "网络配置不存在: "+string(id))
	}
	s.current = &profile
	return profile, nil
}

// Select persists id and notifies listeners when the profile changed.
// Key material is never touched.
func (s *Selector) Select(ctx context.Context, id ID) (Profile, error) {
	profile, ok := s.catalog.Profile(id)
	if !ok {
		return Profile{}, xerrors.New(xerrors.CodeValidation, "未知网络: "+string(id), xerrors.WithField("network", "必须为 mainnet 或 testnet"))
	}

	s.mu.Lock()
	previous, err := s.loadLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return Profile{}, err
	}
	err = s.store.Update(ctx, func(w storage.Writer) error {
		w.Set(storage.SlotNetwork, string(id))
		return nil
	})
	if err != nil {
		s.mu.Unlock()
		return Profile{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存网络配置失败")
	}
	s.current = &profile
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if previous.ID == id {
		return profile, nil
	}
	s.logger.Info("网络已切换", slog.String("network", string(id)), slog.Uint64("chain_id", profile.ChainID))
	for _, fn := range listeners {
		fn(profile)
	}
	return profile, nil
}
