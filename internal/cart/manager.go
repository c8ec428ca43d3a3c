package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kokoruadmin/kokoru-cart/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const loadTimeout = 5 * time.Second

var ErrMissingSession = errors.New("session id is required")

type entry struct {
	store    *Store
	lastUsed time.Time
}

// Manager owns one Store per browsing session. A session's store is hydrated
// the first time it is requested and kept until it has been idle long enough
// to be pruned; its persisted state survives pruning. Stores are never
// re-read from storage while cached, so one process must own all sessions.
type Manager struct {
	storage storage.Storage
	logger  *zap.Logger

	mu     sync.Mutex
	stores map[string]*entry
	sfg    singleflight.Group // one hydration per session at a time

	now func() time.Time
}

func NewManager(st storage.Storage, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		storage: st,
		logger:  logger,
		stores:  make(map[string]*entry),
		now:     time.Now,
	}
}

// StorageKey is the storage entry holding a session's cart.
func StorageKey(sessionID string) string {
	return "cart:" + sessionID
}

// Get returns the session's store, hydrating it on first use.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Store, error) {
	if sessionID == "" {
		return nil, ErrMissingSession
	}

	if s := m.lookup(sessionID); s != nil {
		return s, nil
	}

	v, err, _ := m.sfg.Do(sessionID, func() (interface{}, error) {
		if s := m.lookup(sessionID); s != nil {
			return s, nil
		}

		s := NewStore(m.storage, StorageKey(sessionID), m.logger)
		// Shared by every caller waiting on this session, so one caller
		// going away must not fail the others.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		if err := s.load(loadCtx); err != nil {
			return nil, fmt.Errorf("load cart: %w", err)
		}

		m.mu.Lock()
		m.stores[sessionID] = &entry{store: s, lastUsed: m.now()}
		m.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Store), nil
}

func (m *Manager) lookup(sessionID string) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.stores[sessionID]
	if !ok {
		return nil
	}
	e.lastUsed = m.now()
	return e.store
}

// Clear empties a session's cart, loading it first if needed so the persisted
// state ends up as an empty list.
func (m *Manager) Clear(ctx context.Context, sessionID string) error {
	s, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	s.ClearCart(ctx)
	return nil
}

// Loaded reports how many sessions are held in memory.
func (m *Manager) Loaded() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stores)
}

// Prune drops stores unused for longer than idle and returns how many were
// dropped.
func (m *Manager) Prune(idle time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-idle)
	pruned := 0
	for id, e := range m.stores {
		if e.lastUsed.Before(cutoff) {
			delete(m.stores, id)
			pruned++
		}
	}
	return pruned
}

// RunJanitor prunes idle stores every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Prune(idle); n > 0 {
				m.logger.Debug("pruned idle carts", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
