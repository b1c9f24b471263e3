package repository

import (
	"context"
	"sync"
	"time"

	authdomain "maildash-backend/internal/auth/domain"
	"maildash-backend/pkg/logger"
)

// TokenStore is a write-through cache in front of an optional TokenRepository.
// Durable failures never reach callers: the entry is kept in memory, marked
// dirty and retried by Reconcile.
type TokenStore struct {
	mu      sync.RWMutex
	mem     map[string]*authdomain.TokenData
	dirty   map[string]bool
	durable TokenRepository
}

// NewTokenStore accepts a nil durable repository for memory-only operation.
func NewTokenStore(durable TokenRepository) *TokenStore {
	return &TokenStore{
		mem:     make(map[string]*authdomain.TokenData),
		dirty:   make(map[string]bool),
		durable: durable,
	}
}

func (s *TokenStore) Store(ctx context.Context, token *authdomain.TokenData) error {
	if err := token.Validate(); err != nil {
		return err
	}
	key := token.Key()

	s.mu.Lock()
	s.mem[key] = token.Clone()
	s.mu.Unlock()

	if s.durable == nil {
		return nil
	}
	if err := s.durable.Save(ctx, token); err != nil {
		log := logger.Component("token_store")
		log.Warn().Err(err).
			Str("provider", string(token.Provider)).
			Str("account", logger.MaskEmail(token.Account)).
			Msg("durable token write failed, keeping in memory")
		s.markDirty(key, true)
		return nil
	}
	s.markDirty(key, false)
	return nil
}

// Retrieve prefers the durable copy and falls back to memory when the durable
// store is unreachable or has no row. Returns nil when nothing is known.
func (s *TokenStore) Retrieve(ctx context.Context, provider authdomain.Provider, account string) *authdomain.TokenData {
	key := authdomain.TokenKey(provider, account)

	s.mu.RLock()
	cached := s.mem[key]
	dirty := s.dirty[key]
	s.mu.RUnlock()

	// A dirty entry is newer than whatever the durable store holds.
	if s.durable == nil || dirty {
		return cached.Clone()
	}

	token, err := s.durable.Find(ctx, provider, account)
	if err != nil {
		log := logger.Component("token_store")
		log.Warn().Err(err).
			Str("provider", string(provider)).
			Str("account", logger.MaskEmail(account)).
			Msg("durable token read failed, using memory")
		return cached.Clone()
	}
	if token == nil {
		return cached.Clone()
	}

	s.mu.Lock()
	if !s.dirty[key] {
		s.mem[key] = token.Clone()
	}
	s.mu.Unlock()
	return token
}

func (s *TokenStore) Delete(ctx context.Context, provider authdomain.Provider, account string) {
	key := authdomain.TokenKey(provider, account)

	s.mu.Lock()
	delete(s.mem, key)
	delete(s.dirty, key)
	s.mu.Unlock()

	if s.durable == nil {
		return
	}
	if err := s.durable.Delete(ctx, provider, account); err != nil {
		log := logger.Component("token_store")
		log.Warn().Err(err).
			Str("provider", string(provider)).
			Str("account", logger.MaskEmail(account)).
			Msg("durable token delete failed")
	}
}

// Reconcile retries durable writes for dirty entries and returns how many
// are still pending.
func (s *TokenStore) Reconcile(ctx context.Context) int {
	if s.durable == nil {
		return 0
	}

	s.mu.RLock()
	pending := make([]*authdomain.TokenData, 0, len(s.dirty))
	for key := range s.dirty {
		if t := s.mem[key]; t != nil {
			pending = append(pending, t.Clone())
		}
	}
	s.mu.RUnlock()

	remaining := 0
	for _, token := range pending {
		if err := s.durable.Save(ctx, token); err != nil {
			remaining++
			continue
		}
		s.mu.Lock()
		// Skip the clear if a newer Store raced in after the snapshot.
		if cur := s.mem[token.Key()]; cur != nil && cur.AccessToken() == token.AccessToken() {
			delete(s.dirty, token.Key())
		}
		s.mu.Unlock()
	}
	if len(pending) > 0 {
		log := logger.Component("token_store")
		log.Info().Int("flushed", len(pending)-remaining).Int("pending", remaining).Msg("token reconcile")
	}
	return remaining
}

// StartReconciler runs Reconcile on every tick until ctx is done.
func (s *TokenStore) StartReconciler(ctx context.Context, interval time.Duration) {
	if s.durable == nil || interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Reconcile(ctx)
			}
		}
	}()
}

func (s *TokenStore) markDirty(key string, dirty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dirty {
		s.dirty[key] = true
		return
	}
	delete(s.dirty, key)
}
