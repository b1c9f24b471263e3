package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	emaildomain "maildash-backend/internal/email/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriptionRepository implements SubscriptionRepository on postgres
type subscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{
		db: db,
	}
}

func (r *subscriptionRepository) Save(ctx context.Context, sub *emaildomain.Subscription) error {
	now := time.Now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"provider", "account", "resource", "expires_at", "updated_at"}),
	}).Create(sub).Error
}

func (r *subscriptionRepository) FindByID(ctx context.Context, id string) (*emaildomain.Subscription, error) {
	var sub emaildomain.Subscription
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) FindByAccount(ctx context.Context, provider, account string) (*emaildomain.Subscription, error) {
	var sub emaildomain.Subscription
	err := r.db.WithContext(ctx).
		Where("provider = ? AND account = ?", provider, account).
		Order("updated_at DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&emaildomain.Subscription{}).Error
}

// memorySubscriptionRepository is used when no database is configured.
type memorySubscriptionRepository struct {
	mu   sync.RWMutex
	subs map[string]emaildomain.Subscription
}

func NewMemorySubscriptionRepository() SubscriptionRepository {
	return &memorySubscriptionRepository{subs: make(map[string]emaildomain.Subscription)}
}

func (r *memorySubscriptionRepository) Save(_ context.Context, sub *emaildomain.Subscription) error {
	if sub.ID == "" {
		return errors.New("subscription id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if existing, ok := r.subs[sub.ID]; ok && sub.CreatedAt.IsZero() {
		sub.CreatedAt = existing.CreatedAt
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	r.subs[sub.ID] = *sub
	return nil
}

func (r *memorySubscriptionRepository) FindByID(_ context.Context, id string) (*emaildomain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, nil
	}
	return &sub, nil
}

func (r *memorySubscriptionRepository) FindByAccount(_ context.Context, provider, account string) (*emaildomain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *emaildomain.Subscription
	for _, sub := range r.subs {
		if sub.Provider != provider || sub.Account != account {
			continue
		}
		if latest == nil || sub.UpdatedAt.After(latest.UpdatedAt) {
			s := sub
			latest = &s
		}
	}
	return latest, nil
}

func (r *memorySubscriptionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	return nil
}
