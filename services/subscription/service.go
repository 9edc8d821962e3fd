// Package subscription resolves, caches and changes users' subscription tiers.
package subscription

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/upb/activity-sync/models"
	"github.com/upb/activity-sync/services/contacts"
)

// ContactLookup finds existing CRM contacts by email
type ContactLookup interface {
	Lookup(ctx context.Context, email string) (models.ContactHandle, bool, error)
}

// Resolver resolves a contact's current tier from the CRM
type Resolver interface {
	ResolveTier(ctx context.Context, contact models.ContactHandle) (models.SubscriptionSnapshot, error)
}

// Service serves subscription snapshots through the cache
type Service struct {
	cache    *Cache
	contacts ContactLookup
	resolver Resolver
	logger   *zap.Logger
}

var _ ContactLookup = (*contacts.Resolver)(nil)

// NewService creates a new subscription service
func NewService(cache *Cache, contacts ContactLookup, resolver Resolver, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cache:    cache,
		contacts: contacts,
		resolver: resolver,
		logger:   logger,
	}
}

// Get returns the user's snapshot, resolving and caching it on a miss.
// A user without a CRM contact is basic. Failed resolutions are never cached.
func (s *Service) Get(ctx context.Context, email string) (models.SubscriptionSnapshot, error) {
	snapshot, ok, generation := s.cache.Lookup(email)
	if ok {
		return snapshot, nil
	}

	snapshot, err := s.Resolve(ctx, email)
	if err != nil {
		return models.SubscriptionSnapshot{}, err
	}
	if !s.cache.Fill(email, snapshot, generation) {
		s.logger.Debug("dropped stale subscription fill", zap.String("email", email))
	}
	return snapshot, nil
}

// Resolve computes the snapshot from the CRM without touching the cache
func (s *Service) Resolve(ctx context.Context, email string) (models.SubscriptionSnapshot, error) {
	handle, found, err := s.contacts.Lookup(ctx, email)
	if err != nil {
		return models.SubscriptionSnapshot{}, err
	}
	if !found {
		s.logger.Debug("no contact for subscription lookup", zap.String("email", email))
		return models.BasicSnapshot(), nil
	}
	return s.resolver.ResolveTier(ctx, handle)
}

// Store records a confirmed state change in the cache
func (s *Service) Store(email string, snapshot models.SubscriptionSnapshot, ttl time.Duration) {
	s.cache.Set(email, snapshot, ttl)
}

// Invalidate drops the cached snapshot for email
func (s *Service) Invalidate(email string) {
	s.cache.Invalidate(email)
}

// CacheStats returns the subscription cache statistics
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}
