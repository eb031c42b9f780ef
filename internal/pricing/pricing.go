// Package pricing looks up precomputed property rates, with an optional
// redis cache in front of the store. Rates are the only thing cached here;
// booking state is never cached because staleness there means double
// bookings.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"casitas/internal/models"
)

// RateStore is the durable source of rates.
type RateStore interface {
	GetRate(ctx context.Context, propertyID int64, shift models.Shift) (float64, error)
}

// Service resolves rates.
type Service struct {
	store RateStore

	redis    *redis.Client
	cacheTTL time.Duration
}

// NewService builds a pricing service reading from store.
func NewService(store RateStore) *Service {
	return &Service{store: store}
}

// UseRedisCache enables caching of rate lookups.
func (s *Service) UseRedisCache(client *redis.Client, ttl time.Duration) {
	s.redis = client
	s.cacheTTL = ttl
}

// GetRate returns the rate for a property shift. Cache misses and cache
// failures fall through to the store; storage.ErrNoRate propagates.
func (s *Service) GetRate(ctx context.Context, propertyID int64, shift models.Shift) (float64, error) {
	cacheKey := fmt.Sprintf("rate:%d:%s", propertyID, shift)

	var amount float64
	if s.readCache(ctx, cacheKey, &amount) {
		return amount, nil
	}

	amount, err := s.store.GetRate(ctx, propertyID, shift)
	if err != nil {
		return 0, err
	}
	s.writeCache(ctx, cacheKey, amount)
	return amount, nil
}

func (s *Service) readCache(ctx context.Context, key string, out any) bool {
	if s.redis == nil || s.cacheTTL <= 0 {
		return false
	}
	val, err := s.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	return json.Unmarshal([]byte(val), out) == nil
}

func (s *Service) writeCache(ctx context.Context, key string, val any) {
	if s.redis == nil || s.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = s.redis.Set(ctx, key, data, s.cacheTTL).Err()
}
