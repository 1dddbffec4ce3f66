package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/institutehub/webhook-gateway/internal/model"
)

const subsCacheKeyPrefix = "whgw:subs:"

// CachedSubscribersRepository fronts FindActiveByEvent with a short-TTL
// Redis cache; fan-out resolves subscribers on every trigger, so the hot
// read is kept off MySQL. Writes go through to the inner repository and
// best-effort invalidate the affected event keys; a stale entry ages out
// with the TTL regardless.
type CachedSubscribersRepository struct {
	SubscribersRepository
	rdb *redis.Client
	ttl time.Duration
}

func NewCachedSubscribersRepository(inner SubscribersRepository, rdb *redis.Client, ttl time.Duration) *CachedSubscribersRepository {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedSubscribersRepository{SubscribersRepository: inner, rdb: rdb, ttl: ttl}
}

func (r *CachedSubscribersRepository) FindActiveByEvent(ctx context.Context, event string) ([]model.Subscriber, error) {
	key := subsCacheKeyPrefix + event

	if b, err := r.rdb.Get(ctx, key).Bytes(); err == nil {
		var subs []model.Subscriber
		if json.Unmarshal(b, &subs) == nil {
			return subs, nil
		}
	}

	subs, err := r.SubscribersRepository.FindActiveByEvent(ctx, event)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(subs); err == nil {
		// cache miss fill; failures are ignored (cache is advisory)
		r.rdb.Set(ctx, key, b, r.ttl)
	}
	return subs, nil
}

func (r *CachedSubscribersRepository) Insert(ctx context.Context, s model.Subscriber) error {
	if err := r.SubscribersRepository.Insert(ctx, s); err != nil {
		return err
	}
	r.invalidate(ctx, s.Events)
	return nil
}

func (r *CachedSubscribersRepository) Update(ctx context.Context, s model.Subscriber) error {
	// drop keys for the pre-update event set too, in case events changed
	if prev, err := r.SubscribersRepository.GetByID(ctx, s.ID); err == nil && prev != nil {
		r.invalidate(ctx, prev.Events)
	}
	if err := r.SubscribersRepository.Update(ctx, s); err != nil {
		return err
	}
	r.invalidate(ctx, s.Events)
	return nil
}

func (r *CachedSubscribersRepository) SetActive(ctx context.Context, id string, active bool) error {
	if err := r.SubscribersRepository.SetActive(ctx, id, active); err != nil {
		return err
	}
	if s, err := r.SubscribersRepository.GetByID(ctx, id); err == nil && s != nil {
		r.invalidate(ctx, s.Events)
	}
	return nil
}

func (r *CachedSubscribersRepository) invalidate(ctx context.Context, events model.EventList) {
	if len(events) == 0 {
		return
	}
	keys := make([]string, 0, len(events))
	for _, e := range events {
		keys = append(keys, subsCacheKeyPrefix+e)
	}
	r.rdb.Del(ctx, keys...)
}
