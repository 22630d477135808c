package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Dedup claims ids with SETNX under dedup:{service}:{id}.
type Dedup struct {
	RDB     redis.Cmdable
	Service string
	TTL     time.Duration
}

func (d Dedup) key(id string) string { return fmt.Sprintf(KeyDedup, d.Service, id) }

// Claim reports true the first time id is seen within the TTL.
func (d Dedup) Claim(ctx context.Context, id string) (bool, error) {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = TTLDedup
	}
	return d.RDB.SetNX(ctx, d.key(id), "1", ttl).Result()
}

func (d Dedup) Release(ctx context.Context, id string) error {
	return d.RDB.Del(ctx, d.key(id)).Err()
}

// Idempotency maps a client Idempotency-Key to the order it created.
type Idempotency struct{ RDB redis.Cmdable }

func (i Idempotency) Lookup(ctx context.Context, tenantID int64, key string) (string, bool, error) {
	v, err := i.RDB.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, tenantID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (i Idempotency) Remember(ctx context.Context, tenantID int64, key, orderID string) error {
	return i.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, tenantID, key), orderID, TTLIdempotency).Err()
}

type CachedStatus struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusCache keeps the latest header status per public order id.
type StatusCache struct{ RDB redis.Cmdable }

func (c StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	var cs CachedStatus
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return cs, false, nil
	}
	if err != nil {
		return cs, false, err
	}
	if err := json.Unmarshal(b, &cs); err != nil {
		return cs, false, err
	}
	return cs, true, nil
}

func (c StatusCache) Put(ctx context.Context, orderID, status string, at time.Time) error {
	b, err := json.Marshal(CachedStatus{Status: status, UpdatedAt: at})
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}
