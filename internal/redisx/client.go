package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-restaurant-orders/internal/orders"
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

// Sequence hands out order numbers with one INCR per order, so every API
// process shares the same per-day counter.
type Sequence struct {
	Redis *redis.Client
}

var _ orders.Sequence = (*Sequence)(nil)

func (s *Sequence) Next(ctx context.Context, day string) (int64, error) {
	key := fmt.Sprintf(KeyOrderSeq, day)
	var incr *redis.IntCmd
	_, err := s.Redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, TTLOrderSeq)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

type CachedStatus struct {
	OrderID   string        `json:"order_id"`
	Status    orders.Status `json:"status"`
	Version   int64         `json:"version"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatusCache keeps the latest status per order for the status endpoint.
type StatusCache struct {
	Redis *redis.Client
}

var ErrCacheMiss = errors.New("status not cached")

func (c *StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, error) {
	var cs CachedStatus
	b, err := c.Redis.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return cs, ErrCacheMiss
	}
	if err != nil {
		return cs, err
	}
	if err := json.Unmarshal(b, &cs); err != nil {
		return cs, fmt.Errorf("decode cached status: %w", err)
	}
	return cs, nil
}

// Put caches o's status unless a newer version is already cached. The
// compare and write run as one Lua script.
func (c *StatusCache) Put(ctx context.Context, o *orders.Order) error {
	b, err := json.Marshal(CachedStatus{OrderID: o.ID, Status: o.Status, Version: o.Version, UpdatedAt: o.UpdatedAt})
	if err != nil {
		return err
	}
	key := fmt.Sprintf(KeyOrderStatus, o.ID)
	return putIfNewer.Run(ctx, c.Redis, []string{key}, string(b), o.Version, int64(TTLStatusCache/time.Millisecond)).Err()
}

// Apply refreshes the cache from an order event.
func (c *StatusCache) Apply(ctx context.Context, ev orders.Envelope) error {
	p, err := ev.OrderPayload()
	if err != nil {
		return err
	}
	return c.Put(ctx, &p.Order)
}

var putIfNewer = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur then
  local ok, decoded = pcall(cjson.decode, cur)
  if ok and decoded.version and tonumber(decoded.version) >= tonumber(ARGV[2]) then
    return 0
  end
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
return 1
`)
