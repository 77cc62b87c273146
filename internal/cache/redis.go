package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/docbooking/config"
	"github.com/Domenick1991/docbooking/internal/domain"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	client    *redis.Client
	slotsTTL  time.Duration
	markerTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, slotsTTL, markerTTL time.Duration) *RedisCache {
	return NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}), slotsTTL, markerTTL)
}

func NewRedisCacheWithClient(client *redis.Client, slotsTTL, markerTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, slotsTTL: slotsTTL, markerTTL: markerTTL}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetAvailableSlots returns nil, nil on a cache miss.
func (c *RedisCache) GetAvailableSlots(ctx context.Context, doctorID int64) ([]domain.Slot, error) {
	data, err := c.client.Get(ctx, availableSlotsKey(doctorID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var slots []domain.Slot
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, err
	}
	return slots, nil
}

func (c *RedisCache) SetAvailableSlots(ctx context.Context, doctorID int64, slots []domain.Slot) error {
	payload, err := json.Marshal(slots)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, availableSlotsKey(doctorID), payload, c.slotsTTL).Err()
}

// InvalidateSlots drops the doctor's listing and the unfiltered one.
func (c *RedisCache) InvalidateSlots(ctx context.Context, doctorID int64) error {
	return c.client.Del(ctx, availableSlotsKey(doctorID), availableSlotsKey(0)).Err()
}

// MarkCallbackProcessed records the final outcome for a transaction so that
// repeated gateway deliveries can be answered without another verification.
func (c *RedisCache) MarkCallbackProcessed(ctx context.Context, transactionRef string, status domain.PaymentStatus) error {
	return c.client.Set(ctx, callbackKey(transactionRef), string(status), c.markerTTL).Err()
}

// CallbackOutcome returns "" when the transaction has no recorded outcome.
func (c *RedisCache) CallbackOutcome(ctx context.Context, transactionRef string) (domain.PaymentStatus, error) {
	v, err := c.client.Get(ctx, callbackKey(transactionRef)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return domain.PaymentStatus(v), nil
}

func availableSlotsKey(doctorID int64) string {
	return fmt.Sprintf("cache:slots:available:doctor:%d", doctorID)
}

func callbackKey(transactionRef string) string {
	return "callback:processed:" + transactionRef
}
