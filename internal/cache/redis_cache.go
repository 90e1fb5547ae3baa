package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// Receipt is what the gateway handed back for the last successful dispatch.
type Receipt struct {
	RemoteMessageID string    `json:"remoteMessageId"`
	Source          string    `json:"source"`
	SentAt          time.Time `json:"sentAt"`
}

func receiptKey(phone string) string {
	return "receipt:" + phone
}

func (c *RedisCache) StoreSent(ctx context.Context, phone, remoteMessageID, source string, sentAt time.Time) error {
	b, err := json.Marshal(Receipt{
		RemoteMessageID: remoteMessageID,
		Source:          source,
		SentAt:          sentAt.UTC(),
	})
	if err != nil {
		return err
	}

	return c.rdb.Set(ctx, receiptKey(phone), b, c.ttl).Err()
}

func (c *RedisCache) LastSent(ctx context.Context, phone string) (Receipt, bool, error) {
	raw, err := c.rdb.Get(ctx, receiptKey(phone)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Receipt{}, false, nil
	}
	if err != nil {
		return Receipt{}, false, err
	}

	var r Receipt
	if err := json.Unmarshal(raw, &r); err != nil {
		return Receipt{}, false, err
	}
	return r, true, nil
}
