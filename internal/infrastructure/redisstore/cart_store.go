package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/domain/pricing"
	"github.com/redis/go-redis/v9"
)

const defaultCartTTL = 30 * 24 * time.Hour

// CartStore keeps each buyer's cart as one JSON value.
type CartStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewCartStore(client redis.UniversalClient) *CartStore {
	return &CartStore{client: client, ttl: defaultCartTTL}
}

func (c *CartStore) Put(ctx context.Context, buyerID string, lines []pricing.CartLine) error {
	data, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := c.client.Set(ctx, cartKey(buyerID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *CartStore) Lines(ctx context.Context, buyerID string) ([]pricing.CartLine, error) {
	data, err := c.client.Get(ctx, cartKey(buyerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	var lines []pricing.CartLine
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return lines, nil
}

func (c *CartStore) Clear(ctx context.Context, buyerID string) error {
	if err := c.client.Del(ctx, cartKey(buyerID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cartKey(buyerID string) string {
	return fmt.Sprintf("cart:%s", buyerID)
}
