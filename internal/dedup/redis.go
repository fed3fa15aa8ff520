// Package dedup filters duplicate webhook deliveries before they reach the
// database. It is a front filter only: correctness against redelivery comes
// from the order-status compare-and-set, so losing Redis loses nothing but
// a little database work.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "webhook:easytransac:"
	keyTTL    = 24 * time.Hour
)

type RedisDeduper struct {
	client *redis.Client
}

func NewRedisDeduper(addr string) *RedisDeduper {
	return &RedisDeduper{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// FirstDelivery reports whether this (order, status, transaction) triple has
// not been seen within the TTL. SETNX makes the claim atomic across
// concurrent deliveries.
func (d *RedisDeduper) FirstDelivery(ctx context.Context, orderID, status, transactionID string) (bool, error) {
	return d.client.SetNX(ctx, keyPrefix+fingerprint(orderID, status, transactionID), 1, keyTTL).Result()
}

func (d *RedisDeduper) Close() error {
	return d.client.Close()
}

func fingerprint(orderID, status, transactionID string) string {
	sum := sha256.Sum256([]byte(orderID + "|" + status + "|" + transactionID))
	return hex.EncodeToString(sum[:])
}
