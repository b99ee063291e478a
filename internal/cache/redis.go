// Package cache implements the shared recency cache on Redis.
package cache

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewClient opens a Redis client from a redis:// URL.
func NewClient(rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}
