package idgen

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Clock abstracts the time source the ID generator stamps from.
type Clock interface {
	// Now returns the current timestamp in milliseconds.
	Now() int64
}

// SystemClock uses the local system time.
type SystemClock struct{}

func (s *SystemClock) Now() int64 {
	return time.Now().UnixMilli()
}

// RedisClock reads TIME from the Redis broker every node already connects
// to, so correlation ids minted on different nodes order consistently even
// when local clocks drift.
type RedisClock struct {
	client *redis.Client
}

func NewRedisClock(client *redis.Client) *RedisClock {
	return &RedisClock{client: client}
}

// Now returns broker time in milliseconds. An unreachable broker degrades to
// the local clock; the sequence bits keep ids unique either way.
func (r *RedisClock) Now() int64 {
	res, err := r.client.Time(context.Background()).Result()
	if err != nil {
		return time.Now().UnixMilli()
	}
	return res.UnixMilli()
}
