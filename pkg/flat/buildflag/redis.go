package buildflag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// KeyPrefix namespaces flag keys in Redis.
const KeyPrefix = "flatx:flag:"

// KV is the part of a go-redis client RedisStore needs.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps flags as msgpack blobs, for deployments where several
// indexer processes share one flat database.
type RedisStore struct {
	KV KV
}

func (s RedisStore) Load(ctx context.Context, code string) (Data, bool, error) {
	raw, err := s.KV.Get(ctx, KeyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return Data{}, false, nil
	}
	if err != nil {
		return Data{}, false, err
	}
	var w wire
	if err := msgpack.Unmarshal(raw, &w); err != nil {
		return Data{}, false, fmt.Errorf("decode flag data: %w", err)
	}
	d, err := fromWire(w)
	return d, true, err
}

func (s RedisStore) Save(ctx context.Context, code string, data Data) error {
	raw, err := msgpack.Marshal(toWire(data))
	if err != nil {
		return fmt.Errorf("encode flag data: %w", err)
	}
	return s.KV.Set(ctx, KeyPrefix+code, raw, 0).Err()
}

func (s RedisStore) Delete(ctx context.Context, code string) error {
	return s.KV.Del(ctx, KeyPrefix+code).Err()
}
