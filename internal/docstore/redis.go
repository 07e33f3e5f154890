package docstore

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aura-hunt/backend/internal/ports"
	pkgredis "github.com/aura-hunt/backend/pkg/redis"
)

// putScript compares the stored etag with ARGV[3] and writes data and etag
// only when the precondition holds. Returns 1 on write, 0 on conflict.
var putScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'etag')
local expected = ARGV[3]
if expected == '*' then
	if cur then return 0 end
elseif expected ~= '' then
	if (not cur) or cur ~= expected then return 0 end
end
redis.call('HSET', KEYS[1], 'data', ARGV[1], 'etag', ARGV[2])
return 1
`)

const redisDocPrefix = "doc"

// Redis stores each document in a hash holding its bytes and etag.
type Redis struct {
	client *pkgredis.Client
}

// NewRedis returns a store over client. Closing the store closes the client.
func NewRedis(client *pkgredis.Client) *Redis {
	return &Redis{client: client}
}

// Get returns the document stored under key and its etag.
func (r *Redis) Get(ctx context.Context, key string) (Object, error) {
	vals, err := r.client.HMGet(ctx, r.client.Key(redisDocPrefix, key), "data", "etag").Result()
	if err != nil {
		return Object{}, ports.Unavailable("get "+key, err)
	}
	data, ok1 := vals[0].(string)
	etag, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return Object{}, ports.NotFound("object %s", key)
	}
	return Object{Data: []byte(data), ETag: etag}, nil
}

// Put writes data under key if expectedETag allows it and returns the new etag.
func (r *Redis) Put(ctx context.Context, key string, data []byte, expectedETag string) (string, error) {
	etag := `"` + uuid.NewString() + `"`
	ok, err := putScript.Run(ctx, r.client, []string{r.client.Key(redisDocPrefix, key)}, data, etag, expectedETag).Int()
	if err != nil {
		return "", ports.Unavailable("put "+key, err)
	}
	if ok != 1 {
		return "", ports.Conflict(key)
	}
	return etag, nil
}

// List returns the keys starting with prefix, sorted.
func (r *Redis) List(ctx context.Context, prefix string) ([]string, error) {
	match := r.client.Key(redisDocPrefix, prefix) + "*"
	var keys []string
	iter := r.client.Scan(ctx, 0, match, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, r.client.Unkey(iter.Val())[len(redisDocPrefix)+1:])
	}
	if err := iter.Err(); err != nil {
		return nil, ports.Unavailable("list "+prefix, err)
	}
	// SCAN may return a key more than once.
	sort.Strings(keys)
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			out = append(out, k)
		}
	}
	return out, nil
}

// Close closes the redis client.
func (r *Redis) Close() error { return r.client.Close() }
