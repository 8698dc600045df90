package health

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	stateKeyPrefix = "health:provider:"
	registryKey    = "health:providers"
)

// casScript writes the state blob only when the stored version still matches
// the caller's. The version comparison happens server-side, so two replicas
// recording for the same provider can never interleave a lost update.
const casScript = `
local current = tonumber(redis.call("HGET", KEYS[1], "version") or "0")
if current ~= tonumber(ARGV[1]) then
  return 0
end
redis.call("HSET", KEYS[1], "version", current + 1, "state", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
redis.call("SADD", KEYS[2], ARGV[4])
return 1
`

// RedisStore keeps circuit state in Redis. State is ephemeral: a flushed
// store simply rebuilds from closed circuits, so a TTL bounds stale entries.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		script: redis.NewScript(casScript),
		ttl:    ttl,
	}
}

func (s *RedisStore) Get(ctx context.Context, providerName string) (*providerState, int64, error) {
	vals, err := s.client.HMGet(ctx, stateKeyPrefix+providerName, "version", "state").Result()
	if err != nil {
		return nil, 0, fmt.Errorf("health store get: %w", err)
	}

	var version int64
	if raw, ok := vals[0].(string); ok {
		if _, err := fmt.Sscanf(raw, "%d", &version); err != nil {
			return nil, 0, fmt.Errorf("health store has malformed version %q", raw)
		}
	}
	st := newProviderState()
	if raw, ok := vals[1].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), st); err != nil {
			return nil, 0, fmt.Errorf("health store has malformed state: %w", err)
		}
	}
	return st, version, nil
}

func (s *RedisStore) CompareAndSet(ctx context.Context, providerName string, version int64, st *providerState) (bool, error) {
	blob, err := json.Marshal(st)
	if err != nil {
		return false, fmt.Errorf("health store marshal: %w", err)
	}
	res, err := s.script.Run(ctx, s.client,
		[]string{stateKeyPrefix + providerName, registryKey},
		version, string(blob), s.ttl.Milliseconds(), providerName,
	).Int()
	if err != nil {
		return false, fmt.Errorf("health store cas: %w", err)
	}
	return res == 1, nil
}

func (s *RedisStore) Providers(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, registryKey).Result()
	if err != nil {
		return nil, fmt.Errorf("health store providers: %w", err)
	}
	return names, nil
}
