package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/your-org/racephoto/internal/config"
)

func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return client, nil
}

const collectionsKey = "racephoto:collections"

// CollectionRegistry remembers which face collections are known to exist so
// worker processes can skip the describe call after any one of them ensured it.
type CollectionRegistry struct {
	client *redis.Client
	key    string
}

func NewCollectionRegistry(client *redis.Client) *CollectionRegistry {
	return &CollectionRegistry{client: client, key: collectionsKey}
}

func (r *CollectionRegistry) Known(ctx context.Context, id string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.key, id).Result()
	if err != nil {
		return false, fmt.Errorf("check collection %s: %w", id, err)
	}
	return ok, nil
}

func (r *CollectionRegistry) Remember(ctx context.Context, id string) error {
	if err := r.client.SAdd(ctx, r.key, id).Err(); err != nil {
		return fmt.Errorf("remember collection %s: %w", id, err)
	}
	return nil
}

// Forget drops id, e.g. after the provider reported the collection missing.
func (r *CollectionRegistry) Forget(ctx context.Context, id string) error {
	if err := r.client.SRem(ctx, r.key, id).Err(); err != nil {
		return fmt.Errorf("forget collection %s: %w", id, err)
	}
	return nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RunLock keeps a periodic job to one worker at a time across processes.
type RunLock struct {
	client *redis.Client
	owner  string
}

// NewRunLock creates a lock holder identified by owner, e.g. the hostname.
func NewRunLock(client *redis.Client, owner string) *RunLock {
	return &RunLock{client: client, owner: owner}
}

// TryAcquire takes the named lock for at most ttl. The returned release func
// is a no-op when the lock was not acquired.
func (l *RunLock) TryAcquire(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	key := "racephoto:lock:" + name
	ok, err := l.client.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return func() {}, false, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.client, []string{key}, l.owner).Err()
	}
	return release, true, nil
}
