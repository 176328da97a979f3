// Package redis provides a state store that keeps the backlog snapshot under
// a single Redis key.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
	"github.com/JakeFAU/crawl-cluster-master/internal/statestore"
)

const defaultKey = "cluster-master:pending"

// Config captures the Redis connection and key.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

type client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Close() error
}

// Store persists the backlog to one Redis key.
type Store struct {
	client client
	key    string
}

var _ cluster.StateStore = (*Store)(nil)

// New connects to Redis and pings it.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis.addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newStore(rdb, cfg.Key), nil
}

func newStore(c client, key string) *Store {
	if key == "" {
		key = defaultKey
	}
	return &Store{client: c, key: key}
}

// Load reads the snapshot. It returns cluster.ErrNotFound when the key is
// unset.
func (s *Store) Load(ctx context.Context) ([]cluster.PendingJob, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, cluster.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", s.key, err)
	}
	return statestore.Decode(data)
}

// Save overwrites the snapshot key without expiry.
func (s *Store) Save(ctx context.Context, pending []cluster.PendingJob) error {
	data, err := statestore.Encode(pending)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.key, err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}
