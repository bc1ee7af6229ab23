package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultGenerationPrefix namespaces the cache generation counters in Redis.
const DefaultGenerationPrefix = "auth:rbac_gen"

// Generation is a pair of counters stamped on cached grants. All moves on
// catalogue edits (role permissions); User moves on assignment edits for
// one user. A cached entry is valid only while both still match.
type Generation struct {
	All  uint64
	User uint64
}

// GenerationStore holds cache generations shared by every resolver that
// reads the same role tables.
type GenerationStore interface {
	Current(ctx context.Context, userID string) (Generation, error)
	// BumpUser advances the user's counter; BumpAll advances the catalogue
	// counter, invalidating every user.
	BumpUser(ctx context.Context, userID string) error
	BumpAll(ctx context.Context) error
}

// MemoryGenerations is a process-local GenerationStore.
type MemoryGenerations struct {
	mu    sync.Mutex
	all   uint64
	users map[string]uint64
}

func NewMemoryGenerations() *MemoryGenerations {
	return &MemoryGenerations{users: make(map[string]uint64)}
}

func (g *MemoryGenerations) Current(_ context.Context, userID string) (Generation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Generation{All: g.all, User: g.users[userID]}, nil
}

func (g *MemoryGenerations) BumpUser(_ context.Context, userID string) error {
	g.mu.Lock()
	g.users[userID]++
	g.mu.Unlock()
	return nil
}

func (g *MemoryGenerations) BumpAll(context.Context) error {
	g.mu.Lock()
	g.all++
	g.mu.Unlock()
	return nil
}

// RedisGenerations keeps the counters in Redis so an edit made on one API
// replica invalidates the permission caches of all of them.
type RedisGenerations struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisGenerations(rdb *redis.Client, prefix string) *RedisGenerations {
	if prefix == "" {
		prefix = DefaultGenerationPrefix
	}
	return &RedisGenerations{rdb: rdb, prefix: prefix}
}

func (g *RedisGenerations) allKey() string { return g.prefix + ":all" }

func (g *RedisGenerations) userKey(userID string) string { return g.prefix + ":user:" + userID }

func (g *RedisGenerations) Current(ctx context.Context, userID string) (Generation, error) {
	vals, err := g.rdb.MGet(ctx, g.allKey(), g.userKey(userID)).Result()
	if err != nil {
		return Generation{}, fmt.Errorf("read cache generation: %w", err)
	}
	var gen Generation
	if gen.All, err = parseCounter(vals[0]); err != nil {
		return Generation{}, err
	}
	if gen.User, err = parseCounter(vals[1]); err != nil {
		return Generation{}, err
	}
	return gen, nil
}

func (g *RedisGenerations) BumpUser(ctx context.Context, userID string) error {
	if err := g.rdb.Incr(ctx, g.userKey(userID)).Err(); err != nil {
		return fmt.Errorf("bump cache generation for %s: %w", userID, err)
	}
	return nil
}

func (g *RedisGenerations) BumpAll(ctx context.Context) error {
	if err := g.rdb.Incr(ctx, g.allKey()).Err(); err != nil {
		return fmt.Errorf("bump cache generation: %w", err)
	}
	return nil
}

// parseCounter reads an MGET value; a missing key is generation 0.
func parseCounter(v interface{}) (uint64, error) {
	if v == nil {
		return 0, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("cache generation: unexpected value type")
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cache generation %q: %w", s, err)
	}
	return n, nil
}
