package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

type backend interface {
	BoardForUser(ctx context.Context, userID string) (domain.Board, error)
	FetchBoard(ctx context.Context, userID, boardID string) (domain.Board, []domain.Column, error)
	CreateColumn(ctx context.Context, userID string, col domain.Column) (domain.Column, error)
	CreateTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error)
	DeleteTask(ctx context.Context, userID, taskID string) error
}

// Cache wraps a backend with a Redis read-through cache for FetchBoard. All
// boards of a user share one hash, dropped on every successful write.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

type cachedBoard struct {
	Board   domain.Board    `json:"board"`
	Columns []domain.Column `json:"columns"`
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) BoardForUser(ctx context.Context, userID string) (domain.Board, error) {
	return c.base.BoardForUser(ctx, userID)
}

func (c *Cache) FetchBoard(ctx context.Context, userID, boardID string) (domain.Board, []domain.Column, error) {
	if cached, ok := c.load(ctx, userID, boardID); ok {
		return cached.Board, cached.Columns, nil
	}
	board, columns, err := c.base.FetchBoard(ctx, userID, boardID)
	if err != nil {
		return domain.Board{}, nil, err
	}
	c.store(ctx, userID, boardID, cachedBoard{Board: board, Columns: columns})
	return board, columns, nil
}

func (c *Cache) CreateColumn(ctx context.Context, userID string, col domain.Column) (domain.Column, error) {
	created, err := c.base.CreateColumn(ctx, userID, col)
	if err == nil {
		c.evict(ctx, userID)
	}
	return created, err
}

func (c *Cache) CreateTask(ctx context.Context, userID string, task domain.Task) (domain.Task, error) {
	created, err := c.base.CreateTask(ctx, userID, task)
	if err == nil {
		c.evict(ctx, userID)
	}
	return created, err
}

func (c *Cache) UpdateTask(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error) {
	updated, err := c.base.UpdateTask(ctx, userID, taskID, patch)
	if err == nil {
		c.evict(ctx, userID)
	}
	return updated, err
}

func (c *Cache) DeleteTask(ctx context.Context, userID, taskID string) error {
	err := c.base.DeleteTask(ctx, userID, taskID)
	if err == nil {
		c.evict(ctx, userID)
	}
	return err
}

func (c *Cache) load(ctx context.Context, userID, boardID string) (cachedBoard, bool) {
	if c.redis == nil || c.ttl == 0 {
		return cachedBoard{}, false
	}
	key := boardCacheKey(userID)
	data, err := c.redis.HGet(ctx, key, boardID).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return cachedBoard{}, false
	}
	var cached cachedBoard
	if err := json.Unmarshal(data, &cached); err != nil {
		_ = c.redis.HDel(ctx, key, boardID).Err()
		return cachedBoard{}, false
	}
	return cached, true
}

func (c *Cache) store(ctx context.Context, userID, boardID string, value cachedBoard) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	key := boardCacheKey(userID)
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, boardID, data)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
}

func (c *Cache) evict(ctx context.Context, userID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, boardCacheKey(userID)).Err()
}

func boardCacheKey(userID string) string {
	return "board:" + userID
}
