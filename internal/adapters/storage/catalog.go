package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/stemsight/broker/internal/domain"
)

const recordingsKeyPrefix = "recordings:"

// RedisCatalog keeps one list of recordings per room.
type RedisCatalog struct {
	client *redis.Client
	limit  int64
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Limit caps how many recordings are kept per room; 0 keeps all.
	Limit int64
}

// NewRedisCatalog connects and pings the server.
func NewRedisCatalog(ctx context.Context, cfg RedisConfig) (*RedisCatalog, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisCatalog{client: client, limit: cfg.Limit}, nil
}

func recordingsKey(room domain.RoomID) string {
	return recordingsKeyPrefix + string(room)
}

func (c *RedisCatalog) Record(ctx context.Context, rec domain.Recording) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := recordingsKey(rec.RoomID)
	pipe := c.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if c.limit > 0 {
		pipe.LTrim(ctx, key, -c.limit, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record %s: %w", rec.Name, err)
	}
	return nil
}

func (c *RedisCatalog) List(ctx context.Context, room domain.RoomID) ([]domain.Recording, error) {
	items, err := c.client.LRange(ctx, recordingsKey(room), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list recordings %s: %w", room, err)
	}
	out := make([]domain.Recording, 0, len(items))
	for _, item := range items {
		var rec domain.Recording
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode recording: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *RedisCatalog) Close() error {
	return c.client.Close()
}

// MemoryCatalog is the catalog used when no redis address is configured.
type MemoryCatalog struct {
	mu   sync.RWMutex
	recs map[domain.RoomID][]domain.Recording
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{recs: make(map[domain.RoomID][]domain.Recording)}
}

func (c *MemoryCatalog) Record(_ context.Context, rec domain.Recording) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs[rec.RoomID] = append(c.recs[rec.RoomID], rec)
	return nil
}

func (c *MemoryCatalog) List(_ context.Context, room domain.RoomID) ([]domain.Recording, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Recording, len(c.recs[room]))
	copy(out, c.recs[room])
	return out, nil
}
