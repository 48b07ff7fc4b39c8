package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// MemoryStore keeps task records in a process-local map. Tasks are never
// evicted; they live for the process lifetime, which is the retention this
// system wants.
type MemoryStore struct {
	mu    sync.RWMutex
	tasks map[string]Task
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]Task)}
}

// SetTask inserts or replaces a task record.
func (s *MemoryStore) SetTask(task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

// GetTask returns a task record by id.
func (s *MemoryStore) GetTask(taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return task, nil
}

// RedisStore keeps task records in Redis so status survives process
// restarts. Records expire after the configured TTL since Redis, unlike the
// memory store, persists indefinitely.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the given Redis address.
func NewRedisStore(addr string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

// Ping verifies connectivity at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// SetTask writes the task record as JSON under its id.
func (s *RedisStore) SetTask(task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshalling task: %w", err)
	}
	return s.client.Set(context.Background(), "podcast:task:"+task.ID, data, s.ttl).Err()
}

// GetTask reads a task record by id.
func (s *RedisStore) GetTask(taskID string) (Task, error) {
	data, err := s.client.Get(context.Background(), "podcast:task:"+taskID).Bytes()
	if err == redis.Nil {
		return Task{}, ErrTaskNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("reading task: %w", err)
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return Task{}, fmt.Errorf("unmarshalling task: %w", err)
	}
	return task, nil
}
