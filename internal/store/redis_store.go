package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/claimscope/analyzer/internal/models"
)

const DefaultRedisKey = "claims:learning:state"

// RedisStore keeps the learning state as a single JSON value.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *logrus.Logger
}

func NewRedisStore(client *redis.Client, key string, logger *logrus.Logger) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{
		client: client,
		key:    key,
		logger: logger,
	}
}

func (s *RedisStore) Name() string {
	return "redis"
}

func (s *RedisStore) Load(ctx context.Context) (*models.LearningState, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &TransportError{Op: "GET " + s.key, Err: err}
	}

	var state models.LearningState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, &TransportError{Op: "decode " + s.key, Err: err}
	}
	state.EnsureMaps()
	return &state, nil
}

func (s *RedisStore) Save(ctx context.Context, state *models.LearningState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode learning state: %w", err)
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return &TransportError{Op: "SET " + s.key, Err: err}
	}

	s.logger.WithFields(logrus.Fields{
		"key":  s.key,
		"size": len(data),
	}).Debug("Learning state saved to Redis")
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
