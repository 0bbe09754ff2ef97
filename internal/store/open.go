package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/claimscope/analyzer/internal/config"
	"github.com/claimscope/analyzer/internal/models"
)

// Store is a learning state backend that can be health checked.
type Store interface {
	Name() string
	Load(ctx context.Context) (*models.LearningState, error)
	Save(ctx context.Context, state *models.LearningState) error
	Ping(ctx context.Context) error
}

var errRedisNotConfigured = errors.New("redis store selected but redis.url is empty")

// Open builds the backend chosen by the configuration. redisClient may be
// nil unless the Redis backend is selected.
func Open(cfg *config.Config, redisClient *redis.Client, logger *logrus.Logger) (Store, error) {
	switch cfg.StoreBackend() {
	case config.BackendGitHub:
		if err := cfg.ValidateGitHub(); err != nil {
			return nil, err
		}
		client := NewClient(GitHubOptions{
			BaseURL: cfg.GitHub.BaseURL,
			Owner:   cfg.GitHub.Owner,
			Repo:    cfg.GitHub.Repo,
			Branch:  cfg.GitHub.Branch,
			Token:   cfg.GitHub.Token,
			Timeout: 30 * time.Second,
			Retry:   DefaultRetryConfig(),
		}, logger)
		return NewGitHubStore(client, cfg.GitHub.Path, logger), nil
	case config.BackendRedis:
		if redisClient == nil {
			return nil, errRedisNotConfigured
		}
		return NewRedisStore(redisClient, cfg.Redis.Key, logger), nil
	default:
		logger.Warn("Using in-memory learning store; learned data is lost on restart")
		return NewMemoryStore(), nil
	}
}
