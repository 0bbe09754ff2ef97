package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/claimscope/analyzer/internal/models"
	"github.com/claimscope/analyzer/pkg/utils"
)

var ErrNotConfigured = errors.New("connection not configured")

// Database connection manager. Either connection may be absent.
type Manager struct {
	DB     *gorm.DB
	Redis  *redis.Client
	logger *logrus.Logger
}

// Database configuration
type Config struct {
	DatabaseURL string
	RedisURL    string
	LogLevel    string
}

// NewManager opens the configured connections. Empty URLs are skipped.
func NewManager(config *Config, logger *logrus.Logger) (*Manager, error) {
	m := &Manager{logger: logger}

	if config.DatabaseURL != "" {
		db, err := openPostgres(config, logger)
		if err != nil {
			return nil, err
		}
		m.DB = db
	}

	if config.RedisURL != "" {
		client, err := openRedis(config.RedisURL)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.Redis = client
	}

	logger.WithFields(logrus.Fields{
		"postgres": m.DB != nil,
		"redis":    m.Redis != nil,
	}).Info("Database connections established")

	return m, nil
}

func openPostgres(config *Config, logger *logrus.Logger) (*gorm.DB, error) {
	var gormLogger gormlogger.Interface
	switch config.LogLevel {
	case "debug":
		gormLogger = gormlogger.New(
			logger,
			gormlogger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  gormlogger.Info,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		)
	default:
		gormLogger = gormlogger.Default.LogMode(gormlogger.Silent)
	}

	db, err := gorm.Open(postgres.Open(config.DatabaseURL), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func openRedis(redisURL string) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	redisOpts.PoolSize = 10
	redisOpts.MinIdleConns = 2
	redisOpts.MaxConnAge = time.Hour
	redisOpts.IdleTimeout = 30 * time.Minute

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Migrate creates or updates the history tables.
func (m *Manager) Migrate() error {
	if m.DB == nil {
		return ErrNotConfigured
	}
	m.logger.Info("Running database migrations...")

	return m.DB.AutoMigrate(
		&models.AnalysisRecord{},
		&models.CorrectionLog{},
	)
}

// Close closes all database connections
func (m *Manager) Close() error {
	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			m.logger.WithError(err).Error("Failed to close Redis connection")
		}
	}

	if m.DB != nil {
		sqlDB, err := m.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}

	return nil
}

// Health check methods
func (m *Manager) PingDatabase(ctx context.Context) error {
	if m.DB == nil {
		return ErrNotConfigured
	}
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (m *Manager) PingRedis(ctx context.Context) error {
	if m.Redis == nil {
		return ErrNotConfigured
	}
	return m.Redis.Ping(ctx).Err()
}

// Cache holds extracted claim lines per page.
type Cache struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewCache(client *redis.Client, logger *logrus.Logger) *Cache {
	return &Cache{
		client: client,
		logger: logger,
	}
}

const claimsKey = "claims:url:%s"

// ClaimsKey returns the cache key for a page and selector.
func ClaimsKey(pageURL, selector string) string {
	return fmt.Sprintf(claimsKey, utils.MD5Hash(pageURL+"|"+selector))
}

// CacheClaims stores the claim lines extracted from a page.
func (c *Cache) CacheClaims(ctx context.Context, pageURL, selector string, claims []string, expiration time.Duration) error {
	data, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("failed to marshal claims: %w", err)
	}
	return c.client.Set(ctx, ClaimsKey(pageURL, selector), data, expiration).Err()
}

// GetCachedClaims returns redis.Nil on a miss.
func (c *Cache) GetCachedClaims(ctx context.Context, pageURL, selector string) ([]string, error) {
	data, err := c.client.Get(ctx, ClaimsKey(pageURL, selector)).Bytes()
	if err != nil {
		return nil, err
	}

	var claims []string
	if err := json.Unmarshal(data, &claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// InvalidateClaims removes the cached claims of a page.
func (c *Cache) InvalidateClaims(ctx context.Context, pageURL, selector string) error {
	return c.client.Del(ctx, ClaimsKey(pageURL, selector)).Err()
}
