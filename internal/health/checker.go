package health

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/claimscope/analyzer/internal/database"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Pinger is anything whose reachability can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker manages health checks for all dependencies. Optional
// connections that are not configured are skipped.
type HealthChecker struct {
	dbManager *database.Manager
	store     Pinger
	storeName string
	logger    *logrus.Logger
	startTime time.Time

	mu   sync.RWMutex
	last *OverallHealth
}

func NewHealthChecker(dbManager *database.Manager, store Pinger, storeName string, logger *logrus.Logger) *HealthChecker {
	return &HealthChecker{
		dbManager: dbManager,
		store:     store,
		storeName: storeName,
		logger:    logger,
		startTime: time.Now(),
	}
}

// ServiceHealth represents the health status of a service
type ServiceHealth struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	ResponseTime int    `json:"response_time_ms"`
	Error        string `json:"error,omitempty"`
	LastChecked  string `json:"last_checked"`
}

// OverallHealth represents the overall system health
type OverallHealth struct {
	Status   string          `json:"status"`
	Services []ServiceHealth `json:"services"`
	Uptime   string          `json:"uptime"`
}

// check pings one dependency. failStatus is what a failure reports:
// history connections only degrade the service.
func (h *HealthChecker) check(ctx context.Context, name, failStatus string, ping func(context.Context) error) ServiceHealth {
	start := time.Now()
	err := ping(ctx)
	responseTime := int(time.Since(start).Milliseconds())

	status := StatusHealthy
	errorMsg := ""
	if err != nil {
		status = failStatus
		errorMsg = err.Error()
		h.logger.WithError(err).WithField("service", name).Error("Health check failed")
	}

	return ServiceHealth{
		Name:         name,
		Status:       status,
		ResponseTime: responseTime,
		Error:        errorMsg,
		LastChecked:  time.Now().Format(time.RFC3339),
	}
}

// CheckPostgreSQL checks PostgreSQL database health
func (h *HealthChecker) CheckPostgreSQL(ctx context.Context) ServiceHealth {
	return h.check(ctx, "postgresql", StatusDegraded, h.dbManager.PingDatabase)
}

// CheckRedis checks Redis health
func (h *HealthChecker) CheckRedis(ctx context.Context) ServiceHealth {
	return h.check(ctx, "redis", StatusDegraded, h.dbManager.PingRedis)
}

// CheckStore checks the learning state store
func (h *HealthChecker) CheckStore(ctx context.Context) ServiceHealth {
	return h.check(ctx, "store:"+h.storeName, StatusUnhealthy, h.store.Ping)
}

// CheckAll performs health checks on all configured services
func (h *HealthChecker) CheckAll(ctx context.Context) OverallHealth {
	var services []ServiceHealth
	if h.dbManager != nil && h.dbManager.DB != nil {
		services = append(services, h.CheckPostgreSQL(ctx))
	}
	if h.dbManager != nil && h.dbManager.Redis != nil {
		services = append(services, h.CheckRedis(ctx))
	}
	if h.store != nil {
		services = append(services, h.CheckStore(ctx))
	}

	overall := OverallHealth{
		Status:   Aggregate(services),
		Services: services,
		Uptime:   time.Since(h.startTime).Round(time.Second).String(),
	}

	h.mu.Lock()
	h.last = &overall
	h.mu.Unlock()
	return overall
}

// Aggregate folds service statuses: any unhealthy service makes the whole
// unhealthy, any degraded one makes it degraded.
func Aggregate(services []ServiceHealth) string {
	overallStatus := StatusHealthy
	for _, service := range services {
		if service.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
		if service.Status == StatusDegraded {
			overallStatus = StatusDegraded
		}
	}
	return overallStatus
}

// Last returns the most recent result, or nil before the first check.
func (h *HealthChecker) Last() *OverallHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// PeriodicHealthCheck runs health checks periodically
func (h *HealthChecker) PeriodicHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval/2)
			health := h.CheckAll(checkCtx)
			cancel()

			h.logger.WithField("status", health.Status).Debug("Periodic health check completed")
		}
	}
}
