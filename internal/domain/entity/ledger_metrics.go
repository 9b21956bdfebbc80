package entity

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// LedgerMetrics represents ledger writer monitoring metrics
type LedgerMetrics struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Timestamp time.Time          `bson:"timestamp" json:"timestamp"`

	// Chain metrics
	ChainHeight    int64   `bson:"chain_height" json:"chain_height"`
	BlocksAppended uint64  `bson:"blocks_appended" json:"blocks_appended"`
	BlocksPerMin   float64 `bson:"blocks_per_min" json:"blocks_per_min"`

	// Append metrics
	ConflictCount    uint64        `bson:"conflict_count" json:"conflict_count"`
	FailureCount     uint64        `bson:"failure_count" json:"failure_count"`
	DroppedEvents    uint64        `bson:"dropped_events" json:"dropped_events"`
	AverageMiningMs  float64       `bson:"average_mining_ms" json:"average_mining_ms"`
	AverageNonce     float64       `bson:"average_nonce" json:"average_nonce"`
	LastErrorMessage string        `bson:"last_error_message" json:"last_error_message"`
	LastErrorTime    *time.Time    `bson:"last_error_time,omitempty" json:"last_error_time,omitempty"`
	Uptime           time.Duration `bson:"uptime" json:"uptime"`

	// Runtime metrics
	MemoryUsage    uint64 `bson:"memory_usage" json:"memory_usage"`
	GoroutineCount int    `bson:"goroutine_count" json:"goroutine_count"`

	Instance string `bson:"instance" json:"instance"`
}

// SystemHealth represents overall system health status
type SystemHealth struct {
	ID               primitive.ObjectID         `bson:"_id,omitempty" json:"id"`
	Timestamp        time.Time                  `bson:"timestamp" json:"timestamp"`
	Status           HealthStatus               `bson:"status" json:"status"`
	ComponentsHealth map[string]ComponentHealth `bson:"components_health" json:"components_health"`
	Message          string                     `bson:"message" json:"message"`
	Instance         string                     `bson:"instance" json:"instance"`
}

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type ComponentHealth struct {
	Status       HealthStatus  `bson:"status" json:"status"`
	LastChecked  time.Time     `bson:"last_checked" json:"last_checked"`
	Message      string        `bson:"message" json:"message"`
	ResponseTime time.Duration `bson:"response_time" json:"response_time"`
}
