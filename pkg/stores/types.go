package stores

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// ApplyStatus is the outcome of a configuration push.
type ApplyStatus string

const (
	ApplyStatusApplied  ApplyStatus = "applied"
	ApplyStatusFailed   ApplyStatus = "failed"
	ApplyStatusRejected ApplyStatus = "rejected"
)

// IntentRecord is a stored network intent.
type IntentRecord struct {
	ID          string    `json:"id"`
	NetworkName string    `json:"network_name"`
	Source      string    `json:"source"`   // file the intent was read from
	Digest      string    `json:"digest"`   // SHA256 of Document
	Document    string    `json:"document"` // JSON blob
	CreatedAt   time.Time `json:"created_at"`
}

// AppliedConfig records one push of a compiled configuration to a device.
type AppliedConfig struct {
	ID          string      `json:"id"`
	Device      string      `json:"device"`
	NetworkName string      `json:"network_name"`
	IntentID    *string     `json:"intent_id,omitempty"`
	Digest      string      `json:"digest"`
	Document    string      `json:"document"` // rendered device document
	Status      ApplyStatus `json:"status"`
	Error       *string     `json:"error,omitempty"`
	AppliedAt   time.Time   `json:"applied_at"`
}

// FailoverEvent is an append-only switch or monitoring event.
type FailoverEvent struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id,omitempty"`
	Type      string    `json:"type"`
	Group     string    `json:"group,omitempty"`
	Device    string    `json:"device,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// EventQuery filters ListEvents. Empty fields match everything.
type EventQuery struct {
	Group  string
	Device string
	Type   string
	Since  time.Time
	Limit  int
	Offset int
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Intent operations
	SaveIntent(ctx context.Context, intent *IntentRecord) error
	GetIntent(ctx context.Context, id string) (*IntentRecord, error)
	LatestIntent(ctx context.Context, networkName string) (*IntentRecord, error)
	ListIntents(ctx context.Context, limit, offset int) ([]*IntentRecord, error)

	// Applied configuration operations
	RecordApplied(ctx context.Context, applied *AppliedConfig) error
	LatestApplied(ctx context.Context, device string) (*AppliedConfig, error)
	ListApplied(ctx context.Context, device *string, limit, offset int) ([]*AppliedConfig, error)

	// Failover event operations
	AppendEvent(ctx context.Context, event *FailoverEvent) error
	ListEvents(ctx context.Context, q EventQuery) ([]*FailoverEvent, error)
	PruneEvents(ctx context.Context, before time.Time) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

// Digest returns the hex SHA256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
