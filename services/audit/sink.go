package audit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/access-control-plane/models"
	"github.com/upb/access-control-plane/repositories"
	"go.uber.org/zap"
)

// Sink receives committed audit entries for external storage.
// Write may be called more than once for the same entry.
type Sink interface {
	Name() string
	Write(ctx context.Context, entry *models.AuditEntry) error
}

// LogSink writes entries to a zap logger
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a sink that logs each entry at Info level
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, e *models.AuditEntry) error {
	s.logger.Info("audit",
		zap.String("audit_id", e.ID.String()),
		zap.Uint64("sequence", e.Sequence),
		zap.Time("timestamp", e.Timestamp),
		zap.String("actor_id", e.ActorID),
		zap.String("entity_type", string(e.EntityType)),
		zap.String("entity_id", e.EntityID.String()),
		zap.String("action", string(e.Action)),
		zap.Int64("before_version", e.BeforeVersion),
		zap.Int64("after_version", e.AfterVersion))
	return nil
}

// RepositorySink stores entries through an AuditRepository
type RepositorySink struct {
	repo repositories.AuditRepository
}

// NewRepositorySink creates a sink backed by the audit_log table
func NewRepositorySink(repo repositories.AuditRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) Name() string { return "postgres" }

func (s *RepositorySink) Write(ctx context.Context, e *models.AuditEntry) error {
	return s.repo.Insert(ctx, e)
}

// RedisStreamSink appends entries to a Redis stream with XADD
type RedisStreamSink struct {
	client *redis.Client
	stream string
}

// NewRedisStreamSink creates a sink writing to the given stream key
func NewRedisStreamSink(client *redis.Client, stream string) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream}
}

func (s *RedisStreamSink) Name() string { return "redis" }

func (s *RedisStreamSink) Write(ctx context.Context, e *models.AuditEntry) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"id":             e.ID.String(),
			"sequence":       strconv.FormatUint(e.Sequence, 10),
			"timestamp":      e.Timestamp.Format(time.RFC3339Nano),
			"actor_id":       e.ActorID,
			"entity_type":    string(e.EntityType),
			"entity_id":      e.EntityID.String(),
			"action":         string(e.Action),
			"before_version": strconv.FormatInt(e.BeforeVersion, 10),
			"after_version":  strconv.FormatInt(e.AfterVersion, 10),
		},
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to redis stream: %w", err)
	}
	return nil
}
