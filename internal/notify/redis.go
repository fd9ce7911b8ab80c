package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisPublishTimeout bounds each PUBLISH so a slow Redis cannot stall the
// worker's batch loop.
const redisPublishTimeout = 2 * time.Second

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL(%q): %w", redisURL, err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// RedisBridge mirrors job events onto Redis pub/sub channels so observers on
// other instances (or the hosted frontend) see progress for jobs processed
// here. Delivery is best-effort: a publish failure is logged and dropped,
// never surfaced to the worker.
type RedisBridge struct {
	client *redis.Client
}

// NewRedisBridge wraps an already-connected client.
func NewRedisBridge(client *redis.Client) *RedisBridge {
	return &RedisBridge{client: client}
}

// Channel returns the Redis channel name for one job's event stream.
func Channel(jobID uuid.UUID) string {
	return "pricing:jobs:" + jobID.String()
}

// Publish implements Publisher.
func (b *RedisBridge) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Error("redis bridge: marshal event", "job_id", ev.JobID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()

	if err := b.client.Publish(ctx, Channel(ev.JobID), payload).Err(); err != nil {
		slog.Warn("redis bridge: publish failed",
			"job_id", ev.JobID,
			"kind", ev.Kind,
			"error", err,
		)
	}
}
