package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/cortex/config"
	"github.com/mohammad-safakhou/cortex/internal/agent/core"
)

const (
	redisSessionsKey = "cortex:sessions"
	redisStepsFmt    = "cortex:session:%s:steps"
)

// Redis appends step records to a list per session.
type Redis struct {
	client    *redis.Client
	retention time.Duration
}

// ConnectRedis dials Redis and checks the connection.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		DialTimeout: timeout,
		Password:    cfg.Password,
		DB:          cfg.DB,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if pong != "PONG" {
		_ = client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}
	return client, nil
}

// NewRedis wraps client. A positive retention expires idle sessions.
func NewRedis(client *redis.Client, retention time.Duration) *Redis {
	return &Redis{client: client, retention: retention}
}

func stepsKey(sessionID string) string { return fmt.Sprintf(redisStepsFmt, sessionID) }

func (r *Redis) Record(ctx context.Context, rec core.StepRecord) error {
	if err := validSessionID(rec.SessionID); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode step record: %w", err)
	}
	key := stepsKey(rec.SessionID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.SAdd(ctx, redisSessionsKey, rec.SessionID)
	if r.retention > 0 {
		pipe.Expire(ctx, key, r.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	return nil
}

func (r *Redis) Fetch(ctx context.Context, sessionID string) ([]core.StepRecord, error) {
	items, err := r.client.LRange(ctx, stepsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch steps: %w", err)
	}
	out := make([]core.StepRecord, 0, len(items))
	for _, item := range items {
		var rec core.StepRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode step record: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Sessions lists sessions whose records have not expired.
func (r *Redis) Sessions(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, redisSessionsKey).Result()
	if err != nil {
		return nil, err
	}
	out := ids[:0]
	for _, id := range ids {
		n, err := r.client.Exists(ctx, stepsKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			r.client.SRem(ctx, redisSessionsKey, id)
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Redis) Close() error { return r.client.Close() }
