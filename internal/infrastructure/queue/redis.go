package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"FeedSentry/internal/config"
	"FeedSentry/internal/domain"
	"FeedSentry/internal/ports"
)

const jobField = "job"

// RedisConfig holds the stream layout for the Redis queue.
type RedisConfig struct {
	Stream       string
	Group        string
	Consumer     string
	BlockTimeout time.Duration
	ClaimIdle    time.Duration
}

// RedisConfigFromConfig maps the queue config section.
func RedisConfigFromConfig(cfg config.QueueConfig) RedisConfig {
	return RedisConfig{
		Stream:    cfg.Stream,
		Group:     cfg.Group,
		ClaimIdle: cfg.ClaimIdle,
	}
}

// Redis is a durable queue on Redis Streams with a consumer group.
// Failed jobs are acknowledged and re-added with a bumped attempt; exhausted jobs go to "<stream>:dead".
type Redis struct {
	client *redis.Client
	cfg    RedisConfig
	opts   Options
	logger *slog.Logger
}

var _ ports.JobQueue = (*Redis)(nil)

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, cfg RedisConfig, opts Options, logger *slog.Logger) *Redis {
	if cfg.Stream == "" {
		cfg.Stream = "feedsentry:jobs"
	}
	if cfg.Group == "" {
		cfg.Group = "feedsentry-processors"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-" + uuid.NewString()
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client: client,
		cfg:    cfg,
		opts:   opts.normalized(),
		logger: logger.With("component", "queue", "driver", "redis", "stream", cfg.Stream),
	}
}

// NewRedisFromURL parses a redis:// URL and builds the queue.
func NewRedisFromURL(url string, cfg RedisConfig, opts Options, logger *slog.Logger) (*Redis, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedis(redis.NewClient(redisOpts), cfg, opts, logger), nil
}

// DeadStream is the key holding exhausted jobs.
func (r *Redis) DeadStream() string {
	return r.cfg.Stream + ":dead"
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Enqueue appends the job to the stream.
func (r *Redis) Enqueue(ctx context.Context, job domain.ProcessJob) error {
	return r.add(ctx, r.cfg.Stream, job, nil)
}

func (r *Redis) add(ctx context.Context, stream string, job domain.ProcessJob, extra map[string]any) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	values := map[string]any{jobField: string(payload)}
	for k, v := range extra {
		values[k] = v
	}
	if err := r.client.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}
	return nil
}

// Run consumes the stream with a pool of workers until ctx is done.
func (r *Redis) Run(ctx context.Context, handler ports.JobHandler) error {
	if err := r.ensureGroup(ctx); err != nil {
		return err
	}
	r.logger.Info("queue workers started",
		"group", r.cfg.Group,
		"consumer", r.cfg.Consumer,
		"workers", r.opts.Workers,
	)

	messages := make(chan redis.XMessage)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(messages)
		r.reclaim(gctx, messages)
		r.readLoop(gctx, messages)
		return nil
	})
	for i := 0; i < r.opts.Workers; i++ {
		g.Go(func() error {
			for msg := range messages {
				r.handle(gctx, handler, msg)
			}
			return nil
		})
	}

	err := g.Wait()
	r.logger.Info("queue workers stopped")
	return err
}

func (r *Redis) ensureGroup(ctx context.Context) error {
	err := r.client.XGroupCreateMkStream(ctx, r.cfg.Stream, r.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// reclaim takes over messages left pending by crashed consumers. Failures are logged only.
func (r *Redis) reclaim(ctx context.Context, out chan<- redis.XMessage) {
	if r.cfg.ClaimIdle <= 0 {
		return
	}
	start := "0-0"
	for ctx.Err() == nil {
		msgs, next, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   r.cfg.Stream,
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			MinIdle:  r.cfg.ClaimIdle,
			Start:    start,
			Count:    int64(r.opts.Workers * 10),
		}).Result()
		if err != nil {
			r.logger.Warn("reclaim pending jobs failed", "error", err)
			return
		}
		if len(msgs) > 0 {
			r.logger.Info("reclaimed pending jobs", "count", len(msgs))
		}
		for _, msg := range msgs {
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
		if next == "0-0" || next == "" || len(msgs) == 0 {
			return
		}
		start = next
	}
}

func (r *Redis) readLoop(ctx context.Context, out chan<- redis.XMessage) {
	for ctx.Err() == nil {
		streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    r.cfg.Group,
			Consumer: r.cfg.Consumer,
			Streams:  []string{r.cfg.Stream, ">"},
			Count:    int64(r.opts.Workers),
			Block:    r.cfg.BlockTimeout,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("read jobs failed", "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (r *Redis) handle(ctx context.Context, handler ports.JobHandler, msg redis.XMessage) {
	job, err := decodeJob(msg)
	if err != nil {
		r.logger.Error("drop malformed job", "message_id", msg.ID, "error", err)
		r.ack(ctx, msg.ID)
		return
	}

	next, result, handleErr := attempt(ctx, "redis", r.opts, r.logger, handler, job)
	switch result {
	case outcomeRetry:
		if !sleepCtx(ctx, r.opts.RetryDelay) {
			// left pending; reclaimed on the next start
			return
		}
		if err := r.add(ctx, r.cfg.Stream, next, nil); err != nil {
			r.logger.Error("requeue job failed", "message_id", msg.ID, "error", err)
			return
		}
	case outcomeDead:
		if err := r.add(ctx, r.DeadStream(), next, map[string]any{"error": handleErr.Error()}); err != nil {
			r.logger.Error("dead-letter job failed", "message_id", msg.ID, "error", err)
			return
		}
	}
	r.ack(ctx, msg.ID)
}

func (r *Redis) ack(ctx context.Context, id string) {
	if err := r.client.XAck(ctx, r.cfg.Stream, r.cfg.Group, id).Err(); err != nil {
		r.logger.Error("ack job failed", "message_id", id, "error", err)
		return
	}
	if err := r.client.XDel(ctx, r.cfg.Stream, id).Err(); err != nil {
		r.logger.Warn("delete acked job failed", "message_id", id, "error", err)
	}
}

func decodeJob(msg redis.XMessage) (domain.ProcessJob, error) {
	raw, ok := msg.Values[jobField].(string)
	if !ok {
		return domain.ProcessJob{}, fmt.Errorf("message %s has no %q field", msg.ID, jobField)
	}
	var job domain.ProcessJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return domain.ProcessJob{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}
