package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedSentry/internal/domain"
	"FeedSentry/internal/logging"
)

func runQueue(t *testing.T, run func(ctx context.Context) error) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

type recorder struct {
	mu   sync.Mutex
	seen []domain.ProcessJob
}

func (r *recorder) add(job domain.ProcessJob) {
	r.mu.Lock()
	r.seen = append(r.seen, job)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func TestMemory_DeliversJobs(t *testing.T) {
	q := NewMemory(16, Options{Workers: 2, MaxAttempts: 3}, logging.Discard())
	rec := &recorder{}

	runQueue(t, func(ctx context.Context) error {
		return q.Run(ctx, func(_ context.Context, job domain.ProcessJob) error {
			rec.add(job)
			return nil
		})
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(context.Background(), domain.ProcessJob{StreamID: "s", ContentID: string(rune('a' + i))}))
	}
	require.Eventually(t, func() bool { return rec.len() == 5 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, q.Dead())
}

func TestMemory_RetriesThenSucceeds(t *testing.T) {
	q := NewMemory(4, Options{Workers: 1, MaxAttempts: 3}, logging.Discard())
	var calls atomic.Int32
	attempts := make(chan int, 4)

	runQueue(t, func(ctx context.Context) error {
		return q.Run(ctx, func(_ context.Context, job domain.ProcessJob) error {
			attempts <- job.Attempt
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		})
	})

	require.NoError(t, q.Enqueue(context.Background(), domain.ProcessJob{StreamID: "s", ContentID: "c"}))
	require.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, <-attempts)
	assert.Equal(t, 1, <-attempts)
	assert.Equal(t, 2, <-attempts)
	assert.Empty(t, q.Dead())
}

func TestMemory_DeadLettersAfterMaxAttempts(t *testing.T) {
	q := NewMemory(4, Options{Workers: 1, MaxAttempts: 2}, logging.Discard())
	var calls atomic.Int32

	runQueue(t, func(ctx context.Context) error {
		return q.Run(ctx, func(context.Context, domain.ProcessJob) error {
			calls.Add(1)
			panic("handler blew up")
		})
	})

	require.NoError(t, q.Enqueue(context.Background(), domain.ProcessJob{StreamID: "s", ContentID: "c"}))
	require.Eventually(t, func() bool { return len(q.Dead()) == 1 }, time.Second, 5*time.Millisecond)

	dead := q.Dead()[0]
	assert.Equal(t, 2, dead.Job.Attempt)
	assert.Contains(t, dead.Error, "handler blew up")
	assert.Equal(t, int32(2), calls.Load())
}

func newRedisQueue(t *testing.T, consumer string, opts Options) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := NewRedis(client, RedisConfig{
		Stream:       "jobs",
		Group:        "workers",
		Consumer:     consumer,
		BlockTimeout: 20 * time.Millisecond,
		ClaimIdle:    time.Millisecond,
	}, opts, logging.Discard())
	return q, mr
}

func TestRedis_DeliversAndAcks(t *testing.T) {
	q, _ := newRedisQueue(t, "c1", Options{Workers: 2, MaxAttempts: 3})
	rec := &recorder{}

	require.NoError(t, q.Enqueue(context.Background(), domain.ProcessJob{StreamID: "s", ContentID: "a"}))
	runQueue(t, func(ctx context.Context) error {
		return q.Run(ctx, func(_ context.Context, job domain.ProcessJob) error {
			rec.add(job)
			return nil
		})
	})
	require.NoError(t, q.Enqueue(context.Background(), domain.ProcessJob{StreamID: "s", ContentID: "b"}))

	require.Eventually(t, func() bool { return rec.len() == 2 }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		n, err := q.client.XLen(context.Background(), "jobs").Result()
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedis_DeadLettersExhaustedJobs(t *testing.T) {
	q, _ := newRedisQueue(t, "c1", Options{Workers: 1, MaxAttempts: 2})
	var calls atomic.Int32

	runQueue(t, func(ctx context.Context) error {
		return q.Run(ctx, func(context.Context, domain.ProcessJob) error {
			calls.Add(1)
			return errors.New("persist failed")
		})
	})
	require.NoError(t, q.Enqueue(context.Background(), domain.ProcessJob{StreamID: "s", ContentID: "c"}))

	var dead []redis.XMessage
	require.Eventually(t, func() bool {
		var err error
		dead, err = q.client.XRange(context.Background(), q.DeadStream(), "-", "+").Result()
		return err == nil && len(dead) == 1
	}, 2*time.Second, 10*time.Millisecond)

	job, err := decodeJob(dead[0])
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempt)
	assert.Equal(t, "persist failed", dead[0].Values["error"])
	assert.Equal(t, int32(2), calls.Load())
}

func TestRedis_ReclaimsPendingJobs(t *testing.T) {
	q, _ := newRedisQueue(t, "survivor", Options{Workers: 1, MaxAttempts: 3})
	ctx := context.Background()

	require.NoError(t, q.ensureGroup(ctx))
	require.NoError(t, q.Enqueue(ctx, domain.ProcessJob{StreamID: "s", ContentID: "orphan"}))

	// a consumer reads the job and dies before acking
	_, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    "workers",
		Consumer: "crashed",
		Streams:  []string{"jobs", ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	rec := &recorder{}
	runQueue(t, func(ctx context.Context) error {
		return q.Run(ctx, func(_ context.Context, job domain.ProcessJob) error {
			rec.add(job)
			return nil
		})
	})

	require.Eventually(t, func() bool { return rec.len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "orphan", rec.seen[0].ContentID)
}

func TestMemory_Drain(t *testing.T) {
	q := NewMemory(8, Options{Workers: 1, MaxAttempts: 2}, logging.Discard())
	for _, id := range []string{"a", "b", "bad"} {
		require.NoError(t, q.Enqueue(context.Background(), domain.ProcessJob{StreamID: "s", ContentID: id}))
	}

	rec := &recorder{}
	delivered := q.Drain(context.Background(), func(_ context.Context, job domain.ProcessJob) error {
		rec.add(job)
		if job.ContentID == "bad" {
			return errors.New("boom")
		}
		return nil
	})

	assert.Equal(t, 4, delivered)
	assert.Equal(t, 4, rec.len())
	assert.Zero(t, q.Len())
	dead := q.Dead()
	require.Len(t, dead, 1)
	assert.Equal(t, "bad", dead[0].Job.ContentID)
	assert.Equal(t, 2, dead[0].Job.Attempt)

	assert.Zero(t, q.Drain(context.Background(), func(context.Context, domain.ProcessJob) error { return nil }))
}

func TestMemory_ConsumeUnblocksProducer(t *testing.T) {
	q := NewMemory(1, Options{Workers: 1, MaxAttempts: 1}, logging.Discard())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stop := make(chan struct{})
	consumed := make(chan int, 1)
	rec := &recorder{}
	go func() {
		consumed <- q.Consume(ctx, func(_ context.Context, job domain.ProcessJob) error {
			rec.add(job)
			return nil
		}, stop)
	}()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, q.Enqueue(ctx, domain.ProcessJob{StreamID: "s", ContentID: id}))
	}
	close(stop)

	assert.Equal(t, 5, <-consumed)
	assert.Equal(t, 5, rec.len())
	assert.Zero(t, q.Len())
}

func TestMemory_EnqueueReportsCancellation(t *testing.T) {
	q := NewMemory(1, Options{}, logging.Discard())
	require.NoError(t, q.Enqueue(context.Background(), domain.ProcessJob{StreamID: "s", ContentID: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, domain.ProcessJob{StreamID: "s", ContentID: "b"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, q.Len())
}
