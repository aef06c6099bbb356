// Package queue implements the durable priority queue (C4): a
// Redis-backed sorted-set queue with lease-based delivery, delayed
// retries and bounded retry attempts, generalizing the teacher's
// in-process ThreadSafeQueue/TaskQueue (container/heap with
// age-adjusted effective priority) onto a durable backend. Atomic
// claim/ack/requeue operations use Lua scripts following the
// teacher's store/redis.go RenewLock/ReleaseLock pattern.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/itskum47/ruleforge/internal/model"
)

// Options configures one enqueued job (§4.4).
type Options struct {
	Attempts         int
	BackoffBase      time.Duration
	RemoveOnComplete int
	RemoveOnFail     int
}

func DefaultOptions() Options {
	return Options{
		Attempts:         3,
		BackoffBase:      500 * time.Millisecond,
		RemoveOnComplete: 1000,
		RemoveOnFail:     5000,
	}
}

// agingFactorSeconds matches the teacher's TaskQueue.Less: every 10s of wait
// shaves one point off effective priority, preventing starvation of
// low-priority jobs under sustained load.
const agingFactorSeconds = 10.0

// Job is one durable unit of work as handed to a worker.
type Job struct {
	ID         string
	Event      model.Event
	Priority   int
	Attempt    int
	EnqueuedAt time.Time
}

// Counts mirrors §4.4's metrics surface.
type Counts struct {
	Waiting   int64
	Active    int64
	Completed int64
	Failed    int64
	Delayed   int64
	Paused    bool
}

func (c Counts) TotalPending() int64 { return c.Waiting + c.Active }

// Queue is a single named durable priority queue.
type Queue struct {
	client *redis.Client
	name   string
	opts   Options

	claimSHA   string
	requeueSHA string
}

func New(client *redis.Client, name string, opts Options) (*Queue, error) {
	q := &Queue{client: client, name: name, opts: opts}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sha, err := client.ScriptLoad(ctx, claimScript).Result()
	if err != nil {
		return nil, fmt.Errorf("preload claim script: %w", err)
	}
	q.claimSHA = sha

	sha, err = client.ScriptLoad(ctx, requeueScript).Result()
	if err != nil {
		return nil, fmt.Errorf("preload requeue script: %w", err)
	}
	q.requeueSHA = sha

	return q, nil
}

func (q *Queue) key(suffix string) string { return q.name + ":" + suffix }

func effectivePriority(priority int, enqueuedAt time.Time) float64 {
	return float64(priority) - time.Since(enqueuedAt).Seconds()/agingFactorSeconds
}

// Add enqueues a job with the given priority, returning its id.
func (q *Queue) Add(ctx context.Context, evt model.Event) (string, error) {
	id := newJobID()
	evt.EnqueuedAt = time.Now()
	body, err := json.Marshal(evt)
	if err != nil {
		return "", err
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.key("jobs"), id, body)
	pipe.HSet(ctx, q.key("attempts"), id, 0)
	pipe.ZAdd(ctx, q.key("pending"), redis.Z{Score: effectivePriority(evt.Priority, evt.EnqueuedAt), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", model.NewError(model.KindTransient, "enqueue failed: "+err.Error(), nil)
	}
	return id, nil
}

// Claim atomically moves the lowest-score pending job into the active
// set with a lease expiring after leaseDuration, returning nil if the
// queue is empty or paused.
func (q *Queue) Claim(ctx context.Context, leaseDuration time.Duration) (*Job, error) {
	paused, err := q.client.Exists(ctx, q.key("paused")).Result()
	if err != nil {
		return nil, err
	}
	if paused == 1 {
		return nil, nil
	}

	leaseUntil := time.Now().Add(leaseDuration).UnixMilli()
	res, err := q.client.EvalSha(ctx, q.claimSHA,
		[]string{q.key("pending"), q.key("active"), q.key("jobs"), q.key("attempts")},
		leaseUntil).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil // empty: the claim script returned nil
	}
	if err != nil {
		return nil, err
	}
	pair, ok := res.([]interface{})
	if !ok || len(pair) != 2 {
		return nil, nil // empty
	}
	id, _ := pair[0].(string)
	body, _ := pair[1].(string)
	if id == "" {
		return nil, nil
	}

	var evt model.Event
	if err := json.Unmarshal([]byte(body), &evt); err != nil {
		return nil, err
	}
	attempt, _ := q.client.HGet(ctx, q.key("attempts"), id).Int()

	return &Job{ID: id, Event: evt, Priority: evt.Priority, Attempt: attempt, EnqueuedAt: evt.EnqueuedAt}, nil
}

// Ack marks a job complete, removing it from the active lease set and
// deleting its body and attempt count; only the completed counter is
// incremented. No completed job is retained, and Options.RemoveOnComplete
// is not consulted.
func (q *Queue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.key("active"), jobID)
	pipe.HDel(ctx, q.key("jobs"), jobID)
	pipe.HDel(ctx, q.key("attempts"), jobID)
	pipe.Incr(ctx, q.key("completed"))
	_, err := pipe.Exec(ctx)
	return err
}

// Fail reports a job failure. If attempts remain it is requeued after
// an exponential backoff delay; otherwise it is moved to the failed
// counter and its body is dropped.
func (q *Queue) Fail(ctx context.Context, jobID string) error {
	attempt, err := q.client.HIncrBy(ctx, q.key("attempts"), jobID, 1).Result()
	if err != nil {
		return err
	}

	if int(attempt) >= q.opts.Attempts {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.key("active"), jobID)
		pipe.HDel(ctx, q.key("jobs"), jobID)
		pipe.HDel(ctx, q.key("attempts"), jobID)
		pipe.Incr(ctx, q.key("failed"))
		_, err := pipe.Exec(ctx)
		return err
	}

	delay := q.opts.BackoffBase * time.Duration(1<<uint(attempt-1))
	readyAt := time.Now().Add(delay).UnixMilli()
	_, err = q.client.EvalSha(ctx, q.requeueSHA,
		[]string{q.key("active"), q.key("delayed")},
		jobID, readyAt).Result()
	return err
}

// PromoteDue moves delayed jobs whose ready time has passed back into
// the pending set. Callers run this on a periodic poller.
func (q *Queue) PromoteDue(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	ids, err := q.client.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprint(now)}).Result()
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	bodies, err := q.client.HMGet(ctx, q.key("jobs"), ids...).Result()
	if err != nil {
		return 0, err
	}

	pipe := q.client.TxPipeline()
	moved := 0
	for i, id := range ids {
		body, ok := bodies[i].(string)
		if !ok {
			pipe.ZRem(ctx, q.key("delayed"), id)
			continue
		}
		var evt model.Event
		if err := json.Unmarshal([]byte(body), &evt); err != nil {
			pipe.ZRem(ctx, q.key("delayed"), id)
			continue
		}
		pipe.ZRem(ctx, q.key("delayed"), id)
		pipe.ZAdd(ctx, q.key("pending"), redis.Z{Score: effectivePriority(evt.Priority, evt.EnqueuedAt), Member: id})
		moved++
	}
	_, err = pipe.Exec(ctx)
	return moved, err
}

// ReclaimStalled moves active jobs whose lease has expired back into
// pending, so a crashed worker's jobs get re-delivered.
func (q *Queue) ReclaimStalled(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	ids, err := q.client.ZRangeByScore(ctx, q.key("active"), &redis.ZRangeBy{Min: "-inf", Max: fmt.Sprint(now)}).Result()
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	bodies, err := q.client.HMGet(ctx, q.key("jobs"), ids...).Result()
	if err != nil {
		return 0, err
	}
	pipe := q.client.TxPipeline()
	moved := 0
	for i, id := range ids {
		body, ok := bodies[i].(string)
		if !ok {
			pipe.ZRem(ctx, q.key("active"), id)
			continue
		}
		var evt model.Event
		if err := json.Unmarshal([]byte(body), &evt); err != nil {
			pipe.ZRem(ctx, q.key("active"), id)
			continue
		}
		pipe.ZRem(ctx, q.key("active"), id)
		pipe.ZAdd(ctx, q.key("pending"), redis.Z{Score: effectivePriority(evt.Priority, evt.EnqueuedAt), Member: id})
		moved++
	}
	_, err = pipe.Exec(ctx)
	return moved, err
}

func (q *Queue) GetCounts(ctx context.Context) (Counts, error) {
	pipe := q.client.TxPipeline()
	waiting := pipe.ZCard(ctx, q.key("pending"))
	active := pipe.ZCard(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	completed := pipe.Get(ctx, q.key("completed"))
	failed := pipe.Get(ctx, q.key("failed"))
	paused := pipe.Exists(ctx, q.key("paused"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Counts{}, err
	}
	return Counts{
		Waiting:   waiting.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: parseOrZero(completed.Val()),
		Failed:    parseOrZero(failed.Val()),
		Paused:    paused.Val() == 1,
	}, nil
}

func (q *Queue) Pause(ctx context.Context) error {
	return q.client.Set(ctx, q.key("paused"), "1", 0).Err()
}

func (q *Queue) Resume(ctx context.Context) error {
	return q.client.Del(ctx, q.key("paused")).Err()
}

func parseOrZero(s string) int64 {
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}

var jobSeq uint64

func newJobID() string {
	seq := atomic.AddUint64(&jobSeq, 1)
	return fmt.Sprintf("job-%d-%d", time.Now().UnixNano(), seq)
}

// claimScript atomically pops the lowest-scored pending job and moves
// it into the active set scored by its lease expiry.
const claimScript = `
local id = redis.call("ZRANGE", KEYS[1], 0, 0)[1]
if not id then
	return nil
end
redis.call("ZREM", KEYS[1], id)
redis.call("ZADD", KEYS[2], ARGV[1], id)
local body = redis.call("HGET", KEYS[3], id)
return {id, body}
`

// requeueScript atomically moves a job out of active and into the
// delayed set scored by its next-ready timestamp.
const requeueScript = `
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
return 1
`
