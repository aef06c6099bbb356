// Package coordination provides cross-replica leader election, used
// to gate the schedule manager's cron ticks to a single owner per
// replica set (§9 expansion). Grounded on the teacher's
// coordination.LeaderElector: a Redis SET-NX lease renewed on a
// ticker, with onElected/onLost callbacks.
package coordination

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	renewInterval = 5 * time.Second
)

// LeaderElector holds a single Redis-backed lease key and reports
// leadership transitions to the caller via callbacks.
type LeaderElector struct {
	client  *redis.Client
	nodeID  string
	lockKey string
	ttl     time.Duration

	mu       sync.RWMutex
	isLeader bool

	onElected func(ctx context.Context)
	onLost    func()

	cancel context.CancelFunc
}

func NewLeaderElector(client *redis.Client, lockKey, nodeID string, ttl time.Duration) *LeaderElector {
	return &LeaderElector{client: client, nodeID: nodeID, lockKey: lockKey, ttl: ttl}
}

func (l *LeaderElector) OnElected(fn func(ctx context.Context)) { l.onElected = fn }
func (l *LeaderElector) OnLost(fn func())                       { l.onLost = fn }

// Run participates in the election until ctx is cancelled, attempting
// to acquire or renew the lease every renewInterval.
func (l *LeaderElector) Run(ctx context.Context) {
	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		l.tick(ctx)
		select {
		case <-ctx.Done():
			l.stepDown()
			return
		case <-ticker.C:
		}
	}
}

func (l *LeaderElector) tick(ctx context.Context) {
	l.mu.Lock()
	wasLeader := l.isLeader
	l.mu.Unlock()

	if wasLeader {
		ok, err := l.renew(ctx)
		if err != nil || ok {
			if err != nil {
				log.Printf("leader election: renew failed for %s: %v", l.nodeID, err)
			}
			if ok {
				return
			}
		}
		l.stepDown()
		return
	}

	acquired, err := l.client.SetNX(ctx, l.lockKey, l.nodeID, l.ttl).Result()
	if err != nil {
		log.Printf("leader election: acquire failed for %s: %v", l.nodeID, err)
		return
	}
	if acquired {
		l.becomeLeader(ctx)
	}
}

func (l *LeaderElector) renew(ctx context.Context) (bool, error) {
	const script = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
	res, err := l.client.Eval(ctx, script, []string{l.lockKey}, l.nodeID, l.ttl.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	n, _ := res.(int64)
	return n == 1, nil
}

func (l *LeaderElector) becomeLeader(ctx context.Context) {
	l.mu.Lock()
	l.isLeader = true
	l.mu.Unlock()
	log.Printf("leader election: %s acquired leadership", l.nodeID)
	if l.onElected != nil {
		l.onElected(ctx)
	}
}

func (l *LeaderElector) stepDown() {
	l.mu.Lock()
	was := l.isLeader
	l.isLeader = false
	l.mu.Unlock()
	if was {
		log.Printf("leader election: %s lost leadership", l.nodeID)
		if l.onLost != nil {
			l.onLost()
		}
	}
}

// IsLeader reports the current leadership state (thread-safe).
func (l *LeaderElector) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLeader
}
