// Package worker implements the worker pool (C6): a bounded set of
// goroutines pulling jobs from the durable queue and dispatching them
// to the rule chain executor, with a per-chain circuit breaker and
// per-operation timeouts. Dispatch-loop shape (ticker-driven pop,
// one polling goroutine per worker that dispatches inline, panic
// recovery) is grounded on the teacher's
// Scheduler.worker/processNextTask; per-chain breaker state uses
// sony/gobreaker (confirmed direct dependency of jordigilh-kubernaut)
// keyed in a sync.Map instead of the teacher's "global Map<id,state>"
// pattern flagged for redesign.
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/itskum47/ruleforge/internal/collector"
	"github.com/itskum47/ruleforge/internal/exectype"
	"github.com/itskum47/ruleforge/internal/index"
	"github.com/itskum47/ruleforge/internal/metrics"
	"github.com/itskum47/ruleforge/internal/model"
	"github.com/itskum47/ruleforge/internal/queue"
	"github.com/itskum47/ruleforge/internal/rulechain"
	"github.com/itskum47/ruleforge/internal/store"
)

const (
	breakerThreshold = 5
	breakerRecovery  = 60 * time.Second
	leaseDuration    = 30 * time.Second
	pollInterval     = 100 * time.Millisecond
)

// Timeouts configures the per-operation budgets named in §4.6.
type Timeouts struct {
	DataCollection time.Duration
	RuleChain      time.Duration
	Worker         time.Duration
}

// ChainOutcome is one per-chain result aggregated into a job outcome.
type ChainOutcome struct {
	RuleChainID string
	Status      model.ExecutionStatus
	Result      *model.ExecutionResult
	Error       string
}

// Pool is the worker pool.
type Pool struct {
	queue     *queue.Queue
	index     *index.Index
	collector *collector.Collector
	store     store.RuleChainReader
	timeouts  Timeouts
	sink      func(job *queue.Job, outcomes []ChainOutcome)

	breakers sync.Map // ruleChainId -> *gobreaker.CircuitBreaker

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(q *queue.Queue, ix *index.Index, c *collector.Collector, s store.RuleChainReader, timeouts Timeouts, sink func(job *queue.Job, outcomes []ChainOutcome)) *Pool {
	return &Pool{queue: q, index: ix, collector: c, store: s, timeouts: timeouts, sink: sink}
}

// Start launches concurrency dispatch goroutines, each polling the
// queue independently (matching the teacher's ticker-per-worker
// shape rather than a single dispatcher fanning out to workers).
func (p *Pool) Start(ctx context.Context, concurrency int) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.runLoop(ctx)
	}
	metrics.WorkerCount.Set(float64(concurrency))
}

// Stop cancels dispatch and waits for in-flight jobs to drain, up to
// the caller's context deadline.
func (p *Pool) Stop(ctx context.Context) {
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (p *Pool) runLoop(ctx context.Context) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker: panic recovered: %v", r)
		}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := p.queue.Claim(ctx, leaseDuration)
			if err != nil || job == nil {
				continue
			}
			// A claimed job runs to completion even if Stop cancels ctx
			// meanwhile; Stop waits for it up to its own deadline.
			p.dispatch(context.WithoutCancel(ctx), job)
		}
	}
}

func (p *Pool) dispatch(ctx context.Context, job *queue.Job) {
	start := time.Now()
	defer func() {
		metrics.RuleExecutionDuration.WithLabelValues("job").Observe(time.Since(start).Seconds())
	}()

	kind, ok := invocationKind(job.Event.EventType)
	if !ok {
		p.queue.Ack(ctx, job.ID)
		return
	}

	chains, err := p.resolveChains(ctx, job, kind)
	if err != nil || len(chains) == 0 {
		p.queue.Ack(ctx, job.ID)
		return
	}

	snapshot := p.materializeSnapshot(ctx, job, chains)

	outcomes := p.executeChains(ctx, chains, snapshot)

	anyFailed := false
	for _, o := range outcomes {
		if o.Status == model.StatusError {
			anyFailed = true
		}
	}
	if p.sink != nil {
		p.sink(job, outcomes)
	}
	if anyFailed {
		p.queue.Fail(ctx, job.ID)
	} else {
		p.queue.Ack(ctx, job.ID)
	}
}

func invocationKind(eventType string) (model.InvocationKind, bool) {
	switch eventType {
	case model.EventTelemetryData, model.EventDeviceStateChange, model.EventManualTrigger, model.EventExternal, model.EventBatchOperation:
		return model.InvocationEvent, true
	case model.EventScheduled:
		return model.InvocationSchedule, true
	default:
		return "", false
	}
}

func (p *Pool) resolveChains(ctx context.Context, job *queue.Job, kind model.InvocationKind) ([]*model.RuleChain, error) {
	ids := job.Event.RuleChainIDs
	if len(ids) == 0 && job.Event.OriginatorType != model.OriginatorNone {
		var err error
		ids, err = p.index.Lookup(ctx, job.Event.OriginatorType, job.Event.OriginatorID, job.Event.VariableNames)
		if err != nil {
			return nil, err
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	chains, err := p.store.ListRuleChains(ctx, ids)
	if err != nil {
		return nil, err
	}

	if job.Event.EventType == model.EventManualTrigger {
		return chains, nil // manual triggers bypass the execution-type filter
	}

	out := chains[:0]
	for _, rc := range chains {
		if exectype.Allows(rc, kind) {
			out = append(out, rc)
		}
	}
	return out, nil
}

func (p *Pool) materializeSnapshot(ctx context.Context, job *queue.Job, chains []*model.RuleChain) *model.Snapshot {
	ctx, cancel := context.WithTimeout(ctx, p.timeouts.DataCollection)
	defer cancel()
	return p.collector.Collect(ctx, chains)
}

// executeChains runs every candidate chain concurrently, isolating
// per-chain failures (§4.6 "a chain failure does not abort siblings").
func (p *Pool) executeChains(ctx context.Context, chains []*model.RuleChain, snapshot *model.Snapshot) []ChainOutcome {
	outcomes := make([]ChainOutcome, len(chains))
	var wg sync.WaitGroup
	for i, rc := range chains {
		wg.Add(1)
		go func(i int, rc *model.RuleChain) {
			defer wg.Done()
			outcomes[i] = p.executeOne(ctx, rc, snapshot)
		}(i, rc)
	}
	wg.Wait()
	return outcomes
}

func (p *Pool) executeOne(ctx context.Context, rc *model.RuleChain, snapshot *model.Snapshot) ChainOutcome {
	breaker := p.breakerFor(rc.ID)

	res, err := breaker.Execute(func() (interface{}, error) {
		opCtx, cancel := context.WithTimeout(ctx, p.timeouts.RuleChain)
		defer cancel()

		resultCh := make(chan model.ExecutionResult, 1)
		go func() {
			resultCh <- rulechain.Execute(rc, snapshot)
		}()

		select {
		case result := <-resultCh:
			if result.Status == model.StatusError {
				metrics.RuleExecutionTotal.WithLabelValues(rc.ID, "error").Inc()
				return result, model.NewError(model.KindFatal, result.Summary, nil)
			}
			metrics.RuleExecutionTotal.WithLabelValues(rc.ID, string(result.Status)).Inc()
			return result, nil
		case <-opCtx.Done():
			metrics.RuleTimeoutTotal.WithLabelValues(rc.ID).Inc()
			return model.ExecutionResult{RuleChainID: rc.ID, Status: model.StatusError, Summary: "rule chain timed out"},
				model.NewTimeoutError(model.TimeoutRuleChain, "rule chain execution timed out")
		}
	})

	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			metrics.RuleExecutionTotal.WithLabelValues(rc.ID, "skipped").Inc()
			return ChainOutcome{RuleChainID: rc.ID, Status: model.StatusSkipped, Error: model.ReasonCircuitBreakerOp}
		}
		result, _ := res.(model.ExecutionResult)
		return ChainOutcome{RuleChainID: rc.ID, Status: model.StatusError, Result: &result, Error: err.Error()}
	}

	result := res.(model.ExecutionResult)
	return ChainOutcome{RuleChainID: rc.ID, Status: result.Status, Result: &result}
}

func (p *Pool) breakerFor(ruleChainID string) *gobreaker.CircuitBreaker {
	if b, ok := p.breakers.Load(ruleChainID); ok {
		return b.(*gobreaker.CircuitBreaker)
	}
	settings := gobreaker.Settings{
		Name:        ruleChainID,
		MaxRequests: 1,
		Timeout:     breakerRecovery,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitState.WithLabelValues(name).Set(float64(to))
			log.Printf("rule chain %s circuit breaker: %s -> %s", name, from, to)
		},
	}
	b := gobreaker.NewCircuitBreaker(settings)
	actual, _ := p.breakers.LoadOrStore(ruleChainID, b)
	return actual.(*gobreaker.CircuitBreaker)
}
