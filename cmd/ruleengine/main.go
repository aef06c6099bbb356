// Command ruleengine is the rule engine process entrypoint: it wires
// the originator index (C1), backpressure gate (C2), event bus (C3),
// durable queue (C4), worker pool (C6, wrapping the execution-type
// filter C5 and rule chain executor C7), data collector (C8), schedule
// manager (C9), action/notification bridge (C10) and metrics/health
// surface (C11) into one running process, following the teacher's
// main.go wiring order: stores first, then coordination, then the
// HTTP surface, then the blocking ListenAndServe.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/itskum47/ruleforge/internal/backpressure"
	"github.com/itskum47/ruleforge/internal/bridge"
	"github.com/itskum47/ruleforge/internal/collector"
	"github.com/itskum47/ruleforge/internal/config"
	"github.com/itskum47/ruleforge/internal/coordination"
	"github.com/itskum47/ruleforge/internal/eventbus"
	"github.com/itskum47/ruleforge/internal/incident"
	"github.com/itskum47/ruleforge/internal/index"
	"github.com/itskum47/ruleforge/internal/model"
	"github.com/itskum47/ruleforge/internal/queue"
	"github.com/itskum47/ruleforge/internal/schedule"
	"github.com/itskum47/ruleforge/internal/store"
	"github.com/itskum47/ruleforge/internal/timeline"
	"github.com/itskum47/ruleforge/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}

func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("⚠️ Redis unreachable at startup (%v), continuing — components degrade per their own policy", err)
	}
	defer redisClient.Close()

	var backingStore store.Store
	if cfg.PostgresDSN != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("postgres store init failed: %v", err)
		}
		backingStore = pgStore
		log.Println("using Postgres-backed store")
	} else {
		backingStore = store.NewMemoryStore()
		log.Println("⚠️ POSTGRES_DSN unset — using in-memory store (Unsafe for HA, development only)")
	}

	ix := index.New(redisClient, backingStore, cfg.IndexCacheTTL)

	gate := backpressure.New(backpressure.Thresholds{
		Warning:  cfg.QueueWarningThreshold,
		Critical: cfg.QueueCriticalThreshold,
		Recovery: cfg.QueueRecoveryThreshold,
	})

	q, err := queue.New(redisClient, cfg.QueueName, queue.DefaultOptions())
	if err != nil {
		log.Fatalf("queue init failed: %v", err)
	}

	bus := eventbus.New(ix, gate, q)

	coll := collector.New(backingStore, cfg.CollectorCacheCap, cfg.CollectorCacheTTL)

	tl := timeline.NewStore(10_000)

	incidents := incident.NewStore(1000)
	notif := bridge.New(redisClient, backingStore, tl, incidents)
	socketHub := bridge.NewSocketHub()
	notif.RegisterChannel("socket", socketHub.Channel())

	sink := func(job *queue.Job, outcomes []worker.ChainOutcome) {
		for _, o := range outcomes {
			tl.Record(timeline.Event{
				JobID:       job.ID,
				RuleChainID: o.RuleChainID,
				Stage:       outcomeStage(o.Status),
				Reason:      o.Error,
			})
			if o.Result == nil {
				continue
			}
			notif.Apply(context.Background(), job.ID, o.RuleChainID, o.Result.Actions)
		}
	}

	pool := worker.New(q, ix, coll, backingStore, worker.Timeouts{
		DataCollection: cfg.DataCollectionTimeout,
		RuleChain:      cfg.RuleChainTimeout,
		Worker:         cfg.WorkerTimeout,
	}, sink)
	pool.Start(ctx, cfg.WorkerConcurrency)

	nodeID := generateNodeID()
	elector := coordination.NewLeaderElector(redisClient, "rule-engine:leader", nodeID, 30*time.Second)

	sched := schedule.New(backingStore, backingStore, bus, elector.IsLeader)
	elector.OnElected(func(ctx context.Context) {
		log.Println("✅ elected leader, starting schedule manager")
		if err := sched.Start(ctx, cfg.AutoSyncInterval); err != nil {
			log.Printf("⚠️ schedule manager failed to start: %v", err)
		}
	})
	elector.OnLost(func() {
		log.Println("⚠️ lost leadership, stopping schedule manager")
		sched.Stop()
	})
	go elector.Run(ctx)

	// Ingestion endpoint is rate-limited to protect the admission
	// pipeline from a burst of external callers ahead of C2's own
	// queue-depth gating.
	limiter := rate.NewLimiter(rate.Limit(500), 1000)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/health/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/health/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if gate.State() == backpressure.Open {
			http.Error(w, "backpressure gate open", http.StatusServiceUnavailable)
			return
		}
		if !ix.Healthy() || !coll.Healthy() {
			http.Error(w, "store degraded", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/socket", socketHub.ServeHTTP)
	mux.HandleFunc("/incidents", func(w http.ResponseWriter, r *http.Request) {
		n := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil {
				n = parsed
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(incidents.Recent(n))
	})

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		var evt model.Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			http.Error(w, "invalid event payload", http.StatusBadRequest)
			return
		}
		evt.EnqueuedAt = time.Now()
		admission := bus.Emit(r.Context(), evt)
		w.Header().Set("Content-Type", "application/json")
		if admission.Rejected {
			w.WriteHeader(http.StatusTooManyRequests)
		} else if admission.Skipped {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusAccepted)
		}
		json.NewEncoder(w).Encode(admission)
	})

	go maintenanceLoop(ctx, q)

	srv := &http.Server{Addr: ":8080", Handler: mux}
	go func() {
		log.Println("rule engine listening on :8080")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	pool.Stop(shutdownCtx)
	sched.Stop()
}

// maintenanceLoop promotes due delayed jobs and reclaims stalled
// leases — both are periodic housekeeping the queue itself does not
// schedule (§4.4), matching the teacher's ticker-driven background
// worker pattern used for lock janitoring.
func maintenanceLoop(ctx context.Context, q *queue.Queue) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.PromoteDue(ctx); err != nil {
				log.Printf("maintenance: promote due failed: %v", err)
			}
			if _, err := q.ReclaimStalled(ctx); err != nil {
				log.Printf("maintenance: reclaim stalled failed: %v", err)
			}
		}
	}
}

func outcomeStage(status model.ExecutionStatus) timeline.Stage {
	switch status {
	case model.StatusSuccess:
		return timeline.StageFinished
	case model.StatusError:
		return timeline.StageFailed
	case model.StatusSkipped:
		return timeline.StageSkipped
	default:
		return timeline.StageDispatched
	}
}
