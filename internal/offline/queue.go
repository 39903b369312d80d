package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/elicharlese/Tree-Of-Life-Agency-sub000/internal/ids"
)

const (
	flightReplay = "replay"
	flightSync   = "sync"
)

type Config struct {
	MaxRetries       int
	SyncInterval     time.Duration
	ConflictStrategy ConflictStrategy
	Entities         []Entity
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		SyncInterval:     30 * time.Second,
		ConflictStrategy: StrategyMerge,
		Entities:         append([]Entity(nil), AllEntities...),
	}
}

type SyncStats struct {
	LastSync             *time.Time `json:"lastSync"`
	IsActive             bool       `json:"isActive"`
	IsConnected          bool       `json:"isConnected"`
	PendingOperations    int        `json:"pendingOperations"`
	FailedOperations     int        `json:"failedOperations"`
	DeadLetterOperations int        `json:"deadLetterOperations"`
}

type ReplayResult string

const (
	ReplaySucceeded    ReplayResult = "succeeded"
	ReplayRetried      ReplayResult = "retried"
	ReplayDeadLettered ReplayResult = "dead_lettered"
)

// Observer receives replay and sync outcomes, typically backed by Prometheus.
type Observer interface {
	OperationReplayed(result ReplayResult)
	SyncCompleted(ok bool)
}

type nopObserver struct{}

func (nopObserver) OperationReplayed(ReplayResult) {}
func (nopObserver) SyncCompleted(bool) {}

type Option func(*Queue)

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithObserver(obs Observer) Option {
	return func(q *Queue) {
		if obs != nil {
			q.observer = obs
		}
	}
}

// Queue holds pending mutations and drives replay and pull against the API.
//
// Replay passes never overlap: concurrent callers of ProcessOfflineActions,
// and the replay step of TriggerFullSync, wait for and share the pass that is
// already running. Full syncs are shared the same way.
type Queue struct {
	cfg      Config
	api      API
	kv       KV
	log      zerolog.Logger
	now      func() time.Time
	observer Observer

	flight singleflight.Group
	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	mu          sync.Mutex
	queue       []Operation
	deadLetters []Operation
	lastSync    *time.Time
	connected   bool
	inFlight    int
}

func NewQueue(cfg Config, api API, kv KV, log zerolog.Logger, opts ...Option) *Queue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.ConflictStrategy == "" {
		cfg.ConflictStrategy = StrategyMerge
	}
	if len(cfg.Entities) == 0 {
		cfg.Entities = append([]Entity(nil), AllEntities...)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:      cfg,
		api:      api,
		kv:       kv,
		log:      log.With().Str("component", "offline-sync").Logger(),
		now:      time.Now,
		observer: nopObserver{},
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) Config() Config {
	return q.cfg
}

// Load restores the queue, dead letters and last sync time from storage.
func (q *Queue) Load(ctx context.Context) error {
	queue, err := q.loadOperations(ctx, keyQueue)
	if err != nil {
		return err
	}
	dead, err := q.loadOperations(ctx, keyDeadLetters)
	if err != nil {
		return err
	}

	var lastSync *time.Time
	raw, ok, err := q.kv.Get(ctx, keyLastSync)
	if err != nil {
		return fmt.Errorf("load last sync: %w", err)
	}
	if ok {
		ts, err := time.Parse(time.RFC3339Nano, string(raw))
		if err != nil {
			return fmt.Errorf("decode last sync: %w", err)
		}
		lastSync = &ts
	}

	q.mu.Lock()
	q.queue = queue
	q.deadLetters = dead
	q.lastSync = lastSync
	q.mu.Unlock()

	q.log.Info().
		Int("pending", len(queue)).
		Int("dead_letters", len(dead)).
		Msg("offline queue loaded")
	return nil
}

func (q *Queue) loadOperations(ctx context.Context, key string) ([]Operation, error) {
	raw, ok, err := q.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	var ops []Operation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return ops, nil
}

// AddOfflineOperation validates and durably queues a mutation. When the API is
// reachable a replay starts in the background.
func (q *Queue) AddOfflineOperation(ctx context.Context, opType OperationType, entity Entity, data map[string]any) (string, error) {
	op := Operation{
		ID:        ids.New(),
		Type:      opType,
		Entity:    entity,
		Data:      cloneData(data),
		Timestamp: q.now().UTC(),
	}
	if err := op.validate(); err != nil {
		return "", err
	}

	q.mu.Lock()
	q.queue = append(q.queue, op)
	if err := q.persistLocked(ctx, keyQueue, q.queue); err != nil {
		q.queue = q.queue[:len(q.queue)-1]
		q.mu.Unlock()
		return "", err
	}
	connected := q.connected
	q.mu.Unlock()

	q.log.Debug().
		Str("op_id", op.ID).
		Str("type", string(op.Type)).
		Str("entity", string(op.Entity)).
		Msg("operation queued")

	if connected {
		q.background(func(ctx context.Context) {
			if err := q.ProcessOfflineActions(ctx); err != nil {
				q.log.Warn().Err(err).Msg("background replay failed")
			}
		})
	}
	return op.ID, nil
}

// SetConnected records reachability. Coming back online starts a full sync.
func (q *Queue) SetConnected(connected bool) {
	q.mu.Lock()
	was := q.connected
	q.connected = connected
	q.mu.Unlock()

	if was == connected {
		return
	}
	q.log.Info().Bool("connected", connected).Msg("connectivity changed")
	if connected {
		q.background(func(ctx context.Context) {
			if err := q.TriggerFullSync(ctx); err != nil {
				q.log.Warn().Err(err).Msg("sync after reconnect failed")
			}
		})
	}
}

func (q *Queue) Connected() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.connected
}

// TriggerFullSync replays the queue, then pulls every tracked entity and
// records the sync time. It does nothing while offline.
func (q *Queue) TriggerFullSync(ctx context.Context) error {
	if !q.Connected() {
		q.log.Debug().Msg("offline, sync skipped")
		return nil
	}
	return q.share(ctx, flightSync, q.fullSync)
}

// RequestSync starts a full sync in the background and reports whether one was
// started. It returns false while offline.
func (q *Queue) RequestSync() bool {
	if !q.Connected() {
		return false
	}
	q.background(func(ctx context.Context) {
		if err := q.TriggerFullSync(ctx); err != nil {
			q.log.Warn().Err(err).Msg("requested sync failed")
		}
	})
	return true
}

// ProcessOfflineActions runs one replay pass over the operations queued when
// the pass starts.
func (q *Queue) ProcessOfflineActions(ctx context.Context) error {
	return q.share(ctx, flightReplay, q.replay)
}

// share runs fn once per key at a time under the queue's own context; callers
// arriving while it runs wait for the same result. A caller whose ctx ends
// stops waiting without cancelling the shared run.
func (q *Queue) share(ctx context.Context, key string, fn func(context.Context) error) error {
	ch := q.flight.DoChan(key, func() (any, error) {
		q.setActive(1)
		defer q.setActive(-1)
		return nil, fn(q.ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) setActive(delta int) {
	q.mu.Lock()
	q.inFlight += delta
	q.mu.Unlock()
}

func (q *Queue) fullSync(ctx context.Context) error {
	started := q.now().UTC()

	if err := q.share(ctx, flightReplay, q.replay); err != nil {
		q.observer.SyncCompleted(false)
		return fmt.Errorf("replay: %w", err)
	}

	q.mu.Lock()
	var since *time.Time
	if q.lastSync != nil {
		ts := *q.lastSync
		since = &ts
	}
	q.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, entity := range q.cfg.Entities {
		entity := entity
		g.Go(func() error {
			records, err := q.api.List(gctx, entity, since)
			if err != nil {
				return fmt.Errorf("pull %s: %w", entity, err)
			}
			raw, err := json.Marshal(records)
			if err != nil {
				return fmt.Errorf("encode %s: %w", entity, err)
			}
			if err := q.kv.Set(gctx, cacheKey(entity), raw); err != nil {
				return fmt.Errorf("cache %s: %w", entity, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		q.observer.SyncCompleted(false)
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.kv.Set(ctx, keyLastSync, []byte(started.Format(time.RFC3339Nano))); err != nil {
		q.observer.SyncCompleted(false)
		return fmt.Errorf("persist last sync: %w", err)
	}
	q.lastSync = &started
	q.observer.SyncCompleted(true)

	q.log.Info().
		Time("since", started).
		Int("entities", len(q.cfg.Entities)).
		Msg("full sync completed")
	return nil
}

type attempt struct {
	err error
}

func (q *Queue) replay(ctx context.Context) error {
	q.mu.Lock()
	snapshot := append([]Operation(nil), q.queue...)
	q.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}

	attempts := make(map[string]attempt, len(snapshot))
	for _, op := range snapshot {
		if ctx.Err() != nil {
			break
		}
		err := q.dispatch(ctx, op)
		if err != nil && ctx.Err() != nil {
			// interrupted by shutdown; the op stays untried
			break
		}
		attempts[op.ID] = attempt{err: err}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.queue[:0:0]
	var succeeded, retried, dead int
	for _, op := range q.queue {
		a, tried := attempts[op.ID]
		if !tried {
			kept = append(kept, op)
			continue
		}
		if a.err == nil {
			succeeded++
			q.observer.OperationReplayed(ReplaySucceeded)
			continue
		}

		op.RetryCount++
		op.LastError = a.err.Error()
		if op.RetryCount >= q.cfg.MaxRetries {
			dead++
			q.deadLetters = append(q.deadLetters, op)
			q.observer.OperationReplayed(ReplayDeadLettered)
			q.log.Warn().
				Err(a.err).
				Str("op_id", op.ID).
				Str("entity", string(op.Entity)).
				Int("retries", op.RetryCount).
				Msg("operation moved to dead letters")
			continue
		}
		retried++
		q.observer.OperationReplayed(ReplayRetried)
		kept = append(kept, op)
	}
	q.queue = kept

	if err := q.persistLocked(ctx, keyQueue, q.queue); err != nil {
		return err
	}
	if dead > 0 {
		if err := q.persistLocked(ctx, keyDeadLetters, q.deadLetters); err != nil {
			return err
		}
	}

	q.log.Info().
		Int("succeeded", succeeded).
		Int("retried", retried).
		Int("dead_lettered", dead).
		Int("pending", len(q.queue)).
		Msg("replay pass finished")
	return nil
}

func (q *Queue) dispatch(ctx context.Context, op Operation) error {
	switch op.Type {
	case OpCreate:
		_, err := q.api.Create(ctx, op.Entity, op.Data)
		return err
	case OpUpdate:
		id, _ := op.RecordID()
		_, err := q.api.Update(ctx, op.Entity, id, op.Data)
		if HasStatus(err, http.StatusConflict) {
			return q.resolve(ctx, op, id)
		}
		return err
	case OpDelete:
		id, _ := op.RecordID()
		err := q.api.Delete(ctx, op.Entity, id)
		if HasStatus(err, http.StatusNotFound) {
			return nil
		}
		return err
	}
	return fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, op.Type)
}

func (q *Queue) resolve(ctx context.Context, op Operation, id string) error {
	server, err := q.api.Get(ctx, op.Entity, id)
	if err != nil {
		return fmt.Errorf("fetch conflicting %s %s: %w", op.Entity, id, err)
	}

	resolved := ResolveConflict(op.Data, server, q.cfg.ConflictStrategy)
	q.log.Info().
		Str("op_id", op.ID).
		Str("entity", string(op.Entity)).
		Str("strategy", string(q.cfg.ConflictStrategy)).
		Msg("update conflict resolved")

	if q.cfg.ConflictStrategy == StrategyServer {
		return nil
	}
	if _, err := q.api.Update(ctx, op.Entity, id, resolved); err != nil {
		return fmt.Errorf("write resolved %s %s: %w", op.Entity, id, err)
	}
	return nil
}

func (q *Queue) persistLocked(ctx context.Context, key string, ops []Operation) error {
	if ops == nil {
		ops = []Operation{}
	}
	raw, err := json.Marshal(ops)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := q.kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

func (q *Queue) Stats() SyncStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := SyncStats{
		IsActive:             q.inFlight > 0,
		IsConnected:          q.connected,
		PendingOperations:    len(q.queue),
		DeadLetterOperations: len(q.deadLetters),
	}
	if q.lastSync != nil {
		ts := *q.lastSync
		stats.LastSync = &ts
	}
	for _, op := range q.queue {
		if op.RetryCount > 0 {
			stats.FailedOperations++
		}
	}
	return stats
}

// Pending returns a copy of the queued operations in order.
func (q *Queue) Pending() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Operation{}, q.queue...)
}

func (q *Queue) DeadLetters() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Operation{}, q.deadLetters...)
}

// RequeueDeadLetter moves a dead-lettered operation back to the queue with
// its retry budget restored.
func (q *Queue) RequeueDeadLetter(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	idx := indexOf(q.deadLetters, id)
	if idx < 0 {
		q.mu.Unlock()
		return false, nil
	}

	op := q.deadLetters[idx]
	op.RetryCount = 0
	op.LastError = ""
	q.deadLetters = append(q.deadLetters[:idx:idx], q.deadLetters[idx+1:]...)
	q.queue = append(q.queue, op)

	if err := q.persistLocked(ctx, keyQueue, q.queue); err != nil {
		q.mu.Unlock()
		return false, err
	}
	if err := q.persistLocked(ctx, keyDeadLetters, q.deadLetters); err != nil {
		q.mu.Unlock()
		return false, err
	}
	connected := q.connected
	q.mu.Unlock()

	if connected {
		q.background(func(ctx context.Context) {
			if err := q.ProcessOfflineActions(ctx); err != nil {
				q.log.Warn().Err(err).Msg("background replay failed")
			}
		})
	}
	return true, nil
}

func (q *Queue) DiscardDeadLetter(ctx context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	idx := indexOf(q.deadLetters, id)
	if idx < 0 {
		return false, nil
	}
	q.deadLetters = append(q.deadLetters[:idx:idx], q.deadLetters[idx+1:]...)
	if err := q.persistLocked(ctx, keyDeadLetters, q.deadLetters); err != nil {
		return false, err
	}
	return true, nil
}

// Cached returns the records stored by the last successful pull of entity.
func (q *Queue) Cached(ctx context.Context, entity Entity) ([]map[string]any, error) {
	raw, ok, err := q.kv.Get(ctx, cacheKey(entity))
	if err != nil {
		return nil, err
	}
	if !ok {
		return []map[string]any{}, nil
	}
	return decodeRecords(raw)
}

func (q *Queue) background(fn func(ctx context.Context)) {
	if q.ctx.Err() != nil {
		return
	}
	q.bg.Add(1)
	go func() {
		defer q.bg.Done()
		fn(q.ctx)
	}()
}

// Close stops background work and waits for it to return. It does not close
// the KV.
func (q *Queue) Close() {
	q.cancel()
	q.bg.Wait()
}

func indexOf(ops []Operation, id string) int {
	for i, op := range ops {
		if op.ID == id {
			return i
		}
	}
	return -1
}
