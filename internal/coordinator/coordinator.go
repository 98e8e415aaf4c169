// Copyright 2025 James Ross
package coordinator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/regulens/ingestion-engine/internal/breaker"
	"github.com/regulens/ingestion-engine/internal/ingesterr"
	"github.com/regulens/ingestion-engine/internal/model"
	"github.com/regulens/ingestion-engine/internal/obs"
)

// SourceAdapter fetches raw records for one source since the given
// watermark and returns the new watermark to persist on success.
type SourceAdapter interface {
	Fetch(ctx context.Context, cfg model.SourceConfig, watermark string) ([]model.RawRecord, string, error)
	Close() error
}

// Pipeline runs a batch through the fixed stage sequence, mutating its
// records in place and returning reconciled stats.
type Pipeline interface {
	Run(ctx context.Context, cfg model.SourceConfig, batch *model.IngestionBatch) (model.BatchStats, error)
}

// StorageAdapter commits a completed batch's records and metadata
// atomically, per spec §4.3.
type StorageAdapter interface {
	CommitBatch(ctx context.Context, cfg model.SourceConfig, batch *model.IngestionBatch, stats *model.BatchStats) error
	LoadWatermark(ctx context.Context, sourceID string) (string, error)
}

// sourceEntry is the Coordinator's private bookkeeping for one registered
// source: its config, runtime state, adapter instance, breaker, and the
// mutex enforcing that at most one batch is in flight for it at a time.
type sourceEntry struct {
	mu             sync.Mutex // guards fields below AND serializes batch execution
	cfg            model.SourceConfig
	state          model.SourceState
	adapter        SourceAdapter
	cb             *breaker.CircuitBreaker
	cron           cron.Schedule
	cancel         context.CancelFunc
	stateEnteredAt time.Time
}

// tick is a unit of scheduled work enqueued onto the bounded worker pool.
type tick struct {
	sourceID string
}

// Coordinator is the Ingestion Coordinator of spec §4.1: it owns every
// registered source's lifecycle state machine, a bounded worker pool that
// executes batches, and per-source circuit breakers and backoff.
type Coordinator struct {
	log      *zap.Logger
	pipeline Pipeline
	storage  StorageAdapter

	workQueue   chan tick
	workerCount int

	mu      sync.RWMutex
	sources map[string]*sourceEntry

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New builds a Coordinator with the given bounded worker pool size and
// queue capacity (spec §4.1's "bounded worker pool" and "deferred-ticks
// counter under backpressure").
func New(log *zap.Logger, pipeline Pipeline, storage StorageAdapter, workerCount, queueCapacity int) *Coordinator {
	return &Coordinator{
		log:         log,
		pipeline:    pipeline,
		storage:     storage,
		workQueue:   make(chan tick, queueCapacity),
		workerCount: workerCount,
		sources:     make(map[string]*sourceEntry),
	}
}

// Run starts the worker pool and blocks until ctx is canceled.
func (c *Coordinator) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	for i := 0; i < c.workerCount; i++ {
		c.wg.Add(1)
		go c.runWorker(runCtx, i)
	}

	<-runCtx.Done()
	c.wg.Wait()
	return nil
}

func (c *Coordinator) runWorker(ctx context.Context, id int) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-c.workQueue:
			obs.WorkerPoolActive.Inc()
			c.processTick(ctx, t.sourceID)
			obs.WorkerPoolActive.Dec()
		}
	}
}

// RegisterSource adds a new source in the Registered state. It is an error
// to register a source_id that already exists.
func (c *Coordinator) RegisterSource(ctx context.Context, cfg model.SourceConfig, adapter SourceAdapter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.sources[cfg.SourceID]; exists {
		return ingesterr.ErrSourceAlreadyExists
	}

	watermark, err := c.storage.LoadWatermark(ctx, cfg.SourceID)
	if err != nil {
		c.log.Warn("failed to load watermark, starting from empty", zap.String("source_id", cfg.SourceID), zap.Error(err))
	}

	var sched cron.Schedule
	if cfg.Mode == model.ModeScheduled && cfg.Schedule != "" {
		if d, perr := time.ParseDuration(cfg.Schedule); perr == nil {
			sched = cron.Every(d)
		} else {
			sched, err = cron.ParseStandard(cfg.Schedule)
			if err != nil {
				return fmt.Errorf("source %s: invalid cron schedule %q: %w", cfg.SourceID, cfg.Schedule, err)
			}
		}
	}

	entry := &sourceEntry{
		cfg:     cfg,
		adapter: adapter,
		cron:    sched,
		cb:      breaker.New(cfg.Breaker.FailureThreshold, cfg.Breaker.OpenCooldown),
		state: model.SourceState{
			SourceID:  cfg.SourceID,
			Mode:      cfg.Mode,
			FSMState:  model.StateRegistered,
			Watermark: watermark,
		},
	}
	c.sources[cfg.SourceID] = entry
	return nil
}

// UnregisterSource removes a stopped source entirely. Returns an error if
// the source is not in the Registered (stopped) state.
func (c *Coordinator) UnregisterSource(sourceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.sources[sourceID]
	if !ok {
		return ingesterr.ErrSourceUnknown
	}
	entry.mu.Lock()
	st := entry.state.FSMState
	entry.mu.Unlock()
	if st != model.StateRegistered {
		return fmt.Errorf("%w: source %s must be stopped before removal", ingesterr.ErrFSMInvalidTransition, sourceID)
	}
	_ = entry.adapter.Close()
	delete(c.sources, sourceID)
	return nil
}

func (c *Coordinator) lookup(sourceID string) (*sourceEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.sources[sourceID]
	if !ok {
		return nil, ingesterr.ErrSourceUnknown
	}
	return entry, nil
}

// StartSource transitions a Registered source to Connecting/Idle and
// begins generating ticks per its ingestion mode.
func (c *Coordinator) StartSource(ctx context.Context, sourceID string) error {
	entry, err := c.lookup(sourceID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	next, prior, err := apply(entry.state.FSMState, entry.state.PriorState, evStart)
	if err != nil {
		entry.mu.Unlock()
		return err
	}
	entry.state.FSMState = next
	entry.state.PriorState = prior
	entryCtx, cancel := context.WithCancel(ctx)
	entry.cancel = cancel
	entry.mu.Unlock()

	// Connect step: adapters are lazily connected on first Fetch, so this
	// is treated as always succeeding and advances straight to Idle.
	entry.mu.Lock()
	next, prior, err = apply(entry.state.FSMState, entry.state.PriorState, evConnected)
	if err == nil {
		entry.state.FSMState = next
		entry.state.PriorState = prior
	}
	entry.mu.Unlock()
	if err != nil {
		return err
	}

	c.scheduleTicks(entryCtx, entry)
	return nil
}

// StopSource halts tick generation and returns the source to Registered.
// Any in-flight batch is allowed to finish.
func (c *Coordinator) StopSource(sourceID string) error {
	entry, err := c.lookup(sourceID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	if entry.cancel != nil {
		entry.cancel()
	}
	next, prior, err := apply(entry.state.FSMState, entry.state.PriorState, evStop)
	if err == nil {
		entry.state.FSMState = next
		entry.state.PriorState = prior
		entry.cb.Reset()
	}
	entry.mu.Unlock()
	return err
}

// PauseSource suspends tick generation while remembering the state to
// resume into, per spec §4.4.
func (c *Coordinator) PauseSource(sourceID string) error {
	entry, err := c.lookup(sourceID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	next, prior, err := apply(entry.state.FSMState, entry.state.PriorState, evPause)
	if err != nil {
		return err
	}
	entry.state.FSMState = next
	entry.state.PriorState = prior
	entry.state.Paused = true
	return nil
}

// ResumeSource restores tick generation from a paused source's prior state.
func (c *Coordinator) ResumeSource(ctx context.Context, sourceID string) error {
	entry, err := c.lookup(sourceID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	next, prior, err := apply(entry.state.FSMState, entry.state.PriorState, evResume)
	if err != nil {
		entry.mu.Unlock()
		return err
	}
	entry.state.FSMState = next
	entry.state.PriorState = prior
	entry.state.Paused = false
	entryCtx, cancel := context.WithCancel(ctx)
	entry.cancel = cancel
	entry.mu.Unlock()

	c.scheduleTicks(entryCtx, entry)
	return nil
}

// IngestNow enqueues a single immediate tick, used for batch-mode explicit
// triggers and realtime push-style sources (spec §4.4).
func (c *Coordinator) IngestNow(sourceID string) error {
	if _, err := c.lookup(sourceID); err != nil {
		return err
	}
	return c.enqueueTick(sourceID)
}

// scheduleTicks starts the background goroutine generating ticks for a
// source according to its ingestion mode, until ctx is canceled.
func (c *Coordinator) scheduleTicks(ctx context.Context, entry *sourceEntry) {
	switch entry.cfg.Mode {
	case model.ModeBatch:
		// explicit trigger only, via IngestNow; nothing to schedule.
	case model.ModeRealtime:
		// push-style; ticks arrive via IngestNow from the realtime adapter.
	case model.ModeStreaming:
		go c.runStreamingLoop(ctx, entry)
	case model.ModeScheduled:
		go c.runScheduledLoop(ctx, entry)
	}
}

func (c *Coordinator) runStreamingLoop(ctx context.Context, entry *sourceEntry) {
	interval := entry.cfg.Retry.BaseDelay
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.enqueueTick(entry.cfg.SourceID)
		}
	}
}

func (c *Coordinator) runScheduledLoop(ctx context.Context, entry *sourceEntry) {
	if entry.cron == nil {
		return
	}
	for {
		now := time.Now()
		next := entry.cron.Next(now)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			_ = c.enqueueTick(entry.cfg.SourceID)
		}
	}
}

// enqueueTick pushes a tick onto the bounded queue, incrementing the
// deferred-ticks counter instead of blocking when the queue is saturated
// (spec §4.1 backpressure requirement).
func (c *Coordinator) enqueueTick(sourceID string) error {
	entry, err := c.lookup(sourceID)
	if err != nil {
		return err
	}
	select {
	case c.workQueue <- tick{sourceID: sourceID}:
		return nil
	default:
		entry.mu.Lock()
		entry.state.DeferredTicks++
		entry.mu.Unlock()
		return ingesterr.ErrQueueSaturated
	}
}

// processTick runs one full fetch→pipeline→storage cycle for a source,
// serialized per-source via entry.mu so a slow batch never overlaps with
// the next tick (spec §4.1's "mutual exclusion per source").
func (c *Coordinator) processTick(ctx context.Context, sourceID string) {
	entry, err := c.lookup(sourceID)
	if err != nil {
		return
	}

	entry.mu.Lock()
	if entry.state.FSMState == model.StatePaused || entry.state.FSMState == model.StateRegistered {
		entry.mu.Unlock()
		return
	}
	if !entry.cb.Allow() {
		entry.mu.Unlock()
		return
	}
	next, prior, ferr := apply(entry.state.FSMState, entry.state.PriorState, evTick)
	if ferr != nil {
		entry.mu.Unlock()
		return
	}
	entry.state.FSMState = next
	entry.state.PriorState = prior
	entry.stateEnteredAt = time.Now()
	cfg := entry.cfg
	watermark := entry.state.Watermark
	entry.mu.Unlock()

	batchCtx, span := obs.StartBatchSpan(ctx, sourceID, "")
	defer span.End()

	fetchStart := time.Now()
	raws, newWatermark, err := entry.adapter.Fetch(batchCtx, cfg, watermark)
	obs.FetchDuration.WithLabelValues(sourceID).Observe(time.Since(fetchStart).Seconds())
	if err != nil {
		c.handleFailure(entry, err)
		return
	}
	if err := c.advance(entry, evFetched); err != nil {
		return
	}
	if len(raws) == 0 {
		c.advance(entry, evStored)
		entry.mu.Lock()
		entry.state.Watermark = newWatermark
		entry.mu.Unlock()
		return
	}

	now := time.Now()
	records := make([]*model.DataRecord, 0, len(raws))
	for _, r := range raws {
		records = append(records, model.NewDataRecord(r, now))
	}
	batch := model.NewIngestionBatch(sourceID, records, time.Now())
	obs.BatchesTotal.WithLabelValues(sourceID).Inc()

	pipelineStart := time.Now()
	stats, err := c.pipeline.Run(batchCtx, cfg, batch)
	obs.PipelineDuration.WithLabelValues(sourceID).Observe(time.Since(pipelineStart).Seconds())
	if err != nil {
		batch.Status = model.BatchFailed
		c.handleFailure(entry, err)
		obs.BatchesFailed.WithLabelValues(sourceID).Inc()
		return
	}
	if err := c.advance(entry, evProcessed); err != nil {
		return
	}

	storageStart := time.Now()
	err = c.storage.CommitBatch(batchCtx, cfg, batch, &stats)
	obs.StorageDuration.WithLabelValues(sourceID).Observe(time.Since(storageStart).Seconds())
	if err != nil {
		batch.Status = model.BatchFailed
		c.handleFailure(entry, err)
		obs.BatchesFailed.WithLabelValues(sourceID).Inc()
		return
	}

	batch.Status = model.BatchCompleted
	obs.BatchesSucceeded.WithLabelValues(sourceID).Inc()
	obs.RecordsProcessed.WithLabelValues(sourceID).Add(float64(stats.Succeeded))
	obs.RecordsDuplicated.WithLabelValues(sourceID).Add(float64(stats.Duplicated))
	obs.EndToEndLatency.WithLabelValues(sourceID).Observe(time.Since(fetchStart).Seconds())

	entry.cb.Record(true)
	if err := c.advance(entry, evStored); err != nil {
		return
	}
	entry.mu.Lock()
	entry.state.Watermark = newWatermark
	entry.state.LastFetchAt = time.Now()
	entry.state.ConsecutiveFailures = 0
	entry.mu.Unlock()
}

func (c *Coordinator) advance(entry *sourceEntry, ev event) error {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	next, prior, err := apply(entry.state.FSMState, entry.state.PriorState, ev)
	if err != nil {
		return err
	}
	entry.state.FSMState = next
	entry.state.PriorState = prior
	entry.stateEnteredAt = time.Now()
	return nil
}

// handleFailure classifies err, records it on the breaker (tripping
// immediately for permanent errors), and schedules a jittered backoff
// retry for every other class, per spec §4.4/§7.
func (c *Coordinator) handleFailure(entry *sourceEntry, err error) {
	class := ingesterr.ClassOf(err)
	obs.ErrorsByKind.WithLabelValues(entry.cfg.SourceID, string(class)).Inc()

	entry.mu.Lock()
	entry.state.ConsecutiveFailures++
	next, prior, ferr := apply(entry.state.FSMState, entry.state.PriorState, evFailed)
	if ferr == nil {
		entry.state.FSMState = next
		entry.state.PriorState = prior
		entry.stateEnteredAt = time.Now()
	}
	attempts := entry.state.ConsecutiveFailures
	retryCfg := entry.cfg.Retry
	entry.mu.Unlock()

	if class == ingesterr.ClassPermanent {
		entry.cb.Trip()
		c.log.Error("source tripped breaker on permanent error", zap.String("source_id", entry.cfg.SourceID), zap.Error(err))
		return
	}
	entry.cb.Record(false)
	c.log.Warn("source batch failed, entering backoff", zap.String("source_id", entry.cfg.SourceID), zap.Error(err), zap.Int("attempt", attempts))

	delay := backoffDelay(attempts, retryCfg)
	go func() {
		time.Sleep(delay)
		_ = c.advance(entry, evRecovered)
	}()
}

// backoffDelay computes exponential backoff capped at MaxDelay, with
// proportional jitter: the delay is drawn uniformly from
// [exp*(1-Jitter), exp), Jitter defaulting to 0.5, per spec §4.4.
func backoffDelay(attempt int, cfg model.RetryConfig) time.Duration {
	base := cfg.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	exp := base << uint(attempt-1)
	if exp <= 0 || exp > maxDelay {
		exp = maxDelay
	}
	jitter := cfg.Jitter
	if jitter <= 0 {
		jitter = 0.5
	}
	min := float64(exp) * (1 - jitter)
	spread := float64(exp) * jitter
	return time.Duration(min + rand.Float64()*spread)
}

// Snapshot returns the current runtime state of every registered source,
// satisfying obs.StateSnapshotter.
func (c *Coordinator) Snapshot() []model.SourceState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.SourceState, 0, len(c.sources))
	for _, entry := range c.sources {
		entry.mu.Lock()
		s := entry.state
		s.BreakerState = breakerStateOf(entry.cb.State())
		entry.mu.Unlock()
		out = append(out, s)
	}
	return out
}

func breakerStateOf(s breaker.State) model.BreakerState {
	switch s {
	case breaker.Open:
		return model.BreakerOpen
	case breaker.HalfOpen:
		return model.BreakerHalfOpen
	default:
		return model.BreakerClosed
	}
}
