// Package async runs submitted callables on a fixed worker pool fed by
// a bounded priority queue. Every submission is tracked in an operation
// registry and observable through a Future and the event bus; finished
// operations are retained for a configurable window so callers can poll
// results after the fact.
package async

import (
	"container/heap"
	"context"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/agentdata"
	"github.com/dirigent-ai/dirigent/internal/config"
	"github.com/dirigent-ai/dirigent/internal/metrics"
)

// Callable is the unit of work the service executes. The context is the
// service's task context; it is canceled only when a shutdown deadline
// expires, so well-behaved callables finish normally during shutdown.
type Callable func(ctx context.Context) agentdata.FunctionResult

const (
	defaultQueueCapacity = 1000
	defaultRetention     = time.Hour
	defaultReapInterval  = 5 * time.Minute

	// batchPriority schedules composite batch operations above the
	// default priority 0 but below interactive work.
	batchPriority = 5
)

// Service owns the worker pool, the priority queue and the operation
// registry. Locks are never nested: the queue mutex guards push/pop and
// the running flag, the operations mutex guards registry entries, and
// the bus has its own.
type Service struct {
	logger *zap.Logger
	bus    *EventBus

	workers   int
	capacity  int
	retention time.Duration
	reapEvery time.Duration

	queueMu    sync.Mutex
	cond       *sync.Cond
	queue      taskHeap
	seq        uint64
	running    bool
	stopCh     chan struct{}
	taskCancel context.CancelFunc

	opsMu sync.Mutex
	ops   map[string]*operation

	wg sync.WaitGroup

	submitted  atomic.Int64
	rejected   atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	cancelled  atomic.Int64
	executed   atomic.Int64
	runningNow atomic.Int64
}

// NewService builds a stopped service. Zero config fields fall back to
// host defaults; call Start before submitting.
func NewService(cfg config.AsyncConfig, bus *EventBus, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = NewEventBus(0, logger)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}
	reapEvery := cfg.ReapInterval
	if reapEvery <= 0 {
		reapEvery = defaultReapInterval
	}

	s := &Service{
		logger:    logger,
		bus:       bus,
		workers:   workers,
		capacity:  capacity,
		retention: retention,
		reapEvery: reapEvery,
		ops:       make(map[string]*operation),
	}
	s.cond = sync.NewCond(&s.queueMu)
	return s
}

// Bus returns the event bus the service publishes on.
func (s *Service) Bus() *EventBus { return s.bus }

// Workers returns the configured pool size.
func (s *Service) Workers() int { return s.workers }

// Capacity returns the queue bound.
func (s *Service) Capacity() int { return s.capacity }

// Running reports whether the pool is accepting work.
func (s *Service) Running() bool {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.running
}

// Start spawns the workers and the retention reaper. Calling Start on a
// running service is a no-op.
func (s *Service) Start() {
	s.queueMu.Lock()
	if s.running {
		s.queueMu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.taskCancel = cancel
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.running = true
	s.queueMu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	s.wg.Add(1)
	go s.reaper(stop)

	s.logger.Info("Async service started",
		zap.Int("workers", s.workers),
		zap.Int("queue_capacity", s.capacity),
	)
	s.bus.Broadcast(Event{
		Type:    EventSystemStatusChanged,
		Payload: agentdata.New().SetString("status", "running"),
	})
}

// Submit queues fn as a new operation and returns its future. A full
// queue or a stopped service resolves the future immediately with a
// failure; Submit never blocks on queue space.
func (s *Service) Submit(opType string, fn Callable, priority int) *Future {
	id := newOperationID()
	f := newFuture(id)
	if fn == nil {
		f.complete(agentdata.Failf("callable must not be nil"))
		return f
	}

	op := &operation{
		id:        id,
		opType:    opType,
		priority:  priority,
		status:    StatusPending,
		submitted: time.Now(),
		future:    f,
	}
	s.opsMu.Lock()
	s.ops[id] = op
	s.opsMu.Unlock()

	s.queueMu.Lock()
	switch {
	case !s.running:
		s.queueMu.Unlock()
		s.dropOperation(id)
		f.complete(agentdata.Failf("Service is not running"))
		return f
	case len(s.queue) >= s.capacity:
		s.queueMu.Unlock()
		s.dropOperation(id)
		s.rejected.Add(1)
		metrics.RecordTaskMetrics("REJECTED", -1)
		f.complete(agentdata.Failf("Queue is full"))
		return f
	}
	s.seq++
	heap.Push(&s.queue, &task{op: op, fn: fn, future: f, priority: priority, seq: s.seq})
	metrics.TaskQueueDepth.Set(float64(len(s.queue)))
	s.cond.Signal()
	s.queueMu.Unlock()

	s.submitted.Add(1)
	metrics.TasksSubmitted.Inc()
	return f
}

// SubmitBatch wraps the callables into one composite operation that
// runs them in sequence on a single worker. The composite result holds
// one record per item: {index, success, result|error}.
func (s *Service) SubmitBatch(opType string, fns []Callable) *Future {
	items := make([]Callable, len(fns))
	copy(items, fns)

	composite := func(ctx context.Context) agentdata.FunctionResult {
		records := make([]agentdata.Value, 0, len(items))
		for i, fn := range items {
			rec := agentdata.New().SetInt("index", int64(i))
			res := runItem(fn, ctx)
			rec.SetBool("success", res.Success)
			if res.Success {
				rec.Set("result", agentdata.Map(res.Result))
			} else {
				rec.SetString("error", res.ErrorMessage)
			}
			records = append(records, agentdata.Map(rec))
		}
		out := agentdata.New().SetInt("count", int64(len(items)))
		out.Set("results", agentdata.List(records...))
		return agentdata.OK(out)
	}
	return s.Submit(opType, composite, batchPriority)
}

// runItem isolates one batch item so a panicking item fails its own
// record instead of aborting the rest of the batch.
func runItem(fn Callable, ctx context.Context) (res agentdata.FunctionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			res = agentdata.Failf("batch item panicked: %v", rec)
		}
	}()
	if fn == nil {
		return agentdata.Failf("callable must not be nil")
	}
	return fn(ctx)
}

// Cancel transitions a PENDING operation to CANCELLED and resolves its
// future. Running and terminal operations are left alone; running work
// is never interrupted mid-flight.
func (s *Service) Cancel(opID string) bool {
	s.opsMu.Lock()
	op, ok := s.ops[opID]
	if !ok || op.status != StatusPending {
		s.opsMu.Unlock()
		return false
	}
	op.status = StatusCancelled
	op.ended = time.Now()
	fut := op.future
	s.opsMu.Unlock()

	fut.complete(agentdata.Failf("Operation cancelled"))
	s.cancelled.Add(1)
	metrics.RecordTaskMetrics(string(StatusCancelled), -1)
	s.bus.Broadcast(Event{
		Type:        EventOperationCancelled,
		OperationID: opID,
		Payload:     agentdata.New().SetString("operation_type", op.opType),
	})
	s.logger.Info("Operation cancelled",
		zap.String("operation_id", opID),
		zap.String("operation_type", op.opType),
	)
	return true
}

func (s *Service) dropOperation(id string) {
	s.opsMu.Lock()
	delete(s.ops, id)
	s.opsMu.Unlock()
}

// worker pops tasks until the service stops. The queue lock is released
// before any user code runs.
func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		s.queueMu.Lock()
		for len(s.queue) == 0 && s.running {
			s.cond.Wait()
		}
		if !s.running {
			s.queueMu.Unlock()
			return
		}
		t := heap.Pop(&s.queue).(*task)
		metrics.TaskQueueDepth.Set(float64(len(s.queue)))
		s.queueMu.Unlock()

		s.execute(t, ctx)
	}
}

func (s *Service) execute(t *task, ctx context.Context) {
	op := t.op
	started := time.Now()

	s.opsMu.Lock()
	if op.status == StatusCancelled {
		// Cancelled while queued; Cancel already resolved the future.
		s.opsMu.Unlock()
		return
	}
	op.status = StatusRunning
	op.started = started
	waitMs := float64(started.Sub(op.submitted).Microseconds()) / 1000.0
	s.opsMu.Unlock()

	s.runningNow.Add(1)
	metrics.TasksRunning.Inc()
	s.bus.Broadcast(Event{
		Type:        EventOperationStarted,
		OperationID: op.id,
		Payload: agentdata.New().
			SetString("operation_type", op.opType).
			SetInt("priority", int64(op.priority)),
	})

	res := s.invoke(t, ctx)

	ended := time.Now()
	status := StatusCompleted
	if !res.Success {
		status = StatusFailed
	}

	s.opsMu.Lock()
	op.status = status
	op.ended = ended
	op.result = res.Result
	op.errMsg = res.ErrorMessage
	s.opsMu.Unlock()

	s.runningNow.Add(-1)
	metrics.TasksRunning.Dec()
	s.executed.Add(1)

	t.future.complete(res)

	payload := agentdata.New().
		SetString("operation_type", op.opType).
		SetFloat("duration_ms", float64(ended.Sub(started).Microseconds())/1000.0)
	evType := EventOperationCompleted
	if res.Success {
		s.completed.Add(1)
	} else {
		payload.SetString("error", res.ErrorMessage)
		evType = EventOperationFailed
		s.failed.Add(1)
	}
	s.bus.Broadcast(Event{Type: evType, OperationID: op.id, Payload: payload})
	metrics.RecordTaskMetrics(string(status), waitMs)
}

func (s *Service) invoke(t *task, ctx context.Context) (res agentdata.FunctionResult) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Operation panicked",
				zap.String("operation_id", t.op.id),
				zap.String("operation_type", t.op.opType),
				zap.Any("panic", rec),
			)
			res = agentdata.Failf("operation panicked: %v", rec)
		}
	}()
	return t.fn(ctx)
}

// reaper drops terminal operations older than the retention window.
func (s *Service) reaper(stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.reapEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.reapExpired(time.Now())
		}
	}
}

func (s *Service) reapExpired(now time.Time) int {
	cutoff := now.Add(-s.retention)
	s.opsMu.Lock()
	removed := 0
	for id, op := range s.ops {
		if op.status.Terminal() && !op.ended.IsZero() && op.ended.Before(cutoff) {
			delete(s.ops, id)
			removed++
		}
	}
	remaining := len(s.ops)
	s.opsMu.Unlock()

	if removed > 0 {
		s.logger.Debug("Reaped expired operations",
			zap.Int("removed", removed),
			zap.Int("remaining", remaining),
		)
	}
	return removed
}

// QueueSize returns the number of tasks waiting for a worker.
func (s *Service) QueueSize() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return len(s.queue)
}

// QueueStatistics snapshots queue occupancy and outcome counters.
func (s *Service) QueueStatistics() *agentdata.Data {
	return agentdata.New().
		SetInt("queue_size", int64(s.QueueSize())).
		SetInt("queue_capacity", int64(s.capacity)).
		SetInt("workers", int64(s.workers)).
		SetInt("submitted", s.submitted.Load()).
		SetInt("rejected", s.rejected.Load()).
		SetInt("completed", s.completed.Load()).
		SetInt("failed", s.failed.Load()).
		SetInt("cancelled", s.cancelled.Load())
}

// WorkerStatistics snapshots pool utilization.
func (s *Service) WorkerStatistics() *agentdata.Data {
	busy := s.runningNow.Load()
	return agentdata.New().
		SetInt("workers", int64(s.workers)).
		SetInt("busy", busy).
		SetInt("idle", int64(s.workers)-busy).
		SetInt("executed", s.executed.Load())
}

// OperationStatus returns a snapshot of one registry entry.
func (s *Service) OperationStatus(id string) (*agentdata.Data, bool) {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()
	op, ok := s.ops[id]
	if !ok {
		return nil, false
	}
	return op.snapshot(), true
}

// AllOperations snapshots every registry entry, oldest submit first.
func (s *Service) AllOperations() []*agentdata.Data {
	return s.operationsWhere(func(*operation) bool { return true })
}

// OperationsByType snapshots the registry entries of one operation type.
func (s *Service) OperationsByType(opType string) []*agentdata.Data {
	return s.operationsWhere(func(o *operation) bool { return o.opType == opType })
}

func (s *Service) operationsWhere(keep func(*operation) bool) []*agentdata.Data {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	matched := make([]*operation, 0, len(s.ops))
	for _, op := range s.ops {
		if keep(op) {
			matched = append(matched, op)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].submitted.Equal(matched[j].submitted) {
			return matched[i].submitted.Before(matched[j].submitted)
		}
		return matched[i].id < matched[j].id
	})
	out := make([]*agentdata.Data, 0, len(matched))
	for _, op := range matched {
		out = append(out, op.snapshot())
	}
	return out
}

// Shutdown stops intake, wakes and joins the workers and the reaper,
// resolves still-pending futures, and clears the operation registry.
// In-flight tasks complete normally unless ctx expires first, in which
// case the task context is canceled and the join is abandoned.
// Shutdown is idempotent.
func (s *Service) Shutdown(ctx context.Context) error {
	s.queueMu.Lock()
	if !s.running {
		s.queueMu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	cancelTasks := s.taskCancel
	pending := make([]*task, len(s.queue))
	copy(pending, s.queue)
	s.queue = nil
	metrics.TaskQueueDepth.Set(0)
	s.cond.Broadcast()
	s.queueMu.Unlock()

	for _, t := range pending {
		t.future.complete(agentdata.Failf("Service shut down before execution"))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		cancelTasks()
	case <-ctx.Done():
		cancelTasks()
		err = ctx.Err()
		s.logger.Warn("Shutdown deadline hit before workers drained", zap.Error(err))
	}

	s.opsMu.Lock()
	s.ops = make(map[string]*operation)
	s.opsMu.Unlock()

	s.logger.Info("Async service stopped",
		zap.Int("unexecuted_tasks", len(pending)),
	)
	s.bus.Broadcast(Event{
		Type:    EventSystemStatusChanged,
		Payload: agentdata.New().SetString("status", "stopped"),
	})
	return err
}
