package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"catalog-sync-service/internal/logger"
)

// Notification is one catalog change notification pushed by the remote.
// ObjectIDs may be empty when the remote only reports that something changed.
type Notification struct {
	EventID    string
	ObjectIDs  []string
	ReceivedAt time.Time
}

// LocalOperations answers whether this client itself just wrote an object.
type LocalOperations interface {
	WasRecentlyModifiedLocally(id string) bool
}

// NotificationWorker batches change notifications for a short window, drops
// the ones echoing this client's own writes and triggers one incremental
// sync per batch that still carries a foreign change.
type NotificationWorker struct {
	trigger Triggerer
	local   LocalOperations
	window  time.Duration

	events  chan Notification
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	batch   []Notification
	pending bool

	mu         sync.Mutex
	received   int
	suppressed int
	triggered  int
}

type WorkerStats struct {
	Received   int `json:"received"`
	Suppressed int `json:"suppressed"`
	Triggered  int `json:"triggered"`
}

func NewNotificationWorker(window time.Duration, trigger Triggerer, local LocalOperations) *NotificationWorker {
	if window <= 0 {
		window = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &NotificationWorker{
		trigger: trigger,
		local:   local,
		window:  window,
		events:  make(chan Notification, 256),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (w *NotificationWorker) Start() {
	logger.Log.Info("Starting notification worker", zap.Duration("window", w.window))
	w.wg.Add(1)
	go w.run()
}

func (w *NotificationWorker) Stop() {
	w.cancel()
	w.wg.Wait()
	logger.Log.Info("Stopped notification worker")
}

// Submit queues n without blocking. It reports false when the queue is full
// or the worker has stopped.
func (w *NotificationWorker) Submit(n Notification) bool {
	if n.ReceivedAt.IsZero() {
		n.ReceivedAt = time.Now()
	}
	select {
	case <-w.ctx.Done():
		return false
	default:
	}
	select {
	case w.events <- n:
		return true
	default:
		logger.Log.Warn("Notification queue full, dropping", zap.String("event_id", n.EventID))
		return false
	}
}

func (w *NotificationWorker) Stats() WorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WorkerStats{Received: w.received, Suppressed: w.suppressed, Triggered: w.triggered}
}

func (w *NotificationWorker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.window)
	defer ticker.Stop()

	for {
		select {
		case n := <-w.events:
			w.batch = append(w.batch, n)

		case <-ticker.C:
			w.processBatch()

		case <-w.ctx.Done():
			w.drain()
			w.processBatch()
			return
		}
	}
}

func (w *NotificationWorker) drain() {
	for {
		select {
		case n := <-w.events:
			w.batch = append(w.batch, n)
		default:
			return
		}
	}
}

func (w *NotificationWorker) processBatch() {
	if len(w.batch) == 0 && !w.pending {
		return
	}

	foreign := w.pending
	suppressed := 0
	for _, n := range w.batch {
		if len(n.ObjectIDs) == 0 {
			foreign = true
			continue
		}
		for _, id := range n.ObjectIDs {
			if w.local != nil && w.local.WasRecentlyModifiedLocally(id) {
				suppressed++
				continue
			}
			foreign = true
		}
	}

	logger.Log.Debug("Processing notification batch",
		zap.Int("size", len(w.batch)),
		zap.Int("suppressed_ids", suppressed),
		zap.Bool("foreign", foreign))

	w.mu.Lock()
	w.received += len(w.batch)
	w.suppressed += suppressed
	w.mu.Unlock()

	w.batch = w.batch[:0]

	if !foreign {
		logger.Log.Debug("Notification batch only echoes local writes, skipping sync")
		w.pending = false
		return
	}

	if w.trigger.Trigger(SyncIncremental) {
		w.mu.Lock()
		w.triggered++
		w.mu.Unlock()
		w.pending = false
		return
	}

	// A running session may have started before the change landed; retry next tick.
	logger.Log.Info("Sync in progress, deferring notification-triggered sync")
	w.pending = true
}
