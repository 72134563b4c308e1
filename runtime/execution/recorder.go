package execution

import (
	"context"
	"sync"

	"github.com/flowmesh/flowmesh/runtime/telemetry"
)

// DefaultRecorderBuffer is the default depth of the recorder's write queue.
const DefaultRecorderBuffer = 64

type (
	// Recorder decouples the engine's hot path from persistence latency:
	// node-execution rows are written by a background goroutine fed through
	// a bounded queue. A full queue applies backpressure by blocking the
	// producer rather than dropping audit rows. Terminal execution updates
	// bypass the queue and are written synchronously after a flush, so the
	// final status is never raced by a late node row.
	Recorder struct {
		store  Store
		logger telemetry.Logger

		queue chan recorderItem
		wg    sync.WaitGroup

		closeOnce sync.Once
	}

	// recorderItem carries either a node row to persist or a flush barrier.
	recorderItem struct {
		node  *NodeExecution
		flush chan struct{}
	}
)

// NewRecorder constructs a Recorder over the store and starts its writer
// goroutine. A non-positive buffer uses DefaultRecorderBuffer.
func NewRecorder(store Store, logger telemetry.Logger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	r := &Recorder{
		store:  store,
		logger: logger,
		queue:  make(chan recorderItem, buffer),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer r.wg.Done()
	ctx := context.Background()
	for item := range r.queue {
		if item.flush != nil {
			close(item.flush)
			continue
		}
		if err := r.store.SaveNodeExecution(ctx, item.node); err != nil {
			r.logger.Error(ctx, err, "persist node execution",
				"executionId", item.node.ExecutionID, "nodeId", item.node.NodeID)
		}
	}
}

// CreateExecution synchronously inserts the RUNNING execution record. The
// record must exist before any node row referencing it is queued.
func (r *Recorder) CreateExecution(ctx context.Context, ex *Execution) error {
	return r.store.CreateExecution(ctx, ex)
}

// RecordNode queues a node-execution row for asynchronous persistence. It
// blocks when the queue is full.
func (r *Recorder) RecordNode(ne *NodeExecution) {
	r.queue <- recorderItem{node: ne}
}

// FinishExecution waits for all queued node rows to reach the store and then
// synchronously writes the execution's terminal state. It must be the last
// write of an execution.
func (r *Recorder) FinishExecution(ctx context.Context, ex *Execution) error {
	flushed := make(chan struct{})
	r.queue <- recorderItem{flush: flushed}
	<-flushed
	return r.store.FinishExecution(ctx, ex)
}

// Close stops the writer after draining the queue. Callers stop producing
// before closing.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		close(r.queue)
		r.wg.Wait()
	})
}
