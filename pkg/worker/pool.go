// Package worker provides an asynchronous worker pool that ships memory
// change events to the configured eventstream publisher.
//
// The pool decouples event delivery from the API's HTTP hot path: a mutation
// response never waits on the streaming backend, and a slow or unavailable
// broker degrades to dropped events rather than blocked requests.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/beaconhq/beacon/pkg/eventstream"
	"github.com/beaconhq/beacon/pkg/logger"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	Event *eventstream.MemoryChangedEvent
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Publisher receives the events. Required.
	Publisher eventstream.Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// Logger defaults to a nop logger.
	Logger *slog.Logger
}

// Pool publishes events asynchronously via a fixed set of workers.
type Pool struct {
	publisher eventstream.Publisher
	queue     chan Job
	wg        sync.WaitGroup
	log       *slog.Logger
}

// NewPool creates a Pool and starts its worker goroutines.
func NewPool(c Config) (*Pool, error) {
	if c.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	log := c.Logger
	if log == nil {
		log = logger.Nop()
	}

	p := &Pool{
		publisher: c.Publisher,
		queue:     make(chan Job, c.QueueSize),
		log:       log,
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}

	return p, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full, resulting in the job
// being dropped.
func (p *Pool) Enqueue(job Job) bool {
	if job.Event == nil {
		p.log.Warn("dropping job with nil event")
		return false
	}

	select {
	case p.queue <- job:
		p.log.Debug("event queued",
			"event_id", job.Event.EventID,
			"change", job.Event.Change,
		)
		return true
	default:
		p.log.Error("event not queued, queue full, event dropped",
			"event_id", job.Event.EventID,
			"change", job.Event.Change,
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call this during graceful shutdown after the HTTP server has stopped.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls jobs off the queue.
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.log.Debug("worker started", "worker_id", id)

	for job := range p.queue {
		p.processJob(job)
	}

	p.log.Debug("worker stopped", "worker_id", id)
}

func (p *Pool) processJob(job Job) {
	ctx := context.Background()

	if err := p.publisher.PublishMemoryChanged(ctx, job.Event); err != nil {
		p.log.Error("async event publish failed",
			"event_id", job.Event.EventID,
			"error", err,
		)
		return
	}

	p.log.Debug("event published",
		"event_id", job.Event.EventID,
		"owner_id", job.Event.OwnerID,
		"change", job.Event.Change,
	)
}
