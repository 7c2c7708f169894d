package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// Job identifies one enrichment unit of work.
type Job struct {
	OwnerID string `json:"owner_id"`
	FileID  string `json:"file_id"`

	stop bool
}

// Runner executes one enrichment job.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, job Job) error

func (f RunnerFunc) Run(ctx context.Context, job Job) error {
	return f(ctx, job)
}

// ErrDispatcherBusy is returned when the in-memory job queue is saturated.
var ErrDispatcherBusy = errors.New("enrichment queue is full")

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type ownerQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher fans enrichment jobs out to the worker pool with per-owner
// fairness: each owner holds a FIFO queue, and owners take turns through an
// LRU ready list, so one owner's bulk upload cannot starve everyone else.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job

	mu        sync.Mutex
	queues    map[string]*ownerQueue
	ready     *list.List // owner IDs awaiting dispatch
	positions map[string]*list.Element
}

func NewDispatcher(cfg DispatcherConfig, runner Runner) *Dispatcher {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	pool := newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, runner)

	d := &Dispatcher{
		pool:      pool,
		JobQueue:  make(chan Job, cfg.QueueSize),
		queues:    make(map[string]*ownerQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Enqueue hands a job to the dispatcher without blocking.
func (d *Dispatcher) Enqueue(job Job) error {
	select {
	case d.JobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the owner at the front of the LRU queue
		if !d.dispatchOne() {
			job := <-d.JobQueue // nothing pending, block for work
			d.enqueueJob(job)
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.OwnerID]
	if q == nil {
		q = &ownerQueue{}
		d.queues[job.OwnerID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	elem := d.ready.PushBack(job.OwnerID)
	d.positions[job.OwnerID] = elem
}

// dispatchOne takes the first ready owner's next job and hands it to a
// worker, rotating the owner to the back of the line.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	ownerID := elem.Value.(string)
	q := d.queues[ownerID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, ownerID)
		delete(d.queues, ownerID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	debugLog("[dispatcher] assign file %s for owner %s", job.FileID, job.OwnerID)
	workerChan <- job
	return true
}
