package worker

import (
	"sync"
	"time"
)

const defaultIdleTimeout = 2 * time.Minute

type idleEntry struct {
	ch       chan Job
	idleFrom time.Time
}

// jobChannelPool hands out worker job channels. It keeps at least minWorkers
// alive, grows on demand up to maxWorkers, and retires workers that have sat
// idle past idleTimeout.
type jobChannelPool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	idle   []idleEntry
	total  int
	min    int
	max    int
	ttl    time.Duration
	runner Runner
}

func newJobChannelPool(min, max int, ttl time.Duration, runner Runner) *jobChannelPool {
	if ttl <= 0 {
		ttl = defaultIdleTimeout
	}
	if min <= 0 {
		min = 1
	}
	if max < min {
		max = min
	}
	p := &jobChannelPool{min: min, max: max, ttl: ttl, runner: runner}
	p.cond = sync.NewCond(&p.mu)
	go p.reapLoop()
	return p
}

func (p *jobChannelPool) spawnWorker() {
	p.mu.Lock()
	p.total++
	p.mu.Unlock()
	w := &Worker{pool: p, runner: p.runner, jobChannel: make(chan Job)}
	w.Start()
}

// acquire returns an idle worker's channel, spawning a new worker when the
// pool has headroom, and blocking when it is at capacity with nothing idle.
func (p *jobChannelPool) acquire() chan Job {
	p.mu.Lock()
	for {
		if n := len(p.idle); n > 0 {
			entry := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.mu.Unlock()
			return entry.ch
		}
		if p.total < p.max {
			p.total++
			p.mu.Unlock()
			w := &Worker{pool: p, runner: p.runner, jobChannel: make(chan Job)}
			w.Start()
			p.mu.Lock()
			// the fresh worker parks itself idle; recheck the list instead of
			// waiting, its Release may have fired before we reacquired the lock
			continue
		}
		p.cond.Wait()
	}
}

// Release marks a worker's channel idle again.
func (p *jobChannelPool) Release(ch chan Job) {
	p.mu.Lock()
	p.idle = append(p.idle, idleEntry{ch: ch, idleFrom: time.Now()})
	p.mu.Unlock()
	p.cond.Signal()
}

// retire is called by a worker that received a stop job. The broadcast lets a
// blocked acquire spawn into the freed slot.
func (p *jobChannelPool) retire(ch chan Job) {
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
	p.cond.Broadcast()
	close(ch)
	debugLog("[pool] worker retired, %d remain", p.size())
}

func (p *jobChannelPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

func (p *jobChannelPool) reapLoop() {
	ticker := time.NewTicker(p.ttl / 2)
	defer ticker.Stop()
	for range ticker.C {
		p.reapExpired()
	}
}

// reapExpired stops workers idle longer than ttl, keeping the floor of min.
func (p *jobChannelPool) reapExpired() {
	cutoff := time.Now().Add(-p.ttl)

	p.mu.Lock()
	var expired []chan Job
	kept := p.idle[:0]
	for _, entry := range p.idle {
		if p.total-len(expired) > p.min && entry.idleFrom.Before(cutoff) {
			expired = append(expired, entry.ch)
		} else {
			kept = append(kept, entry)
		}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, ch := range expired {
		ch <- Job{stop: true}
	}
}
