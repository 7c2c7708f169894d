package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireReturnsFreshlySpawnedWorker(t *testing.T) {
	// acquire on an empty pool must spawn and hand out a worker even when the
	// worker parks itself idle before acquire rechecks the list
	var ran atomic.Int64
	runner := RunnerFunc(func(ctx context.Context, job Job) error {
		ran.Add(1)
		return nil
	})

	for i := 0; i < 200; i++ {
		p := newJobChannelPool(1, 1, time.Minute, runner)
		got := make(chan chan Job, 1)
		go func() {
			got <- p.acquire()
		}()
		select {
		case ch := <-got:
			ch <- Job{OwnerID: "alice", FileID: "f"}
		case <-time.After(5 * time.Second):
			t.Fatalf("acquire stalled on iteration %d with a spawned worker available", i)
		}
	}
}

func TestAcquireCyclesThroughSingleWorker(t *testing.T) {
	const jobs = 100
	var wg sync.WaitGroup
	wg.Add(jobs)
	runner := RunnerFunc(func(ctx context.Context, job Job) error {
		wg.Done()
		return nil
	})

	p := newJobChannelPool(1, 1, time.Minute, runner)
	done := make(chan struct{})
	go func() {
		for i := 0; i < jobs; i++ {
			ch := p.acquire()
			ch <- Job{OwnerID: "alice", FileID: "f"}
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatalf("pool stalled before running all %d jobs", jobs)
	}
}

func TestAcquireWakesWhenBusyWorkerReleases(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	runner := RunnerFunc(func(ctx context.Context, job Job) error {
		close(started)
		<-block
		return nil
	})

	p := newJobChannelPool(1, 1, time.Minute, runner)
	ch := p.acquire()
	ch <- Job{OwnerID: "alice", FileID: "busy"}
	<-started

	// pool is at capacity with nothing idle; this acquire must block until
	// the busy worker releases
	got := make(chan chan Job, 1)
	go func() {
		got <- p.acquire()
	}()
	select {
	case <-got:
		t.Fatalf("acquire returned while the only worker was busy")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	select {
	case <-got:
	case <-time.After(5 * time.Second):
		t.Fatalf("acquire never woke after the worker released")
	}
}

func TestPoolClampsMaxBelowMin(t *testing.T) {
	p := newJobChannelPool(4, 0, time.Minute, RunnerFunc(func(ctx context.Context, job Job) error {
		return nil
	}))
	if p.max != 4 || p.min != 4 {
		t.Fatalf("min/max = %d/%d, want 4/4", p.min, p.max)
	}
}
