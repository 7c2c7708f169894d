package worker

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recordingRunner struct {
	mu   sync.Mutex
	jobs []Job
	done chan struct{}
	want int
}

func newRecordingRunner(want int) *recordingRunner {
	return &recordingRunner{done: make(chan struct{}), want: want}
}

func (r *recordingRunner) Run(ctx context.Context, job Job) error {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	if len(r.jobs) == r.want {
		close(r.done)
	}
	r.mu.Unlock()
	return nil
}

func (r *recordingRunner) wait(t *testing.T) []Job {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for jobs")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Job(nil), r.jobs...)
}

func TestDispatcherRunsEveryJob(t *testing.T) {
	runner := newRecordingRunner(3)
	d := NewDispatcher(DispatcherConfig{MinWorkers: 2, MaxWorkers: 4, QueueSize: 16}, runner)

	for _, id := range []string{"f1", "f2", "f3"} {
		if err := d.Enqueue(Job{OwnerID: "alice", FileID: id}); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}

	got := runner.wait(t)
	seen := make(map[string]bool, len(got))
	for _, job := range got {
		seen[job.FileID] = true
	}
	for _, id := range []string{"f1", "f2", "f3"} {
		if !seen[id] {
			t.Fatalf("job %s never ran, got %+v", id, got)
		}
	}
}

func TestDispatcherInterleavesOwners(t *testing.T) {
	// a single worker forces strictly sequential dispatch, exposing the
	// owner rotation order
	runner := newRecordingRunner(4)
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 16}, runner)

	// saturate the lone worker so the remaining jobs queue up and rotate
	d.enqueueJob(Job{OwnerID: "alice", FileID: "a1"})
	d.enqueueJob(Job{OwnerID: "alice", FileID: "a2"})
	d.enqueueJob(Job{OwnerID: "bob", FileID: "b1"})
	d.enqueueJob(Job{OwnerID: "bob", FileID: "b2"})
	for d.dispatchOne() {
	}

	got := runner.wait(t)
	var owners []string
	for _, job := range got {
		owners = append(owners, job.OwnerID)
	}
	want := []string{"alice", "bob", "alice", "bob"}
	for i := range want {
		if owners[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", owners, want)
		}
	}
}

func TestDispatcherRejectsWhenSaturated(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, MaxWorkers: 1, QueueSize: 1},
		RunnerFunc(func(ctx context.Context, job Job) error {
			started <- struct{}{}
			<-block
			return nil
		}))
	defer close(block)

	if err := d.Enqueue(Job{OwnerID: "alice", FileID: "running"}); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	<-started

	// fill the channel buffer, then overflow it
	saturated := false
	for i := 0; i < 64; i++ {
		if err := d.Enqueue(Job{OwnerID: "alice", FileID: "queued"}); err == ErrDispatcherBusy {
			saturated = true
			break
		}
	}
	if !saturated {
		t.Fatalf("dispatcher never reported saturation")
	}
}

func TestQueueWithoutRedisDispatchesDirectly(t *testing.T) {
	runner := newRecordingRunner(1)
	d := NewDispatcher(DispatcherConfig{MinWorkers: 1, QueueSize: 4}, runner)
	q := NewQueue(nil, d)
	q.Start(context.Background()) // no-op without redis

	q.Enqueue("alice", "f1")
	got := runner.wait(t)
	if got[0].OwnerID != "alice" || got[0].FileID != "f1" {
		t.Fatalf("unexpected job: %+v", got[0])
	}
}
