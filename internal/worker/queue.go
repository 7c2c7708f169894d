package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"filevault/internal/redis"
)

const (
	queueKey    = "enrich:queue"
	popTimeout  = 5 * time.Second
	retryBlocks = time.Second
)

// Queue is the durable enrichment work queue, backed by a redis list so jobs
// survive process restarts. Producers push after the file row is committed;
// anything lost before the push is picked up by the periodic sweep.
//
// Without a redis client the queue degrades to handing jobs straight to the
// in-memory dispatcher.
type Queue struct {
	client     *redis.Client
	dispatcher *Dispatcher
}

func NewQueue(client *redis.Client, d *Dispatcher) *Queue {
	return &Queue{client: client, dispatcher: d}
}

// Enqueue schedules enrichment for one file. It never returns an error to the
// upload path; a full or unreachable queue is logged and the job falls back
// to direct dispatch.
func (q *Queue) Enqueue(ownerID, fileID string) {
	job := Job{OwnerID: ownerID, FileID: fileID}
	if q.client != nil {
		payload, err := json.Marshal(job)
		if err == nil {
			if err = q.client.LPush(context.Background(), queueKey, string(payload)); err == nil {
				return
			}
		}
		log.Printf("redis enqueue for file %s failed, dispatching directly: %v", fileID, err)
	}
	if err := q.dispatcher.Enqueue(job); err != nil {
		log.Printf("dispatch file %s: %v", fileID, err)
	}
}

// Start launches the feeder that moves jobs from redis into the dispatcher.
// No-op without a redis client.
func (q *Queue) Start(ctx context.Context) {
	if q.client == nil {
		return
	}
	go q.feed(ctx)
}

func (q *Queue) feed(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := q.client.BRPop(ctx, popTimeout, queueKey)
		if err != nil {
			if errors.Is(err, redis.ErrCacheMiss) || errors.Is(err, context.Canceled) {
				continue
			}
			log.Printf("queue pop: %v", err)
			time.Sleep(retryBlocks)
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			log.Printf("discarding malformed queue entry: %v", err)
			continue
		}
		for q.dispatcher.Enqueue(job) != nil {
			// dispatcher saturated, apply backpressure to the queue
			time.Sleep(retryBlocks)
		}
	}
}
