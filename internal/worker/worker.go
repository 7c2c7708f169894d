package worker

import (
	"context"
	"log"
)

// Worker owns one job channel and drains it until told to stop.
type Worker struct {
	pool       *jobChannelPool
	runner     Runner
	jobChannel chan Job
}

func (w *Worker) Start() {
	go func() {
		w.pool.Release(w.jobChannel)
		for job := range w.jobChannel {
			if job.stop {
				w.pool.retire(w.jobChannel)
				return
			}
			w.run(job)
			w.pool.Release(w.jobChannel)
		}
	}()
}

func (w *Worker) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker panic on file %s: %v", job.FileID, r)
		}
	}()
	if err := w.runner.Run(context.Background(), job); err != nil {
		log.Printf("enrichment of file %s failed: %v", job.FileID, err)
	}
}
