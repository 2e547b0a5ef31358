package download

import (
	"context"
	"fmt"
	"sync"
)

// Job represents a queued download
type Job struct {
	ID      string
	Request Request
	ctx     context.Context
	cancel  context.CancelFunc
}

// Result represents the result of a job execution
type Result struct {
	JobID     string
	TrackID   string
	LocalPath string
	Error     error
}

// Success reports whether the job produced a file
func (r *Result) Success() bool {
	return r.Error == nil
}

// JobHandler is a function that processes a job
type JobHandler func(ctx context.Context, job *Job) (string, error)

// WorkerPool runs queued jobs on a fixed number of goroutines. Jobs are
// tracked from Submit until their result is produced, so queued jobs can be
// cancelled before a worker picks them up.
type WorkerPool struct {
	maxWorkers  int
	jobs        chan *Job
	results     chan *Result
	trackedJobs sync.Map // map[string]*Job
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	handler     JobHandler
	mu          sync.RWMutex
	started     bool
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(maxWorkers int, handler JobHandler) *WorkerPool {
	if maxWorkers <= 0 {
		maxWorkers = 2
	}

	return &WorkerPool{
		maxWorkers: maxWorkers,
		jobs:       make(chan *Job, 256),
		results:    make(chan *Result, maxWorkers*10),
		handler:    handler,
	}
}

// Start spawns worker goroutines and begins processing jobs
func (wp *WorkerPool) Start(ctx context.Context) error {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return fmt.Errorf("worker pool already started")
	}

	if wp.handler == nil {
		return fmt.Errorf("job handler not set")
	}

	wp.ctx, wp.cancel = context.WithCancel(ctx)

	for i := 0; i < wp.maxWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}

	wp.started = true
	return nil
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return

		case job, ok := <-wp.jobs:
			if !ok {
				return
			}
			wp.processJob(job)
		}
	}
}

func (wp *WorkerPool) processJob(job *Job) {
	result := &Result{
		JobID:   job.ID,
		TrackID: job.Request.TrackID,
	}

	// Cancelled while queued
	if err := job.ctx.Err(); err != nil {
		result.Error = err
	} else {
		result.LocalPath, result.Error = wp.handler(job.ctx, job)
	}
	job.cancel()
	wp.trackedJobs.Delete(job.ID)

	select {
	case wp.results <- result:
	case <-wp.ctx.Done():
	}
}

// Submit submits a job to the worker pool
func (wp *WorkerPool) Submit(job *Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if !wp.started {
		return fmt.Errorf("worker pool not started")
	}

	job.ctx, job.cancel = context.WithCancel(wp.ctx)
	wp.trackedJobs.Store(job.ID, job)

	select {
	case wp.jobs <- job:
		return nil
	case <-wp.ctx.Done():
		wp.trackedJobs.Delete(job.ID)
		job.cancel()
		return fmt.Errorf("worker pool is shutting down")
	}
}

// Stop cancels every job and waits for the workers to exit
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if !wp.started {
		return
	}

	wp.CancelAll()
	wp.cancel()
	wp.wg.Wait()
	close(wp.results)

	wp.started = false
}

// Results returns the results channel. It is closed by Stop.
func (wp *WorkerPool) Results() <-chan *Result {
	return wp.results
}

// CancelJob cancels a queued or running job by ID
func (wp *WorkerPool) CancelJob(jobID string) error {
	value, ok := wp.trackedJobs.Load(jobID)
	if !ok {
		return fmt.Errorf("job not found: %s", jobID)
	}

	job, ok := value.(*Job)
	if !ok {
		return fmt.Errorf("invalid job type for ID: %s", jobID)
	}

	job.cancel()
	return nil
}

// CancelAll cancels every queued and running job
func (wp *WorkerPool) CancelAll() {
	wp.trackedJobs.Range(func(key, value interface{}) bool {
		if job, ok := value.(*Job); ok {
			job.cancel()
		}
		return true
	})
}

// JobCount returns the number of queued and running jobs
func (wp *WorkerPool) JobCount() int {
	count := 0
	wp.trackedJobs.Range(func(key, value interface{}) bool {
		count++
		return true
	})
	return count
}

// IsJobTracked checks if a job is queued or running
func (wp *WorkerPool) IsJobTracked(jobID string) bool {
	_, ok := wp.trackedJobs.Load(jobID)
	return ok
}

// GetMaxWorkers returns the maximum number of workers
func (wp *WorkerPool) GetMaxWorkers() int {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	return wp.maxWorkers
}
