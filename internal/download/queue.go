package download

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/errors"
	"github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/monitoring"
)

// Queue runs downloads in the background on a worker pool and reports their
// progress through a Notifier.
type Queue struct {
	manager  *Manager
	pool     *WorkerPool
	notifier Notifier
	logger   *zap.Logger

	mu      sync.Mutex
	byTrack map[string]string // track id -> job id
	done    chan struct{}
}

// NewQueue creates a queue with the given number of workers
func NewQueue(manager *Manager, workers int, notifier Notifier, logger *zap.Logger) *Queue {
	if notifier == nil {
		notifier = NopNotifier{}
	}

	q := &Queue{
		manager:  manager,
		notifier: notifier,
		logger:   monitoring.OrNop(logger).Named("queue"),
		byTrack:  make(map[string]string),
	}
	q.pool = NewWorkerPool(workers, q.handleJob)
	return q
}

// Start starts the workers
func (q *Queue) Start(ctx context.Context) error {
	if err := q.pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	q.done = make(chan struct{})
	go q.processResults()
	return nil
}

// Enqueue schedules req and returns the job id. A track that is already
// queued is not queued twice.
func (q *Queue) Enqueue(req Request) (string, error) {
	if req.URL == "" || req.TrackID == "" {
		return "", apperrors.NewValidationError("url and track id are required")
	}

	q.mu.Lock()
	if jobID, ok := q.byTrack[req.TrackID]; ok {
		q.mu.Unlock()
		return jobID, nil
	}
	job := &Job{ID: uuid.NewString(), Request: req}
	q.byTrack[req.TrackID] = job.ID
	q.mu.Unlock()

	if err := q.pool.Submit(job); err != nil {
		q.forget(req.TrackID, job.ID)
		return "", err
	}

	q.logger.Debug("Download queued", zap.String("job_id", job.ID), zap.String("track_id", req.TrackID))
	return job.ID, nil
}

// Cancel cancels the queued or running download of trackID
func (q *Queue) Cancel(trackID string) error {
	q.mu.Lock()
	jobID, ok := q.byTrack[trackID]
	q.mu.Unlock()
	if !ok || !q.pool.IsJobTracked(jobID) {
		// Finished jobs stay in byTrack until their result is processed
		return apperrors.NewNotFoundError("no queued download for track " + trackID)
	}
	return q.pool.CancelJob(jobID)
}

// Workers returns the number of downloads that can run at once
func (q *Queue) Workers() int {
	return q.pool.GetMaxWorkers()
}

// Pending returns the number of queued and running jobs
func (q *Queue) Pending() int {
	return q.pool.JobCount()
}

// Stop cancels all jobs and waits for the workers
func (q *Queue) Stop() {
	q.pool.Stop()
	if q.done != nil {
		<-q.done
	}
}

func (q *Queue) handleJob(ctx context.Context, job *Job) (string, error) {
	trackID := job.Request.TrackID
	q.notifier.NotifyStarted(trackID)

	req := job.Request
	caller := req.OnProgress
	req.OnProgress = func(fraction float64) {
		q.notifier.NotifyProgress(trackID, fraction)
		if caller != nil {
			caller(fraction)
		}
	}

	return q.manager.Download(ctx, req)
}

func (q *Queue) processResults() {
	defer close(q.done)

	for result := range q.pool.Results() {
		q.forget(result.TrackID, result.JobID)

		if result.Success() {
			q.notifier.NotifyCompleted(result.TrackID, result.LocalPath)
			continue
		}

		err := result.Error
		if err == context.Canceled {
			err = apperrors.NewCancelledError("download cancelled", err)
		}
		q.notifier.NotifyFailed(result.TrackID, err)
		q.logger.Debug("Queued download did not complete",
			zap.String("job_id", result.JobID),
			zap.String("track_id", result.TrackID),
			zap.Error(err),
		)
	}
}

func (q *Queue) forget(trackID, jobID string) {
	q.mu.Lock()
	if q.byTrack[trackID] == jobID {
		delete(q.byTrack, trackID)
	}
	q.mu.Unlock()
}
