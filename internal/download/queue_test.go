package download

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Francisco-Marin-0606/rork-empty-app-builder-sub002/internal/errors"
)

type event struct {
	kind    string
	trackID string
	path    string
	err     error
}

type recordingNotifier struct {
	mu       sync.Mutex
	events   []event
	progress int
	finished chan event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{finished: make(chan event, 10)}
}

func (n *recordingNotifier) NotifyStarted(trackID string) {
	n.mu.Lock()
	n.events = append(n.events, event{kind: "started", trackID: trackID})
	n.mu.Unlock()
}

func (n *recordingNotifier) NotifyProgress(trackID string, fraction float64) {
	n.mu.Lock()
	n.progress++
	n.mu.Unlock()
}

func (n *recordingNotifier) NotifyCompleted(trackID, localPath string) {
	n.finished <- event{kind: "completed", trackID: trackID, path: localPath}
}

func (n *recordingNotifier) NotifyFailed(trackID string, err error) {
	n.finished <- event{kind: "failed", trackID: trackID, err: err}
}

func (n *recordingNotifier) next(t *testing.T) event {
	t.Helper()
	select {
	case e := <-n.finished:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for notification")
		return event{}
	}
}

func TestQueue_CompletesDownload(t *testing.T) {
	server, _ := audioServer(t, []byte("queued audio"))
	m, _, recorder := newTestManager(t, server.Client())

	notifier := newRecordingNotifier()
	q := NewQueue(m, 2, notifier, nil)
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start queue: %v", err)
	}
	defer q.Stop()

	jobID, err := q.Enqueue(Request{URL: server.URL, TrackID: "t1", OwnerUserID: "alice"})
	if err != nil || jobID == "" {
		t.Fatalf("Failed to enqueue: %v", err)
	}

	e := notifier.next(t)
	if e.kind != "completed" || e.trackID != "t1" || e.path == "" {
		t.Errorf("Unexpected event %+v", e)
	}
	if recorder.count() != 1 {
		t.Errorf("Expected metadata to be recorded, got %d upserts", recorder.count())
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) != 1 || notifier.events[0].kind != "started" {
		t.Errorf("Expected a started event, got %v", notifier.events)
	}
	if notifier.progress == 0 {
		t.Error("Expected progress events")
	}
}

func TestQueue_DeduplicatesTrack(t *testing.T) {
	server, release, _ := blockingServer(t)
	m, _, _ := newTestManager(t, server.Client())

	notifier := newRecordingNotifier()
	q := NewQueue(m, 2, notifier, nil)
	q.Start(context.Background())
	defer q.Stop()

	req := Request{URL: server.URL, TrackID: "t1"}
	first, _ := q.Enqueue(req)
	second, _ := q.Enqueue(req)
	if first != second {
		t.Errorf("Expected the same job id for a queued track, got %s and %s", first, second)
	}

	close(release)
	if e := notifier.next(t); e.kind != "completed" {
		t.Errorf("Expected completion, got %+v", e)
	}
}

func TestQueue_Cancel(t *testing.T) {
	server, _, _ := blockingServer(t)
	m, _, _ := newTestManager(t, server.Client())

	notifier := newRecordingNotifier()
	q := NewQueue(m, 1, notifier, nil)
	q.Start(context.Background())
	defer q.Stop()

	if _, err := q.Enqueue(Request{URL: server.URL, TrackID: "t1"}); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	waitFor(t, func() bool { return m.ActiveCount() == 1 })

	if err := q.Cancel("t1"); err != nil {
		t.Fatalf("Failed to cancel: %v", err)
	}

	e := notifier.next(t)
	if e.kind != "failed" || !apperrors.IsCancelled(e.err) {
		t.Errorf("Expected cancelled failure, got %+v", e)
	}

	if err := q.Cancel("unknown"); !apperrors.IsNotFound(err) {
		t.Errorf("Expected not found for unknown track, got %v", err)
	}
}

func TestQueue_Validation(t *testing.T) {
	m, _, _ := newTestManager(t, http.DefaultClient)
	q := NewQueue(m, 1, nil, nil)

	if _, err := q.Enqueue(Request{TrackID: "t1"}); err == nil {
		t.Error("Expected validation error for missing url")
	}
	if q.Workers() != 1 {
		t.Errorf("Expected 1 worker, got %d", q.Workers())
	}
}
