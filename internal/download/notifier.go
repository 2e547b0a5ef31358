package download

// Notifier receives lifecycle events for queued downloads
type Notifier interface {
	NotifyStarted(trackID string)
	NotifyProgress(trackID string, fraction float64)
	NotifyCompleted(trackID, localPath string)
	NotifyFailed(trackID string, err error)
}

// NopNotifier discards every event
type NopNotifier struct{}

func (NopNotifier) NotifyStarted(string)           {}
func (NopNotifier) NotifyProgress(string, float64) {}
func (NopNotifier) NotifyCompleted(string, string) {}
func (NopNotifier) NotifyFailed(string, error)     {}
