package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDownloadMetrics(t *testing.T) {
	before := testutil.ToFloat64(DownloadsTotal.WithLabelValues("completed"))
	bytesBefore := testutil.ToFloat64(DownloadBytesTotal)

	RecordDownloadStart()
	RecordDownloadComplete(2*time.Second, 1024)

	if got := testutil.ToFloat64(DownloadsTotal.WithLabelValues("completed")); got != before+1 {
		t.Errorf("Expected completed count %v, got %v", before+1, got)
	}
	if got := testutil.ToFloat64(DownloadBytesTotal); got != bytesBefore+1024 {
		t.Errorf("Expected bytes %v, got %v", bytesBefore+1024, got)
	}
}

func TestRecordDownloadFailed(t *testing.T) {
	cancelled := testutil.ToFloat64(DownloadsTotal.WithLabelValues("cancelled"))
	failed := testutil.ToFloat64(DownloadsTotal.WithLabelValues("failed"))

	RecordDownloadStart()
	RecordDownloadFailed("cancelled")
	RecordDownloadStart()
	RecordDownloadFailed("network")

	if got := testutil.ToFloat64(DownloadsTotal.WithLabelValues("cancelled")); got != cancelled+1 {
		t.Errorf("Expected cancelled count %v, got %v", cancelled+1, got)
	}
	if got := testutil.ToFloat64(DownloadsTotal.WithLabelValues("failed")); got != failed+1 {
		t.Errorf("Expected failed count %v, got %v", failed+1, got)
	}
}

func TestRecordDeletions(t *testing.T) {
	before := testutil.ToFloat64(DeletionsTotal.WithLabelValues("orphan"))

	RecordDeletions("orphan", 3)
	RecordDeletions("orphan", 0)

	if got := testutil.ToFloat64(DeletionsTotal.WithLabelValues("orphan")); got != before+3 {
		t.Errorf("Expected %v, got %v", before+3, got)
	}
}

func TestRecordCounters(t *testing.T) {
	RecordCacheHit()
	RecordCoalesced()
	RecordPartialsSwept(2)
	RecordCorruptMetadata()
	RecordError("filesystem")
}
