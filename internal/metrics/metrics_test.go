package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.CollectionChecked(true)
	m.TokensCreated(3)
	m.TokenSkipped()
	m.PublishBatch(false)
	m.Inconsistent(1)
	m.Synced(2)
	m.JobRun("sync", "ok")
	m.Dropped("sync")
	if m.Registry() != nil {
		t.Error("Registry() on nil Metrics = non-nil")
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.CollectionChecked(false)
	m.CollectionChecked(true)
	m.TokensCreated(3)
	m.PublishBatch(true)
	m.PublishBatch(false)
	m.Dropped("reconcile")

	if got := testutil.ToFloat64(m.collectionsChecked); got != 2 {
		t.Errorf("collections checked = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.collectionsFailed); got != 1 {
		t.Errorf("collections failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.tokensCreated); got != 3 {
		t.Errorf("tokens created = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.publishBatches.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed batches = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.droppedFirings.WithLabelValues("reconcile")); got != 1 {
		t.Errorf("dropped firings = %v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Synced(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "megadata_sync_tokens_done_total 4") {
		t.Errorf("metrics output missing sync counter:\n%s", body)
	}
}
