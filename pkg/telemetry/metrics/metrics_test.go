package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordDeletion(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordDeletion("free", OutcomeSuccess, 120*time.Millisecond)
	c.RecordDeletion("free", OutcomeSuccess, 80*time.Millisecond)
	c.RecordDeletion("free", OutcomeFailure, time.Second)

	if got := testutil.ToFloat64(c.deletions.WithLabelValues("free", OutcomeSuccess)); got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.deletions.WithLabelValues("free", OutcomeFailure)); got != 1 {
		t.Errorf("failure count = %v, want 1", got)
	}
}

func TestCollector_Counters(t *testing.T) {
	c := NewCollector(nil)

	c.RecordOverwritePass("zeros")
	c.RecordRetry("pro")
	c.RecordDeadLetter("pro")
	c.RecordComplianceDecision(true)
	c.RecordComplianceDecision(false)
	c.RecordTokenIssued("pro")
	c.RecordTokenValidation("ok")
	c.RecordUpload("pro", 2048)
	c.RecordEventPublish("deletion.failed", errors.New("unavailable"))

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"overwrite", testutil.ToFloat64(c.overwritePasses.WithLabelValues("zeros")), 1},
		{"retry", testutil.ToFloat64(c.retries.WithLabelValues("pro")), 1},
		{"dead letter", testutil.ToFloat64(c.deadLetters.WithLabelValues("pro")), 1},
		{"approved", testutil.ToFloat64(c.complianceResults.WithLabelValues("approved")), 1},
		{"blocked", testutil.ToFloat64(c.complianceResults.WithLabelValues("blocked")), 1},
		{"issued", testutil.ToFloat64(c.tokensIssued.WithLabelValues("pro")), 1},
		{"validation", testutil.ToFloat64(c.tokenValidations.WithLabelValues("ok")), 1},
		{"upload bytes", testutil.ToFloat64(c.uploadBytes.WithLabelValues("pro")), 2048},
		{"event publish error", testutil.ToFloat64(c.eventsPublished.WithLabelValues("deletion.failed", "error")), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestCollector_AuditFlush(t *testing.T) {
	c := NewCollector(nil)

	c.RecordAuditFlush(100, nil)
	c.RecordAuditFlush(5, errors.New("disk full"))
	c.SetAuditBufferSize(5)

	if got := testutil.ToFloat64(c.auditFlushes.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok flushes = %v", got)
	}
	if got := testutil.ToFloat64(c.auditFlushes.WithLabelValues("error")); got != 1 {
		t.Errorf("error flushes = %v", got)
	}
	if got := testutil.ToFloat64(c.auditBufferSize); got != 5 {
		t.Errorf("buffer size = %v", got)
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector

	c.RecordDeletion("free", OutcomeSuccess, time.Second)
	c.RecordAuditFlush(1, nil)
	c.SetQueueLength(3)
	c.SetActiveTokens(1)
	if c.Registry() != nil {
		t.Error("nil collector should have nil registry")
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(nil)
	c.SetQueueLength(7)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "nimbus_queue_length 7") {
		t.Errorf("expected queue length in output, got:\n%s", rec.Body.String())
	}
}
