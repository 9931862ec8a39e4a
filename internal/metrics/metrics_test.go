package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(FetchRuns)
	FetchRuns.Inc()
	if got := testutil.ToFloat64(FetchRuns); got != before+1 {
		t.Fatalf("fetch runs counter: got %v, want %v", got, before+1)
	}

	before = testutil.ToFloat64(StateSaves)
	StateSaves.Inc()
	StateSaves.Inc()
	if got := testutil.ToFloat64(StateSaves); got != before+2 {
		t.Fatalf("state saves counter: got %v, want %v", got, before+2)
	}
}

func TestExtractRetriesPerEndpoint(t *testing.T) {
	before := testutil.ToFloat64(ExtractRetries.WithLabelValues("/timeline"))
	IncExtractRetry("/timeline")
	IncExtractRetry("/timeline")
	IncExtractRetry("/range")
	if got := testutil.ToFloat64(ExtractRetries.WithLabelValues("/timeline")); got != before+2 {
		t.Fatalf("timeline retries: got %v, want %v", got, before+2)
	}
}

func TestObserveFetchDuration(t *testing.T) {
	ObserveFetchDuration(time.Now().Add(-time.Millisecond))
	if got := testutil.CollectAndCount(FetchDuration); got != 1 {
		t.Fatalf("expected one histogram series, got %d", got)
	}
}
