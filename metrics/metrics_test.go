package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerExposesCounters(t *testing.T) {
	t.Parallel()
	m := New()
	m.Samples.WithLabelValues("tls_client_hello").Add(3)
	m.Filtered.WithLabelValues(ReasonNotHello).Inc()
	m.BatchSize.Observe(12)

	if got := testutil.ToFloat64(m.Samples.WithLabelValues("tls_client_hello")); got != 3 {
		t.Fatalf("samples=%v", got)
	}

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`hellotrace_samples_total{kind="tls_client_hello"} 3`,
		`hellotrace_samples_filtered_total{reason="not_client_hello"} 1`,
		`hellotrace_batch_records_count 1`,
		`go_goroutines`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("missing %q in\n%s", want, body)
		}
	}
}
