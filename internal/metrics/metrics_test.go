package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRouterServesMetricsAndHealthz(t *testing.T) {
	c := New(nil)
	c.SetHeight(42)
	c.SetPeerCount(3)
	c.IncImported()

	srv := httptest.NewServer(c.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	buf := make([]byte, 8192)
	n, _ := resp.Body.Read(buf)
	body := string(buf[:n])
	if !strings.Contains(body, "ironchain_block_height") {
		t.Fatalf("expected exported metric name in body, got: %s", body)
	}
}

func TestCountersAndGaugesDoNotPanicOnDuplicateRegistration(t *testing.T) {
	c1 := New(nil)
	c2 := New(nil)
	c1.SetQueueDepth(1)
	c2.SetQueueDepth(2)
	c1.IncDropped()
	c2.IncCommitFailure()
}
