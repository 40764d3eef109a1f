package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter(t *testing.T) {
	r := NewRegistry()
	c := r.Counter("test_total", "test counter")

	c.Inc()
	c.Add(2)
	c.Add(-5) // ignored

	if c.Value() != 3 {
		t.Errorf("counter = %v, want 3", c.Value())
	}
}

func TestGauge(t *testing.T) {
	r := NewRegistry()
	g := r.Gauge("test_gauge", "test gauge")

	g.Set(5)
	g.Set(-2)

	if g.Value() != -2 {
		t.Errorf("gauge = %v, want -2", g.Value())
	}
}

func TestHistogram(t *testing.T) {
	r := NewRegistry()
	h := r.Histogram("test_seconds", "test histogram", []float64{0.001, 0.01})

	h.Observe(0.0005)
	h.Observe(0.005)
	h.Observe(0.5)

	if h.Count() != 3 {
		t.Errorf("count = %d, want 3", h.Count())
	}
	if h.Sum() < 0.505 || h.Sum() > 0.506 {
		t.Errorf("sum = %v", h.Sum())
	}
}

func TestRegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	a := r.Counter("dup_total", "first")
	b := r.Counter("dup_total", "second")
	if a != b {
		t.Error("duplicate registration returned a new counter")
	}
}

func TestRender(t *testing.T) {
	r := NewRegistry()
	r.Counter("quad_cycles_completed_total", "cycles").Add(7)
	r.Gauge("quad_mode", "mode").Set(2)
	h := r.Histogram("quad_cycle_seconds", "cycle", []float64{0.01})
	h.Observe(0.005)

	out := r.Render()

	for _, want := range []string{
		"# TYPE quad_cycles_completed_total counter",
		"quad_cycles_completed_total 7",
		"# TYPE quad_mode gauge",
		"quad_mode 2",
		"# TYPE quad_cycle_seconds histogram",
		`quad_cycle_seconds_bucket{le="0.01"} 1`,
		`quad_cycle_seconds_bucket{le="+Inf"} 1`,
		"quad_cycle_seconds_count 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("render missing %q:\n%s", want, out)
		}
	}
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.Counter("test_total", "test").Inc()

	srv := httptest.NewServer(Handler(r))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}

func TestNewCycleMetrics(t *testing.T) {
	r := NewRegistry()
	cm := NewCycleMetrics(r)

	cm.CyclesCompleted.Inc()
	cm.CycleSeconds.Observe(0.008)

	out := r.Render()
	if !strings.Contains(out, "quad_cycles_completed_total 1") {
		t.Errorf("cycle metrics not registered:\n%s", out)
	}
}
