package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func render(m metric) string {
	var sb strings.Builder
	m.writeTo(&sb)
	return sb.String()
}

func TestCounter(t *testing.T) {
	c := NewRegistry().NewCounter("test_counter", "A test counter")

	if c.Value() != 0 {
		t.Errorf("initial value = %d, want 0", c.Value())
	}
	c.Inc()
	c.Add(5)
	if c.Value() != 6 {
		t.Errorf("after Inc()+Add(5) = %d, want 6", c.Value())
	}

	out := render(c)
	if !strings.Contains(out, "# TYPE test_counter counter") {
		t.Error("missing TYPE line")
	}
	if !strings.Contains(out, "test_counter 6") {
		t.Errorf("missing value line, got: %s", out)
	}
}

func TestGauge(t *testing.T) {
	g := NewRegistry().NewGauge("test_gauge", "A test gauge")

	g.Set(10)
	g.Inc()
	g.Dec()
	g.Add(-5)
	if g.Value() != 5 {
		t.Errorf("gauge = %d, want 5", g.Value())
	}

	out := render(g)
	if !strings.Contains(out, "# HELP test_gauge A test gauge") {
		t.Error("missing HELP line")
	}
	if !strings.Contains(out, "test_gauge 5") {
		t.Errorf("missing value line, got: %s", out)
	}
}

func TestGaugeVec(t *testing.T) {
	v := NewRegistry().NewGaugeVec("test_node_state", "Per node state", "address")

	v.Set("10.0.0.2:11211", 0)
	v.Set("10.0.0.1:11211", 1)

	if got, ok := v.Value("10.0.0.1:11211"); !ok || got != 1 {
		t.Errorf("Value() = %d,%v want 1,true", got, ok)
	}

	out := render(v)
	first := strings.Index(out, `test_node_state{address="10.0.0.1:11211"} 1`)
	second := strings.Index(out, `test_node_state{address="10.0.0.2:11211"} 0`)
	if first < 0 || second < 0 {
		t.Fatalf("missing series, got: %s", out)
	}
	if first > second {
		t.Error("series should be sorted by label value")
	}

	v.Delete("10.0.0.2:11211")
	if _, ok := v.Value("10.0.0.2:11211"); ok {
		t.Error("deleted series should be gone")
	}
	v.Reset()
	if _, ok := v.Value("10.0.0.1:11211"); ok {
		t.Error("Reset should drop every series")
	}
}

func TestHistogram(t *testing.T) {
	h := NewRegistry().NewHistogram("test_histogram", "A test histogram", []float64{0.1, 0.5, 1.0, 5.0})

	for _, v := range []float64{0.05, 0.1, 0.3, 0.8, 3.0, 10.0} {
		h.Observe(v)
	}
	h.ObserveSince(time.Now())

	if h.Count() != 7 {
		t.Errorf("Count() = %d, want 7", h.Count())
	}

	out := render(h)
	tests := []string{
		"# TYPE test_histogram histogram",
		`test_histogram_bucket{le="0.1"} 3`,
		`test_histogram_bucket{le="0.5"} 4`,
		`test_histogram_bucket{le="1"} 5`,
		`test_histogram_bucket{le="5"} 6`,
		`test_histogram_bucket{le="+Inf"} 7`,
		"test_histogram_count 7",
	}
	for _, want := range tests {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q, got: %s", want, out)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.NewGauge("reg_gauge", "A gauge").Set(42)
	r.NewCounter("reg_counter", "A counter").Inc()

	out := r.Expose()
	if !strings.Contains(out, "reg_counter 1") {
		t.Errorf("missing counter in output: %s", out)
	}
	if !strings.Contains(out, "reg_gauge 42") {
		t.Errorf("missing gauge in output: %s", out)
	}
	if strings.Index(out, "reg_counter") > strings.Index(out, "reg_gauge") {
		t.Error("metrics should be exposed in name order")
	}

	r.NewCounter("reg_counter", "Replaced")
	if out := r.Expose(); !strings.Contains(out, "reg_counter 0") {
		t.Errorf("re-registered counter should replace the old one: %s", out)
	}
}

func TestHandler(t *testing.T) {
	old := defaultRegistry
	defaultRegistry = NewRegistry()
	defer func() { defaultRegistry = old }()

	NewCounter("handler_test_counter", "Test counter").Add(100)
	NewGaugeVec("handler_test_vec", "Test vec", "address").Set("a:1", 1)

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}

	body := w.Body.String()
	if !strings.Contains(body, "handler_test_counter 100") {
		t.Errorf("missing counter in body: %s", body)
	}
	if !strings.Contains(body, `handler_test_vec{address="a:1"} 1`) {
		t.Errorf("missing vec series in body: %s", body)
	}
	if body != Expose() {
		t.Error("Handler body should match Expose()")
	}
}
