package metrics

import (
	"strings"
	"sync"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_counter", "Test counter")
	if c.Type() != TypeCounter {
		t.Errorf("expected type counter, got %s", c.Type())
	}

	c.Inc()
	c.Add(5)
	c.Add(-3)
	if c.Get() != 6 {
		t.Errorf("expected value 6, got %v", c.Get())
	}
	if !strings.Contains(c.Describe(), "test_counter 6\n") {
		t.Errorf("unexpected describe output:\n%s", c.Describe())
	}
}

func TestCounterConcurrent(t *testing.T) {
	c := NewCounter("concurrent", "")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()
	if c.Get() != 5000 {
		t.Errorf("expected 5000, got %v", c.Get())
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "Test gauge")
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Add(-4.5)
	if g.Get() != 5.5 {
		t.Errorf("expected 5.5, got %v", g.Get())
	}
	if !strings.Contains(g.Describe(), "test_gauge 5.500000") {
		t.Errorf("unexpected describe output:\n%s", g.Describe())
	}
}

func TestHistogram(t *testing.T) {
	h := NewHistogram("test_histogram", "Test histogram", []float64{10, 1, 5})
	h.Observe(2)
	h.Observe(7)
	h.Observe(12)

	if h.Count() != 3 || h.Sum() != 21 {
		t.Errorf("expected count 3 sum 21, got %d %v", h.Count(), h.Sum())
	}
	out := h.Describe()
	for _, want := range []string{
		`test_histogram_bucket{le="1"} 0`,
		`test_histogram_bucket{le="5"} 1`,
		`test_histogram_bucket{le="10"} 2`,
		`test_histogram_bucket{le="+Inf"} 3`,
		`test_histogram_count 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestVectors(t *testing.T) {
	cv := NewCounterVec("runs_total", "Runs")
	cv.With(map[string]string{"reason": "b"}).Inc()
	cv.With(map[string]string{"reason": "a"}).Add(2)
	cv.With(map[string]string{"reason": "b"}).Inc()

	vals := cv.Values()
	if vals[`{reason="a"}`] != 2 || vals[`{reason="b"}`] != 2 {
		t.Errorf("unexpected values %v", vals)
	}
	out := cv.Describe()
	if strings.Index(out, `runs_total{reason="a"}`) > strings.Index(out, `runs_total{reason="b"}`) {
		t.Errorf("series not sorted:\n%s", out)
	}

	gv := NewGaugeVec("state", "State")
	gv.With(map[string]string{"provider": "x", "kind": "chat"}).Set(2)
	if !strings.Contains(gv.Describe(), `state{kind="chat",provider="x"} 2`) {
		t.Errorf("unexpected gauge vec output:\n%s", gv.Describe())
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	c := Register(r, NewCounter("b_total", "B"))
	Register(r, NewGauge("a_value", "A"))
	c.Inc()

	out := r.Export()
	if strings.Index(out, "a_value") > strings.Index(out, "b_total") {
		t.Errorf("export not sorted:\n%s", out)
	}
	if _, ok := r.Get("b_total"); !ok {
		t.Error("expected b_total registered")
	}

	r.Unregister("b_total")
	if strings.Contains(r.Export(), "b_total") {
		t.Error("expected b_total removed")
	}
}
