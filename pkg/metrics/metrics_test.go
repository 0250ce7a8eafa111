// Unit tests for the metric types
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"strings"
	"sync"
	"testing"
)

func TestCounter(t *testing.T) {
	c := NewCounter("test_counter", "A test counter")
	if c.Name() != "test_counter" || c.Type() != TypeCounter {
		t.Fatalf("unexpected counter identity %s %s", c.Name(), c.Type())
	}
	if got := c.Get(nil); got != 0 {
		t.Errorf("new counter = %d, want 0", got)
	}
	c.Inc(nil)
	c.Add(nil, 4)
	if got := c.Get(nil); got != 5 {
		t.Errorf("counter = %d, want 5", got)
	}

	c.Inc(Labels{"kind": "a"})
	c.Inc(Labels{"kind": "a"})
	c.Inc(Labels{"kind": "b"})
	if got := c.Get(Labels{"kind": "a"}); got != 2 {
		t.Errorf("kind=a = %d, want 2", got)
	}
	if got := c.Get(Labels{"kind": "c"}); got != 0 {
		t.Errorf("unknown series = %d, want 0", got)
	}
}

func TestCounterConcurrency(t *testing.T) {
	c := NewCounter("concurrent", "")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Inc(Labels{"worker": "all"})
			}
		}()
	}
	wg.Wait()
	if got := c.Get(Labels{"worker": "all"}); got != 5000 {
		t.Errorf("counter = %d, want 5000", got)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge("test_gauge", "A test gauge")
	g.Set(nil, 3.5)
	g.Add(nil, -1)
	if got := g.Get(nil); got != 2.5 {
		t.Errorf("gauge = %v, want 2.5", got)
	}
	g.Set(Labels{"slot": "3"}, 1)
	if got := g.Get(Labels{"slot": "3"}); got != 1 {
		t.Errorf("slot gauge = %v, want 1", got)
	}
}

func TestHistogramBuckets(t *testing.T) {
	h := NewHistogram("test_hist", "A test histogram", []float64{1, 0.1, 0.5})
	for _, v := range []float64{0.05, 0.1, 0.3, 0.7, 2} {
		h.Observe(nil, v)
	}
	snap := h.Snapshot(nil)
	if snap.Count != 5 {
		t.Errorf("count = %d, want 5", snap.Count)
	}
	if snap.Sum < 3.149 || snap.Sum > 3.151 {
		t.Errorf("sum = %v, want 3.15", snap.Sum)
	}
	want := map[float64]uint64{0.1: 2, 0.5: 3, 1: 4}
	for bound, n := range want {
		if snap.Buckets[bound] != n {
			t.Errorf("bucket le=%v = %d, want %d", bound, snap.Buckets[bound], n)
		}
	}

	empty := h.Snapshot(Labels{"x": "y"})
	if empty.Count != 0 || len(empty.Buckets) != 0 {
		t.Errorf("unknown series snapshot = %+v", empty)
	}
}

func TestHistogramTimer(t *testing.T) {
	h := NewHistogram("timer", "", DefaultBuckets())
	done := h.Timer(nil)
	done()
	if got := h.Snapshot(nil).Count; got != 1 {
		t.Errorf("count = %d, want 1", got)
	}
}

func TestExponentialBuckets(t *testing.T) {
	got := ExponentialBuckets(1, 2, 4)
	want := []float64{1, 2, 4, 8}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bucket %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("dup", "")
	if err := r.Register(c); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(NewGauge("dup", "")); err == nil {
		t.Error("expected error registering a duplicate name")
	}
	if r.Get("dup") != c {
		t.Error("Get returned a different metric")
	}
	if r.Get("missing") != nil {
		t.Error("Get of an unknown metric should be nil")
	}

	defer func() {
		if recover() == nil {
			t.Error("MustRegister should panic on a duplicate")
		}
	}()
	r.MustRegister(NewCounter("dup", ""))
}

func TestRegistryGather(t *testing.T) {
	r := NewRegistry()
	c := NewCounter("sniffer_things_total", "Things seen")
	g := NewGauge("sniffer_level", "Current level")
	r.MustRegister(c)
	r.MustRegister(g)

	c.Inc(Labels{"kind": "b"})
	c.Add(Labels{"kind": "a"}, 2)
	g.Set(nil, 0.25)

	want := `# HELP sniffer_things_total Things seen
# TYPE sniffer_things_total counter
sniffer_things_total{kind="a"} 2
sniffer_things_total{kind="b"} 1
# HELP sniffer_level Current level
# TYPE sniffer_level gauge
sniffer_level 0.25
`
	if got := r.Gather(); got != want {
		t.Errorf("Gather:\n%s\nwant:\n%s", got, want)
	}
}

func TestHistogramGather(t *testing.T) {
	h := NewHistogram("dur_seconds", "Duration", []float64{1, 5})
	h.Observe(Labels{"op": "read"}, 0.5)
	h.Observe(Labels{"op": "read"}, 3)
	h.Observe(Labels{"op": "read"}, 9)

	var sb strings.Builder
	h.Write(&sb)
	out := sb.String()
	for _, line := range []string{
		`dur_seconds_bucket{le="1",op="read"} 1`,
		`dur_seconds_bucket{le="5",op="read"} 2`,
		`dur_seconds_bucket{le="+Inf",op="read"} 3`,
		`dur_seconds_sum{op="read"} 12.5`,
		`dur_seconds_count{op="read"} 3`,
	} {
		if !strings.Contains(out, line+"\n") {
			t.Errorf("missing line %q in\n%s", line, out)
		}
	}
}

func TestLabels(t *testing.T) {
	l := Labels{"b": "2", "a": "1"}
	if got := l.Key(); got != "a=1,b=2" {
		t.Errorf("Key = %q", got)
	}
	if got := l.String(); got != `{a="1",b="2"}` {
		t.Errorf("String = %q", got)
	}
	with := l.With("c", "3")
	if len(l) != 2 || len(with) != 3 {
		t.Errorf("With modified the receiver: %v %v", l, with)
	}

	var none Labels
	if none.String() != "" || none.Key() != "" {
		t.Error("nil labels should format as empty")
	}
	if got := (Labels{"msg": `say "hi"`}).String(); got != `{msg="say \"hi\""}` {
		t.Errorf("escaped String = %q", got)
	}
}

func BenchmarkCounterInc(b *testing.B) {
	c := NewCounter("bench", "")
	labels := Labels{"kind": "x"}
	for i := 0; i < b.N; i++ {
		c.Inc(labels)
	}
}

func BenchmarkHistogramObserve(b *testing.B) {
	h := NewHistogram("bench", "", DefaultBuckets())
	for i := 0; i < b.N; i++ {
		h.Observe(nil, float64(i%100)/10)
	}
}
