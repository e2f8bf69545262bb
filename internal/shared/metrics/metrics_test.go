package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestHistogramBucketsAreCumulativeOnce(t *testing.T) {
	h := newHistogram([]float64{10, 100})
	h.Observe(5)
	h.Observe(50)
	h.Observe(500)

	var buf bytes.Buffer
	writeHistogram(&buf, "x", "help", h.Snapshot())
	out := buf.String()
	for _, want := range []string{
		`x_bucket{le="10"} 1`,
		`x_bucket{le="100"} 2`,
		`x_bucket{le="+Inf"} 3`,
		`x_sum 555`,
		`x_count 3`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}

func TestRenderIncludesDecisionLabels(t *testing.T) {
	IncDecision("accepted")
	IncDecision("accepted")
	IncDecision("skipped")

	out := Render()
	if !strings.Contains(out, `routing_decisions_total{decision="accepted"}`) {
		t.Fatalf("missing accepted decision counter:\n%s", out)
	}
	if !strings.Contains(out, `routing_decisions_total{decision="skipped"}`) {
		t.Fatalf("missing skipped decision counter:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE routing_classify_duration_ms histogram") {
		t.Fatalf("missing classify histogram")
	}
}
