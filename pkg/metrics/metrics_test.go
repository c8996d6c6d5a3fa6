package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStateGaugeIsExclusive(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetState("uploading")
	for _, s := range States {
		want := 0.0
		if s == "uploading" {
			want = 1
		}
		if got := testutil.ToFloat64(m.state.WithLabelValues(s)); got != want {
			t.Fatalf("state %s: got %v want %v", s, got, want)
		}
	}
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Reading(23.5, 60.2)
	m.StageFailed("store")
	m.LineSkipped("unrecognized")
	m.LineSkipped("unrecognized")
	m.LineSkipped("invalid")
	m.Upload(false, time.Time{})
	at := time.Unix(1700000000, 0)
	m.Upload(true, at)
	m.CycleDone(2 * time.Second)

	if got := testutil.ToFloat64(m.readings); got != 1 {
		t.Fatalf("readings: %v", got)
	}
	if got := testutil.ToFloat64(m.lastReading.WithLabelValues("humidity")); got != 60.2 {
		t.Fatalf("last humidity: %v", got)
	}
	if got := testutil.ToFloat64(m.stageFailures.WithLabelValues("store")); got != 1 {
		t.Fatalf("store failures: %v", got)
	}
	if ok, fail := testutil.ToFloat64(m.uploads.WithLabelValues("ok")), testutil.ToFloat64(m.uploads.WithLabelValues("error")); ok != 1 || fail != 1 {
		t.Fatalf("uploads ok=%v error=%v", ok, fail)
	}
	if got := testutil.ToFloat64(m.lastUpload); got != 1700000000 {
		t.Fatalf("last upload: %v", got)
	}
	if u, i := testutil.ToFloat64(m.linesSkipped.WithLabelValues("unrecognized")), testutil.ToFloat64(m.linesSkipped.WithLabelValues("invalid")); u != 2 || i != 1 {
		t.Fatalf("lines skipped unrecognized=%v invalid=%v", u, i)
	}
	if got := testutil.ToFloat64(m.cycles); got != 1 {
		t.Fatalf("cycles: %v", got)
	}
}
