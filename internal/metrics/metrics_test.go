package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AdmissionsTotal.WithLabelValues("golden", "apiBatch").Inc()
	m.CacheLookupsTotal.WithLabelValues("hit").Inc()
	m.CoordinatorJoins.Inc()
	m.CoordinatorExecutes.Inc()
	m.DriverErrorStreak.WithLabelValues("realdebrid").Set(3)
	m.RequestDuration.WithLabelValues("movie").Observe(0.25)

	count, err := testutil.GatherAndCount(reg)
	if err != nil {
		t.Fatalf("GatherAndCount failed: %v", err)
	}
	if count != 6 {
		t.Errorf("gathered %d metric families, want 6", count)
	}
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if r := recover(); r == nil {
			t.Error("expected MustRegister to panic on duplicate registration")
		}
	}()
	New(reg)
}
