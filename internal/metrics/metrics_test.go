package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register should tolerate duplicates: %v", err)
	}
}

func TestObserveRunDropsStageOnSuccess(t *testing.T) {
	before := testutil.ToFloat64(runsTotal.WithLabelValues(OutcomeSuccess, ""))
	ObserveRun(time.Second, OutcomeSuccess, "Invoking")
	after := testutil.ToFloat64(runsTotal.WithLabelValues(OutcomeSuccess, ""))
	if after-before != 1 {
		t.Fatalf("expected success counter to grow by 1, got %v", after-before)
	}
}

func TestObserveReservation(t *testing.T) {
	before := testutil.ToFloat64(reservationsTotal.WithLabelValues("deep", ReservationRejected))
	ObserveReservation("deep", ReservationRejected)
	if got := testutil.ToFloat64(reservationsTotal.WithLabelValues("deep", ReservationRejected)); got-before != 1 {
		t.Fatalf("expected rejected counter to grow by 1, got %v", got-before)
	}
}
