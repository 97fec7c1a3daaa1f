package metrics

import "testing"

func TestNewRegistersAllCollectors(t *testing.T) {
	r := New()
	r.DocumentsTotal.WithLabelValues("users").Set(3)
	r.OperationsTotal.WithLabelValues("users", "insert").Inc()
	r.CompactionsTotal.Inc()

	families, err := r.Prometheus().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}

func TestTwoRegistriesAreIndependent(t *testing.T) {
	a := New()
	b := New()
	a.DocumentsTotal.WithLabelValues("users").Set(1)
	b.DocumentsTotal.WithLabelValues("users").Set(2)

	famA, _ := a.Prometheus().Gather()
	famB, _ := b.Prometheus().Gather()
	if len(famA) == 0 || len(famB) == 0 {
		t.Fatal("expected both registries to report metrics")
	}
}
