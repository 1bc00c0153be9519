package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOp("transfer", "ok")
	m.AddTax("money", 5)
	m.PersistFailed()
	m.ObserveSave(time.Millisecond)
	m.SetLoaded(3)
	m.SetPending(1)
	m.AddResets(2)
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.ObserveOp("transfer", "ok")
	m.ObserveOp("transfer", "ok")
	m.AddTax("money", 2.5)
	m.PersistFailed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()

	for _, want := range []string{
		`ledger_operations_total{code="ok",op="transfer"} 2`,
		`ledger_tax_sunk_total{currency="money"} 2.5`,
		`ledger_persist_failures_total 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in exposition", want)
		}
	}
}
