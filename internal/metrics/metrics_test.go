package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTurnCounts(t *testing.T) {
	before := testutil.ToFloat64(turnsTotal.WithLabelValues("message", "contract"))
	RecordTurn("message", "contract")
	after := testutil.ToFloat64(turnsTotal.WithLabelValues("message", "contract"))
	if after-before != 1 {
		t.Fatalf("expected counter to grow by 1, got %v", after-before)
	}
}

func TestSessionGaugeTracksOpenAndClose(t *testing.T) {
	base := testutil.ToFloat64(sessionsActive)
	SessionOpened()
	SessionOpened()
	SessionClosed("disconnect")
	if got := testutil.ToFloat64(sessionsActive) - base; got != 1 {
		t.Fatalf("expected gauge delta 1, got %v", got)
	}
	SessionClosed("disconnect")
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	RecordGeneratorAttempt("fake", "ok", 10*time.Millisecond)
	if Handler() == nil {
		t.Fatal("expected metrics handler")
	}
}
