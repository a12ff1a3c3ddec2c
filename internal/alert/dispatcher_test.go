package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
	"signal-engine/internal/notification"
)

type recordingNotifier struct {
	name string
	err  error
	mu   sync.Mutex
	got  []notification.Alert
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Send(_ context.Context, a notification.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, a)
	return r.err
}

type memJournal struct {
	mu        sync.Mutex
	decisions []Decision
}

func (j *memJournal) RecordDecision(_ context.Context, d Decision) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.decisions = append(j.decisions, d)
	return nil
}

type memState struct {
	saves int
	last  State
}

func (m *memState) SaveCooldowns(_ context.Context, st State) error {
	m.saves++
	m.last = st
	return nil
}

func TestDispatch_AdmitJournalNotify(t *testing.T) {
	clk := newClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	ctrl := NewController(Config{Cooldown: 5 * time.Minute, MaxPerDay: 10, Now: clk.Now})
	ok := &recordingNotifier{name: "ok"}
	bad := &recordingNotifier{name: "bad", err: errors.New("503")}
	j := &memJournal{}
	st := &memState{}
	m := metrics.NewMetrics(prometheus.NewRegistry())

	d := NewDispatcher(DispatcherConfig{
		Controller: ctrl,
		Notifiers:  []notification.Notifier{ok, bad},
		Journal:    j,
		State:      st,
		Params:     CandidateParams{MinConfidence: 70},
		Metrics:    m,
	})

	agg := aggregate(model.StrongBuy, 90, nil)
	out := d.DispatchAggregate(context.Background(), agg)
	if len(out) != 1 || out[0].Result != Admitted {
		t.Fatalf("expected one admitted outcome, got %+v", out)
	}
	if out[0].SendErr == nil {
		t.Fatal("expected delivery error from the failing channel")
	}
	if len(ok.got) != 1 || len(bad.got) != 1 {
		t.Fatal("every channel should be attempted")
	}
	if st.saves != 1 || st.last.DailyCount != 1 {
		t.Fatalf("expected state saved after admission, got %+v", st)
	}

	// Same aggregate again inside the cooldown: suppressed, journaled, not sent.
	out = d.DispatchAggregate(context.Background(), agg)
	if out[0].Result != SuppressedCooldown {
		t.Fatalf("expected suppressed_cooldown, got %s", out[0].Result)
	}
	if len(ok.got) != 1 {
		t.Fatal("suppressed alert must not be delivered")
	}
	if len(j.decisions) != 2 || j.decisions[1].Result != SuppressedCooldown {
		t.Fatalf("expected both decisions journaled, got %+v", j.decisions)
	}
	if st.saves != 1 {
		t.Fatal("suppression should not rewrite state")
	}

	if got := testutil.ToFloat64(m.AdmissionsTotal.WithLabelValues("technical_analysis", "suppressed_cooldown")); got != 1 {
		t.Fatalf("expected 1 suppressed metric, got %v", got)
	}
	if got := testutil.ToFloat64(m.DispatchTotal.WithLabelValues("bad", "error")); got != 1 {
		t.Fatalf("expected 1 failed delivery metric, got %v", got)
	}
	if got := testutil.ToFloat64(m.DailyAlerts); got != 1 {
		t.Fatalf("expected daily gauge 1, got %v", got)
	}
}

func TestDispatch_WithoutOptionalCollaborators(t *testing.T) {
	ctrl := NewController(Config{Cooldown: time.Minute, MaxPerDay: 1})
	n := &recordingNotifier{name: "n"}
	d := NewDispatcher(DispatcherConfig{Controller: ctrl, Notifiers: []notification.Notifier{n}})

	c1 := Candidate{Key: btcTA, Alert: notification.NewAlert(notification.AlertInfo, "a", "a")}
	c2 := Candidate{Key: Key{Symbol: "ETHUSDT", Type: TypePriceChange}, Alert: notification.NewAlert(notification.AlertInfo, "b", "b")}
	if o := d.Dispatch(context.Background(), c1); o.Result != Admitted || o.SendErr != nil {
		t.Fatalf("unexpected outcome %+v", o)
	}
	if o := d.Dispatch(context.Background(), c2); o.Result != SuppressedDailyCap {
		t.Fatalf("expected daily cap, got %s", o.Result)
	}
	if len(n.got) != 1 {
		t.Fatalf("expected one delivery, got %d", len(n.got))
	}
}
