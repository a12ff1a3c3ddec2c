package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"signal-engine/internal/logger"
	"signal-engine/internal/metrics"
	"signal-engine/internal/model"
	"signal-engine/internal/notification"
)

// Decision is one admission outcome as written to the journal.
type Decision struct {
	AlertID string
	Symbol  string
	Type    Type
	Result  Result
	Title   string
	Message string
	TS      time.Time
}

// Journal records admission decisions.
type Journal interface {
	RecordDecision(ctx context.Context, d Decision) error
}

// StateStore persists the controller state across restarts.
type StateStore interface {
	SaveCooldowns(ctx context.Context, st State) error
}

// Dispatcher runs candidates through admission, journaling and delivery.
// The journal and state store are optional.
type Dispatcher struct {
	ctrl      *Controller
	notifiers []notification.Notifier
	journal   Journal
	state     StateStore
	params    CandidateParams
	prom      *metrics.Metrics
	log       *slog.Logger
}

// DispatcherConfig groups the Dispatcher's collaborators.
type DispatcherConfig struct {
	Controller *Controller
	Notifiers  []notification.Notifier
	Journal    Journal
	State      StateStore
	Params     CandidateParams
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		ctrl:      cfg.Controller,
		notifiers: cfg.Notifiers,
		journal:   cfg.Journal,
		state:     cfg.State,
		params:    cfg.Params,
		prom:      cfg.Metrics,
		log:       log,
	}
}

// Outcome pairs a candidate with its admission result.
type Outcome struct {
	Candidate Candidate
	Result    Result
	// SendErr is the joined delivery error for admitted alerts, if any.
	SendErr error
}

// DispatchAggregate derives candidates from agg and dispatches each.
func (d *Dispatcher) DispatchAggregate(ctx context.Context, agg model.AggregateResult) []Outcome {
	cands := Candidates(agg, d.params)
	out := make([]Outcome, 0, len(cands))
	for _, c := range cands {
		out = append(out, d.Dispatch(ctx, c))
	}
	return out
}

// Dispatch admits c and, if admitted, delivers it to every notifier.
// Delivery failures never undo the admission: the alert counts against the
// cooldown and daily cap either way.
func (d *Dispatcher) Dispatch(ctx context.Context, c Candidate) Outcome {
	res := d.ctrl.TryAdmit(c.Key)
	o := Outcome{Candidate: c, Result: res}
	attrs := append(logger.LogWithCycle(ctx), "key", c.Key.String(), "result", res.String())

	if d.prom != nil {
		d.prom.AdmissionsTotal.WithLabelValues(string(c.Key.Type), res.String()).Inc()
		d.prom.DailyAlerts.Set(float64(d.ctrl.DailyCount()))
	}

	if d.journal != nil {
		err := d.journal.RecordDecision(ctx, Decision{
			AlertID: c.Alert.ID,
			Symbol:  c.Key.Symbol,
			Type:    c.Key.Type,
			Result:  res,
			Title:   c.Alert.Title,
			Message: c.Alert.Message,
			TS:      c.Alert.TS,
		})
		if err != nil {
			d.log.Warn("journal write failed", append(attrs, "error", err)...)
		}
	}

	if res != Admitted {
		d.log.Debug("alert suppressed", attrs...)
		return o
	}

	if d.state != nil {
		if err := d.state.SaveCooldowns(ctx, d.ctrl.Snapshot()); err != nil {
			d.log.Warn("cooldown state save failed", append(attrs, "error", err)...)
		}
	}

	var errs []error
	for _, n := range d.notifiers {
		status := "ok"
		if err := n.Send(ctx, c.Alert); err != nil {
			status = "error"
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			d.log.Error("alert delivery failed", append(attrs, "channel", n.Name(), "error", err)...)
		}
		if d.prom != nil {
			d.prom.DispatchTotal.WithLabelValues(n.Name(), status).Inc()
		}
	}
	if len(errs) > 0 {
		o.SendErr = errors.Join(errs...)
	}
	d.log.Info("alert dispatched", append(attrs, "title", c.Alert.Title)...)
	return o
}
