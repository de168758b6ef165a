// Package dispense runs one feeding: gateway call, ledger entry, event.
package dispense

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"feedbot/internal/device"
	"feedbot/internal/eventbus"
	"feedbot/internal/feeding"
	"feedbot/internal/ledger"
	"feedbot/internal/metrics"
	logx "feedbot/pkg/logx"
)

// ledgerWriteTimeout bounds the ledger append, which runs even when the
// caller's context was canceled during the device call.
const ledgerWriteTimeout = 5 * time.Second

type Ledger interface {
	Append(ctx context.Context, e ledger.Entry) (feeding.DispenseRecord, error)
}

type ScheduleReader interface {
	Get(ctx context.Context, id int64) (feeding.Schedule, error)
}

type Request struct {
	AmountGrams int
	Trigger     feeding.TriggerKind
	ScheduleID  *int64
	UserID      *int64
}

type Result struct {
	Outcome     feeding.Outcome
	AmountGrams int
	RecordID    string
	Error       string
}

func (r Result) OK() bool { return r.Outcome == feeding.OutcomeSuccess }

type Pipeline struct {
	gateway   device.Gateway
	ledger    Ledger
	schedules ScheduleReader
	bus       eventbus.Bus
	log       logx.Logger
	amount    atomic.Pointer[feeding.AmountRange]
}

func New(gw device.Gateway, l Ledger, schedules ScheduleReader, bus eventbus.Bus, log logx.Logger) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	p := &Pipeline{gateway: gw, ledger: l, schedules: schedules, bus: bus, log: log}
	p.SetAmountRange(feeding.DefaultAmountRange())
	return p
}

func (p *Pipeline) SetAmountRange(r feeding.AmountRange) {
	r = r.Normalize()
	p.amount.Store(&r)
}

// Dispense validates the request, calls the gateway once and appends exactly
// one ledger entry whatever the device reported. Device failures come back
// as Result.Outcome; errors mean the request was rejected before the device
// was touched, or the gateway/ledger failed outright.
func (p *Pipeline) Dispense(ctx context.Context, req Request) (Result, error) {
	if err := p.amount.Load().Check(req.AmountGrams); err != nil {
		return Result{}, err
	}
	if !req.Trigger.Valid() {
		return Result{}, &feeding.ValidationError{Field: "trigger", Reason: fmt.Sprintf("unknown trigger %q", req.Trigger)}
	}
	if req.Trigger == feeding.TriggerScheduled && req.ScheduleID == nil {
		return Result{}, &feeding.ValidationError{Field: "schedule_id", Reason: "required for scheduled dispenses"}
	}

	timer := metrics.NewTimer()
	ok, msg, gwErr := p.gateway.Dispense(ctx, req.AmountGrams)
	if gwErr != nil {
		ok, msg = false, gwErr.Error()
	}
	outcome := feeding.OutcomeSuccess
	if !ok {
		outcome = feeding.OutcomeFailure
		if msg == "" {
			msg = "device reported failure"
		}
	} else {
		msg = ""
	}

	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerWriteTimeout)
	defer cancel()
	rec, err := p.ledger.Append(lctx, ledger.Entry{
		AmountGrams: req.AmountGrams,
		Trigger:     req.Trigger,
		ScheduleID:  req.ScheduleID,
		Outcome:     outcome,
		Error:       msg,
		UserID:      req.UserID,
	})
	timer.ObserveDuration(metrics.DispenseDuration.WithLabelValues(string(req.Trigger)))
	res := Result{Outcome: outcome, AmountGrams: req.AmountGrams, RecordID: rec.ID, Error: msg}
	if err != nil {
		p.log.Error("dispense not recorded",
			logx.String("trigger", string(req.Trigger)),
			logx.String("outcome", string(outcome)),
			logx.Int("grams", req.AmountGrams),
			logx.Err(err),
		)
		return res, fmt.Errorf("record dispense: %w", err)
	}

	metrics.DispenseTotal.WithLabelValues(string(req.Trigger), string(outcome)).Inc()
	if ok {
		metrics.DispensedGrams.WithLabelValues(string(req.Trigger)).Add(float64(req.AmountGrams))
	}
	p.publish(rec)

	if gwErr != nil {
		return res, fmt.Errorf("device gateway: %w", gwErr)
	}
	return res, nil
}

func (p *Pipeline) publish(rec feeding.DispenseRecord) {
	typ := eventbus.TypeDispenseCompleted
	if rec.Outcome != feeding.OutcomeSuccess {
		typ = eventbus.TypeDispenseFailed
	}
	p.bus.Publish(eventbus.Event{
		Type: typ,
		Time: rec.Timestamp,
		Data: eventbus.Dispense{
			RecordID:    rec.ID,
			AmountGrams: rec.AmountGrams,
			Trigger:     string(rec.Trigger),
			ScheduleID:  rec.ScheduleID,
			UserID:      rec.UserID,
			Error:       rec.Error,
		},
	})
}

// Manual dispenses on behalf of userID (0 = unknown user).
func (p *Pipeline) Manual(ctx context.Context, amountGrams int, userID int64) (Result, error) {
	req := Request{AmountGrams: amountGrams, Trigger: feeding.TriggerManual}
	if userID != 0 {
		req.UserID = feeding.Int64Ptr(userID)
	}
	return p.Dispense(ctx, req)
}

// RunScheduled is the timer fire callback. It reloads the schedule so edits
// made after registration apply; a schedule that is gone or inactive is
// skipped without a ledger entry. Device failures are logged and published,
// never returned.
func (p *Pipeline) RunScheduled(ctx context.Context, scheduleID int64) error {
	log := p.log.With(logx.Int64("schedule_id", scheduleID))

	sc, err := p.schedules.Get(ctx, scheduleID)
	if errors.Is(err, feeding.ErrNotFound) {
		log.Debug("scheduled fire skipped: schedule gone")
		metrics.ScheduledSkipped.WithLabelValues("not_found").Inc()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load schedule %d: %w", scheduleID, err)
	}
	if !sc.Active {
		log.Debug("scheduled fire skipped: schedule inactive")
		metrics.ScheduledSkipped.WithLabelValues("inactive").Inc()
		return nil
	}
	if err := p.amount.Load().Check(sc.AmountGrams); err != nil {
		log.Warn("scheduled fire skipped: amount outside safe range", logx.Int("grams", sc.AmountGrams), logx.Err(err))
		metrics.ScheduledSkipped.WithLabelValues("invalid_amount").Inc()
		return nil
	}

	res, err := p.Dispense(ctx, Request{
		AmountGrams: sc.AmountGrams,
		Trigger:     feeding.TriggerScheduled,
		ScheduleID:  feeding.Int64Ptr(sc.ID),
		UserID:      feeding.Int64Ptr(sc.OwnerID),
	})
	if err != nil {
		return err
	}
	if !res.OK() {
		log.Warn("scheduled feed failed", logx.String("name", sc.Name), logx.Int("grams", sc.AmountGrams), logx.String("error", res.Error))
		return nil
	}
	log.Info("scheduled feed dispensed", logx.String("name", sc.Name), logx.Int("grams", sc.AmountGrams), logx.String("record_id", res.RecordID))
	return nil
}
