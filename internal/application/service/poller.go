package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"calendar/internal/application/dto"
	"calendar/internal/domain/entity"
	"calendar/internal/domain/repository"
	"calendar/internal/pkg/logger"

	"github.com/robfig/cron/v3"
)

// watermarkName keys the poller's row in the watermark table.
const watermarkName = "reminder-poller"

// PollerState is the lifecycle state of a ReminderPoller.
type PollerState int32

const (
	PollerStopped PollerState = iota
	PollerRunning
)

func (s PollerState) String() string {
	if s == PollerRunning {
		return "running"
	}
	return "stopped"
}

// PollerConfig tunes a ReminderPoller.
type PollerConfig struct {
	// Schedule decides when the next tick runs, measured from the end of
	// the previous one. Defaults to every minute.
	Schedule cron.Schedule
	// Deliveries enables de-duplication: an occurrence (note ID, reminder
	// instant) already in the ledger is not published again.
	Deliveries repository.DeliveryRepository
	// Watermarks enables scanning from the last fully processed instant
	// instead of the fixed trailing window. Requires Deliveries.
	Watermarks repository.WatermarkRepository
	// MaxCatchUp bounds how far back a watermark scan reaches after downtime.
	MaxCatchUp time.Duration
}

// TickReport summarises one tick.
type TickReport struct {
	At          time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Selected    int
	Published   int
	Skipped     int // already delivered
	Failed      int
	Aborted     bool // cancelled before every due note was handled
	Err         error
}

// ReminderPoller periodically selects due notes and publishes one
// notification per note to the topic named by the note's ID.
type ReminderPoller struct {
	selector DueNoteSelector
	channel  NotificationChannel
	cfg      PollerConfig
	log      logger.Logger
	now      func() time.Time

	state  atomic.Int32
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReminderPoller wires a poller. It does not start it.
func NewReminderPoller(selector DueNoteSelector, channel NotificationChannel, cfg PollerConfig, log logger.Logger) (*ReminderPoller, error) {
	if selector == nil || channel == nil {
		return nil, errors.New("reminder poller needs a selector and a notification channel")
	}
	if cfg.Watermarks != nil && cfg.Deliveries == nil {
		return nil, errors.New("watermark scanning requires a delivery ledger")
	}
	if cfg.Schedule == nil {
		cfg.Schedule = cron.Every(time.Minute)
	}
	if cfg.MaxCatchUp < selector.Window() {
		cfg.MaxCatchUp = selector.Window()
	}
	return &ReminderPoller{
		selector: selector,
		channel:  channel,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}, nil
}

// State reports whether the loop is running.
func (p *ReminderPoller) State() PollerState {
	return PollerState(p.state.Load())
}

// Start runs the loop in a background goroutine until Stop is called or
// parent is cancelled.
func (p *ReminderPoller) Start(parent context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return errors.New("reminder poller already started")
	}
	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	p.state.Store(int32(PollerRunning))
	go func() {
		defer close(done)
		p.Run(ctx)
	}()
	return nil
}

// Stop cancels the loop and waits for the current tick to finish.
func (p *ReminderPoller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Run ticks immediately, then again at every schedule activation, until ctx
// is cancelled. Ticks never overlap.
func (p *ReminderPoller) Run(ctx context.Context) {
	p.state.Store(int32(PollerRunning))
	defer p.state.Store(int32(PollerStopped))
	p.log.Info("Reminder poller started.")
	defer p.log.Info("Reminder poller stopped.")

	for {
		if ctx.Err() != nil {
			return
		}
		report := p.Tick(ctx, p.now())
		if report.Selected > 0 || report.Err != nil {
			p.log.Info(fmt.Sprintf("Reminder tick at %s: selected=%d published=%d skipped=%d failed=%d",
				report.At.Format(time.RFC3339), report.Selected, report.Published, report.Skipped, report.Failed))
		}

		now := p.now()
		wait := p.cfg.Schedule.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Tick runs one selection and fan-out at now. Failures are logged and
// counted; they never abort the loop.
func (p *ReminderPoller) Tick(ctx context.Context, now time.Time) TickReport {
	now = now.UTC()
	start, end := DueWindow(now, p.selector.Window())
	if p.cfg.Watermarks != nil {
		start = p.scanStart(ctx, now, start)
	}
	report := TickReport{At: now, WindowStart: start, WindowEnd: end}

	notes, err := p.selector.SelectRange(ctx, start, end)
	if err != nil {
		p.log.Error(fmt.Sprintf("Failed to select notes due between %s and %s", start.Format(time.RFC3339), end.Format(time.RFC3339)), err)
		report.Err = err
		return report
	}
	report.Selected = len(notes)

	for _, note := range notes {
		if ctx.Err() != nil {
			report.Aborted = true
			break
		}
		if p.alreadyDelivered(ctx, note) {
			report.Skipped++
			continue
		}
		if err := p.publish(ctx, note); err != nil {
			p.log.Error(fmt.Sprintf("Failed to publish reminder for note %s", note.ID), err)
			report.Failed++
			continue
		}
		report.Published++
		p.markDelivered(ctx, note, now)
	}

	if p.cfg.Watermarks != nil && report.Failed == 0 && !report.Aborted {
		if err := p.cfg.Watermarks.Save(ctx, watermarkName, end); err != nil {
			p.log.Error("Failed to advance reminder watermark", err)
		}
	}
	return report
}

// scanStart picks the lower bound in watermark mode: the stored watermark,
// never later than the trailing window start and never earlier than
// MaxCatchUp ago.
func (p *ReminderPoller) scanStart(ctx context.Context, now, windowStart time.Time) time.Time {
	wm, ok, err := p.cfg.Watermarks.Load(ctx, watermarkName)
	if err != nil {
		p.log.Error("Failed to load reminder watermark, using trailing window", err)
		return windowStart
	}
	if !ok || !wm.Before(windowStart) {
		return windowStart
	}
	floor := now.Add(-p.cfg.MaxCatchUp)
	if wm.Before(floor) {
		p.log.Warn(fmt.Sprintf("Reminder watermark %s is older than %s, reminders before %s are skipped",
			wm.Format(time.RFC3339), p.cfg.MaxCatchUp, floor.Format(time.RFC3339)))
		return floor
	}
	return wm
}

func (p *ReminderPoller) alreadyDelivered(ctx context.Context, note *entity.Note) bool {
	if p.cfg.Deliveries == nil {
		return false
	}
	delivered, err := p.cfg.Deliveries.IsDelivered(ctx, note.ID, note.ReminderAt)
	if err != nil {
		// Prefer a duplicate over a lost reminder.
		p.log.Error(fmt.Sprintf("Failed to check delivery ledger for note %s, publishing anyway", note.ID), err)
		return false
	}
	return delivered
}

func (p *ReminderPoller) markDelivered(ctx context.Context, note *entity.Note, now time.Time) {
	if p.cfg.Deliveries == nil {
		return
	}
	if err := p.cfg.Deliveries.MarkDelivered(ctx, note.ID, note.ReminderAt, now); err != nil {
		p.log.Error(fmt.Sprintf("Failed to record delivery for note %s", note.ID), err)
	}
}

// publish sends one note's notification. A panicking channel is reported as
// an error so the remaining notes are still processed.
func (p *ReminderPoller) publish(ctx context.Context, note *entity.Note) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notification channel panicked: %v", r)
		}
	}()
	return p.channel.Publish(ctx, note.ID, dto.ToReminderNotification(note))
}

// PruneDeliveries drops ledger rows older than retention.
func (p *ReminderPoller) PruneDeliveries(ctx context.Context, retention time.Duration) (int64, error) {
	if p.cfg.Deliveries == nil {
		return 0, nil
	}
	n, err := p.cfg.Deliveries.DeleteDeliveredBefore(ctx, p.now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.log.Info(fmt.Sprintf("Pruned %d reminder deliveries older than %s", n, retention))
	}
	return n, nil
}
