package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"calendar/internal/application/dto"
	"calendar/internal/domain/entity"
	"calendar/internal/domain/repository"
	"calendar/internal/infrastructure/database/memory"
	"calendar/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	topic   string
	payload dto.ReminderNotification
}

type fakeChannel struct {
	mu       sync.Mutex
	calls    []published
	failFor  map[string]bool
	panicFor map[string]bool
}

func (c *fakeChannel) Publish(_ context.Context, topic string, payload any) error {
	if c.panicFor[topic] {
		panic("boom")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, published{topic: topic, payload: payload.(dto.ReminderNotification)})
	if c.failFor[topic] {
		return errors.New("channel unavailable")
	}
	return nil
}

func (c *fakeChannel) published() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.calls...)
}

func (c *fakeChannel) topics() []string {
	var out []string
	for _, p := range c.published() {
		out = append(out, p.topic)
	}
	return out
}

// countingSelector counts selector calls and can fail the first n of them.
type countingSelector struct {
	DueNoteSelector
	calls     atomic.Int32
	failFirst int32
}

func (s *countingSelector) SelectRange(ctx context.Context, start, end time.Time) ([]*entity.Note, error) {
	n := s.calls.Add(1)
	if n <= s.failFirst {
		return nil, errors.New("database is locked")
	}
	return s.DueNoteSelector.SelectRange(ctx, start, end)
}

type scheduleFunc func(time.Time) time.Time

func (f scheduleFunc) Next(t time.Time) time.Time { return f(t) }

func every(d time.Duration) scheduleFunc {
	return func(t time.Time) time.Time { return t.Add(d) }
}

func addNote(t *testing.T, store repository.NoteRepository, id, title string, reminderAt time.Time) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), &entity.Note{
		ID: id, Title: title, CreatedAt: reminderAt.Add(-time.Hour), ReminderAt: reminderAt,
	}))
}

func newPoller(t *testing.T, sel DueNoteSelector, ch NotificationChannel, cfg PollerConfig) *ReminderPoller {
	t.Helper()
	p, err := NewReminderPoller(sel, ch, cfg, logger.NewNop())
	require.NoError(t, err)
	return p
}

var tRef = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func TestDueNoteSelector_WindowBounds(t *testing.T) {
	store := memory.NewNoteStore()
	now := tRef
	addNote(t, store, "at-now", "a", now)
	addNote(t, store, "at-start", "b", now.Add(-time.Minute))
	addNote(t, store, "too-early", "c", now.Add(-time.Minute-time.Second))
	addNote(t, store, "too-late", "d", now.Add(time.Second))

	sel := NewDueNoteSelector(store, time.Minute)
	due, err := sel.SelectDue(context.Background(), now)
	require.NoError(t, err)

	var ids []string
	for _, n := range due {
		ids = append(ids, n.ID)
	}
	assert.ElementsMatch(t, []string{"at-now", "at-start"}, ids)

	again, err := sel.SelectDue(context.Background(), now)
	require.NoError(t, err)
	assert.ElementsMatch(t, due, again)
}

func TestDueNoteSelector_EmptyIsNotAnError(t *testing.T) {
	sel := NewDueNoteSelector(memory.NewNoteStore(), 0)
	assert.Equal(t, DefaultDueWindow, sel.Window())

	due, err := sel.SelectDue(context.Background(), tRef)
	require.NoError(t, err)
	assert.NotNil(t, due)
	assert.Empty(t, due)
}

func TestDueWindow_ConvertsToUTC(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	start, end := DueWindow(tRef.In(tokyo), time.Minute)
	assert.Equal(t, time.UTC, end.Location())
	assert.True(t, end.Equal(tRef))
	assert.True(t, start.Equal(tRef.Add(-time.Minute)))
}

func TestTick_PublishesToNoteTopic(t *testing.T) {
	store := memory.NewNoteStore()
	addNote(t, store, "n1", "Call the bank", tRef.Add(-10*time.Second))
	ch := &fakeChannel{}
	p := newPoller(t, NewDueNoteSelector(store, time.Minute), ch, PollerConfig{})

	report := p.Tick(context.Background(), tRef)
	assert.Equal(t, 1, report.Selected)
	assert.Equal(t, 1, report.Published)

	calls := ch.published()
	require.Len(t, calls, 1)
	assert.Equal(t, "n1", calls[0].topic)
	assert.Equal(t, "n1", calls[0].payload.ID)
	assert.Equal(t, "Call the bank", calls[0].payload.Title)
	assert.True(t, calls[0].payload.ReminderAt.Equal(tRef.Add(-10*time.Second)))
}

func TestTick_NoDueNotesNoPublish(t *testing.T) {
	store := memory.NewNoteStore()
	addNote(t, store, "later", "later", tRef.Add(time.Hour))
	ch := &fakeChannel{}
	p := newPoller(t, NewDueNoteSelector(store, time.Minute), ch, PollerConfig{})

	report := p.Tick(context.Background(), tRef)
	assert.Zero(t, report.Selected)
	assert.Empty(t, ch.published())
}

func TestTick_DeliveryFailureDoesNotStopOtherNotes(t *testing.T) {
	store := memory.NewNoteStore()
	addNote(t, store, "bad", "bad", tRef.Add(-5*time.Second))
	addNote(t, store, "boom", "boom", tRef.Add(-6*time.Second))
	addNote(t, store, "good", "good", tRef.Add(-7*time.Second))
	ch := &fakeChannel{failFor: map[string]bool{"bad": true}, panicFor: map[string]bool{"boom": true}}
	p := newPoller(t, NewDueNoteSelector(store, time.Minute), ch, PollerConfig{})

	report := p.Tick(context.Background(), tRef)
	assert.Equal(t, 3, report.Selected)
	assert.Equal(t, 1, report.Published)
	assert.Equal(t, 2, report.Failed)
	assert.ElementsMatch(t, []string{"bad", "good"}, ch.topics())
}

func TestTick_SelectorFailureIsReported(t *testing.T) {
	sel := &countingSelector{DueNoteSelector: NewDueNoteSelector(memory.NewNoteStore(), time.Minute), failFirst: 1}
	ch := &fakeChannel{}
	p := newPoller(t, sel, ch, PollerConfig{})

	report := p.Tick(context.Background(), tRef)
	assert.Error(t, report.Err)
	assert.Zero(t, report.Selected)
	assert.Empty(t, ch.published())
}

func TestTick_EndToEndReminderFiresOnLaterTick(t *testing.T) {
	store := memory.NewNoteStore()
	T := tRef
	addNote(t, store, "A", "Standup", T)
	ch := &fakeChannel{}
	p := newPoller(t, NewDueNoteSelector(store, time.Minute), ch, PollerConfig{})

	first := p.Tick(context.Background(), T.Add(-30*time.Second))
	assert.Zero(t, first.Selected)
	assert.Empty(t, ch.published())

	second := p.Tick(context.Background(), T.Add(15*time.Second))
	assert.Equal(t, 1, second.Selected)
	assert.Equal(t, []string{"A"}, ch.topics())
}

func TestTick_WithoutLedgerRepeatsWhileInWindow(t *testing.T) {
	store := memory.NewNoteStore()
	addNote(t, store, "n1", "n1", tRef)
	ch := &fakeChannel{}
	p := newPoller(t, NewDueNoteSelector(store, time.Minute), ch, PollerConfig{})

	p.Tick(context.Background(), tRef)
	p.Tick(context.Background(), tRef.Add(30*time.Second))
	assert.Equal(t, []string{"n1", "n1"}, ch.topics())
}

func TestTick_LedgerSuppressesRepeatsUntilReminderMoves(t *testing.T) {
	store := memory.NewNoteStore()
	addNote(t, store, "n1", "n1", tRef)
	ch := &fakeChannel{}
	deliveries := memory.NewDeliveryStore()
	p := newPoller(t, NewDueNoteSelector(store, time.Minute), ch, PollerConfig{Deliveries: deliveries})

	p.Tick(context.Background(), tRef)
	report := p.Tick(context.Background(), tRef.Add(30*time.Second))
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, []string{"n1"}, ch.topics())

	moved := &entity.Note{ID: "n1", Title: "n1", ReminderAt: tRef.Add(40 * time.Second)}
	require.NoError(t, store.Update(context.Background(), moved))
	report = p.Tick(context.Background(), tRef.Add(50*time.Second))
	assert.Equal(t, 1, report.Published)
	assert.Equal(t, []string{"n1", "n1"}, ch.topics())
}

func TestTick_FailedPublishIsNotMarkedDelivered(t *testing.T) {
	store := memory.NewNoteStore()
	addNote(t, store, "n1", "n1", tRef)
	ch := &fakeChannel{failFor: map[string]bool{"n1": true}}
	deliveries := memory.NewDeliveryStore()
	p := newPoller(t, NewDueNoteSelector(store, time.Minute), ch, PollerConfig{Deliveries: deliveries})

	p.Tick(context.Background(), tRef)
	ok, err := deliveries.IsDelivered(context.Background(), "n1", tRef)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTick_WatermarkCoversDelayedTick(t *testing.T) {
	store := memory.NewNoteStore()
	addNote(t, store, "gap", "in the gap", tRef.Add(2*time.Minute))

	// Fixed trailing window misses a reminder that falls between two
	// ticks five minutes apart.
	literalCh := &fakeChannel{}
	literal := newPoller(t, NewDueNoteSelector(store, time.Minute), literalCh, PollerConfig{})
	literal.Tick(context.Background(), tRef)
	literal.Tick(context.Background(), tRef.Add(5*time.Minute))
	assert.Empty(t, literalCh.published())

	ch := &fakeChannel{}
	marks := memory.NewWatermarkStore()
	p := newPoller(t, NewDueNoteSelector(store, time.Minute), ch, PollerConfig{
		Deliveries: memory.NewDeliveryStore(),
		Watermarks: marks,
		MaxCatchUp: time.Hour,
	})
	p.Tick(context.Background(), tRef)
	report := p.Tick(context.Background(), tRef.Add(5*time.Minute))
	assert.True(t, report.WindowStart.Equal(tRef))
	assert.Equal(t, []string{"gap"}, ch.topics())

	wm, ok, err := marks.Load(context.Background(), watermarkName)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, wm.Equal(tRef.Add(5*time.Minute)))
}

func TestTick_WatermarkHeldBackOnFailureAndClampedByCatchUp(t *testing.T) {
	store := memory.NewNoteStore()
	addNote(t, store, "n1", "n1", tRef.Add(-10*time.Second))
	ch := &fakeChannel{failFor: map[string]bool{"n1": true}}
	marks := memory.NewWatermarkStore()
	require.NoError(t, marks.Save(context.Background(), watermarkName, tRef.Add(-3*time.Hour)))
	p := newPoller(t, NewDueNoteSelector(store, time.Minute), ch, PollerConfig{
		Deliveries: memory.NewDeliveryStore(),
		Watermarks: marks,
		MaxCatchUp: time.Hour,
	})

	report := p.Tick(context.Background(), tRef)
	assert.True(t, report.WindowStart.Equal(tRef.Add(-time.Hour)))
	assert.Equal(t, 1, report.Failed)

	wm, _, err := marks.Load(context.Background(), watermarkName)
	require.NoError(t, err)
	assert.True(t, wm.Equal(tRef.Add(-3*time.Hour)))
}

func TestNewReminderPoller_WatermarkNeedsLedger(t *testing.T) {
	_, err := NewReminderPoller(NewDueNoteSelector(memory.NewNoteStore(), time.Minute), &fakeChannel{},
		PollerConfig{Watermarks: memory.NewWatermarkStore()}, logger.NewNop())
	assert.Error(t, err)
}

func TestRun_SelectorFailureDoesNotStopLoop(t *testing.T) {
	store := memory.NewNoteStore()
	sel := &countingSelector{DueNoteSelector: NewDueNoteSelector(store, time.Minute), failFirst: 1}
	ch := &fakeChannel{}
	p := newPoller(t, sel, ch, PollerConfig{Schedule: every(10 * time.Millisecond)})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return sel.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancel")
	}
}

func TestRun_CancelWhileSleepingStopsPromptly(t *testing.T) {
	sel := &countingSelector{DueNoteSelector: NewDueNoteSelector(memory.NewNoteStore(), time.Minute)}
	ch := &fakeChannel{}
	p := newPoller(t, sel, ch, PollerConfig{Schedule: every(time.Hour)})

	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, PollerRunning, p.State())
	require.Eventually(t, func() bool { return sel.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return while the poller was sleeping")
	}
	assert.Equal(t, PollerStopped, p.State())
	assert.EqualValues(t, 1, sel.calls.Load())
	assert.Empty(t, ch.published())

	// Stopping twice is harmless.
	p.Stop()
}

func TestRun_CancelledContextRunsNoTick(t *testing.T) {
	sel := &countingSelector{DueNoteSelector: NewDueNoteSelector(memory.NewNoteStore(), time.Minute)}
	p := newPoller(t, sel, &fakeChannel{}, PollerConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Run(ctx)
	assert.Zero(t, sel.calls.Load())
	assert.Equal(t, PollerStopped, p.State())
}

func TestStart_Twice(t *testing.T) {
	p := newPoller(t, NewDueNoteSelector(memory.NewNoteStore(), time.Minute), &fakeChannel{}, PollerConfig{Schedule: every(time.Hour)})
	require.NoError(t, p.Start(context.Background()))
	defer p.Stop()
	assert.Error(t, p.Start(context.Background()))
}

func TestPruneDeliveries(t *testing.T) {
	deliveries := memory.NewDeliveryStore()
	require.NoError(t, deliveries.MarkDelivered(context.Background(), "old", tRef, tRef.Add(-48*time.Hour)))
	require.NoError(t, deliveries.MarkDelivered(context.Background(), "new", tRef, tRef.Add(-time.Hour)))

	p := newPoller(t, NewDueNoteSelector(memory.NewNoteStore(), time.Minute), &fakeChannel{}, PollerConfig{Deliveries: deliveries})
	p.now = func() time.Time { return tRef }

	n, err := p.PruneDeliveries(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	ok, err := deliveries.IsDelivered(context.Background(), "new", tRef)
	require.NoError(t, err)
	assert.True(t, ok)
}

// cancellingChannel cancels the tick's context on its first publish.
type cancellingChannel struct {
	fakeChannel
	cancel context.CancelFunc
}

func (c *cancellingChannel) Publish(ctx context.Context, topic string, payload any) error {
	c.cancel()
	return c.fakeChannel.Publish(ctx, topic, payload)
}

func TestTick_CancelledMidTickSkipsRemainingNotes(t *testing.T) {
	store := memory.NewNoteStore()
	addNote(t, store, "n1", "one", tRef.Add(-10*time.Second))
	addNote(t, store, "n2", "two", tRef.Add(-20*time.Second))
	addNote(t, store, "n3", "three", tRef.Add(-30*time.Second))
	marks := memory.NewWatermarkStore()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := &cancellingChannel{cancel: cancel}
	p := newPoller(t, NewDueNoteSelector(store, time.Minute), ch, PollerConfig{
		Deliveries: memory.NewDeliveryStore(),
		Watermarks: marks,
	})

	report := p.Tick(ctx, tRef)
	assert.True(t, report.Aborted)
	assert.Equal(t, 3, report.Selected)
	assert.Equal(t, 1, report.Published)
	assert.Zero(t, report.Failed)
	assert.Len(t, ch.published(), 1)

	_, ok, err := marks.Load(context.Background(), watermarkName)
	require.NoError(t, err)
	assert.False(t, ok, "watermark must not advance past an aborted tick")
}
