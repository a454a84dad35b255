package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	appErrors "calendar/internal/pkg/errors"
	"calendar/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSub struct {
	key      string
	gone     bool
	failNext int // transient failures before deliveries succeed

	mu   sync.Mutex
	msgs [][]byte
}

func (s *recordingSub) Key() string { return s.key }

func (s *recordingSub) Send(_ context.Context, msg []byte) error {
	if s.gone {
		return fmt.Errorf("%w: connection reset", appErrors.ErrSubscriberGone)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return errors.New("429 too many requests")
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSub) received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.msgs...)
}

type reminder struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	ReminderAt time.Time `json:"reminderAt"`
}

func TestHub_PublishReachesTopicSubscribersOnly(t *testing.T) {
	hub := NewHub(logger.NewNop())
	a := &recordingSub{key: "a"}
	b := &recordingSub{key: "b"}
	hub.Subscribe("note-1", a)
	hub.Subscribe("note-2", b)

	at := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	require.NoError(t, hub.Publish(context.Background(), "note-1", reminder{ID: "note-1", Title: "call mom", ReminderAt: at}))

	msgs := a.received()
	require.Len(t, msgs, 1)
	var got reminder
	require.NoError(t, json.Unmarshal(msgs[0], &got))
	assert.Equal(t, "note-1", got.ID)
	assert.Equal(t, "call mom", got.Title)
	assert.True(t, got.ReminderAt.Equal(at))
	assert.Empty(t, b.received())
}

func TestHub_SubscribeIsIdempotent(t *testing.T) {
	hub := NewHub(logger.NewNop())
	a := &recordingSub{key: "a"}
	hub.Subscribe("note-1", a)
	hub.Subscribe("note-1", a)
	assert.Equal(t, 1, hub.SubscriberCount("note-1"))

	assert.Equal(t, 1, hub.Deliver(context.Background(), "note-1", []byte(`{}`)))
	assert.Len(t, a.received(), 1)
}

func TestHub_PublishWithoutSubscribersIsNoop(t *testing.T) {
	hub := NewHub(logger.NewNop())
	assert.NoError(t, hub.Publish(context.Background(), "nobody", map[string]string{"id": "nobody"}))
	assert.Equal(t, 0, hub.Deliver(context.Background(), "nobody", []byte(`{}`)))
}

func TestHub_GoneSubscriberIsDroppedEverywhere(t *testing.T) {
	hub := NewHub(logger.NewNop())
	bad := &recordingSub{key: "bad", gone: true}
	good := &recordingSub{key: "good"}
	hub.Subscribe("note-1", bad)
	hub.Subscribe("note-2", bad)
	hub.Subscribe("note-1", good)

	require.NoError(t, hub.Publish(context.Background(), "note-1", map[string]string{"id": "note-1"}))

	assert.Len(t, good.received(), 1)
	assert.Equal(t, 1, hub.SubscriberCount("note-1"))
	assert.Equal(t, 0, hub.SubscriberCount("note-2"))
}

func TestHub_TransientFailureKeepsSubscriptions(t *testing.T) {
	hub := NewHub(logger.NewNop())
	flaky := &recordingSub{key: "flaky", failNext: 1}
	hub.Subscribe("note-a", flaky)
	hub.Subscribe("note-b", flaky)

	require.NoError(t, hub.Publish(context.Background(), "note-a", map[string]string{"id": "note-a"}))
	assert.Empty(t, flaky.received())
	assert.Equal(t, 1, hub.SubscriberCount("note-a"))
	assert.Equal(t, 1, hub.SubscriberCount("note-b"))

	assert.Equal(t, 1, hub.Deliver(context.Background(), "note-b", []byte(`{"id":"note-b"}`)))
	assert.Len(t, flaky.received(), 1)
}

func TestHub_PublishRejectsUnencodablePayload(t *testing.T) {
	hub := NewHub(logger.NewNop())
	assert.Error(t, hub.Publish(context.Background(), "t", make(chan int)))
}

func TestHub_ConcurrentSubscribeAndPublish(t *testing.T) {
	hub := NewHub(logger.NewNop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			hub.Subscribe("busy", &recordingSub{key: string(rune('a' + i%26))})
		}(i)
		go func() {
			defer wg.Done()
			_ = hub.Publish(context.Background(), "busy", map[string]int{"n": 1})
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, hub.SubscriberCount("busy"), 26)
}
