package main

import (
	"context"
	"testing"
	"time"

	appService "calendar/internal/application/service"
	"calendar/internal/infrastructure/database/memory"
	"calendar/internal/infrastructure/notify"
	"calendar/internal/pkg/config"
	"calendar/internal/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryStorage(closed *bool) *storage {
	return &storage{
		notes:      memory.NewNoteStore(),
		deliveries: memory.NewDeliveryStore(),
		watermarks: memory.NewWatermarkStore(),
		close: func() error {
			*closed = true
			return nil
		},
	}
}

func TestBackground_ReleaseAfterFailedSetupClosesRedisAndStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	log := logger.NewNop()
	hub := notify.NewHub(log)

	bridgeCtx, bridgeCancel := context.WithCancel(context.Background())
	defer bridgeCancel()
	channel, rc, err := newNotificationChannel(bridgeCtx, config.RedisConfig{Addr: mr.Addr(), Channel: "calendar:test"}, hub, log)
	require.NoError(t, err)
	require.NotNil(t, rc)

	var closed bool
	store := memoryStorage(&closed)
	bg := &background{cancel: bridgeCancel, store: store, rc: rc}

	_, err = newReminderPoller(config.ReminderConfig{Window: time.Minute, PollSchedule: "not a schedule"}, store, channel, log)
	require.Error(t, err)

	bg.stop()
	bg.release(log)

	assert.True(t, closed)
	assert.ErrorIs(t, rc.Ping(context.Background()).Err(), redis.ErrClosed)
	assert.Error(t, bridgeCtx.Err())
}

func TestBackground_StopHaltsRunningPoller(t *testing.T) {
	log := logger.NewNop()
	var closed bool
	store := memoryStorage(&closed)
	poller, err := newReminderPoller(config.ReminderConfig{Window: time.Minute, PollSchedule: "@every 1m", Dedupe: true, MaxCatchUp: time.Hour},
		store, notify.NewHub(log), log)
	require.NoError(t, err)
	require.NoError(t, poller.Start(context.Background()))
	require.Eventually(t, func() bool { return poller.State() == appService.PollerRunning }, time.Second, 5*time.Millisecond)

	_, cancel := context.WithCancel(context.Background())
	bg := &background{poller: poller, cancel: cancel, store: store}
	bg.stop()
	bg.release(log)

	assert.Equal(t, appService.PollerStopped, poller.State())
	assert.True(t, closed)
}
