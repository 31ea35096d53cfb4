package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRegistry struct {
	calls atomic.Int64
	last  atomic.Int64
}

func (m *mockRegistry) CleanQueries(now time.Time) int {
	m.calls.Add(1)
	m.last.Store(now.UnixNano())
	return 1
}

type mockCache struct {
	evictions atomic.Int64
	stats     atomic.Int64
}

func (m *mockCache) EvictExpired(_ time.Time) int {
	m.evictions.Add(1)
	return 2
}

func (m *mockCache) LogStats() {
	m.stats.Add(1)
}

type mockMetadata struct {
	refreshes atomic.Int64
	err       error
}

func (m *mockMetadata) Refresh(_ context.Context) error {
	m.refreshes.Add(1)
	return m.err
}

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	return log
}

func TestParseScheduleInterval(t *testing.T) {
	tests := []struct {
		schedule string
		want     time.Duration
		wantErr  bool
	}{
		{schedule: "@every 30s", want: 30 * time.Second},
		{schedule: "@every 1m", want: time.Minute},
		{schedule: "@hourly", want: time.Hour},
		{schedule: "*/5 * * * *", want: 5 * time.Minute},
		{schedule: "bogus", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			got, err := parseScheduleInterval(tt.schedule)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, (&Config{Schedule: "@every 1m", Retention: time.Minute}).Validate())
	assert.ErrorIs(t, (&Config{Schedule: "@every 1m", Retention: -time.Second}).Validate(), ErrInvalidRetention)
	assert.ErrorIs(t, (&Config{Schedule: "@every 0s"}).Validate(), ErrInvalidInterval)
	assert.Error(t, (&Config{Schedule: "not a schedule"}).Validate())
}

func TestService_Sweep(t *testing.T) {
	registry := &mockRegistry{}
	cache := &mockCache{}
	metadata := &mockMetadata{}

	svc, err := NewService(newTestLogger(), &Config{Schedule: "@every 1m", RefreshMetadata: true}, registry, cache, metadata)
	require.NoError(t, err)

	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.(*service).now = func() time.Time { return fixed }

	svc.Sweep(context.Background())

	assert.Equal(t, int64(1), metadata.refreshes.Load())
	assert.Equal(t, int64(1), registry.calls.Load())
	assert.Equal(t, fixed.UnixNano(), registry.last.Load())
	assert.Equal(t, int64(1), cache.evictions.Load())
	assert.Equal(t, int64(1), cache.stats.Load())
}

func TestService_SweepWithoutRefresh(t *testing.T) {
	registry := &mockRegistry{}
	metadata := &mockMetadata{}

	svc, err := NewService(newTestLogger(), &Config{Schedule: "@every 1m"}, registry, &mockCache{}, metadata)
	require.NoError(t, err)

	svc.Sweep(context.Background())

	assert.Equal(t, int64(0), metadata.refreshes.Load())
	assert.Equal(t, int64(1), registry.calls.Load())
}

func TestService_RefreshFailureStillCleans(t *testing.T) {
	registry := &mockRegistry{}
	cache := &mockCache{}
	metadata := &mockMetadata{err: errors.New("redis down")}

	svc, err := NewService(newTestLogger(), &Config{Schedule: "@every 1m", RefreshMetadata: true}, registry, cache, metadata)
	require.NoError(t, err)

	svc.Sweep(context.Background())

	assert.Equal(t, int64(1), registry.calls.Load())
	assert.Equal(t, int64(1), cache.evictions.Load())
}

func TestService_StartStop(t *testing.T) {
	registry := &mockRegistry{}

	svc, err := NewService(newTestLogger(), &Config{Schedule: "@every 10ms"}, registry, &mockCache{}, nil)
	require.NoError(t, err)

	require.NoError(t, svc.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return registry.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())

	calls := registry.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, registry.calls.Load(), "no sweeps after Stop")
}

func TestService_StopsOnContextCancel(t *testing.T) {
	svc, err := NewService(newTestLogger(), &Config{Schedule: "@every 10ms"}, &mockRegistry{}, &mockCache{}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))
	cancel()

	done := make(chan struct{})
	go func() {
		_ = svc.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
