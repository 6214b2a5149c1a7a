package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestTicker_Tick(t *testing.T) {
	s, callbacks, clock := newTestScheduler(t)
	calls := registerCounter(callbacks, "migration.run")
	ctx := context.Background()

	_, err := s.Register(ctx, RegisterRequest{Name: "due", FireAt: clock.t, Callback: "migration.run"})
	require.NoError(t, err)
	later, err := s.Register(ctx, RegisterRequest{Name: "later", FireAt: clock.t.Add(time.Hour), Callback: "migration.run"})
	require.NoError(t, err)

	ticker := NewTicker(s, DefaultTickerConfig(), zaptest.NewLogger(t).Sugar())
	ticker.Tick(clock.t)

	assert.Len(t, *calls, 1)
	stats := ticker.GetStats()
	assert.Equal(t, int64(1), stats["ticks_since_start"])
	assert.Equal(t, int64(1), stats["fired_total"])
	// next-due tracking points at the remaining registration
	assert.Equal(t, later, ticker.lastNextDue)
}

func TestTicker_BatchLimit(t *testing.T) {
	s, callbacks, clock := newTestScheduler(t)
	calls := registerCounter(callbacks, "migration.run")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Register(ctx, RegisterRequest{Name: "due", FireAt: clock.t, Callback: "migration.run"})
		require.NoError(t, err)
	}

	ticker := NewTicker(s, TickerConfig{Interval: time.Second, BatchLimit: 2}, zaptest.NewLogger(t).Sugar())
	ticker.Tick(clock.t)
	assert.Len(t, *calls, 2)
	ticker.Tick(clock.t)
	assert.Len(t, *calls, 3)
}

func TestTicker_StartStop(t *testing.T) {
	db := createTestDB(t)
	callbacks := NewCallbackRegistry()
	fired := make(chan []byte, 1)
	callbacks.Register("migration.run", func(ctx context.Context, payload []byte) error {
		fired <- payload
		return nil
	})
	s := NewScheduler(db, callbacks, zaptest.NewLogger(t).Sugar())

	_, err := s.Register(context.Background(), RegisterRequest{
		Name: "soon", FireAt: time.Now().Add(-time.Second), Callback: "migration.run", Payload: []byte(`{"migration_id":1}`),
	})
	require.NoError(t, err)

	ticker := NewTicker(s, TickerConfig{Interval: 20 * time.Millisecond}, zaptest.NewLogger(t).Sugar())
	ticker.Start()
	defer ticker.Stop()

	select {
	case payload := <-fired:
		assert.JSONEq(t, `{"migration_id":1}`, string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("ticker did not fire the due registration")
	}
}

func TestTicker_StopCancelsContext(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ticker := NewTicker(s, TickerConfig{}, zaptest.NewLogger(t).Sugar())
	assert.Equal(t, time.Second, ticker.interval)

	ticker.Start()
	ticker.Stop()
	assert.Error(t, ticker.ctx.Err())
}

func TestTicker_StopsOnClosedDatabase(t *testing.T) {
	database := createTestDB(t)
	s := NewScheduler(database, NewCallbackRegistry(), zaptest.NewLogger(t).Sugar())
	ticker := NewTicker(s, DefaultTickerConfig(), zaptest.NewLogger(t).Sugar())

	require.NoError(t, database.Close())
	ticker.Tick(time.Now().UTC())

	assert.Error(t, ticker.ctx.Err())
	assert.Equal(t, int64(0), ticker.GetStats()["fired_total"])
}
