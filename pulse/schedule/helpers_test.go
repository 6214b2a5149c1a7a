package schedule

import (
	"database/sql"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	qntxtest "github.com/teranos/qntx-migrate/internal/testing"
)

// createTestDB creates an in-memory test database.
func createTestDB(t *testing.T) *sql.DB {
	return qntxtest.CreateTestDB(t)
}

// testClock is a settable clock for scheduler tests
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestScheduler(t *testing.T) (*Scheduler, *CallbackRegistry, *testClock) {
	t.Helper()
	db := createTestDB(t)
	callbacks := NewCallbackRegistry()
	s := NewScheduler(db, callbacks, zaptest.NewLogger(t).Sugar())
	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.now = clock.now
	return s, callbacks, clock
}
