package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/qntx-migrate/db"
	"github.com/teranos/qntx-migrate/logger"
)

// Ticker periodically fires due registrations
type Ticker struct {
	scheduler       *Scheduler
	interval        time.Duration
	batchLimit      int
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	pulseLog        *zap.SugaredLogger // Logger with Pulse symbol pre-attached
	mu              sync.Mutex
	lastTickAt      time.Time
	ticksSinceStart int64
	firedTotal      int64
	lastNextDue     Handle // Last logged next registration, to log only on change
}

// TickerConfig contains configuration for the Pulse ticker
type TickerConfig struct {
	Interval   time.Duration // How often to check for due registrations (default: 1 second)
	BatchLimit int           // Registrations fired per tick; 0 = unlimited
}

// DefaultTickerConfig returns sensible defaults
func DefaultTickerConfig() TickerConfig {
	return TickerConfig{
		Interval:   1 * time.Second,
		BatchLimit: 100,
	}
}

// NewTicker creates a new Pulse ticker
func NewTicker(scheduler *Scheduler, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	return NewTickerWithContext(context.Background(), scheduler, cfg, log)
}

// NewTickerWithContext creates a ticker with a parent context
func NewTickerWithContext(ctx context.Context, scheduler *Scheduler, cfg TickerConfig, log *zap.SugaredLogger) *Ticker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultTickerConfig().Interval
	}
	tickerCtx, cancel := context.WithCancel(ctx)

	return &Ticker{
		scheduler:  scheduler,
		interval:   cfg.Interval,
		batchLimit: cfg.BatchLimit,
		ctx:        tickerCtx,
		cancel:     cancel,
		pulseLog:   logger.AddPulseSymbol(log),
	}
}

// Start begins the ticker loop
func (t *Ticker) Start() {
	t.wg.Add(1)
	go t.run()
	t.pulseLog.Infow("Pulse ticker started", "interval", t.interval)
}

// Stop gracefully stops the ticker, waiting for an in-flight fire to finish
func (t *Ticker) Stop() {
	t.cancel()
	t.wg.Wait()
	t.pulseLog.Infow("Pulse ticker stopped")
}

func (t *Ticker) run() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case tickTime := <-ticker.C:
			t.Tick(tickTime.UTC())
		}
	}
}

// Tick performs one poll: fires everything due at now
func (t *Ticker) Tick(now time.Time) {
	t.mu.Lock()
	t.lastTickAt = now
	t.ticksSinceStart++
	tick := t.ticksSinceStart
	t.mu.Unlock()

	fired, err := t.scheduler.FireDue(t.ctx, now, t.batchLimit)
	if db.IsDatabaseClosed(err) {
		t.pulseLog.Errorw("Database closed, ticker stopping", "tick", tick)
		t.cancel()
		return
	}
	if err != nil && t.ctx.Err() == nil {
		// Don't spam logs - log errors at warn level
		t.pulseLog.Warnw("Pulse tick error", logger.FieldError, err, "tick", tick)
	}

	t.mu.Lock()
	t.firedTotal += int64(fired)
	t.mu.Unlock()

	t.logNextDue(now)
}

// logNextDue logs time until the next registration when it changes
func (t *Ticker) logNextDue(now time.Time) {
	next, err := t.scheduler.NextDue(t.ctx)
	if err != nil {
		if t.ctx.Err() == nil {
			t.pulseLog.Warnw("Failed to get next registration", logger.FieldError, err)
		}
		return
	}

	var handle Handle
	if next != nil {
		handle = next.ID
	}

	t.mu.Lock()
	changed := handle != t.lastNextDue
	t.lastNextDue = handle
	t.mu.Unlock()

	if !changed {
		return
	}

	if next == nil {
		t.pulseLog.Infow("Pulse - no scheduled callbacks")
		return
	}

	timeUntil := next.FireAt.Sub(now)
	if timeUntil < 0 {
		timeUntil = 0
	}
	t.pulseLog.Infow("Pulse - next scheduled callback",
		"name", next.Name,
		logger.FieldHandle, next.ID.Short(),
		"in", timeUntil.Round(time.Second).String())
}

// GetStats returns ticker statistics
func (t *Ticker) GetStats() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()

	return map[string]interface{}{
		"last_tick_at":      t.lastTickAt,
		"ticks_since_start": t.ticksSinceStart,
		"fired_total":       t.firedTotal,
		"interval":          t.interval,
	}
}
