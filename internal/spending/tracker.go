package spending

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/multiai/gateway/internal/httputil"
	"github.com/multiai/gateway/internal/telemetry"
)

// Caps are the spend ceilings in USD.
type Caps struct {
	Daily         float64
	Monthly       float64
	WarnAtPercent int
}

// Tracker enforces caps over a Store. A single mutex serializes the whole
// check-then-record sequence so two concurrent evaluations cannot both
// squeeze under the same remaining budget.
type Tracker struct {
	mu      sync.Mutex
	store   Store
	caps    Caps
	now     func() time.Time
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// TrackerOption configures optional Tracker collaborators.
type TrackerOption func(*Tracker)

// WithClock swaps the time source, for window tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// WithTrackerMetrics wires the judge cost counter.
func WithTrackerMetrics(m *telemetry.Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker builds a Tracker over a store.
func NewTracker(store Store, caps Caps, logger *slog.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:  store,
		caps:   caps,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// current loads a window and rolls it forward to now, persisting the reset
// when one happened.
func (t *Tracker) current(ctx context.Context, p Period) (Window, error) {
	w, _, err := t.store.Load(ctx, p)
	if err != nil {
		return Window{}, err
	}
	advanced := Advance(t.now(), w, p)
	if advanced != w {
		if err := t.store.Save(ctx, p, advanced); err != nil {
			return Window{}, err
		}
	}
	return advanced, nil
}

// CheckCap verifies that spending estimated more dollars stays under both
// caps. Daily is checked first, so when both would be exceeded the error
// names the tighter window.
func (t *Tracker) CheckCap(ctx context.Context, estimated float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	daily, err := t.current(ctx, PeriodDaily)
	if err != nil {
		return fmt.Errorf("check daily cap: %w", err)
	}
	if daily.Amount+estimated > t.caps.Daily {
		return httputil.SpendingCapExceeded(string(PeriodDaily), daily.Amount, t.caps.Daily, daily.ResetAt)
	}

	monthly, err := t.current(ctx, PeriodMonthly)
	if err != nil {
		return fmt.Errorf("check monthly cap: %w", err)
	}
	if monthly.Amount+estimated > t.caps.Monthly {
		return httputil.SpendingCapExceeded(string(PeriodMonthly), monthly.Amount, t.caps.Monthly, monthly.ResetAt)
	}
	return nil
}

// RecordCost adds actual spend to both windows.
func (t *Tracker) RecordCost(ctx context.Context, amount float64) error {
	if amount <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range []Period{PeriodDaily, PeriodMonthly} {
		w, err := t.current(ctx, p)
		if err != nil {
			return fmt.Errorf("record %s spend: %w", p, err)
		}
		w.Amount += amount
		if err := t.store.Save(ctx, p, w); err != nil {
			return fmt.Errorf("record %s spend: %w", p, err)
		}
		if warn := t.warnThreshold(p); warn > 0 && w.Amount >= warn {
			t.logger.Warn("spending cap warning threshold crossed",
				slog.String("period", string(p)),
				slog.Float64("used", w.Amount),
				slog.Float64("cap", t.cap(p)))
		}
	}
	t.metrics.RecordJudgeCost(amount)
	return nil
}

// PeriodStatus reports one window's usage.
type PeriodStatus struct {
	Used    float64   `json:"used"`
	Cap     float64   `json:"cap"`
	Percent float64   `json:"percent"`
	Warning bool      `json:"warning"`
	ResetAt time.Time `json:"reset_at"`
}

// Status reports both windows.
type Status struct {
	Daily   PeriodStatus `json:"daily"`
	Monthly PeriodStatus `json:"monthly"`
}

// Status reads current usage without modifying it beyond lazy resets.
func (t *Tracker) Status(ctx context.Context) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out Status
	for _, p := range []Period{PeriodDaily, PeriodMonthly} {
		w, err := t.current(ctx, p)
		if err != nil {
			return Status{}, fmt.Errorf("read %s spend: %w", p, err)
		}
		status := PeriodStatus{
			Used:    w.Amount,
			Cap:     t.cap(p),
			ResetAt: w.ResetAt,
		}
		if status.Cap > 0 {
			status.Percent = status.Used / status.Cap * 100
		}
		if warn := t.warnThreshold(p); warn > 0 && w.Amount >= warn {
			status.Warning = true
		}
		if p == PeriodDaily {
			out.Daily = status
		} else {
			out.Monthly = status
		}
	}
	return out, nil
}

// AtWarning reports whether either window has crossed its warning threshold.
func (t *Tracker) AtWarning(ctx context.Context) (bool, error) {
	status, err := t.Status(ctx)
	if err != nil {
		return false, err
	}
	return status.Daily.Warning || status.Monthly.Warning, nil
}

func (t *Tracker) cap(p Period) float64 {
	if p == PeriodMonthly {
		return t.caps.Monthly
	}
	return t.caps.Daily
}

func (t *Tracker) warnThreshold(p Period) float64 {
	if t.caps.WarnAtPercent <= 0 {
		return 0
	}
	return t.cap(p) * float64(t.caps.WarnAtPercent) / 100
}
