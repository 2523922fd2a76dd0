package spending

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/multiai/gateway/internal/httputil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAdvanceDailyRollsAtMidnight(t *testing.T) {
	now := time.Date(2026, time.March, 15, 14, 30, 0, 0, time.UTC)
	w := Window{Amount: 3.5, ResetAt: time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)}

	got := Advance(now, w, PeriodDaily)
	if got.Amount != 0 {
		t.Errorf("stale window kept $%.2f", got.Amount)
	}
	want := time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC)
	if !got.ResetAt.Equal(want) {
		t.Errorf("reset_at = %v, want %v", got.ResetAt, want)
	}
}

func TestAdvanceKeepsLiveWindow(t *testing.T) {
	now := time.Date(2026, time.March, 15, 14, 30, 0, 0, time.UTC)
	w := Window{Amount: 3.5, ResetAt: time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC)}
	if got := Advance(now, w, PeriodDaily); got != w {
		t.Errorf("live window changed: %+v", got)
	}
}

func TestAdvanceMonthlyRollsToFirstOfNextMonth(t *testing.T) {
	now := time.Date(2026, time.December, 31, 23, 59, 0, 0, time.UTC)
	got := Advance(now, Window{}, PeriodMonthly)
	want := time.Date(2027, time.January, 1, 0, 0, 0, 0, time.UTC)
	if !got.ResetAt.Equal(want) {
		t.Errorf("reset_at = %v, want %v (year boundary)", got.ResetAt, want)
	}
}

func TestAdvanceZeroWindowInitializes(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	got := Advance(now, Window{}, PeriodDaily)
	if got.Amount != 0 || got.ResetAt.IsZero() {
		t.Errorf("fresh window = %+v", got)
	}
}

func newTestTracker(caps Caps, at time.Time) *Tracker {
	return NewTracker(NewMemoryStore(), caps, testLogger(), WithClock(fixedClock(at)))
}

func TestCheckCapDailyFirst(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	tr := newTestTracker(Caps{Daily: 5, Monthly: 50, WarnAtPercent: 80}, now)
	ctx := context.Background()

	if err := tr.RecordCost(ctx, 4.99); err != nil {
		t.Fatalf("record: %v", err)
	}
	err := tr.CheckCap(ctx, 0.07)
	if err == nil {
		t.Fatal("check passed over the daily cap")
	}
	var apiErr *httputil.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type %T", err)
	}
	if apiErr.CapType != "daily" {
		t.Errorf("cap_type = %q, want daily", apiErr.CapType)
	}
	if apiErr.Used != 4.99 || apiErr.Cap != 5 {
		t.Errorf("used/cap = %.2f/%.2f", apiErr.Used, apiErr.Cap)
	}
	wantReset := time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC)
	if !apiErr.ResetsAt.Equal(wantReset) {
		t.Errorf("resets_at = %v, want %v", apiErr.ResetsAt, wantReset)
	}
}

func TestCheckCapMonthly(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	// Daily cap exceeds monthly so only the monthly window can trip.
	tr := newTestTracker(Caps{Daily: 100, Monthly: 10}, now)
	ctx := context.Background()

	if err := tr.RecordCost(ctx, 9.99); err != nil {
		t.Fatalf("record: %v", err)
	}
	err := tr.CheckCap(ctx, 0.07)
	var apiErr *httputil.APIError
	if !errors.As(err, &apiErr) || apiErr.CapType != "monthly" {
		t.Fatalf("err = %v, want monthly cap", err)
	}
}

func TestCheckCapExactBoundaryAllowed(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	tr := newTestTracker(Caps{Daily: 5, Monthly: 50}, now)
	ctx := context.Background()

	if err := tr.RecordCost(ctx, 4.5); err != nil {
		t.Fatalf("record: %v", err)
	}
	// 4.5 + 0.5 lands exactly on the cap, which is allowed.
	if err := tr.CheckCap(ctx, 0.5); err != nil {
		t.Errorf("exact-cap check rejected: %v", err)
	}
	if err := tr.CheckCap(ctx, 0.75); err == nil {
		t.Error("over-cap check passed")
	}
}

func TestDailyResetClearsOnlyDaily(t *testing.T) {
	store := NewMemoryStore()
	day1 := time.Date(2026, time.March, 15, 23, 0, 0, 0, time.UTC)
	clock := day1
	tr := NewTracker(store, Caps{Daily: 5, Monthly: 50}, testLogger(),
		WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	if err := tr.RecordCost(ctx, 4.99); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := tr.CheckCap(ctx, 0.07); err == nil {
		t.Fatal("expected daily cap hit before midnight")
	}

	clock = day1.Add(2 * time.Hour) // past midnight UTC
	if err := tr.CheckCap(ctx, 0.07); err != nil {
		t.Errorf("daily window did not reset: %v", err)
	}

	status, err := tr.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Daily.Used != 0 {
		t.Errorf("daily used = %.2f after reset", status.Daily.Used)
	}
	if status.Monthly.Used != 4.99 {
		t.Errorf("monthly used = %.2f, want 4.99 preserved", status.Monthly.Used)
	}
}

func TestStatusWarning(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	tr := newTestTracker(Caps{Daily: 5, Monthly: 50, WarnAtPercent: 80}, now)
	ctx := context.Background()

	if err := tr.RecordCost(ctx, 4.00); err != nil {
		t.Fatalf("record: %v", err)
	}
	status, err := tr.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Daily.Warning {
		t.Error("daily warning not set at 80% of cap")
	}
	if status.Monthly.Warning {
		t.Error("monthly warning set at 8% of cap")
	}
	if status.Daily.Percent != 80 {
		t.Errorf("daily percent = %.1f", status.Daily.Percent)
	}
}

func TestAtWarning(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	tr := newTestTracker(Caps{Daily: 5, Monthly: 50, WarnAtPercent: 80}, now)
	ctx := context.Background()

	warn, err := tr.AtWarning(ctx)
	if err != nil {
		t.Fatalf("at warning: %v", err)
	}
	if warn {
		t.Error("fresh tracker already warning")
	}

	if err := tr.RecordCost(ctx, 4.00); err != nil {
		t.Fatalf("record: %v", err)
	}
	warn, err = tr.AtWarning(ctx)
	if err != nil {
		t.Fatalf("at warning: %v", err)
	}
	if !warn {
		t.Error("not warning at 80% of daily cap")
	}
}

func TestRecordCostConcurrent(t *testing.T) {
	now := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	tr := newTestTracker(Caps{Daily: 1000, Monthly: 10000}, now)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.RecordCost(ctx, 0.01); err != nil {
				t.Errorf("record: %v", err)
			}
		}()
	}
	wg.Wait()

	status, err := tr.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Daily.Used < 0.999 || status.Daily.Used > 1.001 {
		t.Errorf("daily used = %v, want ~1.00", status.Daily.Used)
	}
}

func TestBoltStoreRoundTrip(t *testing.T) {
	store, err := NewBoltStore(t.TempDir() + "/spending.db")
	if err != nil {
		t.Fatalf("open bolt store: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if _, found, err := store.Load(ctx, PeriodDaily); err != nil || found {
		t.Fatalf("empty store load = found %v, err %v", found, err)
	}

	want := Window{Amount: 1.23, ResetAt: time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC)}
	if err := store.Save(ctx, PeriodDaily, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, found, err := store.Load(ctx, PeriodDaily)
	if err != nil || !found {
		t.Fatalf("load = found %v, err %v", found, err)
	}
	if got.Amount != want.Amount || !got.ResetAt.Equal(want.ResetAt) {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}
}
