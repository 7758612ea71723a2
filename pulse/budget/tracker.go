package budget

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/courseforge/errors"
)

// ErrBudgetExceeded is returned when an operation would push spend past a limit
var ErrBudgetExceeded = errors.New("budget exceeded")

const (
	dailyWindow   = 24 * time.Hour
	weeklyWindow  = 7 * 24 * time.Hour
	monthlyWindow = 30 * 24 * time.Hour
)

// Config contains budget limits in USD. Zero disables a limit.
type Config struct {
	DailyBudgetUSD   float64
	WeeklyBudgetUSD  float64
	MonthlyBudgetUSD float64
}

// Status represents current budget state
type Status struct {
	DailySpend       float64
	WeeklySpend      float64
	MonthlySpend     float64
	DailyRemaining   float64
	WeeklyRemaining  float64
	MonthlyRemaining float64
	DailyOps         int
	WeeklyOps        int
	MonthlyOps       int
}

// Tracker tracks and enforces budget limits
type Tracker struct {
	store  *Store
	config Config
	now    func() time.Time
	mu     sync.RWMutex // Protects config from concurrent read/write
}

// NewTracker creates a new budget tracker
func NewTracker(db *sql.DB, config Config) *Tracker {
	return &Tracker{
		store:  NewStore(db),
		config: config,
		now:    time.Now,
	}
}

// WithClock replaces the tracker clock (tests)
func (bt *Tracker) WithClock(now func() time.Time) *Tracker {
	bt.now = now
	return bt
}

// GetStatus returns current budget status based on actual usage from ai_model_usage table
func (bt *Tracker) GetStatus(ctx context.Context) (*Status, error) {
	now := bt.now()

	dailySpend, dailyOps, err := bt.store.ActualSpend(ctx, now.Add(-dailyWindow))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get daily spend from usage")
	}
	weeklySpend, weeklyOps, err := bt.store.ActualSpend(ctx, now.Add(-weeklyWindow))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get weekly spend from usage")
	}
	monthlySpend, monthlyOps, err := bt.store.ActualSpend(ctx, now.Add(-monthlyWindow))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get monthly spend from usage")
	}

	limits := bt.GetBudgetLimits()

	return &Status{
		DailySpend:       dailySpend,
		WeeklySpend:      weeklySpend,
		MonthlySpend:     monthlySpend,
		DailyRemaining:   remaining(limits.DailyBudgetUSD, dailySpend),
		WeeklyRemaining:  remaining(limits.WeeklyBudgetUSD, weeklySpend),
		MonthlyRemaining: remaining(limits.MonthlyBudgetUSD, monthlySpend),
		DailyOps:         dailyOps,
		WeeklyOps:        weeklyOps,
		MonthlyOps:       monthlyOps,
	}, nil
}

// remaining is -1 for an unlimited window
func remaining(limit, spend float64) float64 {
	if limit <= 0 {
		return -1
	}
	return limit - spend
}

// CheckBudget checks if we have budget available for an operation.
// Returns an error marked ErrBudgetExceeded if a limit would be exceeded.
func (bt *Tracker) CheckBudget(ctx context.Context, estimatedCostUSD float64) error {
	limits := bt.GetBudgetLimits()
	if limits.DailyBudgetUSD <= 0 && limits.WeeklyBudgetUSD <= 0 && limits.MonthlyBudgetUSD <= 0 {
		return nil
	}

	status, err := bt.GetStatus(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get budget status")
	}

	check := func(period string, spend, limit float64) error {
		if limit <= 0 || spend+estimatedCostUSD <= limit {
			return nil
		}
		err := errors.Wrapf(ErrBudgetExceeded, "%s budget would be exceeded", period)
		err = errors.WithDetail(err, fmt.Sprintf("Current: $%.3f", spend))
		err = errors.WithDetail(err, fmt.Sprintf("Estimated: $%.3f", estimatedCostUSD))
		err = errors.WithDetail(err, fmt.Sprintf("Limit: $%.2f", limit))
		return err
	}

	if err := check("daily", status.DailySpend, limits.DailyBudgetUSD); err != nil {
		return err
	}
	if err := check("weekly", status.WeeklySpend, limits.WeeklyBudgetUSD); err != nil {
		return err
	}
	return check("monthly", status.MonthlySpend, limits.MonthlyBudgetUSD)
}

// UpdateDailyBudget updates the daily budget limit at runtime
func (bt *Tracker) UpdateDailyBudget(newBudgetUSD float64) error {
	if newBudgetUSD < 0 {
		return errors.Newf("daily budget cannot be negative: %.2f", newBudgetUSD)
	}
	bt.mu.Lock()
	bt.config.DailyBudgetUSD = newBudgetUSD
	bt.mu.Unlock()
	return nil
}

// UpdateMonthlyBudget updates the monthly budget limit at runtime
func (bt *Tracker) UpdateMonthlyBudget(newBudgetUSD float64) error {
	if newBudgetUSD < 0 {
		return errors.Newf("monthly budget cannot be negative: %.2f", newBudgetUSD)
	}
	bt.mu.Lock()
	bt.config.MonthlyBudgetUSD = newBudgetUSD
	bt.mu.Unlock()
	return nil
}

// GetBudgetLimits returns the current budget configuration limits
func (bt *Tracker) GetBudgetLimits() Config {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.config
}
