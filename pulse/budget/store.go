// Package budget guards operator model spend and provider call rate.
// Spend uses sliding windows (24h/7d/30d) over the ai_model_usage table.
package budget

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/courseforge/errors"
)

// Store handles budget queries against ai_model_usage table
type Store struct {
	db *sql.DB
}

// NewStore creates a new budget store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ActualSpend sums successful model spend recorded at or after since
func (s *Store) ActualSpend(ctx context.Context, since time.Time) (totalCost float64, opCount int, err error) {
	query := `
		SELECT
			COALESCE(SUM(cost), 0) as total_cost,
			COUNT(*) as operation_count
		FROM ai_model_usage
		WHERE request_timestamp >= ?
			AND success = 1
	`

	err = s.db.QueryRowContext(ctx, query, since.UTC()).Scan(&totalCost, &opCount)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "failed to query spend since %s", since.UTC().Format(time.RFC3339))
	}

	return totalCost, opCount, nil
}
