package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"keygate.backend/internal/infrastructure/models"
)

// incrementWindowSQL creates the window row or bumps it while it is still
// under the limit. No returned row means the limit was already reached.
const incrementWindowSQL = `INSERT INTO rate_limits (key_id, window_start, request_count)
VALUES (?, ?, 1)
ON CONFLICT (key_id, window_start) DO UPDATE
SET request_count = rate_limits.request_count + 1
WHERE rate_limits.request_count < ?
RETURNING request_count`

// RateLimitRepositoryImpl keeps rate-limit windows in the database
type RateLimitRepositoryImpl struct {
	db *gorm.DB
}

func NewRateLimitRepository(db *gorm.DB) *RateLimitRepositoryImpl {
	return &RateLimitRepositoryImpl{db: db}
}

// Increment counts one request in the window unless the limit is reached
func (r *RateLimitRepositoryImpl) Increment(ctx context.Context, keyID uuid.UUID, windowStart time.Time, limit int, _ time.Duration) (int, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}

	rows, err := GetDB(ctx, r.db).WithContext(ctx).Raw(incrementWindowSQL, keyID, windowStart.UTC(), limit).Rows()
	if err != nil {
		return 0, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return limit, false, rows.Err()
	}
	var count int
	if err := rows.Scan(&count); err != nil {
		return 0, false, err
	}
	return count, true, rows.Err()
}

// DeleteBefore removes windows older than cutoff
func (r *RateLimitRepositoryImpl) DeleteBefore(ctx context.Context, keyID *uuid.UUID, cutoff time.Time) (int64, error) {
	query := GetDB(ctx, r.db).WithContext(ctx).Where("window_start < ?", cutoff.UTC())
	if keyID != nil {
		query = query.Where("key_id = ?", *keyID)
	}
	result := query.Delete(&models.RateLimit{})
	return result.RowsAffected, result.Error
}
