package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/diff-finder/internal/retry"
)

// ComparisonLog represents a persisted comparison.
type ComparisonLog struct {
	ID                     uint      `gorm:"primaryKey"`
	SessionID              string    `gorm:"column:session_id;uniqueIndex;size:64"`
	SimilarityScore        float64   `gorm:"column:similarity_score"`
	ContoursFound          int       `gorm:"column:contours_found"`
	SignificantDifferences int       `gorm:"column:significant_differences"`
	ReferenceShape         []int     `gorm:"column:reference_shape;serializer:json"`
	CompareShape           []int     `gorm:"column:compare_shape;serializer:json"`
	ReferenceSHA1          string    `gorm:"column:reference_sha1;size:40;index:idx_pair_hash"`
	CompareSHA1            string    `gorm:"column:compare_sha1;size:40;index:idx_pair_hash"`
	ProcessingMs           int64     `gorm:"column:processing_ms"`
	CreatedAt              time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (ComparisonLog) TableName() string {
	return "comparison_logs"
}

// MetricsAggregation holds the aggregate figures over all comparisons.
type MetricsAggregation struct {
	TotalCount                 int64   `gorm:"column:total_count"`
	AverageScore               float64 `gorm:"column:average_score"`
	AverageSignificant         float64 `gorm:"column:average_significant"`
	AverageProcessingLatencyMs float64 `gorm:"column:average_processing_latency_ms"`
}

// ComparisonRepository provides persistence APIs for comparison logs.
type ComparisonRepository struct {
	db          *gorm.DB
	logger      *zap.Logger
	retryPolicy retry.Policy
}

// NewComparisonRepository creates a new repository instance.
func NewComparisonRepository(db *gorm.DB, logger *zap.Logger) *ComparisonRepository {
	return &ComparisonRepository{
		db:          db,
		logger:      logger.Named("comparison_repository"),
		retryPolicy: retry.DefaultPolicy(),
	}
}

// AutoMigrate ensures the schema is available.
func (r *ComparisonRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&ComparisonLog{})
	})
}

// SaveLog persists a comparison log entry.
func (r *ComparisonRepository) SaveLog(ctx context.Context, log *ComparisonLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.SessionID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindBySessionID retrieves the comparison log of a session.
// A missing row surfaces as gorm.ErrRecordNotFound inside the returned error.
func (r *ComparisonRepository) FindBySessionID(ctx context.Context, sessionID string) (*ComparisonLog, error) {
	var log ComparisonLog
	err := r.executeWithRetry(ctx, "repository.find_by_session_id", sessionID, func() error {
		return r.db.WithContext(ctx).First(&log, "session_id = ?", sessionID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// FindByPairHash lists other comparisons of the same image pair, newest first.
func (r *ComparisonRepository) FindByPairHash(ctx context.Context, referenceSHA1, compareSHA1, excludeSessionID string) ([]*ComparisonLog, error) {
	var logs []*ComparisonLog
	err := r.executeWithRetry(ctx, "repository.find_by_pair_hash", excludeSessionID, func() error {
		return r.db.WithContext(ctx).
			Where("reference_sha1 = ? AND compare_sha1 = ? AND session_id <> ?", referenceSHA1, compareSHA1, excludeSessionID).
			Order("created_at DESC").
			Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics summarises every stored comparison.
func (r *ComparisonRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&ComparisonLog{}).
			Select("COUNT(*) AS total_count, " +
				"COALESCE(AVG(similarity_score), 0) AS average_score, " +
				"COALESCE(AVG(significant_differences), 0) AS average_significant, " +
				"COALESCE(AVG(processing_ms), 0) AS average_processing_latency_ms").
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

// Ping checks the database connection.
func (r *ComparisonRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *ComparisonRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	return retry.Do(ctx, r.retryPolicy, r.logger, operation, sessionID, fn)
}
