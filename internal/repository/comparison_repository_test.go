package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/diff-finder/internal/logging"
	"github.com/example/diff-finder/internal/retry"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func newTestRepository(t *testing.T) *ComparisonRepository {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := Open(context.Background(), DriverSQLite, dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	repo := NewComparisonRepository(db, zap.NewNop())
	if err := repo.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return repo
}

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &ComparisonRepository{
		logger:      zap.NewNop(),
		retryPolicy: retry.Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "sess-1", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &ComparisonRepository{
		logger:      zap.NewNop(),
		retryPolicy: retry.Policy{Attempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", "sess-2", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.SessionID != "sess-2" {
		t.Fatalf("unexpected session id: %s", opErr.SessionID)
	}
}

func TestSaveAndFindBySessionID(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	log := &ComparisonLog{
		SessionID:              "sess-a",
		SimilarityScore:        0.75,
		ContoursFound:          4,
		SignificantDifferences: 2,
		ReferenceShape:         []int{100, 120, 3},
		CompareShape:           []int{100, 120, 3},
		ReferenceSHA1:          "ref",
		CompareSHA1:            "cmp",
		ProcessingMs:           12,
		CreatedAt:              time.Now().UTC(),
	}
	if err := repo.SaveLog(ctx, log); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := repo.FindBySessionID(ctx, "sess-a")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if got.SimilarityScore != 0.75 || got.SignificantDifferences != 2 {
		t.Fatalf("unexpected log: %+v", got)
	}
	if len(got.ReferenceShape) != 3 || got.ReferenceShape[1] != 120 {
		t.Fatalf("shape did not round trip: %v", got.ReferenceShape)
	}

	if _, err := repo.FindBySessionID(ctx, "missing"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestFindByPairHashExcludesSession(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, sid := range []string{"s1", "s2", "s3"} {
		if err := repo.SaveLog(ctx, &ComparisonLog{
			SessionID:     sid,
			ReferenceSHA1: "ref",
			CompareSHA1:   "cmp",
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("save %s failed: %v", sid, err)
		}
	}
	if err := repo.SaveLog(ctx, &ComparisonLog{SessionID: "other", ReferenceSHA1: "ref", CompareSHA1: "zzz", CreatedAt: base}); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	logs, err := repo.FindByPairHash(ctx, "ref", "cmp", "s3")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(logs))
	}
	if logs[0].SessionID != "s2" || logs[1].SessionID != "s1" {
		t.Fatalf("expected newest first, got %s, %s", logs[0].SessionID, logs[1].SessionID)
	}
}

func TestAggregateMetrics(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	empty, err := repo.AggregateMetrics(ctx)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if empty.TotalCount != 0 || empty.AverageScore != 0 {
		t.Fatalf("expected zero aggregation, got %+v", empty)
	}

	for i, score := range []float64{0.5, 1.0} {
		if err := repo.SaveLog(ctx, &ComparisonLog{
			SessionID:              fmt.Sprintf("m%d", i),
			SimilarityScore:        score,
			SignificantDifferences: 2 * i,
			ProcessingMs:           int64(10 * (i + 1)),
			CreatedAt:              time.Now().UTC(),
		}); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	agg, err := repo.AggregateMetrics(ctx)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if agg.TotalCount != 2 {
		t.Fatalf("expected 2 rows, got %d", agg.TotalCount)
	}
	if agg.AverageScore != 0.75 {
		t.Fatalf("expected average score 0.75, got %f", agg.AverageScore)
	}
	if agg.AverageSignificant != 1 {
		t.Fatalf("expected average significant 1, got %f", agg.AverageSignificant)
	}
	if agg.AverageProcessingLatencyMs != 15 {
		t.Fatalf("expected average latency 15, got %f", agg.AverageProcessingLatencyMs)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "", zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
