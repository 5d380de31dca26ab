package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"gorm.io/gorm"

	"github.com/example/diff-finder/internal/artifacts"
	"github.com/example/diff-finder/internal/imagediff"
	"github.com/example/diff-finder/internal/logging"
	"github.com/example/diff-finder/internal/repository"
	"github.com/example/diff-finder/internal/retry"
)

var (
	// ErrNotFound is returned when no comparison exists for a session id.
	ErrNotFound = errors.New("comparison not found")
	// ErrHistoryDisabled is returned by history queries when no repository is configured.
	ErrHistoryDisabled = errors.New("comparison history is disabled")
)

// Comparison outcomes reported to the Recorder.
const (
	OutcomeSuccess      = "success"
	OutcomeInvalidInput = "invalid_input"
	OutcomeError        = "error"
)

// ComparisonRepository defines the persistence operations needed by the use case.
type ComparisonRepository interface {
	SaveLog(ctx context.Context, log *repository.ComparisonLog) error
	FindBySessionID(ctx context.Context, sessionID string) (*repository.ComparisonLog, error)
	FindByPairHash(ctx context.Context, referenceSHA1, compareSHA1, excludeSessionID string) ([]*repository.ComparisonLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Recorder receives one observation per comparison.
type Recorder interface {
	ObserveComparison(outcome string, duration time.Duration, significant int)
}

// IDGenerator returns a new unique session identifier.
type IDGenerator func() string

// UUIDGenerator issues random UUIDv4 session identifiers.
func UUIDGenerator() string {
	return uuid.NewString()
}

// Option customises a ComparisonUseCase.
type Option func(*ComparisonUseCase)

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(uc *ComparisonUseCase) { uc.newID = gen }
}

// WithDiffOptions replaces the difference extractor thresholds.
func WithDiffOptions(opts imagediff.Options) Option {
	return func(uc *ComparisonUseCase) { uc.diffOptions = opts }
}

// WithRecorder reports every comparison to r.
func WithRecorder(r Recorder) Option {
	return func(uc *ComparisonUseCase) { uc.recorder = r }
}

// WithCacheTTL sets how long results stay in the cache.
func WithCacheTTL(ttl time.Duration) Option {
	return func(uc *ComparisonUseCase) { uc.cacheTTL = ttl }
}

// WithRetryPolicy replaces the cache retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(uc *ComparisonUseCase) { uc.retryPolicy = p }
}

// ComparisonUseCase encapsulates business logic for the comparison flow.
type ComparisonUseCase struct {
	repo        ComparisonRepository
	cache       Cache
	store       artifacts.Store
	logger      *zap.Logger
	recorder    Recorder
	newID       IDGenerator
	diffOptions imagediff.Options
	cacheTTL    time.Duration
	retryPolicy retry.Policy
	now         func() time.Time
}

// NewComparisonUseCase constructs a new use case instance. repo and cache
// may be nil, which disables history and result caching.
func NewComparisonUseCase(repo ComparisonRepository, cache Cache, store artifacts.Store, logger *zap.Logger, opts ...Option) *ComparisonUseCase {
	uc := &ComparisonUseCase{
		repo:        repo,
		cache:       cache,
		store:       store,
		logger:      logger.Named("comparison_usecase"),
		newID:       UUIDGenerator,
		diffOptions: imagediff.DefaultOptions(),
		cacheTTL:    10 * time.Minute,
		retryPolicy: retry.DefaultPolicy(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// ValidateImage reports whether data decodes as a raster image.
func (uc *ComparisonUseCase) ValidateImage(data []byte) error {
	return imagediff.Validate(data)
}

// CompareImages runs the difference pipeline on two encoded images, writes
// the four artifacts and records the comparison. Either every artifact is
// written and a result is returned, or an error is returned and nothing of
// the session remains in the store.
func (uc *ComparisonUseCase) CompareImages(ctx context.Context, reference, compare []byte) (*ComparisonResult, error) {
	sessionID := uc.newID()
	opLogger := logging.WithOperation(uc.logger, "usecase.compare_images", sessionID)
	start := uc.now()

	ext, err := imagediff.Compare(reference, compare, uc.diffOptions)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.compare_images", sessionID, err)
		if isInvalidInput(err) {
			opLogger.Warn("rejected comparison input", zap.Error(wrapped))
			uc.observe(OutcomeInvalidInput, uc.now().Sub(start), 0)
		} else {
			opLogger.Error("comparison failed", zap.Error(wrapped))
			uc.observe(OutcomeError, uc.now().Sub(start), 0)
		}
		return nil, wrapped
	}
	defer ext.Close()

	if ext.CompareResized {
		opLogger.Info("resized compare image to reference dimensions", zap.Ints("reference_shape", ext.ReferenceShape))
	}
	opLogger.Info("similarity computed",
		zap.Float64("similarity_score", ext.SimilarityScore),
		zap.Int("contours_found", ext.ContoursFound),
		zap.Int("significant_differences", ext.SignificantRegions),
	)

	if err := uc.saveArtifacts(ctx, sessionID, ext); err != nil {
		wrapped := logging.NewOperationError("usecase.save_artifacts", sessionID, err)
		opLogger.Error("failed to save artifacts", zap.Error(wrapped))
		uc.observe(OutcomeError, uc.now().Sub(start), 0)
		return nil, wrapped
	}

	result := resultFromExtraction(sessionID, ext)
	elapsed := uc.now().Sub(start)
	uc.observe(OutcomeSuccess, elapsed, ext.SignificantRegions)

	uc.record(ctx, opLogger, result, reference, compare, elapsed)
	return result, nil
}

func (uc *ComparisonUseCase) saveArtifacts(ctx context.Context, sessionID string, ext *imagediff.Extraction) error {
	rendered := []struct {
		name string
		mat  gocv.Mat
	}{
		{artifacts.SSIMDifference, ext.Artifacts.SSIMDifference},
		{artifacts.BoundedDifferences, ext.Artifacts.BoundedDifferences},
		{artifacts.DrawnDifferences, ext.Artifacts.DrawnDifferences},
		{artifacts.MaskDifferences, ext.Artifacts.MaskDifferences},
	}

	written := make([]string, 0, len(rendered))
	for _, r := range rendered {
		name := artifacts.FileName(sessionID, r.name)
		data, err := imagediff.EncodeJPEG(r.mat)
		if err == nil {
			err = uc.store.Save(ctx, name, data)
		}
		if err != nil {
			if rmErr := uc.store.Remove(context.WithoutCancel(ctx), written...); rmErr != nil {
				logging.WithOperation(uc.logger, "usecase.save_artifacts", sessionID).Warn("failed to remove partial artifacts", zap.Error(rmErr))
			}
			return fmt.Errorf("%s: %w", r.name, err)
		}
		written = append(written, name)
	}
	return nil
}

// record persists and caches a successful comparison. Failures here are
// logged; the artifacts and the result are already complete.
func (uc *ComparisonUseCase) record(ctx context.Context, opLogger *zap.Logger, result *ComparisonResult, reference, compare []byte, elapsed time.Duration) {
	if uc.repo != nil {
		log := &repository.ComparisonLog{
			SessionID:              result.SessionID,
			SimilarityScore:        result.SimilarityScore,
			ContoursFound:          result.Metadata.ContoursFound,
			SignificantDifferences: result.Metadata.SignificantDifferences,
			ReferenceShape:         result.Metadata.ReferenceShape,
			CompareShape:           result.Metadata.CompareShape,
			ReferenceSHA1:          sha1Hex(reference),
			CompareSHA1:            sha1Hex(compare),
			ProcessingMs:           elapsed.Milliseconds(),
			CreatedAt:              uc.now().UTC(),
		}
		if err := uc.repo.SaveLog(ctx, log); err != nil {
			opLogger.Warn("failed to persist comparison log", zap.Error(err))
		}
	}

	if uc.cache != nil {
		serialized, err := json.Marshal(result)
		if err != nil {
			opLogger.Warn("failed to serialize comparison result", zap.Error(err))
			return
		}
		key := cacheKey(result.SessionID)
		if err := retry.Do(ctx, uc.retryPolicy, uc.logger, "cache.set.result", result.SessionID, func() error {
			return uc.cache.Set(ctx, key, string(serialized), uc.cacheTTL)
		}); err != nil {
			opLogger.Warn("failed to cache comparison result", zap.Error(err))
		}
	}
}

// GetResult retrieves a comparison from the cache or the repository.
func (uc *ComparisonUseCase) GetResult(ctx context.Context, sessionID string) (*ComparisonResult, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.get_result", sessionID)

	if uc.cache != nil {
		var cached string
		err := retry.Do(ctx, uc.retryPolicy, uc.logger, "cache.get.result", sessionID, func() error {
			value, err := uc.cache.Get(ctx, cacheKey(sessionID))
			if err != nil {
				return err
			}
			cached = value
			return nil
		})
		if err == nil {
			var result ComparisonResult
			if err := json.Unmarshal([]byte(cached), &result); err == nil && result.SessionID == sessionID {
				return &result, nil
			} else if err != nil {
				opLogger.Warn("failed to decode cached result", zap.Error(err))
			}
		} else if !errors.Is(err, redis.Nil) {
			opLogger.Warn("failed to read cache", zap.Error(err))
		}
	}

	if uc.repo == nil {
		return nil, ErrNotFound
	}
	log, err := uc.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return resultFromLog(log), nil
}

// GetPairHistory lists the other comparisons of the image pair used by sessionID.
func (uc *ComparisonUseCase) GetPairHistory(ctx context.Context, sessionID string) (*PairHistory, error) {
	if uc.repo == nil {
		return nil, ErrHistoryDisabled
	}
	log, err := uc.repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	previous, err := uc.repo.FindByPairHash(ctx, log.ReferenceSHA1, log.CompareSHA1, log.SessionID)
	if err != nil {
		return nil, err
	}

	history := &PairHistory{
		Comparison: resultFromLog(log),
		CreatedAt:  log.CreatedAt,
		Previous:   make([]*HistoryEntry, 0, len(previous)),
	}
	for _, p := range previous {
		history.Previous = append(history.Previous, &HistoryEntry{Result: resultFromLog(p), CreatedAt: p.CreatedAt})
	}
	return history, nil
}

func (uc *ComparisonUseCase) observe(outcome string, d time.Duration, significant int) {
	if uc.recorder != nil {
		uc.recorder.ObserveComparison(outcome, d, significant)
	}
}

// IsInvalidInput reports whether err was caused by undecodable or degenerate input images.
func IsInvalidInput(err error) bool {
	return isInvalidInput(err)
}

func isInvalidInput(err error) bool {
	return errors.Is(err, imagediff.ErrDecode) ||
		errors.Is(err, imagediff.ErrEmptyImage) ||
		errors.Is(err, imagediff.ErrDegenerateShape)
}

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
