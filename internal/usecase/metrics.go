package usecase

import "context"

// MetricsSummary represents aggregated comparison insights.
type MetricsSummary struct {
	TotalComparisons              int64   `json:"total_comparisons"`
	AverageSimilarityScore        float64 `json:"average_similarity_score"`
	AverageSignificantDifferences float64 `json:"average_significant_differences"`
	AverageProcessingLatencyMs    float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates comparison metrics from persisted logs.
func (uc *ComparisonUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	if uc.repo == nil {
		return nil, ErrHistoryDisabled
	}
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	return &MetricsSummary{
		TotalComparisons:              aggregation.TotalCount,
		AverageSimilarityScore:        aggregation.AverageScore,
		AverageSignificantDifferences: aggregation.AverageSignificant,
		AverageProcessingLatencyMs:    aggregation.AverageProcessingLatencyMs,
	}, nil
}
