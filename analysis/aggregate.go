package analysis

// Aggregate merges per-chunk results. Issues are concatenated in result order without
// deduplication; recommendations are deduplicated by exact string equality, first occurrence wins.
func Aggregate(results []AnalysisResult) AggregatedReport {
	report := AggregatedReport{
		FailedChunks:         []int{},
		HighPriorityIssues:   []Issue{},
		MediumPriorityIssues: []Issue{},
		Recommendations:      []string{},
	}
	seen := make(map[string]struct{})
	for _, r := range results {
		report.ChunksProcessed++
		report.TotalRecordsAnalyzed += r.RecordsAnalyzed
		report.HighPriorityIssues = append(report.HighPriorityIssues, r.HighPriorityIssues...)
		report.MediumPriorityIssues = append(report.MediumPriorityIssues, r.MediumPriorityIssues...)
		for _, rec := range r.Recommendations {
			if _, ok := seen[rec]; ok {
				continue
			}
			seen[rec] = struct{}{}
			report.Recommendations = append(report.Recommendations, rec)
		}
	}
	return report
}

func bytesToKB(n int) float64 {
	return float64(n) / 1024
}
