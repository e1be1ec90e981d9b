package metrics

// baseDerivedSpecs implements spec.md §4.6's derived metrics. Per-record
// eligibility (completed/good/total-output-tokens) is tracked by the
// aggregator as records seal and handed in via DerivedContext; these
// specs only combine those totals with the run's duration.
func baseDerivedSpecs() []DerivedSpec {
	return []DerivedSpec{
		{
			Tag:  "request_throughput",
			Unit: "req/sec",
			Compute: func(ctx DerivedContext) float64 {
				if ctx.DurationSeconds <= 0 {
					return 0
				}
				return float64(ctx.CompletedCount) / ctx.DurationSeconds
			},
		},
		{
			Tag:  "output_token_throughput",
			Unit: "tokens/sec",
			Compute: func(ctx DerivedContext) float64 {
				if ctx.DurationSeconds <= 0 {
					return 0
				}
				return float64(ctx.TotalOutputTokens) / ctx.DurationSeconds
			},
		},
		{
			Tag:  "goodput",
			Unit: "req/sec",
			Compute: func(ctx DerivedContext) float64 {
				if ctx.DurationSeconds <= 0 {
					return 0
				}
				return float64(ctx.GoodCount) / ctx.DurationSeconds
			},
		},
	}
}
