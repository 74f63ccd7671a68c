package target

import (
	"context"
	"fmt"
	"math"

	"github.com/millstone-labs/grainsql/internal/grain"
)

// Warning severities used by the distribution analysis.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

// Warning codes raised by Distribution.
const (
	CodeZeroVariance     = "ZERO_VARIANCE"
	CodeExtremeImbalance = "EXTREME_IMBALANCE"
	CodeHighImbalance    = "HIGH_IMBALANCE"
	CodeLowPositiveCount = "LOW_POSITIVE_COUNT"
	CodeNoData           = "NO_DATA"
)

// Warning is a categorical finding about the target distribution.
type Warning struct {
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// ClassCount is one row of the class distribution.
type ClassCount struct {
	Value      int     `json:"value"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// Distribution summarizes the class balance of the target after the
// maturity filter. IsUsable is false only for disqualifying findings:
// zero variance or no data at all. Imbalance alone warns but never
// disqualifies.
type Distribution struct {
	TargetName   string       `json:"target_name"`
	TotalSamples int64        `json:"total_samples"`
	Class0Count  int64        `json:"class_0_count"`
	Class1Count  int64        `json:"class_1_count"`
	Class0Pct    float64      `json:"class_0_pct"`
	Class1Pct    float64      `json:"class_1_pct"`
	Distribution []ClassCount `json:"distribution"`
	Warnings     []Warning    `json:"warnings"`
	IsUsable     bool         `json:"is_usable"`
}

// Distribution computes class counts by wrapping the target SQL in an
// aggregation query.
func (c *Compiler) Distribution(ctx context.Context, d *Definition, g *grain.Definition) (*Distribution, error) {
	query := fmt.Sprintf(`WITH target_data AS (
    %s
)
SELECT
    %s,
    COUNT(*) AS count
FROM target_data
GROUP BY %s
ORDER BY %s`, SQL(d, g), d.TargetName, d.TargetName, d.TargetName)

	if err := c.db.SetStatementTimeout(ctx, c.statsTimeout); err != nil {
		return nil, err
	}
	defer func() {
		if err := c.db.ResetStatementTimeout(ctx); err != nil {
			c.logger.Warn("failed to reset statement timeout", "error", err)
		}
	}()

	rows, err := c.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to compute target distribution: %w", err)
	}
	defer func() { _ = rows.Close() }()

	dist := &Distribution{TargetName: d.TargetName, IsUsable: true}
	for rows.Next() {
		var value int
		var count int64
		if err := rows.Scan(&value, &count); err != nil {
			return nil, fmt.Errorf("failed to scan distribution row: %w", err)
		}
		dist.TotalSamples += count
		dist.Distribution = append(dist.Distribution, ClassCount{Value: value, Count: count})
		switch value {
		case 0:
			dist.Class0Count = count
		case 1:
			dist.Class1Count = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read distribution rows: %w", err)
	}

	if dist.TotalSamples > 0 {
		for i := range dist.Distribution {
			dist.Distribution[i].Percentage = round2(float64(dist.Distribution[i].Count) / float64(dist.TotalSamples) * 100)
		}
		dist.Class0Pct = round2(float64(dist.Class0Count) / float64(dist.TotalSamples) * 100)
		dist.Class1Pct = round2(float64(dist.Class1Count) / float64(dist.TotalSamples) * 100)
	}

	switch {
	case dist.TotalSamples > 0 && (dist.Class1Pct == 100.0 || dist.Class0Pct == 100.0):
		dist.Warnings = append(dist.Warnings, Warning{
			Severity: SeverityCritical,
			Code:     CodeZeroVariance,
			Message:  "Target has NO variance - all records are the same class!",
		})
		dist.IsUsable = false
	case dist.Class1Pct > 95.0 || dist.Class0Pct > 95.0:
		dist.Warnings = append(dist.Warnings, Warning{
			Severity: SeverityHigh,
			Code:     CodeExtremeImbalance,
			Message:  fmt.Sprintf("Extreme imbalance: minority class is %.1f%%", math.Min(dist.Class1Pct, dist.Class0Pct)),
		})
	case dist.Class1Pct > 80.0 || dist.Class0Pct > 80.0:
		dist.Warnings = append(dist.Warnings, Warning{
			Severity: SeverityMedium,
			Code:     CodeHighImbalance,
			Message:  fmt.Sprintf("Notable imbalance: minority class is %.1f%%", math.Min(dist.Class1Pct, dist.Class0Pct)),
		})
	}

	if dist.Class1Count > 0 && dist.Class1Count < 100 {
		dist.Warnings = append(dist.Warnings, Warning{
			Severity: SeverityMedium,
			Code:     CodeLowPositiveCount,
			Message:  fmt.Sprintf("Only %d positive samples", dist.Class1Count),
		})
	}

	if dist.TotalSamples == 0 {
		dist.Warnings = append(dist.Warnings, Warning{
			Severity: SeverityCritical,
			Code:     CodeNoData,
			Message:  "No data after applying maturity filter. Reduce maturity or wait for more data.",
		})
		dist.IsUsable = false
	}

	return dist, nil
}

// Stability classifications for cohort analysis.
const (
	StabilityStable   = "stable"
	StabilityModerate = "moderate"
	StabilityUnstable = "unstable"
)

// Cohort is the positive rate of one time bucket.
type Cohort struct {
	Cohort        string  `json:"cohort"`
	Total         int64   `json:"total"`
	PositiveCount int64   `json:"positive_count"`
	PositiveRate  float64 `json:"positive_rate"`
}

// CohortAnalysis reports how the positive rate drifts across time buckets.
type CohortAnalysis struct {
	TargetName             string   `json:"target_name"`
	Period                 string   `json:"period"`
	Cohorts                []Cohort `json:"cohorts"`
	AvgPositiveRate        float64  `json:"avg_positive_rate"`
	StdDev                 float64  `json:"std_dev"`
	CoefficientOfVariation float64  `json:"coefficient_of_variation"`
	Stability              string   `json:"stability"`
	StabilityMessage       string   `json:"stability_message"`
}

// CohortAnalysis groups the target by month or quarter of observation and
// measures the spread of positive rates across cohorts. With fewer than two
// cohorts the spread collapses to zero and the single rate stands alone.
func (c *Compiler) CohortAnalysis(ctx context.Context, d *Definition, g *grain.Definition, period string) (*CohortAnalysis, error) {
	if period != "quarter" {
		period = "month"
	}
	dateTrunc := fmt.Sprintf("DATE_TRUNC('%s', observation_date)", period)

	query := fmt.Sprintf(`WITH target_data AS (
    %s
)
SELECT
    %s::DATE AS cohort,
    COUNT(*) AS total,
    SUM(%s) AS positive_count,
    ROUND(AVG(%s::NUMERIC) * 100, 2) AS positive_rate
FROM target_data
GROUP BY %s
ORDER BY %s`, SQL(d, g), dateTrunc, d.TargetName, d.TargetName, dateTrunc, dateTrunc)

	if err := c.db.SetStatementTimeout(ctx, c.statsTimeout); err != nil {
		return nil, err
	}
	defer func() {
		if err := c.db.ResetStatementTimeout(ctx); err != nil {
			c.logger.Warn("failed to reset statement timeout", "error", err)
		}
	}()

	rows, err := c.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to compute cohort analysis: %w", err)
	}
	defer func() { _ = rows.Close() }()

	analysis := &CohortAnalysis{TargetName: d.TargetName, Period: period}
	var rates []float64
	for rows.Next() {
		var cohort Cohort
		if err := rows.Scan(&cohort.Cohort, &cohort.Total, &cohort.PositiveCount, &cohort.PositiveRate); err != nil {
			return nil, fmt.Errorf("failed to scan cohort row: %w", err)
		}
		if len(cohort.Cohort) > 10 {
			cohort.Cohort = cohort.Cohort[:10]
		}
		analysis.Cohorts = append(analysis.Cohorts, cohort)
		rates = append(rates, cohort.PositiveRate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cohort rows: %w", err)
	}

	if len(rates) >= 2 {
		var sum float64
		for _, r := range rates {
			sum += r
		}
		avg := sum / float64(len(rates))
		var variance float64
		for _, r := range rates {
			variance += (r - avg) * (r - avg)
		}
		variance /= float64(len(rates))
		stdDev := math.Sqrt(variance)
		analysis.AvgPositiveRate = round2(avg)
		analysis.StdDev = round2(stdDev)
		if avg > 0 {
			analysis.CoefficientOfVariation = round2(stdDev / avg * 100)
		}
	} else if len(rates) == 1 {
		analysis.AvgPositiveRate = round2(rates[0])
	}

	switch {
	case analysis.CoefficientOfVariation > 50:
		analysis.Stability = StabilityUnstable
		analysis.StabilityMessage = "Target rate varies significantly over time. Consider time-based features."
	case analysis.CoefficientOfVariation > 25:
		analysis.Stability = StabilityModerate
		analysis.StabilityMessage = "Some variation in target rate over time. Monitor for drift."
	default:
		analysis.Stability = StabilityStable
		analysis.StabilityMessage = "Target rate is relatively stable over time."
	}

	return analysis, nil
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
