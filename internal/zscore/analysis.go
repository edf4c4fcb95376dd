package zscore

import (
	"time"

	"github.com/F1J197/flow-oracle-sub007/internal/contracts"
)

// Distribution describes the historical values of the longest window
// relative to the current value
type Distribution struct {
	Samples        int            `json:"samples"`
	Mean           float64        `json:"mean"`
	StdDev         float64        `json:"std_dev"`
	Skewness       float64        `json:"skewness"`
	ExcessKurtosis float64        `json:"excess_kurtosis"`
	Histogram      []Bin          `json:"histogram"`
	Extremes       []ExtremeEvent `json:"extremes"`
}

// Analyze builds the distribution of the points inside the longest configured window
func (c *Calculator) Analyze(points []contracts.Point, current float64, now time.Time) Distribution {
	longest := 0
	for _, w := range c.config.Windows {
		if w.Days > longest {
			longest = w.Days
		}
	}
	from := now.Add(-time.Duration(longest) * 24 * time.Hour)

	var kept []contracts.Point
	var values []float64
	for _, p := range points {
		if !p.Time.After(from) || p.Time.After(now) || !finite(p.Value) {
			continue
		}
		kept = append(kept, p)
		values = append(values, p.Value)
	}

	d := Distribution{Samples: len(values)}
	if len(values) == 0 {
		return d
	}

	d.Mean, d.StdDev = MeanStdDev(values)
	d.Skewness, d.ExcessKurtosis = Moments(values)
	d.Histogram = Histogram(values, current, c.config.HistogramBins)
	d.Extremes = Extremes(kept, d.Mean, d.StdDev, c.config.TopExtremes)
	return d
}
