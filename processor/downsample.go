package processor

import "marketfeed/models"

// Downsample bounds series to budget.MaxPoints by fixed-stride selection
// starting at index 0. The final input record is always part of the output:
// when the stride skipped it, it is appended if the budget has room and
// otherwise replaces the last selected record. Selected
// records keep their original values; nothing is averaged.
//
// A series already within budget, or a non-positive budget, is returned
// unchanged.
func Downsample(series models.Series, budget models.DownsampleBudget) models.Series {
	n := len(series)
	limit := budget.MaxPoints
	if limit <= 0 || n <= limit {
		return series
	}

	stride := (n + limit - 1) / limit
	out := make(models.Series, 0, limit)
	for i := 0; i < n; i += stride {
		out = append(out, series[i])
	}

	last := series[n-1]
	if !out[len(out)-1].Timestamp.Equal(last.Timestamp) {
		if len(out) < limit {
			out = append(out, last)
		} else {
			out[len(out)-1] = last
		}
	}
	return out
}
