package processor

import "marketfeed/models"

// Filter keeps the records inside the inclusive window in their existing
// order. An empty result is not an error.
func Filter(series models.Series, window models.QueryWindow) models.Series {
	out := make(models.Series, 0, len(series))
	for _, r := range series {
		if window.Contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	return out
}
