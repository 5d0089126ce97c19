package processor

import (
	"sort"

	"marketfeed/models"
)

// Assemble orders records by timestamp and keeps the first-seen record for
// each timestamp. Invalid records are discarded. The input slice is not
// modified. Zero valid records yields an empty, non-nil series.
func Assemble(records []models.OhlcvRecord) models.Series {
	out := make(models.Series, 0, len(records))
	for _, r := range records {
		if r.Valid() {
			out = append(out, r)
		}
	}

	// stable sort keeps input order among equal timestamps, so the first
	// occurrence survives deduplication below
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	if len(out) < 2 {
		return out
	}
	deduped := out[:1]
	for _, r := range out[1:] {
		if r.Timestamp.Equal(deduped[len(deduped)-1].Timestamp) {
			continue
		}
		deduped = append(deduped, r)
	}
	return deduped
}
